// Package diagnostics appends structured debug events to the shared
// diagnostics sidecar. Everything here is best-effort: a failed write is
// logged and swallowed, never surfaced to the tool call.
package diagnostics

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/HendryAvila/intentgate/internal/lockfile"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// Event is one diagnostics record.
type Event struct {
	Timestamp string `json:"ts"`
	Event     string `json:"event"`
	Tool      string `json:"tool,omitempty"`
	IntentID  string `json:"intent_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Writer emits diagnostics events.
type Writer struct {
	ws     *workspace.Workspace
	logger *slog.Logger
}

// NewWriter creates a diagnostics writer. A nil logger uses slog.Default.
func NewWriter(ws *workspace.Workspace, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{ws: ws, logger: logger}
}

// Emit appends one event line.
func (w *Writer) Emit(event, tool, intentID, detail string) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		Tool:      tool,
		IntentID:  intentID,
		Detail:    detail,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := lockfile.AppendLine(w.ws.DiagnosticsPath(), string(data)); err != nil {
		w.logger.Warn("diagnostics append failed", "event", event, "error", err)
	}
}
