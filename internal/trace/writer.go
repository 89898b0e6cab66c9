package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/lockfile"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/snapshot"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// paramAllowList is the fixed set of params recorded verbatim.
var paramAllowList = map[string]bool{
	"path":           true,
	"file_path":      true,
	"intent_id":      true,
	"mutation_class": true,
	"command":        true,
	"prompt":         true,
	"image":          true,
}

// redactedParams always appear as "[redacted]" when present.
var redactedParams = map[string]bool{
	"patch":      true,
	"diff":       true,
	"old_string": true,
	"new_string": true,
}

const redactedValue = "[redacted]"

// Mirror receives every written entry, letting the optional ledger index
// stay in sync with the JSONL source of truth.
type Mirror interface {
	IndexEntry(Entry) error
}

// Writer is the post-hook that appends one audit entry per mutating call.
type Writer struct {
	ws          *workspace.Workspace
	isMutating  func(string) bool
	contributor Contributor
	mirror      Mirror
}

// NewWriter creates a trace writer. mirror may be nil.
func NewWriter(ws *workspace.Workspace, isMutating func(string) bool, contributor Contributor, mirror Mirror) *Writer {
	return &Writer{ws: ws, isMutating: isMutating, contributor: contributor, mirror: mirror}
}

// Hook returns the post-hook function for engine registration.
func (w *Writer) Hook() hookengine.PostFunc {
	return func(_ context.Context, s *session.State, call toolcall.Call, result hookengine.ToolResult) hookengine.PostResult {
		if !w.isMutating(call.Name) || call.Partial {
			return hookengine.PostResult{Success: true}
		}
		if result.IsError {
			// The handler did not mutate anything; drop the snapshots.
			s.TakeSnapshots(call.ID)
			return hookengine.PostResult{Success: true}
		}
		entry, err := w.Build(s, call)
		if err != nil {
			return hookengine.PostResult{Success: false, Error: err.Error()}
		}
		if err := w.Append(entry); err != nil {
			return hookengine.PostResult{Success: false, Error: err.Error()}
		}
		return hookengine.PostResult{Success: true, SideEffects: "trace entry " + entry.ID}
	}
}

// Build assembles the entry for a completed mutating call, consuming the
// call's snapshots.
func (w *Writer) Build(s *session.State, call toolcall.Call) (Entry, error) {
	intentID := call.IntentID()
	if intentID == "" {
		if ai := s.Intent(); ai != nil {
			intentID = ai.ID
		}
	}
	class := string(call.Class())

	snaps := s.TakeSnapshots(call.ID)

	var files []File
	for _, p := range call.TargetPaths() {
		norm := w.ws.Normalize(p)
		if norm == "" {
			continue
		}
		files = append(files, w.buildFile(norm, p, intentID, snaps))
	}

	return Entry{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		IntentID:      intentID,
		MutationClass: class,
		Tool:          call.Name,
		ToolUseID:     call.ID,
		Params:        SanitizeParams(call),
		Contributor:   w.contributor,
		VCS:           VCS{RevisionID: gitRevision(w.ws.Root)},
		Files:         files,
	}, nil
}

func (w *Writer) buildFile(norm, raw, intentID string, snaps map[string]session.Snapshot) File {
	f := File{RelativePath: norm}

	conv := Conversation{
		Contributor: w.contributor,
		Ranges:      []Range{},
	}
	if intentID != "" {
		conv.Related = []Related{{Type: RelatedIntentType, Value: intentID}}
	}

	data, err := os.ReadFile(w.ws.Abs(raw))
	if err != nil {
		// Deleted or moved away: whole-file hash is empty, no ranges.
		f.Conversations = []Conversation{conv}
		return f
	}

	f.ContentHash = snapshot.HashBytes(data)
	if !snapshot.IsBinary(data) {
		before := ""
		if snap, ok := snaps[norm]; ok && snap.Existed && !snap.Binary {
			before = snap.Before
		}
		conv.Ranges = AddedRanges(before, string(data))
		if conv.Ranges == nil {
			conv.Ranges = []Range{}
		}
	}
	f.Conversations = []Conversation{conv}
	return f
}

// Append serializes the entry, appends it under the sidecar lock, and
// mirrors it into the ledger index when one is attached.
func (w *Writer) Append(entry Entry) error {
	if err := os.MkdirAll(w.ws.OrchDir(), 0o755); err != nil {
		return fmt.Errorf("creating orchestration directory: %w", err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling trace entry: %w", err)
	}
	if err := lockfile.AppendLine(w.ws.TracePath(), string(data)); err != nil {
		return fmt.Errorf("appending trace entry: %w", err)
	}
	if w.mirror != nil {
		_ = w.mirror.IndexEntry(entry) // index is best-effort; JSONL is the truth
	}
	return nil
}

// SanitizeParams projects a call's arguments onto the allow-list, with
// patch and edit bodies redacted.
func SanitizeParams(call toolcall.Call) map[string]string {
	out := map[string]string{}
	put := func(k, v string) {
		if v == "" {
			return
		}
		if redactedParams[k] {
			out[k] = redactedValue
			return
		}
		if paramAllowList[k] {
			out[k] = v
		}
	}

	switch a := call.Args.(type) {
	case toolcall.WriteArgs:
		put("path", a.Path)
		put("intent_id", a.IntentID)
		put("mutation_class", string(a.MutationClass))
	case toolcall.PatchArgs:
		put("patch", a.Patch)
		put("intent_id", a.IntentID)
		put("mutation_class", string(a.MutationClass))
	case toolcall.CommandArgs:
		put("command", a.Command)
		put("intent_id", a.IntentID)
	case toolcall.ReadArgs:
		put("path", a.Path)
	case toolcall.SelectIntentArgs:
		put("intent_id", a.IntentID)
	case toolcall.UnknownArgs:
		for k, v := range a.Values {
			if s, ok := v.(string); ok {
				put(k, s)
			}
		}
	}
	return out
}

// gitRevision resolves HEAD without shelling out. Best-effort: an empty
// string means no usable repository.
func gitRevision(root string) string {
	head, err := os.ReadFile(filepath.Join(root, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(head))
	if !strings.HasPrefix(content, "ref: ") {
		return content
	}
	ref := strings.TrimPrefix(content, "ref: ")
	data, err := os.ReadFile(filepath.Join(root, ".git", filepath.FromSlash(ref)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
