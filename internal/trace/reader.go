package trace

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/HendryAvila/intentgate/internal/intent"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// Reader scans the JSONL trace file. Reads are lock-free and tolerate
// partial or garbled lines by skipping them.
type Reader struct {
	ws *workspace.Workspace
}

// NewReader creates a reader over the workspace trace file.
func NewReader(ws *workspace.Workspace) *Reader {
	return &Reader{ws: ws}
}

// All returns every parseable entry in file order.
func (r *Reader) All() ([]Entry, error) {
	f, err := os.Open(r.ws.TracePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}

// linked reports whether an entry belongs to an intent: by its top-level
// intent_id or by any conversation's related link.
func linked(e Entry, intentID string) bool {
	if e.IntentID == intentID {
		return true
	}
	for _, f := range e.Files {
		for _, c := range f.Conversations {
			for _, rel := range c.Related {
				if rel.Type == RelatedIntentType && rel.Value == intentID {
					return true
				}
			}
		}
	}
	return false
}

// RecentByIntent returns the last limit entries linked to the intent,
// oldest first. Implements the context injector's HistorySource.
func (r *Reader) RecentByIntent(intentID string, limit int) ([]intent.HistoryEntry, error) {
	entries, err := r.All()
	if err != nil {
		return nil, err
	}

	var matched []Entry
	for _, e := range entries {
		if linked(e, intentID) {
			matched = append(matched, e)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	out := make([]intent.HistoryEntry, 0, len(matched))
	for _, e := range matched {
		he := intent.HistoryEntry{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Tool:      e.Tool,
			IntentID:  e.IntentID,
		}
		for _, f := range e.Files {
			he.Files = append(he.Files, f.RelativePath)
		}
		out = append(out, he)
	}
	return out, nil
}
