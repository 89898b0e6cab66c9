package gate

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"github.com/HendryAvila/intentgate/internal/lockfile"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// Decision outcomes.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Decision is one persisted HITL outcome.
type Decision struct {
	IntentID              string   `json:"intent_id,omitempty"`
	Tool                  string   `json:"tool"`
	Decision              string   `json:"decision"`
	Reason                string   `json:"reason"`
	Targets               []string `json:"targets,omitempty"`
	Command               string   `json:"command,omitempty"`
	CommandClassification string   `json:"command_classification,omitempty"`
	IntentClassification  string   `json:"intent_classification,omitempty"`
	Timestamp             string   `json:"timestamp"`
}

// DecisionMirror receives every appended decision, letting the optional
// ledger index answer reuse lookups without scanning JSONL.
type DecisionMirror interface {
	IndexDecision(Decision) error
	// CommandApproved reports a persisted approval for (intentID, command),
	// with ok=false when the index cannot answer.
	CommandApproved(intentID, command string) (approved, ok bool)
}

// DecisionLog appends to and queries intent-decisions.jsonl.
type DecisionLog struct {
	ws     *workspace.Workspace
	mirror DecisionMirror
}

// NewDecisionLog creates a decision log. mirror may be nil.
func NewDecisionLog(ws *workspace.Workspace, mirror DecisionMirror) *DecisionLog {
	return &DecisionLog{ws: ws, mirror: mirror}
}

// Record stamps and appends a decision.
func (l *DecisionLog) Record(d Decision) error {
	if d.Timestamp == "" {
		d.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := lockfile.AppendLine(l.ws.DecisionsPath(), string(data)); err != nil {
		return err
	}
	if l.mirror != nil {
		_ = l.mirror.IndexDecision(d)
	}
	return nil
}

// CommandApproved reports whether a persisted approval exists for the
// command under intentID. The ledger index answers when available and
// matches on intent and command only; otherwise the JSONL log is scanned,
// skipping bad lines, and matches the exact (tool, command, intentID)
// triple.
func (l *DecisionLog) CommandApproved(intentID, tool, command string) bool {
	if l.mirror != nil {
		if approved, ok := l.mirror.CommandApproved(intentID, command); ok {
			return approved
		}
	}

	f, err := os.Open(l.ws.DecisionsPath())
	if err != nil {
		return false
	}
	defer f.Close()

	approved := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var d Decision
		if err := json.Unmarshal(scanner.Bytes(), &d); err != nil {
			continue
		}
		if d.IntentID == intentID && d.Tool == tool && d.Command == command {
			// Later decisions supersede earlier ones.
			approved = d.Decision == DecisionApproved
		}
	}
	return approved
}
