// Package intent loads the registered intents, evaluates the ignore list,
// and runs the selection handshake that binds an intent to a session.
//
// Intents are authored externally and are read-only here: the middleware
// consumes them as governance records, never edits them.
package intent

import (
	"fmt"
)

// Status is the lifecycle state of an intent.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusAbandoned  Status = "ABANDONED"
)

// validStatuses is the set of recognized intent statuses.
var validStatuses = map[Status]bool{
	StatusPending:    true,
	StatusInProgress: true,
	StatusDone:       true,
	StatusAbandoned:  true,
}

// ValidateStatus returns an error if the status is not recognized.
func ValidateStatus(s Status) error {
	if !validStatuses[s] {
		return fmt.Errorf("invalid intent status %q: must be one of: PENDING, IN_PROGRESS, DONE, ABANDONED", s)
	}
	return nil
}

// Intent is one registered development goal with an owned scope.
type Intent struct {
	ID                 string   `yaml:"id" json:"id"`
	Name               string   `yaml:"name" json:"name"`
	Status             Status   `yaml:"status" json:"status"`
	OwnedScope         []string `yaml:"owned_scope" json:"owned_scope"`
	Constraints        []string `yaml:"constraints" json:"constraints"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria" json:"acceptance_criteria"`
}

// Selectable reports whether the intent may be bound to a session. Only
// IN_PROGRESS intents are selectable.
func (i Intent) Selectable() bool {
	return i.Status == StatusInProgress
}

// File is the top-level shape of active_intents.yaml.
type File struct {
	ActiveIntents []Intent `yaml:"active_intents"`
}
