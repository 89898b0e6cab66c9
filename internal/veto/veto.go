// Package veto defines the structured error envelope returned to the LLM
// when a governance check stops a tool call.
package veto

import "encoding/json"

// Error codes for the governance contract.
const (
	CodeScopeViolation       = "REQ-001"
	CodeUnknownTargets       = "REQ-002"
	CodeIntentMismatch       = "REQ-004"
	CodeInvalidMetadata      = "REQ-005"
	CodeStaleLock            = "REQ-007"
	CodeDestructiveOperation = "REQ-008"
	CodeDestructiveIntent    = "REQ-009"
	CodeCommand              = "CMD-001"
	CodeMissingIntent        = "HOOK-INT-001"
)

// Error kinds (error_type values).
const (
	KindMissingIntent        = "missing_intent"
	KindNoActiveIntent       = "no_active_intent"
	KindIntentMismatch       = "intent_mismatch"
	KindInvalidMetadata      = "invalid_metadata"
	KindScopeViolation       = "scope_violation"
	KindUnknownTargets       = "unknown_targets"
	KindCommandNotAuthorized = "command_not_authorized"
	KindDestructiveIntent    = "destructive_intent_denied"
	KindDestructiveOperation = "destructive_operation_denied"
	KindStaleFile            = "stale_file"
	KindStaleLock            = "stale_lock"
	KindMissingParameter     = "missing_parameter"
	KindParseError           = "parse_error"
	KindWriteProtected       = "write_protected"
	KindAccessDenied         = "access_denied"
)

// Error is the envelope surfaced to the model as a JSON tool-result error.
type Error struct {
	ErrorType        string   `json:"error_type"`
	Code             string   `json:"code,omitempty"`
	IntentID         string   `json:"intent_id,omitempty"`
	Tool             string   `json:"tool,omitempty"`
	Message          string   `json:"message"`
	Filename         string   `json:"filename,omitempty"`
	Path             string   `json:"path,omitempty"`
	Command          string   `json:"command,omitempty"`
	ExpectedHash     string   `json:"expected_hash,omitempty"`
	ActualHash       string   `json:"actual_hash,omitempty"`
	MutationClass    string   `json:"mutation_class,omitempty"`
	ProvidedIntentID string   `json:"provided_intent_id,omitempty"`
	Targets          []string `json:"targets,omitempty"`
}

// Error implements the error interface with the JSON envelope.
func (e *Error) Error() string { return e.JSON() }

// JSON renders the envelope as the JSON string delivered to the model.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return `{"error_type":"` + e.ErrorType + `","message":"` + e.Message + `"}`
	}
	return string(data)
}
