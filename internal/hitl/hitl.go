// Package hitl abstracts the human-in-the-loop confirmation step.
//
// The middleware only ever needs a boolean answer; any frontend — a modal
// dialog, a CLI confirmation, a test stub — satisfies Prompter.
package hitl

import "context"

// Request describes one approval prompt.
type Request struct {
	Reason   string // tag: scope_violation, command_not_authorized, ...
	Tool     string
	IntentID string
	Summary  string
	Targets  []string
	Command  string
}

// Prompter answers approval prompts.
type Prompter interface {
	Confirm(ctx context.Context, req Request) (approved bool, err error)
}

// Func adapts a plain function to Prompter.
type Func func(ctx context.Context, req Request) (bool, error)

// Confirm implements Prompter.
func (f Func) Confirm(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// Auto answers every prompt with a fixed verdict. Auto{Approve: false} is
// the safe default for headless runs: the model receives the structured error and
// recovers instead of a human silently approving side effects.
type Auto struct {
	Approve bool
}

// Confirm implements Prompter.
func (a Auto) Confirm(context.Context, Request) (bool, error) {
	return a.Approve, nil
}
