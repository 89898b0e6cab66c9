// Package hookengine implements the registry and ordered dispatch of
// pre- and post-tool hooks.
//
// The engine is stateless: hooks receive the session and mutate it; the
// engine only sequences them. Pre-hooks short-circuit on the first veto,
// post-hooks always all run.
package hookengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/toolcall"
)

// PreResult is one pre-hook's verdict on a tool call.
type PreResult struct {
	Proceed         bool
	Error           string
	InjectedContext string
	// Modified, when non-nil, replaces the call for later hooks and the
	// handler.
	Modified *toolcall.Call
}

// Allow is the pass-through pre-hook result.
func Allow() PreResult { return PreResult{Proceed: true} }

// Veto stops the pipeline with the given structured error string.
func Veto(err string) PreResult { return PreResult{Proceed: false, Error: err} }

// PostResult is one post-hook's outcome report.
type PostResult struct {
	Success     bool
	Error       string
	SideEffects string
}

// ToolResult is what the handler produced, as seen by post-hooks.
type ToolResult struct {
	Content string
	IsError bool
}

// PreFunc is the signature of a pre-hook.
type PreFunc func(ctx context.Context, s *session.State, call toolcall.Call) PreResult

// PostFunc is the signature of a post-hook.
type PostFunc func(ctx context.Context, s *session.State, call toolcall.Call, result ToolResult) PostResult

// Hook is one registered hook. Tools nil means "all tools".
type Hook struct {
	Name  string
	Tools []string
	Pre   PreFunc
	Post  PostFunc
}

func (h Hook) matches(tool string) bool {
	if len(h.Tools) == 0 {
		return true
	}
	for _, t := range h.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// Engine holds the ordered hook registry.
type Engine struct {
	hooks  []Hook
	logger *slog.Logger
}

// New creates an engine. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Register appends a hook. Dispatch order is registration order.
func (e *Engine) Register(h Hook) {
	e.hooks = append(e.hooks, h)
}

// PreOutcome is the aggregate of an ExecutePre run.
type PreOutcome struct {
	Proceed         bool
	Error           string
	VetoedBy        string
	InjectedContext string
	Call            toolcall.Call
}

// ExecutePre runs all matching pre-hooks in order. The first veto stops
// dispatch; injected context concatenates; a modified call replaces the
// one later hooks and the handler see. A panicking hook is treated as a
// veto with a synthesized error.
func (e *Engine) ExecutePre(ctx context.Context, s *session.State, call toolcall.Call) PreOutcome {
	out := PreOutcome{Proceed: true, Call: call}
	for _, h := range e.hooks {
		if h.Pre == nil || !h.matches(call.Name) {
			continue
		}
		res := e.runPre(ctx, h, s, out.Call)
		if res.InjectedContext != "" {
			out.InjectedContext += res.InjectedContext
		}
		if res.Modified != nil {
			out.Call = *res.Modified
		}
		if !res.Proceed {
			out.Proceed = false
			out.Error = res.Error
			out.VetoedBy = h.Name
			return out
		}
	}
	return out
}

func (e *Engine) runPre(ctx context.Context, h Hook, s *session.State, call toolcall.Call) (res PreResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pre-hook panic", "hook", h.Name, "tool", call.Name, "panic", r)
			res = Veto(fmt.Sprintf(`{"error_type":"hook_failure","message":"hook %s failed: %v"}`, h.Name, r))
		}
	}()
	return h.Pre(ctx, s, call)
}

// PostReport pairs a hook name with its result.
type PostReport struct {
	Hook   string
	Result PostResult
}

// ExecutePost runs every matching post-hook unconditionally and collects
// their reports. Failures are logged; they never fail the tool call.
func (e *Engine) ExecutePost(ctx context.Context, s *session.State, call toolcall.Call, result ToolResult) []PostReport {
	var reports []PostReport
	for _, h := range e.hooks {
		if h.Post == nil || !h.matches(call.Name) {
			continue
		}
		res := e.runPost(ctx, h, s, call, result)
		if !res.Success {
			e.logger.Warn("post-hook failed", "hook", h.Name, "tool", call.Name, "error", res.Error)
		}
		reports = append(reports, PostReport{Hook: h.Name, Result: res})
	}
	return reports
}

func (e *Engine) runPost(ctx context.Context, h Hook, s *session.State, call toolcall.Call, result ToolResult) (res PostResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("post-hook panic", "hook", h.Name, "tool", call.Name, "panic", r)
			res = PostResult{Success: false, Error: fmt.Sprintf("hook %s panicked: %v", h.Name, r)}
		}
	}()
	return h.Post(ctx, s, call, result)
}
