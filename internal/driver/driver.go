// Package driver runs the per-tool dispatch loop: pre-hooks, handler,
// post-hooks, in that order, one call at a time per session.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/toolcall"
)

// Handler executes one tool call after the gates have passed.
type Handler func(ctx context.Context, s *session.State, call toolcall.Call) hookengine.ToolResult

// Driver owns the handler registry and the hook engine.
type Driver struct {
	engine   *hookengine.Engine
	handlers map[string]Handler
	logger   *slog.Logger
}

// New creates a driver. A nil logger falls back to slog.Default.
func New(engine *hookengine.Engine, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{engine: engine, handlers: map[string]Handler{}, logger: logger}
}

// Register binds a handler to a tool name.
func (d *Driver) Register(tool string, h Handler) {
	d.handlers[tool] = h
}

// Dispatch runs one tool call through the pipeline. A vetoed call returns
// the structured error without invoking the handler; post-hooks run for
// vetoed and handled calls alike so ledger bookkeeping stays consistent.
// A call refused because another is in flight runs no hooks at all.
func (d *Driver) Dispatch(ctx context.Context, s *session.State, call toolcall.Call) hookengine.ToolResult {
	if !s.BeginCall() {
		return hookengine.ToolResult{
			IsError: true,
			Content: `{"error_type":"access_denied","message":"another tool call is already in flight for this session"}`,
		}
	}
	defer s.EndCall()

	pre := d.engine.ExecutePre(ctx, s, call)
	call = pre.Call

	var result hookengine.ToolResult
	if !pre.Proceed {
		d.logger.Info("tool call vetoed", "tool", call.Name, "hook", pre.VetoedBy)
		result = hookengine.ToolResult{IsError: true, Content: pre.Error}
	} else {
		handler, ok := d.handlers[call.Name]
		if !ok {
			result = hookengine.ToolResult{
				IsError: true,
				Content: fmt.Sprintf(`{"error_type":"missing_parameter","message":"no handler registered for tool %q"}`, call.Name),
			}
		} else {
			result = handler(ctx, s, call)
		}
	}

	d.engine.ExecutePost(ctx, s, call, result)

	if pre.Proceed && pre.InjectedContext != "" && !result.IsError {
		result.Content = pre.InjectedContext + "\n" + result.Content
	}
	return result
}
