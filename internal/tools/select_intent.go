package tools

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/intentgate/internal/driver"
	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/intent"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/veto"
)

// SelectIntentTool handles the select_active_intent handshake.
type SelectIntentTool struct {
	driver  *driver.Driver
	session *session.State
}

// NewSelectIntentTool creates the tool and registers its handler.
func NewSelectIntentTool(d *driver.Driver, s *session.State, injector *intent.Injector) *SelectIntentTool {
	d.Register(toolcall.ToolSelectIntent, func(_ context.Context, sess *session.State, call toolcall.Call) hookengine.ToolResult {
		block, err := injector.Select(sess, call.IntentID())
		if err != nil {
			var ve *veto.Error
			if errors.As(err, &ve) {
				return hookengine.ToolResult{IsError: true, Content: ve.JSON()}
			}
			return hookengine.ToolResult{IsError: true, Content: err.Error()}
		}
		return hookengine.ToolResult{Content: block}
	})
	return &SelectIntentTool{driver: d, session: s}
}

// Definition returns the MCP tool definition for registration.
func (t *SelectIntentTool) Definition() mcp.Tool {
	return mcp.NewTool(toolcall.ToolSelectIntent,
		mcp.WithDescription(
			"Bind an IN_PROGRESS intent to this session. Required before any "+
				"mutating tool or shell command. Returns the intent context block: "+
				"specification, recent trace history, and shared knowledge. "+
				"With no intent_id, the single IN_PROGRESS intent is auto-selected.",
		),
		mcp.WithString("intent_id",
			mcp.Description("Id of the intent to select. Must have status IN_PROGRESS."),
		),
	)
}

// Handle processes the select_active_intent tool call.
func (t *SelectIntentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return dispatch(ctx, t.driver, t.session, toolcall.ToolSelectIntent, req), nil
}
