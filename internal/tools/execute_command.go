package tools

import (
	"context"
	"os/exec"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/intentgate/internal/driver"
	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/veto"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// ExecuteCommandTool handles execute_command: shell commands gated by the
// command classifier and the persisted approval log.
type ExecuteCommandTool struct {
	driver  *driver.Driver
	session *session.State
}

// NewExecuteCommandTool creates the tool and registers its handler.
func NewExecuteCommandTool(d *driver.Driver, s *session.State, ws *workspace.Workspace) *ExecuteCommandTool {
	d.Register(toolcall.ToolExecuteCommand, func(ctx context.Context, _ *session.State, call toolcall.Call) hookengine.ToolResult {
		command := strings.TrimSpace(call.Command())
		if command == "" {
			return hookengine.ToolResult{IsError: true, Content: (&veto.Error{
				ErrorType: veto.KindMissingParameter,
				Tool:      call.Name,
				Message:   "execute_command requires a command",
			}).JSON()}
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = ws.Root
		output, err := cmd.CombinedOutput()
		if err != nil {
			return hookengine.ToolResult{
				IsError: true,
				Content: strings.TrimSpace(string(output) + "\n" + err.Error()),
			}
		}
		return hookengine.ToolResult{Content: string(output)}
	})
	return &ExecuteCommandTool{driver: d, session: s}
}

// Definition returns the MCP tool definition for registration.
func (t *ExecuteCommandTool) Definition() mcp.Tool {
	return mcp.NewTool(toolcall.ToolExecuteCommand,
		mcp.WithDescription(
			"Run a shell command in the session working directory. Safe commands "+
				"(listing, reading, VCS inspection) run without approval; destructive "+
				"ones need a recorded approval for the active intent.",
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The shell command to run."),
		),
		mcp.WithString("intent_id",
			mcp.Description("Intent this command serves. Defaults to the active intent."),
		),
	)
}

// Handle processes the execute_command tool call.
func (t *ExecuteCommandTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return dispatch(ctx, t.driver, t.session, toolcall.ToolExecuteCommand, req), nil
}
