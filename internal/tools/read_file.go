package tools

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/intentgate/internal/driver"
	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/snapshot"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/veto"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// ReadFileTool handles read_file. Reads skip the gate's mutation checks
// and meet only its user-intent preflight; their purpose in the governance loop is stale recovery — after a stale_file
// error the model re-reads and retries.
type ReadFileTool struct {
	driver  *driver.Driver
	session *session.State
}

// NewReadFileTool creates the tool and registers its handler.
func NewReadFileTool(d *driver.Driver, s *session.State, ws *workspace.Workspace) *ReadFileTool {
	d.Register(toolcall.ToolReadFile, func(_ context.Context, _ *session.State, call toolcall.Call) hookengine.ToolResult {
		args, ok := call.Args.(toolcall.ReadArgs)
		if !ok || args.Path == "" {
			return hookengine.ToolResult{IsError: true, Content: (&veto.Error{
				ErrorType: veto.KindMissingParameter,
				Tool:      call.Name,
				Message:   "read_file requires a path",
			}).JSON()}
		}

		data, err := os.ReadFile(ws.Abs(args.Path))
		if err != nil {
			return hookengine.ToolResult{IsError: true, Content: (&veto.Error{
				ErrorType: veto.KindAccessDenied,
				Tool:      call.Name,
				Path:      args.Path,
				Message:   err.Error(),
			}).JSON()}
		}
		if snapshot.IsBinary(data) {
			return hookengine.ToolResult{IsError: true, Content: (&veto.Error{
				ErrorType: veto.KindAccessDenied,
				Tool:      call.Name,
				Path:      args.Path,
				Message:   "file is binary",
			}).JSON()}
		}
		return hookengine.ToolResult{Content: string(data)}
	})
	return &ReadFileTool{driver: d, session: s}
}

// Definition returns the MCP tool definition for registration.
func (t *ReadFileTool) Definition() mcp.Tool {
	return mcp.NewTool(toolcall.ToolReadFile,
		mcp.WithDescription(
			"Read a text file from the workspace. Use after a stale_file error "+
				"to pick up external changes before retrying a mutation.",
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Workspace-relative path of the file to read."),
		),
	)
}

// Handle processes the read_file tool call.
func (t *ReadFileTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return dispatch(ctx, t.driver, t.session, toolcall.ToolReadFile, req), nil
}
