package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/intentgate/internal/driver"
	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/snapshot"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/veto"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// WriteFileTool handles write_file: full-content writes under governance.
type WriteFileTool struct {
	driver  *driver.Driver
	session *session.State
}

// NewWriteFileTool creates the tool and registers its handler.
func NewWriteFileTool(d *driver.Driver, s *session.State, ws *workspace.Workspace) *WriteFileTool {
	d.Register(toolcall.ToolWriteFile, func(_ context.Context, sess *session.State, call toolcall.Call) hookengine.ToolResult {
		args, ok := call.Args.(toolcall.WriteArgs)
		if !ok || args.Path == "" {
			return hookengine.ToolResult{IsError: true, Content: (&veto.Error{
				ErrorType: veto.KindMissingParameter,
				Tool:      call.Name,
				Message:   "write_file requires a path",
			}).JSON()}
		}

		// Final read-and-compare closes the approval window: the snapshot
		// was taken before any HITL pause.
		if ve := snapshot.Check(ws, sess, call.ID, args.Path, call.Name); ve != nil {
			return hookengine.ToolResult{IsError: true, Content: ve.JSON()}
		}

		abs := ws.Abs(args.Path)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return writeFailure(call, args.Path, err)
		}
		if err := os.WriteFile(abs, []byte(args.Body), 0o644); err != nil {
			return writeFailure(call, args.Path, err)
		}

		sess.ClearStale(ws.Candidates(args.Path)...)
		return hookengine.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(args.Body), ws.Normalize(args.Path))}
	})
	return &WriteFileTool{driver: d, session: s}
}

func writeFailure(call toolcall.Call, path string, err error) hookengine.ToolResult {
	return hookengine.ToolResult{IsError: true, Content: (&veto.Error{
		ErrorType: veto.KindWriteProtected,
		Tool:      call.Name,
		Path:      path,
		Message:   err.Error(),
	}).JSON()}
}

// Definition returns the MCP tool definition for registration.
func (t *WriteFileTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Write full file content inside the active intent's owned scope. " +
				"The call is snapshot-checked: if the file changed on disk since it " +
				"was captured, the write fails with stale_file and the file must be re-read.",
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Workspace-relative path of the file to write."),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Complete new file content."),
		),
	}
	opts = append(opts, metadataOptions()...)
	return mcp.NewTool(toolcall.ToolWriteFile, opts...)
}

// Handle processes the write_file tool call.
func (t *WriteFileTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return dispatch(ctx, t.driver, t.session, toolcall.ToolWriteFile, req), nil
}
