package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/intentgate/internal/driver"
	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/snapshot"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/veto"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// ApplyPatchTool handles apply_patch: envelope patches with add, update,
// delete, and move operations.
type ApplyPatchTool struct {
	driver  *driver.Driver
	session *session.State
}

// NewApplyPatchTool creates the tool and registers its handler.
func NewApplyPatchTool(d *driver.Driver, s *session.State, ws *workspace.Workspace) *ApplyPatchTool {
	d.Register(toolcall.ToolApplyPatch, func(_ context.Context, sess *session.State, call toolcall.Call) hookengine.ToolResult {
		args, ok := call.Args.(toolcall.PatchArgs)
		if !ok || strings.TrimSpace(args.Patch) == "" {
			return hookengine.ToolResult{IsError: true, Content: (&veto.Error{
				ErrorType: veto.KindMissingParameter,
				Tool:      call.Name,
				Message:   "apply_patch requires a patch body",
			}).JSON()}
		}

		ops, err := ParsePatch(args.Patch)
		if err != nil {
			return hookengine.ToolResult{IsError: true, Content: (&veto.Error{
				ErrorType: veto.KindParseError,
				Tool:      call.Name,
				Message:   err.Error(),
			}).JSON()}
		}

		// Revalidate every touched file before mutating anything: a patch
		// is all-or-nothing with respect to staleness.
		for _, op := range ops {
			if ve := snapshot.Check(ws, sess, call.ID, op.Path, call.Name); ve != nil {
				return hookengine.ToolResult{IsError: true, Content: ve.JSON()}
			}
		}

		var applied []string
		for _, op := range ops {
			result, err := applyOp(ws, op)
			if err != nil {
				return hookengine.ToolResult{IsError: true, Content: (&veto.Error{
					ErrorType: veto.KindWriteProtected,
					Tool:      call.Name,
					Path:      op.Path,
					Message:   err.Error(),
				}).JSON()}
			}
			sess.ClearStale(ws.Candidates(op.Path)...)
			applied = append(applied, result)
		}
		return hookengine.ToolResult{Content: "applied patch:\n" + strings.Join(applied, "\n")}
	})
	return &ApplyPatchTool{driver: d, session: s}
}

func applyOp(ws *workspace.Workspace, op PatchOp) (string, error) {
	abs := ws.Abs(op.Path)
	switch op.Kind {
	case "add":
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(abs, []byte(op.Content), 0o644); err != nil {
			return "", err
		}
		return "A " + ws.Normalize(op.Path), nil
	case "delete":
		if err := os.Remove(abs); err != nil {
			return "", err
		}
		return "D " + ws.Normalize(op.Path), nil
	case "update":
		data, err := os.ReadFile(abs)
		if err != nil {
			return "", err
		}
		content, err := ApplyHunks(string(data), op.Hunks)
		if err != nil {
			return "", err
		}
		dest := abs
		if op.MoveTo != "" {
			dest = ws.Abs(op.MoveTo)
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return "", err
			}
		}
		if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
			return "", err
		}
		if op.MoveTo != "" && dest != abs {
			if err := os.Remove(abs); err != nil {
				return "", err
			}
			return fmt.Sprintf("R %s -> %s", ws.Normalize(op.Path), ws.Normalize(op.MoveTo)), nil
		}
		return "M " + ws.Normalize(op.Path), nil
	default:
		return "", fmt.Errorf("patch: unknown operation %q", op.Kind)
	}
}

// Definition returns the MCP tool definition for registration.
func (t *ApplyPatchTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Apply a patch envelope to the workspace. Supports '*** Add File:', " +
				"'*** Update File:' (with optional '*** Move to:'), and '*** Delete File:' " +
				"sections. Deletes and moves require destructive-operation approval. " +
				"Every touched file is snapshot-checked before any write.",
		),
		mcp.WithString("patch",
			mcp.Required(),
			mcp.Description("Patch envelope between '*** Begin Patch' and '*** End Patch'."),
		),
	}
	opts = append(opts, metadataOptions()...)
	return mcp.NewTool(toolcall.ToolApplyPatch, opts...)
}

// Handle processes the apply_patch tool call.
func (t *ApplyPatchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return dispatch(ctx, t.driver, t.session, toolcall.ToolApplyPatch, req), nil
}
