// Package tools implements the MCP tool surface of the governance
// middleware.
//
// Each tool is a struct holding its dependencies and exposing a
// Definition for registration plus a Handle compatible with mcp-go's
// CallToolRequest signature. Handles never touch the filesystem directly:
// they build a toolcall.Call and push it through the driver, which runs
// the governance pipeline around the registered handler.
package tools

import (
	"context"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/intentgate/internal/driver"
	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/toolcall"
)

// dispatch parses the request into a Call and runs it through the driver.
func dispatch(ctx context.Context, d *driver.Driver, s *session.State, toolName string, req mcp.CallToolRequest) *mcp.CallToolResult {
	call := toolcall.FromMap(callID(req), toolName, req.GetArguments(), false)
	return toResult(d.Dispatch(ctx, s, call))
}

// callID derives a stable id for the call, preferring the client's
// progress token when present.
func callID(req mcp.CallToolRequest) string {
	if req.Params.Meta != nil && req.Params.Meta.ProgressToken != nil {
		if s, ok := req.Params.Meta.ProgressToken.(string); ok && s != "" {
			return s
		}
	}
	return uuid.NewString()
}

func toResult(r hookengine.ToolResult) *mcp.CallToolResult {
	if r.IsError {
		return mcp.NewToolResultError(r.Content)
	}
	return mcp.NewToolResultText(r.Content)
}

// metadataOptions returns the shared provenance argument definitions for
// mutating tools. Both are optional: the gate injects defaults.
func metadataOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("intent_id",
			mcp.Description("Intent this mutation serves. Defaults to the active intent; a mismatch is rejected."),
		),
		mcp.WithString("mutation_class",
			mcp.Description("Provenance class of the change. Defaults to INTENT_EVOLUTION."),
			mcp.Enum("AST_REFACTOR", "INTENT_EVOLUTION"),
		),
	}
}
