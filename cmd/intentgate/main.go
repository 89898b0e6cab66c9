// Intentgate: intent-governed tool execution middleware.
//
// An MCP server that sits between an AI coding agent and its
// side-effecting tools: every mutation must be declared against a
// registered intent, stay inside that intent's owned scope, survive an
// optimistic-concurrency check, and land in an append-only audit ledger.
//
// Usage:
//
//	intentgate serve    # Start the MCP server (stdio transport)
//	intentgate trace    # Query the audit ledger
//	intentgate version  # Print the version
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/intentgate/internal/hitl"
	"github.com/HendryAvila/intentgate/internal/ledger"
	igserver "github.com/HendryAvila/intentgate/internal/server"
	"github.com/HendryAvila/intentgate/internal/trace"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "intentgate",
		Short:         "Intent-governed tool execution middleware",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newTraceCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var workDir string
	var approveAll bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := igserver.Options{WorkDir: workDir}
			if approveAll {
				// Unattended runs that deliberately wave every prompt
				// through. The decision log still records each approval.
				opts.Prompter = hitl.Auto{Approve: true}
			}

			s, cleanup, err := igserver.New(opts)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()

			return mcpserver.ServeStdio(s)
		},
	}

	cmd.Flags().StringVar(&workDir, "workdir", "", "session working directory (default: cwd)")
	cmd.Flags().BoolVar(&approveAll, "approve-all", false, "answer every approval prompt with yes")
	return cmd
}

func newTraceCmd() *cobra.Command {
	var workDir, intentID string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query the audit ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workDir == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				workDir = cwd
			}
			ws := workspace.New(workDir)

			entries, err := loadEntries(ws, intentID, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}

			for _, e := range entries {
				var files []string
				for _, f := range e.Files {
					files = append(files, f.RelativePath)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s  %-10s  %s\n",
					e.Timestamp, e.IntentID, e.Tool, strings.Join(files, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workDir, "workdir", "", "session working directory (default: cwd)")
	cmd.Flags().StringVar(&intentID, "intent", "", "filter by intent id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit raw JSONL")
	return cmd
}

// loadEntries prefers the ledger index and falls back to scanning the
// JSONL trace file.
func loadEntries(ws *workspace.Workspace, intentID string, limit int) ([]trace.Entry, error) {
	if ix, err := ledger.Open(ws); err == nil {
		defer ix.Close()
		if entries, err := ix.Entries(intentID, limit); err == nil {
			return entries, nil
		}
	}

	all, err := trace.NewReader(ws).All()
	if err != nil {
		return nil, err
	}
	var out []trace.Entry
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if intentID == "" || all[i].IntentID == intentID {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "intentgate v%s\n", igserver.Version)
		},
	}
}
