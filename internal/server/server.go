// Package server wires all middleware components and creates the MCP
// server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools and hooks that depend on abstractions. No
// governance logic lives here — only wiring.
package server

import (
	"log"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/intentgate/internal/classify"
	"github.com/HendryAvila/intentgate/internal/diagnostics"
	"github.com/HendryAvila/intentgate/internal/driver"
	"github.com/HendryAvila/intentgate/internal/gate"
	"github.com/HendryAvila/intentgate/internal/hitl"
	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/intent"
	"github.com/HendryAvila/intentgate/internal/knowledge"
	"github.com/HendryAvila/intentgate/internal/ledger"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/snapshot"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/tools"
	"github.com/HendryAvila/intentgate/internal/trace"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Options configures the composition root.
type Options struct {
	// WorkDir is the session working directory. Defaults to the process cwd.
	WorkDir string
	// Prompter answers HITL prompts. Defaults to deny-all: headless runs
	// surface structured errors instead of silently approving side effects.
	Prompter hitl.Prompter
	// Contributor identifies this agent in trace entries.
	Contributor trace.Contributor
	// Logger receives structured diagnostics on stderr by default.
	Logger *slog.Logger
	// Session lets an embedding host share the session state, e.g. to
	// feed the user-intent classifier the latest user message. A nil
	// Session gets a fresh one.
	Session *session.State
}

// New creates and configures the MCP server with the full governance
// pipeline registered around every tool.
//
// The returned cleanup function closes the ledger index and must be
// called on shutdown (typically via defer). It is always non-nil and
// safe to call even if ledger init failed.
func New(opts Options) (*server.MCPServer, func(), error) {
	if opts.WorkDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, noop, err
		}
		opts.WorkDir = cwd
	}
	if opts.Prompter == nil {
		opts.Prompter = hitl.Auto{Approve: false}
	}
	if opts.Logger == nil {
		// stdout belongs to the MCP stdio transport.
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if opts.Contributor.ModelIdentifier == "" {
		opts.Contributor.ModelIdentifier = "intentgate/" + Version
	}

	// --- Create shared dependencies ---

	ws := workspace.New(opts.WorkDir)
	sess := opts.Session
	if sess == nil {
		sess = session.New(ws.Root)
	}
	intents := intent.NewFileStore(ws)
	diag := diagnostics.NewWriter(ws, opts.Logger)

	// --- Ledger index (optional) ---
	//
	// The index is an independent subsystem: if it fails to initialize,
	// governance continues on the JSONL sidecars alone. We log a warning
	// and fall back to scanning.

	cleanup := noop
	var traceMirror trace.Mirror
	var decisionMirror gate.DecisionMirror
	var history intent.HistorySource = trace.NewReader(ws)

	ix, ixErr := ledger.Open(ws)
	if ixErr != nil {
		log.Printf("WARNING: ledger index disabled: %v", ixErr)
	} else {
		cleanup = func() {
			if err := ix.Close(); err != nil {
				log.Printf("WARNING: ledger index close: %v", err)
			}
		}
		traceMirror = ix
		decisionMirror = ix
		history = ix
	}

	// --- Build the hook pipeline ---

	engine := hookengine.New(opts.Logger)
	toolClassifier := classify.NewToolClassifier(toolcall.ToolExecuteCommand,
		[]string{toolcall.ToolWriteFile, toolcall.ToolApplyPatch},
		[]string{toolcall.ToolReadFile, toolcall.ToolSelectIntent})

	scopeGate := gate.New(ws, intents, toolClassifier,
		classify.NewCommandClassifierDebug(opts.Logger),
		classify.NewUserIntentClassifier(classify.LoadLLMConfig(ws.Root)),
		opts.Prompter,
		gate.NewDecisionLog(ws, decisionMirror),
		diag)

	// Registration order is dispatch order: snapshots capture file content
	// before any approval prompt the gate raises, and the gate must veto
	// before handlers run.
	engine.Register(hookengine.Hook{Name: "snapshot", Pre: snapshot.Hook(ws, toolClassifier.IsMutating)})
	engine.Register(hookengine.Hook{Name: "scope-gate", Pre: scopeGate.Hook()})

	traceWriter := trace.NewWriter(ws, toolClassifier.IsMutating, opts.Contributor, traceMirror)
	engine.Register(hookengine.Hook{Name: "trace-writer", Post: traceWriter.Hook()})
	engine.Register(hookengine.Hook{Name: "lessons-learned", Post: knowledge.LessonsHook(ws)})

	drv := driver.New(engine, opts.Logger)

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"intentgate",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register tools ---

	injector := intent.NewInjector(intents, history, ws)

	selectTool := tools.NewSelectIntentTool(drv, sess, injector)
	s.AddTool(selectTool.Definition(), selectTool.Handle)

	writeTool := tools.NewWriteFileTool(drv, sess, ws)
	s.AddTool(writeTool.Definition(), writeTool.Handle)

	patchTool := tools.NewApplyPatchTool(drv, sess, ws)
	s.AddTool(patchTool.Definition(), patchTool.Handle)

	commandTool := tools.NewExecuteCommandTool(drv, sess, ws)
	s.AddTool(commandTool.Definition(), commandTool.Handle)

	readTool := tools.NewReadFileTool(drv, sess, ws)
	s.AddTool(readTool.Definition(), readTool.Handle)

	return s, cleanup, nil
}

// noop is the default cleanup when the ledger index is disabled.
func noop() {}

// serverInstructions tells the model how to work inside the governance
// contract.
func serverInstructions() string {
	return `This server governs every mutation of the workspace.

## Intent selection

Call select_active_intent BEFORE any write_file, apply_patch, or
execute_command. Only IN_PROGRESS intents can be selected. The response
is an <intent_context> block with the intent's owned scope, constraints,
acceptance criteria, recent trace history, and shared knowledge — treat
the constraints as binding.

## The governance contract

- Mutations may only target paths inside the selected intent's owned
  scope. Out-of-scope writes are rejected with scope_violation (REQ-001).
- Every mutating call carries intent_id and mutation_class. Omit them and
  the gate injects the active intent and INTENT_EVOLUTION; supply them
  only when you mean it (AST_REFACTOR for semantics-preserving refactors).
- Shell commands are classified. Listing, reading, and VCS inspection run
  freely; anything else needs a recorded approval per intent.
- Patches that delete or move files trigger a destructive-operation
  approval even when the paths are in scope.

## Recovering from errors

Tool errors are JSON envelopes with error_type and code:
- stale_file / REQ-007: the file changed on disk. Call read_file on the
  reported path, rebase your change on the current content, retry.
- scope_violation / REQ-001: narrow the change to the owned scope, or
  select an intent that owns the path.
- command_not_authorized / CMD-001: the command needs approval; prefer a
  safe alternative or ask the user.
- missing_intent / HOOK-INT-001: select an IN_PROGRESS intent first.

Do not retry a rejected call unchanged.`
}
