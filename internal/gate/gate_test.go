package gate

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/HendryAvila/intentgate/internal/classify"
	"github.com/HendryAvila/intentgate/internal/hitl"
	"github.com/HendryAvila/intentgate/internal/intent"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/veto"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

const gateIntents = `active_intents:
  - id: INT-1
    name: Parser work
    status: IN_PROGRESS
    owned_scope:
      - src
`

// promptRecorder counts prompts and answers with a fixed verdict.
type promptRecorder struct {
	approve bool
	asked   []hitl.Request
}

func (p *promptRecorder) Confirm(_ context.Context, req hitl.Request) (bool, error) {
	p.asked = append(p.asked, req)
	return p.approve, nil
}

type fixture struct {
	gate     *Gate
	sess     *session.State
	ws       *workspace.Workspace
	prompter *promptRecorder
}

func newFixture(t *testing.T, approve bool) *fixture {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(root)
	if err := os.MkdirAll(ws.OrchDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ws.IntentsPath(), []byte(gateIntents), 0o644); err != nil {
		t.Fatal(err)
	}

	prompter := &promptRecorder{approve: approve}
	tools := classify.NewToolClassifier(toolcall.ToolExecuteCommand,
		[]string{toolcall.ToolWriteFile, toolcall.ToolApplyPatch},
		[]string{toolcall.ToolReadFile, toolcall.ToolSelectIntent})

	g := New(ws, intent.NewFileStore(ws), tools,
		classify.NewCommandClassifier(),
		classify.NewUserIntentClassifier(nil),
		prompter,
		NewDecisionLog(ws, nil),
		nil)

	return &fixture{gate: g, sess: session.New(root), ws: ws, prompter: prompter}
}

func (f *fixture) selectIntent(t *testing.T) {
	t.Helper()
	f.sess.SetIntent(&session.ActiveIntent{ID: "INT-1"})
}

func run(f *fixture, call toolcall.Call) (proceed bool, errJSON string, modified toolcall.Call) {
	res := f.gate.Hook()(context.Background(), f.sess, call)
	out := call
	if res.Modified != nil {
		out = *res.Modified
	}
	return res.Proceed, res.Error, out
}

func parseVeto(t *testing.T, errJSON string) veto.Error {
	t.Helper()
	var e veto.Error
	if err := json.Unmarshal([]byte(errJSON), &e); err != nil {
		t.Fatalf("error is not the JSON envelope: %q (%v)", errJSON, err)
	}
	return e
}

func writeCall(id, path string) toolcall.Call {
	return toolcall.FromMap(id, toolcall.ToolWriteFile, map[string]any{"path": path, "body": "x"}, false)
}

func TestGate_PartialCallsBypass(t *testing.T) {
	f := newFixture(t, false)
	call := toolcall.FromMap("c1", toolcall.ToolWriteFile, map[string]any{"path": "other/a.ts"}, true)

	proceed, _, _ := run(f, call)
	if !proceed {
		t.Error("partial call was gated")
	}
	if len(f.prompter.asked) != 0 {
		t.Error("partial call produced prompts")
	}
}

func TestGate_SelectIntentToolBypasses(t *testing.T) {
	f := newFixture(t, false)
	call := toolcall.FromMap("c1", toolcall.ToolSelectIntent, map[string]any{"intent_id": "INT-1"}, false)
	if proceed, _, _ := run(f, call); !proceed {
		t.Error("selection handshake was gated")
	}
}

func TestGate_NoActiveIntentVetoesMutating(t *testing.T) {
	f := newFixture(t, true)
	proceed, errJSON, _ := run(f, writeCall("c1", "src/a.ts"))
	if proceed {
		t.Fatal("mutating call allowed without intent")
	}
	e := parseVeto(t, errJSON)
	if e.ErrorType != veto.KindNoActiveIntent {
		t.Errorf("error_type = %s", e.ErrorType)
	}
}

func TestGate_HappyWriteInjectsMetadata(t *testing.T) {
	f := newFixture(t, false)
	f.selectIntent(t)

	proceed, _, modified := run(f, writeCall("c1", "src/a.ts"))
	if !proceed {
		t.Fatal("in-scope write vetoed")
	}
	if modified.IntentID() != "INT-1" {
		t.Errorf("intent_id = %q", modified.IntentID())
	}
	if modified.Class() != toolcall.ClassIntentEvolution {
		t.Errorf("mutation_class = %q", modified.Class())
	}
	if len(f.prompter.asked) != 0 {
		t.Errorf("happy path prompted: %+v", f.prompter.asked)
	}
}

func TestGate_IntentMismatch(t *testing.T) {
	f := newFixture(t, true)
	f.selectIntent(t)

	call := toolcall.FromMap("c1", toolcall.ToolWriteFile,
		map[string]any{"path": "src/a.ts", "intent_id": "INT-9"}, false)
	proceed, errJSON, _ := run(f, call)
	if proceed {
		t.Fatal("mismatched intent allowed")
	}
	e := parseVeto(t, errJSON)
	if e.Code != veto.CodeIntentMismatch || e.ProvidedIntentID != "INT-9" || e.IntentID != "INT-1" {
		t.Errorf("envelope = %+v", e)
	}
}

func TestGate_InvalidMutationClass(t *testing.T) {
	f := newFixture(t, true)
	f.selectIntent(t)

	call := toolcall.FromMap("c1", toolcall.ToolWriteFile,
		map[string]any{"path": "src/a.ts", "mutation_class": "YOLO"}, false)
	proceed, errJSON, _ := run(f, call)
	if proceed {
		t.Fatal("invalid mutation_class allowed")
	}
	if e := parseVeto(t, errJSON); e.Code != veto.CodeInvalidMetadata {
		t.Errorf("code = %s", e.Code)
	}
}

func TestGate_OutOfScopeDeniedWithEnvelope(t *testing.T) {
	f := newFixture(t, false)
	f.selectIntent(t)

	proceed, errJSON, _ := run(f, writeCall("c1", "other/a.ts"))
	if proceed {
		t.Fatal("out-of-scope write allowed after denial")
	}
	e := parseVeto(t, errJSON)
	if e.ErrorType != veto.KindScopeViolation || e.Code != veto.CodeScopeViolation {
		t.Errorf("envelope = %+v", e)
	}
	if e.Filename != "other/a.ts" || e.IntentID != "INT-1" {
		t.Errorf("envelope = %+v", e)
	}
	if len(f.prompter.asked) != 1 {
		t.Errorf("prompt count = %d", len(f.prompter.asked))
	}

	// The denial is persisted as a decision.
	data, err := os.ReadFile(f.ws.DecisionsPath())
	if err != nil {
		t.Fatalf("decisions not persisted: %v", err)
	}
	var d Decision
	if err := json.Unmarshal([]byte(firstLine(string(data))), &d); err != nil {
		t.Fatalf("decision line: %v", err)
	}
	if d.Decision != DecisionRejected || d.Reason != veto.KindScopeViolation {
		t.Errorf("decision = %+v", d)
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

func TestGate_OutOfScopeApprovedProceeds(t *testing.T) {
	f := newFixture(t, true)
	f.selectIntent(t)

	proceed, _, _ := run(f, writeCall("c1", "other/a.ts"))
	if !proceed {
		t.Error("approved out-of-scope write vetoed")
	}
}

func TestGate_SafeCommandNoPrompt(t *testing.T) {
	f := newFixture(t, false)
	f.selectIntent(t)

	call := toolcall.FromMap("c1", toolcall.ToolExecuteCommand, map[string]any{"command": "git status"}, false)
	proceed, _, _ := run(f, call)
	if !proceed {
		t.Fatal("safe command vetoed")
	}
	if len(f.prompter.asked) != 0 {
		t.Error("safe command prompted")
	}
	if !f.sess.CommandApproved("INT-1", "git status") {
		t.Error("safe command not marked approved")
	}
}

func TestGate_DestructiveCommandDenied(t *testing.T) {
	f := newFixture(t, false)
	f.selectIntent(t)

	call := toolcall.FromMap("c1", toolcall.ToolExecuteCommand, map[string]any{"command": "rm tmp"}, false)
	proceed, errJSON, _ := run(f, call)
	if proceed {
		t.Fatal("denied destructive command allowed")
	}
	e := parseVeto(t, errJSON)
	if e.ErrorType != veto.KindCommandNotAuthorized || e.Code != veto.CodeCommand || e.Command != "rm tmp" {
		t.Errorf("envelope = %+v", e)
	}
}

func TestGate_DestructiveCommandApprovalReusedAcrossSessions(t *testing.T) {
	f := newFixture(t, true)
	f.selectIntent(t)

	call := toolcall.FromMap("c1", toolcall.ToolExecuteCommand, map[string]any{"command": "rm tmp"}, false)
	if proceed, _, _ := run(f, call); !proceed {
		t.Fatal("approved command vetoed")
	}
	if len(f.prompter.asked) != 1 {
		t.Fatalf("prompt count = %d", len(f.prompter.asked))
	}

	// A new session over the same workspace reuses the persisted approval.
	f.sess = session.New(f.ws.Root)
	f.selectIntent(t)
	f.prompter.approve = false

	call2 := toolcall.FromMap("c2", toolcall.ToolExecuteCommand, map[string]any{"command": "rm tmp"}, false)
	if proceed, _, _ := run(f, call2); !proceed {
		t.Fatal("persisted approval not reused")
	}
	if len(f.prompter.asked) != 1 {
		t.Errorf("second call reprompted")
	}
}

func TestGate_WrappedCommandUnwrapped(t *testing.T) {
	f := newFixture(t, false)
	f.selectIntent(t)

	call := toolcall.FromMap("c1", toolcall.ToolExecuteCommand,
		map[string]any{"command": `sh -c "git status"`}, false)
	if proceed, _, _ := run(f, call); !proceed {
		t.Error("wrapped safe command vetoed")
	}
}

func TestGate_EmptyCommandSkips(t *testing.T) {
	f := newFixture(t, false)
	f.selectIntent(t)

	call := toolcall.FromMap("c1", toolcall.ToolExecuteCommand, map[string]any{"command": "  "}, false)
	if proceed, _, _ := run(f, call); !proceed {
		t.Error("empty command vetoed")
	}
}

func TestGate_StaleBlockDeniedThenOverridden(t *testing.T) {
	f := newFixture(t, false)
	f.selectIntent(t)
	f.sess.BlockStale("src/a.ts", toolcall.ToolWriteFile)

	proceed, errJSON, _ := run(f, writeCall("c1", "src/a.ts"))
	if proceed {
		t.Fatal("stale-blocked write allowed after denial")
	}
	if e := parseVeto(t, errJSON); e.ErrorType != veto.KindStaleLock || e.Code != veto.CodeStaleLock {
		t.Errorf("envelope = %+v", parseVeto(t, errJSON))
	}

	// Approval clears the block.
	f2 := newFixture(t, true)
	f2.selectIntent(t)
	f2.sess.BlockStale("src/a.ts", toolcall.ToolWriteFile)
	if proceed, _, _ := run(f2, writeCall("c1", "src/a.ts")); !proceed {
		t.Fatal("override approval did not unblock")
	}
	if _, blocked := f2.sess.StaleBlocked("src/a.ts"); blocked {
		t.Error("block survived override approval")
	}
}

func TestGate_DeletePatchPreflightInScope(t *testing.T) {
	f := newFixture(t, false)
	f.selectIntent(t)

	call := toolcall.FromMap("c1", toolcall.ToolApplyPatch,
		map[string]any{"patch": "*** Begin Patch\n*** Delete File: src/x.ts\n*** End Patch"}, false)
	proceed, errJSON, _ := run(f, call)
	if proceed {
		t.Fatal("delete patch allowed after denial")
	}
	e := parseVeto(t, errJSON)
	if e.ErrorType != veto.KindDestructiveOperation || e.Code != veto.CodeDestructiveOperation {
		t.Errorf("envelope = %+v", e)
	}
	if len(f.prompter.asked) != 1 {
		t.Errorf("prompt count = %d", len(f.prompter.asked))
	}
}

func TestGate_DeletePatchApprovalCached(t *testing.T) {
	f := newFixture(t, true)
	f.selectIntent(t)

	patch := "*** Begin Patch\n*** Delete File: src/x.ts\n*** End Patch"
	call := toolcall.FromMap("c1", toolcall.ToolApplyPatch, map[string]any{"patch": patch}, false)
	if proceed, _, _ := run(f, call); !proceed {
		t.Fatal("approved delete patch vetoed")
	}
	prompts := len(f.prompter.asked)

	call2 := toolcall.FromMap("c2", toolcall.ToolApplyPatch, map[string]any{"patch": patch}, false)
	if proceed, _, _ := run(f, call2); !proceed {
		t.Fatal("second delete patch vetoed")
	}
	if len(f.prompter.asked) != prompts {
		t.Error("identical destructive operation reprompted")
	}
}

func TestGate_UnknownTargetsPrompt(t *testing.T) {
	f := newFixture(t, false)
	f.selectIntent(t)

	call := toolcall.FromMap("c1", toolcall.ToolApplyPatch, map[string]any{"patch": "no markers here"}, false)
	proceed, errJSON, _ := run(f, call)
	if proceed {
		t.Fatal("target-less mutating call allowed after denial")
	}
	if e := parseVeto(t, errJSON); e.ErrorType != veto.KindUnknownTargets || e.Code != veto.CodeUnknownTargets {
		t.Errorf("envelope = %+v", e)
	}
}

func TestGate_IgnoreListBypassesChecks(t *testing.T) {
	f := newFixture(t, false)
	f.selectIntent(t)
	if err := os.WriteFile(f.ws.IgnorePath(), []byte("INT-1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Out of scope, but the ignore list waves it through.
	proceed, _, _ := run(f, writeCall("c1", "other/a.ts"))
	if !proceed {
		t.Error("ignore-listed intent still gated")
	}
	if len(f.prompter.asked) != 0 {
		t.Error("ignore-listed intent prompted")
	}
}

func TestGate_DestructiveUserIntentPreflightOnUnknownTool(t *testing.T) {
	f := newFixture(t, false)
	f.sess.SetLastUserMessage("please wipe the scratch folder listing")

	call := toolcall.FromMap("c1", "annotate_file", map[string]any{"path": "notes.md"}, false)
	proceed, errJSON, _ := run(f, call)
	if proceed {
		t.Fatal("destructive user intent allowed after denial")
	}
	if e := parseVeto(t, errJSON); e.ErrorType != veto.KindDestructiveIntent || e.Code != veto.CodeDestructiveIntent {
		t.Errorf("envelope = %+v", e)
	}
}

func TestGate_SafeUserIntentNoPreflight(t *testing.T) {
	f := newFixture(t, false)
	f.sess.SetLastUserMessage("refactor the session store")

	call := toolcall.FromMap("c1", "annotate_file", map[string]any{"path": "notes.md"}, false)
	if proceed, _, _ := run(f, call); !proceed {
		t.Error("safe user intent gated")
	}
	if len(f.prompter.asked) != 0 {
		t.Error("safe user intent prompted")
	}
}
