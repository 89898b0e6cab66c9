package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HendryAvila/intentgate/internal/classify"
	"github.com/HendryAvila/intentgate/internal/driver"
	"github.com/HendryAvila/intentgate/internal/gate"
	"github.com/HendryAvila/intentgate/internal/hitl"
	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/intent"
	"github.com/HendryAvila/intentgate/internal/knowledge"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/snapshot"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/trace"
	"github.com/HendryAvila/intentgate/internal/veto"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

const pipelineIntents = `active_intents:
  - id: INT-1
    name: Parser work
    status: IN_PROGRESS
    owned_scope:
      - src
    constraints:
      - Keep the public API stable
    acceptance_criteria:
      - Tests pass
`

// pipeline is a full governance pipeline wired the way the composition
// root does it, minus the MCP transport.
type pipeline struct {
	ws   *workspace.Workspace
	sess *session.State
	drv  *driver.Driver
}

func newPipeline(t *testing.T, approve bool) *pipeline {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(root)
	if err := os.MkdirAll(ws.OrchDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ws.IntentsPath(), []byte(pipelineIntents), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.DiscardHandler)
	sess := session.New(root)
	intents := intent.NewFileStore(ws)

	engine := hookengine.New(logger)
	toolClassifier := classify.NewToolClassifier(toolcall.ToolExecuteCommand,
		[]string{toolcall.ToolWriteFile, toolcall.ToolApplyPatch},
		[]string{toolcall.ToolReadFile, toolcall.ToolSelectIntent})

	scopeGate := gate.New(ws, intents, toolClassifier,
		classify.NewCommandClassifier(),
		classify.NewUserIntentClassifier(nil),
		hitl.Auto{Approve: approve},
		gate.NewDecisionLog(ws, nil),
		nil)

	engine.Register(hookengine.Hook{Name: "snapshot", Pre: snapshot.Hook(ws, toolClassifier.IsMutating)})
	engine.Register(hookengine.Hook{Name: "scope-gate", Pre: scopeGate.Hook()})
	engine.Register(hookengine.Hook{Name: "trace-writer",
		Post: trace.NewWriter(ws, toolClassifier.IsMutating, trace.Contributor{ModelIdentifier: "test-model"}, nil).Hook()})
	engine.Register(hookengine.Hook{Name: "lessons-learned", Post: knowledge.LessonsHook(ws)})

	drv := driver.New(engine, logger)
	injector := intent.NewInjector(intents, trace.NewReader(ws), ws)

	NewSelectIntentTool(drv, sess, injector)
	NewWriteFileTool(drv, sess, ws)
	NewApplyPatchTool(drv, sess, ws)
	NewExecuteCommandTool(drv, sess, ws)
	NewReadFileTool(drv, sess, ws)

	return &pipeline{ws: ws, sess: sess, drv: drv}
}

func (p *pipeline) call(id, tool string, args map[string]any) hookengine.ToolResult {
	return p.drv.Dispatch(context.Background(), p.sess, toolcall.FromMap(id, tool, args, false))
}

func (p *pipeline) selectIntent(t *testing.T) {
	t.Helper()
	res := p.call("sel", toolcall.ToolSelectIntent, map[string]any{"intent_id": "INT-1"})
	if res.IsError {
		t.Fatalf("intent selection failed: %s", res.Content)
	}
}

func parseEnvelope(t *testing.T, content string) veto.Error {
	t.Helper()
	var e veto.Error
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		t.Fatalf("not a veto envelope: %q", content)
	}
	return e
}

func TestPipeline_HappyWrite(t *testing.T) {
	p := newPipeline(t, false)
	p.selectIntent(t)

	res := p.call("c1", toolcall.ToolWriteFile, map[string]any{"path": "src/a.ts", "body": "x"})
	if res.IsError {
		t.Fatalf("write failed: %s", res.Content)
	}

	data, err := os.ReadFile(filepath.Join(p.ws.Root, "src", "a.ts"))
	if err != nil || string(data) != "x" {
		t.Fatalf("file content = %q, err = %v", data, err)
	}

	entries, err := trace.NewReader(p.ws).All()
	if err != nil || len(entries) != 1 {
		t.Fatalf("trace entries = %d, err = %v", len(entries), err)
	}
	e := entries[0]
	if e.IntentID != "INT-1" || e.MutationClass != "INTENT_EVOLUTION" {
		t.Errorf("entry metadata = %+v", e)
	}
	f := e.Files[0]
	wantHash := snapshot.HashBytes([]byte("x"))
	if f.RelativePath != "src/a.ts" || f.ContentHash != wantHash {
		t.Errorf("file attribution = %+v", f)
	}
	r := f.Conversations[0].Ranges
	if len(r) != 1 || r[0].StartLine != 1 || r[0].EndLine != 1 || r[0].ContentHash != wantHash {
		t.Errorf("ranges = %+v", r)
	}
}

func TestPipeline_OutOfScopeDenialNoWriteNoTrace(t *testing.T) {
	p := newPipeline(t, false)
	p.selectIntent(t)

	res := p.call("c1", toolcall.ToolWriteFile, map[string]any{"path": "other/a.ts", "body": "x"})
	if !res.IsError {
		t.Fatal("out-of-scope write succeeded")
	}
	e := parseEnvelope(t, res.Content)
	if e.ErrorType != "scope_violation" || e.Code != "REQ-001" || e.IntentID != "INT-1" || e.Filename != "other/a.ts" {
		t.Errorf("envelope = %+v", e)
	}

	if _, err := os.Stat(filepath.Join(p.ws.Root, "other", "a.ts")); !os.IsNotExist(err) {
		t.Error("file written despite denial")
	}
	if entries, _ := trace.NewReader(p.ws).All(); len(entries) != 0 {
		t.Error("trace entry written despite denial")
	}
}

// newSabotagedPipeline wires the standard pipeline with one extra hook
// between the snapshot capture and the gate, standing in for a sibling
// process that edits files while the call is suspended.
func newSabotagedPipeline(t *testing.T, sabotage hookengine.PreFunc) *pipeline {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(root)
	if err := os.MkdirAll(ws.OrchDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ws.IntentsPath(), []byte(pipelineIntents), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.DiscardHandler)
	sess := session.New(root)
	intents := intent.NewFileStore(ws)

	engine := hookengine.New(logger)
	toolClassifier := classify.NewToolClassifier(toolcall.ToolExecuteCommand,
		[]string{toolcall.ToolWriteFile, toolcall.ToolApplyPatch},
		[]string{toolcall.ToolReadFile, toolcall.ToolSelectIntent})

	scopeGate := gate.New(ws, intents, toolClassifier,
		classify.NewCommandClassifier(),
		classify.NewUserIntentClassifier(nil),
		hitl.Auto{Approve: false},
		gate.NewDecisionLog(ws, nil),
		nil)

	engine.Register(hookengine.Hook{Name: "snapshot", Pre: snapshot.Hook(ws, toolClassifier.IsMutating)})
	engine.Register(hookengine.Hook{Name: "sibling-edit", Pre: sabotage})
	engine.Register(hookengine.Hook{Name: "scope-gate", Pre: scopeGate.Hook()})
	engine.Register(hookengine.Hook{Name: "trace-writer",
		Post: trace.NewWriter(ws, toolClassifier.IsMutating, trace.Contributor{ModelIdentifier: "test-model"}, nil).Hook()})
	engine.Register(hookengine.Hook{Name: "lessons-learned", Post: knowledge.LessonsHook(ws)})

	drv := driver.New(engine, logger)
	injector := intent.NewInjector(intents, trace.NewReader(ws), ws)

	NewSelectIntentTool(drv, sess, injector)
	NewWriteFileTool(drv, sess, ws)
	NewApplyPatchTool(drv, sess, ws)
	NewExecuteCommandTool(drv, sess, ws)
	NewReadFileTool(drv, sess, ws)

	return &pipeline{ws: ws, sess: sess, drv: drv}
}

func TestPipeline_OptimisticLock(t *testing.T) {
	var target string
	p := newSabotagedPipeline(t, func(_ context.Context, _ *session.State, c toolcall.Call) hookengine.PreResult {
		// Rewrites the file after the snapshot hook captured "A".
		if c.Name == toolcall.ToolWriteFile {
			os.WriteFile(target, []byte("B"), 0o644)
		}
		return hookengine.Allow()
	})
	p.selectIntent(t)

	target = filepath.Join(p.ws.Root, "src", "a.ts")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("A"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := target

	res := p.call("c1", toolcall.ToolWriteFile, map[string]any{"path": "src/a.ts", "body": "C"})
	if !res.IsError {
		t.Fatal("stale write succeeded")
	}
	e := parseEnvelope(t, res.Content)
	if e.ErrorType != "stale_file" {
		t.Fatalf("envelope = %+v", e)
	}
	if e.ExpectedHash != snapshot.HashBytes([]byte("A")) || e.ActualHash != snapshot.HashBytes([]byte("B")) {
		t.Errorf("hashes = %+v", e)
	}

	// The workspace keeps the sibling's content.
	data, _ := os.ReadFile(path)
	if string(data) != "B" {
		t.Errorf("file content = %q, want B", data)
	}

	// The lessons-learned post-hook flushed the failure.
	lessons, err := os.ReadFile(p.ws.KnowledgePath())
	if err != nil {
		t.Fatalf("knowledge file missing: %v", err)
	}
	if !strings.Contains(string(lessons), "src/a.ts") {
		t.Errorf("lesson content = %q", lessons)
	}
}

func TestPipeline_SafeCommandPassThrough(t *testing.T) {
	p := newPipeline(t, false)
	p.selectIntent(t)

	res := p.call("c1", toolcall.ToolExecuteCommand, map[string]any{"command": "pwd"})
	if res.IsError {
		t.Fatalf("safe command failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, filepath.Base(p.ws.Root)) {
		t.Errorf("output = %q", res.Content)
	}
}

func TestPipeline_DestructiveCommandReuseAcrossSessions(t *testing.T) {
	p := newPipeline(t, true)
	p.selectIntent(t)

	res := p.call("c1", toolcall.ToolExecuteCommand, map[string]any{"command": "rm -f does-not-exist.tmp"})
	if res.IsError {
		t.Fatalf("approved command failed: %s", res.Content)
	}

	// New session, deny-all prompter: the persisted decision must carry it.
	fresh := newPipelineOver(t, p.ws, false)
	fresh.selectIntent(t)

	res2 := fresh.call("c2", toolcall.ToolExecuteCommand, map[string]any{"command": "rm -f does-not-exist.tmp"})
	if res2.IsError {
		t.Fatalf("persisted approval not reused: %s", res2.Content)
	}
}

// newPipelineOver wires a pipeline over an existing workspace, simulating
// a second process sharing the orchestration directory.
func newPipelineOver(t *testing.T, ws *workspace.Workspace, approve bool) *pipeline {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	sess := session.New(ws.Root)
	intents := intent.NewFileStore(ws)

	engine := hookengine.New(logger)
	toolClassifier := classify.NewToolClassifier(toolcall.ToolExecuteCommand,
		[]string{toolcall.ToolWriteFile, toolcall.ToolApplyPatch},
		[]string{toolcall.ToolReadFile, toolcall.ToolSelectIntent})

	scopeGate := gate.New(ws, intents, toolClassifier,
		classify.NewCommandClassifier(),
		classify.NewUserIntentClassifier(nil),
		hitl.Auto{Approve: approve},
		gate.NewDecisionLog(ws, nil),
		nil)

	engine.Register(hookengine.Hook{Name: "snapshot", Pre: snapshot.Hook(ws, toolClassifier.IsMutating)})
	engine.Register(hookengine.Hook{Name: "scope-gate", Pre: scopeGate.Hook()})

	drv := driver.New(engine, logger)
	injector := intent.NewInjector(intents, trace.NewReader(ws), ws)

	NewSelectIntentTool(drv, sess, injector)
	NewWriteFileTool(drv, sess, ws)
	NewApplyPatchTool(drv, sess, ws)
	NewExecuteCommandTool(drv, sess, ws)
	NewReadFileTool(drv, sess, ws)

	return &pipeline{ws: ws, sess: sess, drv: drv}
}

func TestPipeline_DeleteViaPatchPreflight(t *testing.T) {
	p := newPipeline(t, false)
	p.selectIntent(t)

	// The target is in scope; the delete marker still needs approval.
	path := filepath.Join(p.ws.Root, "src", "x.ts")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("doomed"), 0o644); err != nil {
		t.Fatal(err)
	}

	patch := "*** Begin Patch\n*** Delete File: src/x.ts\n*** End Patch"
	res := p.call("c1", toolcall.ToolApplyPatch, map[string]any{"patch": patch})
	if !res.IsError {
		t.Fatal("delete patch ran without approval")
	}
	e := parseEnvelope(t, res.Content)
	if e.ErrorType != "destructive_operation_denied" || e.Code != "REQ-008" {
		t.Errorf("envelope = %+v", e)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("file deleted despite denial")
	}
}

func TestPipeline_ApprovedDeletePatchExecutes(t *testing.T) {
	p := newPipeline(t, true)
	p.selectIntent(t)

	path := filepath.Join(p.ws.Root, "src", "x.ts")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("doomed"), 0o644); err != nil {
		t.Fatal(err)
	}

	patch := "*** Begin Patch\n*** Delete File: src/x.ts\n*** End Patch"
	res := p.call("c1", toolcall.ToolApplyPatch, map[string]any{"patch": patch})
	if res.IsError {
		t.Fatalf("approved delete failed: %s", res.Content)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file survived approved delete")
	}
}

func TestPipeline_PatchAddAndUpdate(t *testing.T) {
	p := newPipeline(t, false)
	p.selectIntent(t)

	add := "*** Begin Patch\n*** Add File: src/greet.ts\n+hello\n+world\n*** End Patch"
	if res := p.call("c1", toolcall.ToolApplyPatch, map[string]any{"patch": add}); res.IsError {
		t.Fatalf("add patch failed: %s", res.Content)
	}

	update := "*** Begin Patch\n*** Update File: src/greet.ts\n@@\n hello\n-world\n+there\n*** End Patch"
	if res := p.call("c2", toolcall.ToolApplyPatch, map[string]any{"patch": update}); res.IsError {
		t.Fatalf("update patch failed: %s", res.Content)
	}

	data, _ := os.ReadFile(filepath.Join(p.ws.Root, "src", "greet.ts"))
	if string(data) != "hello\nthere\n" {
		t.Errorf("content = %q", data)
	}
}

func TestPipeline_StaleRecoveryViaRead(t *testing.T) {
	p := newPipeline(t, false)
	p.selectIntent(t)

	path := filepath.Join(p.ws.Root, "src", "a.ts")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("A"), 0o644)

	// Stale detection outside the dispatch loop: snapshot A, disk becomes
	// B, the lock check blocks the path.
	p.sess.PutSnapshot("c0", "src/a.ts", snapshot.Capture(path))
	os.WriteFile(path, []byte("B"), 0o644)
	if ve := snapshot.Check(p.ws, p.sess, "c0", "src/a.ts", toolcall.ToolWriteFile); ve == nil {
		t.Fatal("stale edit not detected")
	}

	// The path is now stale-blocked; even a fresh write prompts, and the
	// deny-all prompter keeps it blocked.
	res := p.call("c2", toolcall.ToolWriteFile, map[string]any{"path": "src/a.ts", "body": "C"})
	if !res.IsError {
		t.Fatal("stale-blocked write succeeded")
	}
	if e := parseEnvelope(t, res.Content); e.ErrorType != "stale_lock" {
		t.Errorf("envelope = %+v", e)
	}

	// Reading still works, as recovery requires.
	read := p.call("c3", toolcall.ToolReadFile, map[string]any{"path": "src/a.ts"})
	if read.IsError || read.Content != "B" {
		t.Errorf("read = %+v", read)
	}
}

func TestPipeline_SelectIntentReturnsContextBlock(t *testing.T) {
	p := newPipeline(t, false)

	res := p.call("sel", toolcall.ToolSelectIntent, map[string]any{"intent_id": "INT-1"})
	if res.IsError {
		t.Fatalf("selection failed: %s", res.Content)
	}
	for _, want := range []string{"<intent_context>", "<id>INT-1</id>", "Keep the public API stable"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("context block missing %q", want)
		}
	}
}

func TestPipeline_MutatingWithoutIntentVetoed(t *testing.T) {
	p := newPipeline(t, true)

	res := p.call("c1", toolcall.ToolWriteFile, map[string]any{"path": "src/a.ts", "body": "x"})
	if !res.IsError {
		t.Fatal("write allowed without intent")
	}
	if e := parseEnvelope(t, res.Content); e.ErrorType != "no_active_intent" {
		t.Errorf("envelope = %+v", e)
	}
}
