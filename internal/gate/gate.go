// Package gate implements the scope enforcement gate: the central policy
// pre-hook that stands between the model's tool calls and their handlers.
//
// Checks run in a fixed order; the first failing check vetoes the call
// with a structured error. Every human-in-the-loop prompt records a
// Decision, persisted to the shared decision log and cached in-session.
package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/intentgate/internal/classify"
	"github.com/HendryAvila/intentgate/internal/diagnostics"
	"github.com/HendryAvila/intentgate/internal/hitl"
	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/intent"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/veto"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// Gate wires the classifiers, the intent store, the HITL prompter, and
// the decision log into one pre-hook.
type Gate struct {
	ws         *workspace.Workspace
	intents    *intent.FileStore
	tools      *classify.ToolClassifier
	commands   *classify.CommandClassifier
	userIntent *classify.UserIntentClassifier
	prompter   hitl.Prompter
	decisions  *DecisionLog
	diag       *diagnostics.Writer
}

// New creates a Gate. diag may be nil.
func New(
	ws *workspace.Workspace,
	intents *intent.FileStore,
	tools *classify.ToolClassifier,
	commands *classify.CommandClassifier,
	userIntent *classify.UserIntentClassifier,
	prompter hitl.Prompter,
	decisions *DecisionLog,
	diag *diagnostics.Writer,
) *Gate {
	return &Gate{
		ws:         ws,
		intents:    intents,
		tools:      tools,
		commands:   commands,
		userIntent: userIntent,
		prompter:   prompter,
		decisions:  decisions,
		diag:       diag,
	}
}

// Hook returns the pre-hook implementing the ordered checks.
func (g *Gate) Hook() hookengine.PreFunc {
	return g.run
}

func (g *Gate) run(ctx context.Context, s *session.State, call toolcall.Call) hookengine.PreResult {
	// 1. Partial calls and the selection handshake pass through.
	if call.Partial || call.Name == toolcall.ToolSelectIntent {
		return hookengine.Allow()
	}

	destructive := g.tools.IsDestructive(call.Name)
	mutating := g.tools.IsMutating(call.Name)
	isCommand := g.tools.IsCommand(call.Name)

	// 2. Destructive work requires a selected intent.
	active := s.Intent()
	if (destructive || isCommand) && active == nil {
		return g.veto(s, &veto.Error{
			ErrorType: veto.KindNoActiveIntent,
			Code:      veto.CodeUnknownTargets,
			Tool:      call.Name,
			Message:   "no active intent: call select_active_intent before mutating the workspace",
		})
	}

	// 3. Ignore-listed intents bypass all remaining checks.
	if active != nil && g.intents.Ignored(active.ID) {
		g.emit("ignore_bypass", call.Name, active.ID, "")
		return hookengine.Allow()
	}

	activeID := ""
	if active != nil {
		activeID = active.ID
	}

	// 4. User-intent preflight for tools outside the destructive surface.
	if !destructive && !isCommand {
		if res := g.userIntentPreflight(ctx, s, call, activeID); res != nil {
			return *res
		}
	}

	// 5. Command tool branch.
	if isCommand {
		if res := g.commandCheck(ctx, s, call, activeID); res != nil {
			return *res
		}
		return hookengine.Allow()
	}

	if !mutating {
		return hookengine.Allow()
	}

	targets := call.TargetPaths()

	// 6. Stale-blocked targets need an explicit override.
	for _, p := range targets {
		if res := g.staleCheck(ctx, s, call, activeID, p); res != nil {
			return *res
		}
	}

	// 7. Metadata auto-injection and validation.
	injected, res := g.metadataCheck(s, call, activeID)
	if res != nil {
		return *res
	}
	call = injected

	// 8. Destructive-operation preflight, independent of scope.
	if res := g.destructivePreflight(ctx, s, call, activeID, targets); res != nil {
		return *res
	}

	// 9. Mutating calls whose targets cannot be determined need approval.
	if len(targets) == 0 {
		if res := g.unknownTargets(ctx, s, call, activeID); res != nil {
			return *res
		}
		return hookengine.PreResult{Proceed: true, Modified: &call}
	}

	// 10. Scope check.
	scope, scopeErr := g.ownedScope(activeID)
	if scopeErr != nil {
		return g.veto(s, &veto.Error{
			ErrorType: veto.KindParseError,
			Tool:      call.Name,
			IntentID:  activeID,
			Message:   scopeErr.Error(),
		})
	}
	for _, p := range targets {
		if InScope(g.ws, scope, p) {
			continue
		}
		key := fmt.Sprintf("scope|%s|%s|%s", activeID, call.Name, g.ws.Normalize(p))
		approved := g.ask(ctx, s, key, hitl.Request{
			Reason:   veto.KindScopeViolation,
			Tool:     call.Name,
			IntentID: activeID,
			Summary:  fmt.Sprintf("%s targets %s, outside the owned scope of %s", call.Name, p, activeID),
			Targets:  []string{p},
		}, Decision{
			IntentID: activeID,
			Tool:     call.Name,
			Reason:   veto.KindScopeViolation,
			Targets:  []string{p},
		})
		if !approved {
			return g.veto(s, &veto.Error{
				ErrorType: veto.KindScopeViolation,
				Code:      veto.CodeScopeViolation,
				IntentID:  activeID,
				Tool:      call.Name,
				Filename:  g.ws.Normalize(p),
				Message:   fmt.Sprintf("%s is outside the owned scope of intent %s", g.ws.Normalize(p), activeID),
			})
		}
	}

	return hookengine.PreResult{Proceed: true, Modified: &call}
}

// userIntentPreflight classifies the latest user message and, when the
// verdict is destructive, requires approval before any further work.
func (g *Gate) userIntentPreflight(ctx context.Context, s *session.State, call toolcall.Call, activeID string) *hookengine.PreResult {
	msg := s.LastUserMessage()
	if msg == "" {
		return nil
	}

	hash := classify.MessageHash(msg)
	cls, ok := s.Classification(hash)
	if !ok {
		cls = g.userIntent.Classify(ctx, msg)
		s.CacheClassification(cls)
	}
	if cls.Verdict != classify.IntentDestructive {
		return nil
	}

	key := fmt.Sprintf("user-intent|%s|%s:%s", hash, call.Name, strings.Join(call.TargetPaths(), ","))
	approved := g.ask(ctx, s, key, hitl.Request{
		Reason:   veto.KindDestructiveIntent,
		Tool:     call.Name,
		IntentID: activeID,
		Summary:  "the user's request was classified destructive: " + cls.Reason,
		Targets:  call.TargetPaths(),
	}, Decision{
		IntentID:             activeID,
		Tool:                 call.Name,
		Reason:               veto.KindDestructiveIntent,
		Targets:              call.TargetPaths(),
		IntentClassification: cls.Verdict,
	})
	if approved {
		return nil
	}
	res := g.veto(s, &veto.Error{
		ErrorType: veto.KindDestructiveIntent,
		Code:      veto.CodeDestructiveIntent,
		IntentID:  activeID,
		Tool:      call.Name,
		Message:   "destructive user intent was not approved",
	})
	return &res
}

// commandCheck classifies the command and enforces approval for the
// destructive ones, reusing persisted decisions for identical commands.
func (g *Gate) commandCheck(ctx context.Context, s *session.State, call toolcall.Call, activeID string) *hookengine.PreResult {
	command := strings.TrimSpace(call.Command())
	if command == "" {
		return nil
	}

	inner := classify.Unwrap(command)
	verdict := g.commands.Classify(inner, g.ws.Root)
	g.emit("command_classified", call.Name, activeID, fmt.Sprintf("%s: %s", verdict, inner))

	if verdict == classify.CommandSafe {
		s.ApproveCommand(activeID, command)
		return nil
	}

	if s.CommandApproved(activeID, command) || g.decisions.CommandApproved(activeID, call.Name, command) {
		s.ApproveCommand(activeID, command)
		return nil
	}

	key := fmt.Sprintf("command|%s|%s", activeID, command)
	approved := g.ask(ctx, s, key, hitl.Request{
		Reason:   veto.KindCommandNotAuthorized,
		Tool:     call.Name,
		IntentID: activeID,
		Summary:  "destructive command requires approval",
		Command:  command,
	}, Decision{
		IntentID:              activeID,
		Tool:                  call.Name,
		Reason:                veto.KindCommandNotAuthorized,
		Command:               command,
		CommandClassification: string(verdict),
	})
	if approved {
		s.ApproveCommand(activeID, command)
		return nil
	}
	res := g.veto(s, &veto.Error{
		ErrorType: veto.KindCommandNotAuthorized,
		Code:      veto.CodeCommand,
		IntentID:  activeID,
		Tool:      call.Name,
		Command:   command,
		Message:   "command classified destructive and not authorized",
	})
	return &res
}

// staleCheck requires an override before touching a stale-blocked path.
func (g *Gate) staleCheck(ctx context.Context, s *session.State, call toolcall.Call, activeID, path string) *hookengine.PreResult {
	candidates := g.ws.Candidates(path)
	block, blocked := s.StaleBlocked(candidates...)
	if !blocked {
		return nil
	}

	key := fmt.Sprintf("stale|%s|%s", activeID, g.ws.Normalize(path))
	approved := g.ask(ctx, s, key, hitl.Request{
		Reason:   veto.KindStaleLock,
		Tool:     call.Name,
		IntentID: activeID,
		Summary:  fmt.Sprintf("%s was stale-blocked by %s; override and mutate anyway?", path, block.Tool),
		Targets:  []string{path},
	}, Decision{
		IntentID: activeID,
		Tool:     call.Name,
		Reason:   veto.KindStaleLock,
		Targets:  []string{path},
	})
	if approved {
		s.ClearStale(candidates...)
		return nil
	}
	res := g.veto(s, &veto.Error{
		ErrorType: veto.KindStaleLock,
		Code:      veto.CodeStaleLock,
		IntentID:  activeID,
		Tool:      call.Name,
		Path:      g.ws.Normalize(path),
		Message:   "path is stale-blocked: re-read it or approve the override",
	})
	return &res
}

// metadataCheck injects missing provenance metadata and validates what
// the model supplied.
func (g *Gate) metadataCheck(s *session.State, call toolcall.Call, activeID string) (toolcall.Call, *hookengine.PreResult) {
	provided := call.IntentID()
	class := call.Class()

	if provided != "" && provided != activeID {
		res := g.veto(s, &veto.Error{
			ErrorType:        veto.KindIntentMismatch,
			Code:             veto.CodeIntentMismatch,
			IntentID:         activeID,
			ProvidedIntentID: provided,
			Tool:             call.Name,
			Message:          "intent_id does not match the active intent",
		})
		return call, &res
	}
	if class != "" && !toolcall.ValidClass(class) {
		res := g.veto(s, &veto.Error{
			ErrorType:     veto.KindInvalidMetadata,
			Code:          veto.CodeInvalidMetadata,
			IntentID:      activeID,
			Tool:          call.Name,
			MutationClass: string(class),
			Message:       "mutation_class must be AST_REFACTOR or INTENT_EVOLUTION",
		})
		return call, &res
	}
	if class == "" {
		class = toolcall.ClassIntentEvolution
	}
	return call.WithMetadata(activeID, class), nil
}

// destructivePreflight prompts when the payload deletes or moves files,
// or when the user's request was classified destructive — even for
// targets fully in scope.
func (g *Gate) destructivePreflight(ctx context.Context, s *session.State, call toolcall.Call, activeID string, targets []string) *hookengine.PreResult {
	destructivePayload := false
	if a, ok := call.Args.(toolcall.PatchArgs); ok {
		destructivePayload = toolcall.HasDestructiveMarkers(a.Patch)
	}
	if a, ok := call.Args.(toolcall.UnknownArgs); ok {
		for _, k := range []string{"patch", "diff"} {
			if v, vok := a.Values[k].(string); vok && toolcall.HasDestructiveMarkers(v) {
				destructivePayload = true
			}
		}
	}

	destructiveIntent := false
	if msg := s.LastUserMessage(); msg != "" {
		if cls, ok := s.Classification(classify.MessageHash(msg)); ok {
			destructiveIntent = cls.Verdict == classify.IntentDestructive
		}
	}

	if !destructivePayload && !destructiveIntent {
		return nil
	}

	key := fmt.Sprintf("destructive-op|%s|%s|%s", activeID, call.Name, strings.Join(targets, ","))
	if s.DestructiveApproved(key) {
		return nil
	}

	summary := "the payload deletes or moves files"
	if !destructivePayload {
		summary = "the user's request was classified destructive"
	}
	approved := g.ask(ctx, s, key, hitl.Request{
		Reason:   veto.KindDestructiveOperation,
		Tool:     call.Name,
		IntentID: activeID,
		Summary:  fmt.Sprintf("destructive operation on %s: %s", strings.Join(targets, ", "), summary),
		Targets:  targets,
	}, Decision{
		IntentID: activeID,
		Tool:     call.Name,
		Reason:   veto.KindDestructiveOperation,
		Targets:  targets,
	})
	if approved {
		s.ApproveDestructive(key)
		return nil
	}
	res := g.veto(s, &veto.Error{
		ErrorType: veto.KindDestructiveOperation,
		Code:      veto.CodeDestructiveOperation,
		IntentID:  activeID,
		Tool:      call.Name,
		Targets:   targets,
		Message:   "destructive operation was not approved",
	})
	return &res
}

// unknownTargets prompts when a mutating call's paths cannot be
// extracted.
func (g *Gate) unknownTargets(ctx context.Context, s *session.State, call toolcall.Call, activeID string) *hookengine.PreResult {
	key := fmt.Sprintf("unknown-targets|%s|%s|%s", activeID, call.Name, call.ID)
	approved := g.ask(ctx, s, key, hitl.Request{
		Reason:   veto.KindUnknownTargets,
		Tool:     call.Name,
		IntentID: activeID,
		Summary:  "mutating call with no extractable target paths",
	}, Decision{
		IntentID: activeID,
		Tool:     call.Name,
		Reason:   veto.KindUnknownTargets,
	})
	if approved {
		return nil
	}
	res := g.veto(s, &veto.Error{
		ErrorType: veto.KindUnknownTargets,
		Code:      veto.CodeUnknownTargets,
		IntentID:  activeID,
		Tool:      call.Name,
		Message:   "cannot determine which paths this call mutates",
	})
	return &res
}

// ownedScope loads the active intent's scope entries.
func (g *Gate) ownedScope(intentID string) ([]string, error) {
	it, err := g.intents.Find(intentID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, fmt.Errorf("active intent %q is no longer registered", intentID)
	}
	return it.OwnedScope, nil
}

// ask resolves one HITL prompt: session cache first, then the prompter.
// The outcome is cached and persisted as a Decision either way.
func (g *Gate) ask(ctx context.Context, s *session.State, key string, req hitl.Request, d Decision) bool {
	if approved, ok := s.CachedDecision(key); ok {
		return approved
	}

	approved, err := g.prompter.Confirm(ctx, req)
	if err != nil {
		approved = false
	}
	s.CacheDecision(key, approved)

	d.Decision = DecisionRejected
	if approved {
		d.Decision = DecisionApproved
	}
	if recErr := g.decisions.Record(d); recErr != nil {
		g.emit("decision_record_failed", d.Tool, d.IntentID, recErr.Error())
	}
	g.emit("hitl_"+d.Decision, d.Tool, d.IntentID, d.Reason)
	return approved
}

func (g *Gate) veto(s *session.State, e *veto.Error) hookengine.PreResult {
	g.emit("veto", e.Tool, e.IntentID, e.ErrorType)
	return hookengine.Veto(e.JSON())
}

func (g *Gate) emit(event, tool, intentID, detail string) {
	if g.diag != nil {
		g.diag.Emit(event, tool, intentID, detail)
	}
}
