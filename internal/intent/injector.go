package intent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/veto"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// HistoryEntry is the slice of a trace entry the context block embeds.
type HistoryEntry struct {
	ID        string
	Timestamp string
	Tool      string
	IntentID  string
	Files     []string
}

// HistorySource yields recent trace entries linked to an intent, newest
// last. Implemented by the ledger index, with a JSONL-scanning fallback.
type HistorySource interface {
	RecentByIntent(intentID string, limit int) ([]HistoryEntry, error)
}

// historyDepth is how many trace entries the context block embeds.
const historyDepth = 5

// Injector runs the selection handshake and renders the context block.
type Injector struct {
	store   *FileStore
	history HistorySource
	ws      *workspace.Workspace
}

// NewInjector creates an Injector. history may be nil, in which case the
// brief-history section is empty.
func NewInjector(store *FileStore, history HistorySource, ws *workspace.Workspace) *Injector {
	return &Injector{store: store, history: history, ws: ws}
}

// Select resolves the requested intent, validates its status, and binds it
// to the session. When id is empty and exactly one intent is IN_PROGRESS,
// that one is auto-selected. The returned string is the rendered context
// block; a *veto.Error is returned for every failure mode.
func (inj *Injector) Select(s *session.State, id string) (string, error) {
	intents, err := inj.store.Load()
	if err != nil {
		kind := veto.KindAccessDenied
		if strings.Contains(err.Error(), "parsing") {
			kind = veto.KindParseError
		}
		return "", &veto.Error{
			ErrorType: kind,
			Code:      veto.CodeMissingIntent,
			Message:   err.Error(),
		}
	}

	var selected *Intent
	if id == "" {
		// Soft fallback: a single IN_PROGRESS intent selects itself.
		var inProgress []*Intent
		for i := range intents {
			if intents[i].Selectable() {
				inProgress = append(inProgress, &intents[i])
			}
		}
		if len(inProgress) != 1 {
			return "", &veto.Error{
				ErrorType: veto.KindMissingIntent,
				Code:      veto.CodeMissingIntent,
				Message:   fmt.Sprintf("intent_id is required: %d intents are IN_PROGRESS", len(inProgress)),
			}
		}
		selected = inProgress[0]
	} else {
		for i := range intents {
			if intents[i].ID == id {
				selected = &intents[i]
				break
			}
		}
		if selected == nil {
			return "", &veto.Error{
				ErrorType: veto.KindMissingIntent,
				Code:      veto.CodeMissingIntent,
				IntentID:  id,
				Message:   fmt.Sprintf("no intent with id %q is registered", id),
			}
		}
		if !selected.Selectable() {
			return "", &veto.Error{
				ErrorType: veto.KindMissingIntent,
				Code:      veto.CodeMissingIntent,
				IntentID:  id,
				Message:   fmt.Sprintf("intent %q has status %s: only IN_PROGRESS intents may be selected", id, selected.Status),
			}
		}
	}

	block := inj.render(*selected)
	s.SetIntent(&session.ActiveIntent{
		ID:           selected.ID,
		SelectedAt:   time.Now().UTC(),
		ContextBlock: block,
	})
	return block, nil
}

// render assembles the intent_context block: specification, the last five
// linked trace entries, and the shared knowledge document.
func (inj *Injector) render(it Intent) string {
	var b strings.Builder
	b.WriteString("<intent_context>\n")
	b.WriteString("  <intent_specification>\n")
	fmt.Fprintf(&b, "    <id>%s</id>\n", escape(it.ID))
	fmt.Fprintf(&b, "    <name>%s</name>\n", escape(it.Name))
	fmt.Fprintf(&b, "    <status>%s</status>\n", escape(string(it.Status)))
	b.WriteString("    <owned_scope>\n")
	for _, p := range it.OwnedScope {
		fmt.Fprintf(&b, "      <path>%s</path>\n", escape(p))
	}
	b.WriteString("    </owned_scope>\n")
	b.WriteString("    <constraints>\n")
	for _, c := range it.Constraints {
		fmt.Fprintf(&b, "      <constraint>%s</constraint>\n", escape(c))
	}
	b.WriteString("    </constraints>\n")
	b.WriteString("    <acceptance_criteria>\n")
	for _, a := range it.AcceptanceCriteria {
		fmt.Fprintf(&b, "      <criteria>%s</criteria>\n", escape(a))
	}
	b.WriteString("    </acceptance_criteria>\n")
	b.WriteString("  </intent_specification>\n")

	b.WriteString("  <brief_history>\n")
	if inj.history != nil {
		entries, err := inj.history.RecentByIntent(it.ID, historyDepth)
		if err == nil {
			for _, e := range entries {
				fmt.Fprintf(&b, "    <trace_entry id=%q timestamp=%q tool=%q files=%q/>\n",
					e.ID, e.Timestamp, e.Tool, strings.Join(e.Files, ","))
			}
		}
	}
	b.WriteString("  </brief_history>\n")

	b.WriteString("  <shared_knowledge>\n")
	if data, err := os.ReadFile(inj.ws.KnowledgePath()); err == nil {
		b.WriteString(escape(strings.TrimRight(string(data), "\n")))
		b.WriteString("\n")
	}
	b.WriteString("  </shared_knowledge>\n")
	b.WriteString("</intent_context>")
	return b.String()
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
