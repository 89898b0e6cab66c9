// Package workspace resolves the orchestration directory and provides the
// single path normalizer used by scope matching, snapshot lookup, and
// stale-block bookkeeping.
//
// Every component that compares paths goes through Normalize so that the
// same file can never appear under two spellings in two different stores.
package workspace

import (
	"path/filepath"
	"strings"
)

const (
	// OrchDirName is the orchestration directory under the working directory.
	OrchDirName = ".orchestration"

	// IntentsFile holds the registered intents.
	IntentsFile = "active_intents.yaml"
	// IgnoreFile lists intent ids exempt from governance checks.
	IgnoreFile = ".intentignore"
	// TraceFile is the append-only audit ledger.
	TraceFile = "agent_trace.jsonl"
	// DecisionsFile is the append-only HITL decision log.
	DecisionsFile = "intent-decisions.jsonl"
	// DiagnosticsFile is the append-only structured debug event log.
	DiagnosticsFile = "agent-diagnostics.jsonl"
	// KnowledgeFile is the human-readable shared knowledge document.
	KnowledgeFile = "AGENT.md"
	// LedgerDBFile is the optional sqlite index over trace and decisions.
	LedgerDBFile = "ledger.db"
)

// Workspace anchors all orchestration paths to a session working directory.
type Workspace struct {
	Root string
}

// New creates a Workspace rooted at the given working directory.
func New(root string) *Workspace {
	return &Workspace{Root: filepath.Clean(root)}
}

// OrchDir returns the absolute orchestration directory path.
func (w *Workspace) OrchDir() string {
	return filepath.Join(w.Root, OrchDirName)
}

// IntentsPath returns the absolute path to active_intents.yaml.
func (w *Workspace) IntentsPath() string {
	return filepath.Join(w.OrchDir(), IntentsFile)
}

// IgnorePath returns the absolute path to .intentignore.
func (w *Workspace) IgnorePath() string {
	return filepath.Join(w.OrchDir(), IgnoreFile)
}

// TracePath returns the absolute path to agent_trace.jsonl.
func (w *Workspace) TracePath() string {
	return filepath.Join(w.OrchDir(), TraceFile)
}

// DecisionsPath returns the absolute path to intent-decisions.jsonl.
func (w *Workspace) DecisionsPath() string {
	return filepath.Join(w.OrchDir(), DecisionsFile)
}

// DiagnosticsPath returns the absolute path to agent-diagnostics.jsonl.
func (w *Workspace) DiagnosticsPath() string {
	return filepath.Join(w.OrchDir(), DiagnosticsFile)
}

// KnowledgePath returns the absolute path to AGENT.md.
func (w *Workspace) KnowledgePath() string {
	return filepath.Join(w.OrchDir(), KnowledgeFile)
}

// LedgerDBPath returns the absolute path to the sqlite ledger index.
func (w *Workspace) LedgerDBPath() string {
	return filepath.Join(w.OrchDir(), LedgerDBFile)
}

// Abs resolves a possibly-relative tool path against the working directory.
func (w *Workspace) Abs(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(w.Root, filepath.FromSlash(p))
}

// Normalize converts a path to the canonical form used as a map key and
// scope-match subject: POSIX separators, relative to the working directory
// when inside it, with any leading "./" stripped.
func (w *Workspace) Normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")

	abs := p
	if !filepath.IsAbs(filepath.FromSlash(p)) {
		abs = filepath.Join(w.Root, filepath.FromSlash(p))
	} else {
		abs = filepath.Clean(filepath.FromSlash(p))
	}

	rel, err := filepath.Rel(w.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		// Outside the workspace: keep the absolute form, POSIX-style.
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// Candidates returns the lookup spellings a tolerant consumer should try
// for a path: the normalized form, the raw input, the raw input with
// backslashes flipped, and the raw input without a leading "./".
func (w *Workspace) Candidates(p string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(w.Normalize(p))
	add(p)
	add(strings.ReplaceAll(p, "\\", "/"))
	add(strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./"))
	return out
}
