// Package ledger maintains an optional SQLite index over the JSONL
// sidecars: trace entries and HITL decisions.
//
// The JSONL files remain the source of truth. The index only accelerates
// the context injector's history query, the persisted-approval lookup,
// and the trace CLI. When SQLite fails to open, the middleware runs
// without it and consumers fall back to scanning JSONL.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/HendryAvila/intentgate/internal/gate"
	"github.com/HendryAvila/intentgate/internal/intent"
	"github.com/HendryAvila/intentgate/internal/trace"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Index is the SQLite-backed ledger index.
type Index struct {
	db *sql.DB
}

// Open creates or opens the index under the orchestration directory and
// runs migrations.
func Open(ws *workspace.Workspace) (*Index, error) {
	if err := os.MkdirAll(ws.OrchDir(), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create orchestration dir: %w", err)
	}

	db, err := openDB("sqlite", filepath.Join(ws.OrchDir(), workspace.LedgerDBFile))
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger: pragma %q: %w", p, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS trace_entries (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			intent_id TEXT,
			tool TEXT NOT NULL,
			tool_use_id TEXT,
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trace_intent_ts ON trace_entries(intent_id, ts)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			intent_id TEXT,
			tool TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT,
			command TEXT,
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_command ON decisions(intent_id, tool, command)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ledger: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// IndexEntry mirrors one trace entry. Implements trace.Mirror.
func (ix *Index) IndexEntry(e trace.Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = ix.db.Exec(
		`INSERT OR REPLACE INTO trace_entries (id, ts, intent_id, tool, tool_use_id, body)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.IntentID, e.Tool, e.ToolUseID, string(body),
	)
	return err
}

// IndexDecision mirrors one decision. Implements gate.DecisionMirror.
func (ix *Index) IndexDecision(d gate.Decision) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = ix.db.Exec(
		`INSERT INTO decisions (ts, intent_id, tool, decision, reason, command, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp, d.IntentID, d.Tool, d.Decision, d.Reason, d.Command, string(body),
	)
	return err
}

// CommandApproved answers the persisted-approval lookup from the index.
// The newest decision for the (intentID, command) pair wins; the tool is
// not compared. ok=false when the index holds no record, sending the
// caller to the JSONL scan.
func (ix *Index) CommandApproved(intentID, command string) (approved, ok bool) {
	row := ix.db.QueryRow(
		`SELECT decision FROM decisions
		 WHERE intent_id = ? AND command = ?
		 ORDER BY seq DESC LIMIT 1`,
		intentID, command,
	)
	var decision string
	if err := row.Scan(&decision); err != nil {
		return false, false
	}
	return decision == gate.DecisionApproved, true
}

// RecentByIntent returns the last limit entries linked to the intent,
// oldest first. Implements intent.HistorySource.
func (ix *Index) RecentByIntent(intentID string, limit int) ([]intent.HistoryEntry, error) {
	rows, err := ix.db.Query(
		`SELECT body FROM (
			SELECT body, ts FROM trace_entries WHERE intent_id = ?
			ORDER BY ts DESC LIMIT ?
		 ) ORDER BY ts ASC`,
		intentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []intent.HistoryEntry
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var e trace.Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			continue
		}
		he := intent.HistoryEntry{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Tool:      e.Tool,
			IntentID:  e.IntentID,
		}
		for _, f := range e.Files {
			he.Files = append(he.Files, f.RelativePath)
		}
		out = append(out, he)
	}
	return out, rows.Err()
}

// Entries returns indexed trace entries, newest first, optionally
// filtered by intent. Serves the trace CLI.
func (ix *Index) Entries(intentID string, limit int) ([]trace.Entry, error) {
	query := `SELECT body FROM trace_entries ORDER BY ts DESC LIMIT ?`
	args := []any{limit}
	if intentID != "" {
		query = `SELECT body FROM trace_entries WHERE intent_id = ? ORDER BY ts DESC LIMIT ?`
		args = []any{intentID, limit}
	}

	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trace.Entry
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var e trace.Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
