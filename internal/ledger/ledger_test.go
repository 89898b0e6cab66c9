package ledger

import (
	"testing"

	"github.com/HendryAvila/intentgate/internal/gate"
	"github.com/HendryAvila/intentgate/internal/trace"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(workspace.New(t.TempDir()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func entry(id, ts, intentID, path string) trace.Entry {
	return trace.Entry{
		ID:        id,
		Timestamp: ts,
		IntentID:  intentID,
		Tool:      "write_file",
		ToolUseID: "call-" + id,
		Files:     []trace.File{{RelativePath: path}},
	}
}

func TestIndexEntry_RoundTrip(t *testing.T) {
	ix := openTestIndex(t)

	if err := ix.IndexEntry(entry("e1", "2026-01-01T00:00:01Z", "INT-1", "src/a.ts")); err != nil {
		t.Fatalf("IndexEntry: %v", err)
	}

	got, err := ix.Entries("", 10)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" || got[0].Files[0].RelativePath != "src/a.ts" {
		t.Errorf("entries = %+v", got)
	}
}

func TestRecentByIntent_WindowAndOrder(t *testing.T) {
	ix := openTestIndex(t)

	for i := 0; i < 7; i++ {
		ts := "2026-01-01T00:00:0" + string(rune('0'+i)) + "Z"
		id := "e" + string(rune('0'+i))
		if err := ix.IndexEntry(entry(id, ts, "INT-1", "src/f.ts")); err != nil {
			t.Fatal(err)
		}
	}
	if err := ix.IndexEntry(entry("other", "2026-01-01T00:00:09Z", "INT-2", "x")); err != nil {
		t.Fatal(err)
	}

	got, err := ix.RecentByIntent("INT-1", 5)
	if err != nil {
		t.Fatalf("RecentByIntent: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	if got[0].ID != "e2" || got[4].ID != "e6" {
		t.Errorf("window = %v .. %v", got[0].ID, got[4].ID)
	}
}

func TestCommandApproved(t *testing.T) {
	ix := openTestIndex(t)

	if _, ok := ix.CommandApproved("INT-1", "rm tmp"); ok {
		t.Error("empty index claimed to know the answer")
	}

	d := gate.Decision{
		IntentID: "INT-1", Tool: "execute_command", Decision: gate.DecisionApproved,
		Reason: "command_not_authorized", Command: "rm tmp", Timestamp: "2026-01-01T00:00:00Z",
	}
	if err := ix.IndexDecision(d); err != nil {
		t.Fatal(err)
	}

	approved, ok := ix.CommandApproved("INT-1", "rm tmp")
	if !ok || !approved {
		t.Errorf("approved=%v ok=%v", approved, ok)
	}

	// A later rejection supersedes the approval.
	d.Decision = gate.DecisionRejected
	d.Timestamp = "2026-01-01T00:00:01Z"
	if err := ix.IndexDecision(d); err != nil {
		t.Fatal(err)
	}
	approved, ok = ix.CommandApproved("INT-1", "rm tmp")
	if !ok || approved {
		t.Errorf("after rejection: approved=%v ok=%v", approved, ok)
	}
}

func TestEntries_FilterByIntent(t *testing.T) {
	ix := openTestIndex(t)
	ix.IndexEntry(entry("a", "2026-01-01T00:00:01Z", "INT-1", "x"))
	ix.IndexEntry(entry("b", "2026-01-01T00:00:02Z", "INT-2", "y"))

	got, err := ix.Entries("INT-2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("entries = %+v", got)
	}
}
