package history

import (
	"errors"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveTurn_FillsDefaults(t *testing.T) {
	s := newStore(t)

	saved, err := s.SaveTurn(Turn{SessionID: "sess", Question: "q", Answer: "a", Backend: "local"})
	if err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	if saved.ID == "" {
		t.Error("ID not assigned")
	}
	if saved.CreatedAt.IsZero() {
		t.Error("CreatedAt not assigned")
	}

	got, err := s.GetTurn(saved.ID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if got.Question != "q" || got.Answer != "a" || got.Backend != "local" {
		t.Errorf("got %+v, want the saved fields back", got)
	}
	if got.Sources != "[]" {
		t.Errorf("sources = %q, want empty JSON array default", got.Sources)
	}
}

func TestGetTurn_NotFound(t *testing.T) {
	s := newStore(t)
	if _, err := s.GetTurn("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecentTurns_ChronologicalAndLimited(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.SaveTurn(Turn{
			SessionID: "sess",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Question:  string(rune('a' + i)),
			Answer:    "answer",
		})
		if err != nil {
			t.Fatalf("SaveTurn %d: %v", i, err)
		}
	}

	turns, err := s.RecentTurns("sess", 3)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	// The three newest, oldest first.
	if turns[0].Question != "c" || turns[1].Question != "d" || turns[2].Question != "e" {
		t.Errorf("order = %q %q %q, want c d e", turns[0].Question, turns[1].Question, turns[2].Question)
	}
}

func TestRecentTurns_SessionIsolation(t *testing.T) {
	s := newStore(t)
	if _, err := s.SaveTurn(Turn{SessionID: "one", Question: "q1", Answer: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveTurn(Turn{SessionID: "two", Question: "q2", Answer: "a"}); err != nil {
		t.Fatal(err)
	}

	turns, err := s.RecentTurns("one", 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].Question != "q1" {
		t.Errorf("turns = %+v, want only session one's turn", turns)
	}
}

func TestClearSession(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.SaveTurn(Turn{SessionID: "sess", Question: "q", Answer: "a"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.SaveTurn(Turn{SessionID: "other", Question: "q", Answer: "a"}); err != nil {
		t.Fatal(err)
	}

	n, err := s.ClearSession("sess")
	if err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if n != 3 {
		t.Errorf("cleared %d turns, want 3", n)
	}

	left, err := s.RecentTurns("other", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 {
		t.Errorf("other session has %d turns after clear, want 1", len(left))
	}
}

func TestSessions(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.SaveTurn(Turn{SessionID: "old", CreatedAt: base, Question: "q", Answer: "a"})
	s.SaveTurn(Turn{SessionID: "new", CreatedAt: base.Add(time.Hour), Question: "q", Answer: "a"})

	ids, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(ids) != 2 || ids[0] != "new" || ids[1] != "old" {
		t.Errorf("sessions = %v, want [new old]", ids)
	}
}

func TestOpen_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	saved, err := s.SaveTurn(Turn{SessionID: "sess", Question: "q", Answer: "a"})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopen and confirm the data and schema version survived.
	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetTurn(saved.ID); err != nil {
		t.Errorf("turn lost across reopen: %v", err)
	}
}
