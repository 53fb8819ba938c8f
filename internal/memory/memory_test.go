package memory

import (
	"errors"
	"path/filepath"
	"testing"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func countCurrentFacts(t *testing.T, s *Store, entity, attribute string) int {
	t.Helper()
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM facts
		WHERE entity = ? AND attribute = ? AND invalidated_at IS NULL
	`, entity, attribute).Scan(&n)
	if err != nil {
		t.Fatalf("count facts: %v", err)
	}
	return n
}

func TestUpsertFactInvalidation(t *testing.T) {
	store := setupTestStore(t)

	if err := store.UpsertFact("Nicolas Berg", "employer", "Initech", 0.9, "s1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// identical value is a no-op
	if err := store.UpsertFact("nicolas_berg", "employer", "Initech", 0.9, "s2"); err != nil {
		t.Fatalf("identical upsert: %v", err)
	}
	if n := countCurrentFacts(t, store, "nicolas_berg", "employer"); n != 1 {
		t.Fatalf("after identical upsert: %d current rows, want 1", n)
	}

	// changed value invalidates and inserts
	if err := store.UpsertFact("nicolas_berg", "employer", "Globex", 0.95, "s3"); err != nil {
		t.Fatalf("changed upsert: %v", err)
	}
	if n := countCurrentFacts(t, store, "nicolas_berg", "employer"); n != 1 {
		t.Fatalf("after change: %d current rows, want 1", n)
	}

	facts, err := store.LookupFacts([]string{"nicolas berg"}, 10)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(facts) != 1 || facts[0].Value != "Globex" {
		t.Fatalf("lookup = %+v, want single Globex fact", facts)
	}

	var total int
	store.db.QueryRow(`SELECT COUNT(*) FROM facts WHERE entity = 'nicolas_berg'`).Scan(&total)
	if total != 2 {
		t.Errorf("total rows = %d, want 2 (history preserved)", total)
	}
}

func TestInvalidateFact(t *testing.T) {
	store := setupTestStore(t)
	store.UpsertFact("alice", "city", "Oslo", 0.9, "s1")
	if err := store.InvalidateFact("alice", "city"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	facts, _ := store.LookupFacts([]string{"alice"}, 10)
	if len(facts) != 0 {
		t.Fatalf("invalidated fact still returned: %+v", facts)
	}
}

func TestAliasResolutionIdempotent(t *testing.T) {
	store := setupTestStore(t)

	if err := store.AddAlias("nico", "Nicolas Berg"); err != nil {
		t.Fatalf("add alias: %v", err)
	}

	once := store.ResolveAlias("Nico")
	twice := store.ResolveAlias(once)
	if once != "nicolas_berg" {
		t.Errorf("resolve(nico) = %q, want nicolas_berg", once)
	}
	if once != twice {
		t.Errorf("resolution not idempotent: %q then %q", once, twice)
	}

	// unknown names resolve to their normalized selves
	if got := store.ResolveAlias("Stranger Dude"); got != "stranger_dude" {
		t.Errorf("resolve(unknown) = %q", got)
	}

	// chained alias resolves through to the root canonical
	if err := store.AddAlias("nb", "nico"); err != nil {
		t.Fatalf("add chained alias: %v", err)
	}
	if got := store.ResolveAlias("nb"); got != "nicolas_berg" {
		t.Errorf("resolve(nb) = %q, want nicolas_berg", got)
	}
}

func TestCommitmentOrderingAndStatus(t *testing.T) {
	store := setupTestStore(t)

	epID, err := store.InsertEpisode(&Episode{SessionID: "s1", Summary: "planning", Topics: []string{"plans"}})
	if err != nil {
		t.Fatalf("insert episode: %v", err)
	}

	noDeadline, _ := store.InsertCommitment(epID, "user", "tidy the garage", "")
	late, _ := store.InsertCommitment(epID, "user", "file taxes", "2026-11-01")
	soon, _ := store.InsertCommitment(epID, "agent", "send reminder", "2026-09-01")

	open, err := store.ListOpenCommitments()
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("open commitments = %d, want 3", len(open))
	}
	if open[0].ID != soon || open[1].ID != late || open[2].ID != noDeadline {
		t.Errorf("ordering wrong: got %d,%d,%d want %d,%d,%d",
			open[0].ID, open[1].ID, open[2].ID, soon, late, noDeadline)
	}

	if err := store.UpdateCommitmentStatus(soon, StatusDone); err != nil {
		t.Fatalf("update status: %v", err)
	}
	// second transition must fail: only open rows move
	if err := store.UpdateCommitmentStatus(soon, StatusCancelled); err == nil {
		t.Error("expected error transitioning a done commitment")
	}
	if err := store.UpdateCommitmentStatus(late, "bogus"); err == nil {
		t.Error("expected error for invalid status")
	}

	open, _ = store.ListOpenCommitments()
	if len(open) != 2 {
		t.Errorf("open commitments after done = %d, want 2", len(open))
	}
}

func TestSearchEpisodes(t *testing.T) {
	store := setupTestStore(t)

	store.InsertEpisode(&Episode{SessionID: "s1", Date: "2026-08-20",
		Topics: []string{"holiday", "norway"}, Summary: "Planned the Bergen trip"})
	store.InsertEpisode(&Episode{SessionID: "s1", Date: "2026-08-25",
		Topics: []string{"work"}, Summary: "Discussed the quarterly report"})

	hits, err := store.SearchEpisodes([]string{"bergen"}, 0, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Date != "2026-08-20" {
		t.Fatalf("bergen search = %+v", hits)
	}

	// OR semantics across keywords, date descending
	hits, _ = store.SearchEpisodes([]string{"bergen", "report"}, 0, 10)
	if len(hits) != 2 || hits[0].Date != "2026-08-25" {
		t.Fatalf("OR search = %+v", hits)
	}

	// recency window excludes old episodes
	hits, _ = store.SearchEpisodes([]string{"bergen"}, 2, 10)
	if len(hits) != 0 {
		t.Fatalf("windowed search should be empty, got %+v", hits)
	}
}

func TestConsolidationState(t *testing.T) {
	store := setupTestStore(t)

	st, err := store.GetConsolidationState("missing")
	if err != nil || st != nil {
		t.Fatalf("missing state = %+v, %v; want nil, nil", st, err)
	}

	if err := store.SetConsolidationState("s1", 2, 40); err != nil {
		t.Fatalf("set: %v", err)
	}
	st, err = store.GetConsolidationState("s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.CompactionCount != 2 || st.MessageCount != 40 {
		t.Errorf("state = %+v", st)
	}

	store.SetConsolidationState("s1", 3, 5)
	st, _ = store.GetConsolidationState("s1")
	if st.CompactionCount != 3 || st.MessageCount != 5 {
		t.Errorf("updated state = %+v", st)
	}
}

func TestFileHashes(t *testing.T) {
	store := setupTestStore(t)

	hash, err := store.GetFileHash("workspace/notes.md")
	if err != nil || hash != "" {
		t.Fatalf("missing hash = %q, %v", hash, err)
	}
	store.SetFileHash("workspace/notes.md", "abc123")
	hash, _ = store.GetFileHash("workspace/notes.md")
	if hash != "abc123" {
		t.Errorf("hash = %q", hash)
	}
}

func TestWithTxRollback(t *testing.T) {
	store := setupTestStore(t)

	sentinel := errors.New("boom")
	err := store.WithTx(func(tx *Tx) error {
		if err := tx.UpsertFact("bob", "city", "Bergen", 0.9, "s1"); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx error = %v, want sentinel", err)
	}

	facts, _ := store.LookupFacts([]string{"bob"}, 10)
	if len(facts) != 0 {
		t.Fatalf("rolled-back fact visible: %+v", facts)
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"Nicolas Berg": "nicolas_berg",
		"  Spaced  ":   "spaced",
		"O'Brien":      "obrien",
		"co-worker":    "coworker",
		"already_ok":   "already_ok",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
