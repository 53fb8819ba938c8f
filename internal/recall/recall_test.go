package recall

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucyd-ai/lucyd/internal/llm"
	"github.com/lucyd-ai/lucyd/internal/memory"
	"github.com/lucyd-ai/lucyd/internal/types"
)

func setupEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewEngine(store, DefaultConfig(), nil), store
}

func TestExtractEntities(t *testing.T) {
	e, store := setupEngine(t)
	if err := store.UpsertFact("nicolas_berg", "employer", "Globex", 0.9, "s1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertFact("acme_corp", "industry", "robotics", 0.9, "s1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.AddAlias("nico", "nicolas_berg"); err != nil {
		t.Fatalf("alias: %v", err)
	}

	got := e.ExtractEntities("Tell me about Nico and Acme Corp")
	want := map[string]bool{"nicolas_berg": true, "acme_corp": true}
	if len(got) != 2 {
		t.Fatalf("entities = %v, want 2", got)
	}
	for _, ent := range got {
		if !want[ent] {
			t.Errorf("unexpected entity %q", ent)
		}
	}

	if ents := e.ExtractEntities("nothing known here"); len(ents) != 0 {
		t.Errorf("entities for unknown query = %v", ents)
	}
}

func TestInjectRecallBudget(t *testing.T) {
	// commitments 400 tokens, vector 500, episodes 600, facts 1000;
	// a 1000-token budget keeps the two highest-priority blocks only.
	blocks := []Block{
		NewBlock(15, "facts", strings.Repeat("f", 4000)),
		NewBlock(25, "episodes", strings.Repeat("e", 2400)),
		NewBlock(35, "vector", strings.Repeat("v", 2000)),
		NewBlock(40, "commitments", strings.Repeat("c", 1600)),
	}

	out := InjectRecall(blocks, 1000)
	if !strings.Contains(out, strings.Repeat("c", 1600)) || !strings.Contains(out, strings.Repeat("v", 2000)) {
		t.Error("high-priority blocks missing")
	}
	if strings.Contains(out, "eeee") || strings.Contains(out, "ffff") {
		t.Error("over-budget blocks leaked into the output")
	}
	if !strings.Contains(out, "commitments, vector") {
		t.Errorf("footer inclusion list wrong: %q", lastLine(out))
	}
	if !strings.Contains(out, "dropped episodes, facts") {
		t.Errorf("footer drop list wrong: %q", lastLine(out))
	}
}

func TestInjectRecallSumWithinBudget(t *testing.T) {
	blocks := []Block{
		NewBlock(40, "commitments", strings.Repeat("a", 360)),
		NewBlock(35, "vector", strings.Repeat("b", 280)),
		NewBlock(25, "episodes", strings.Repeat("c", 200)),
	}
	for budget := 50; budget <= 300; budget += 25 {
		out := InjectRecall(blocks, budget)
		used := 0
		for _, b := range blocks {
			if strings.Contains(out, b.Text) {
				used += b.EstTokens
			}
		}
		if used > budget {
			t.Errorf("budget %d exceeded: used %d", budget, used)
		}
	}
}

func TestRecallEndToEnd(t *testing.T) {
	e, store := setupEngine(t)
	if err := store.UpsertFact("oslo_trip", "status", "booked", 0.9, "s1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	epID, err := store.InsertEpisode(&memory.Episode{
		Summary: "planned the Oslo trip itinerary",
		Topics:  []string{"travel", "oslo"},
	})
	if err != nil {
		t.Fatalf("episode: %v", err)
	}
	if _, err := store.InsertCommitment(epID, "assistant", "send packing list", "2026-09-01"); err != nil {
		t.Fatalf("commitment: %v", err)
	}

	out := e.Recall(context.Background(), "what about the oslo trip?")
	if !strings.Contains(out, "oslo_trip.status: booked") {
		t.Errorf("facts missing: %q", out)
	}
	if !strings.Contains(out, "planned the Oslo trip itinerary") {
		t.Errorf("episodes missing: %q", out)
	}
	if !strings.Contains(out, "send packing list (by 2026-09-01)") {
		t.Errorf("commitments missing: %q", out)
	}
	if !strings.Contains(out, "[recall:") {
		t.Error("footer missing")
	}

	if e.Recall(context.Background(), "zzz") != "" {
		t.Error("recall for an unknown query should be empty")
	}
}

func TestSessionStart(t *testing.T) {
	e, store := setupEngine(t)
	out := e.SessionStart(context.Background())
	if out != "" {
		t.Errorf("empty store should produce no warm-up recall, got %q", out)
	}

	store.UpsertFact("user", "name", "Dana", 0.9, "s1")
	epID, _ := store.InsertEpisode(&memory.Episode{Summary: "talked about gardening"})
	store.InsertCommitment(epID, "user", "water the plants", "")

	out = e.SessionStart(context.Background())
	if !strings.Contains(out, "user.name: Dana") || !strings.Contains(out, "gardening") {
		t.Errorf("warm-up recall incomplete: %q", out)
	}
	if !strings.Contains(out, "water the plants") {
		t.Error("open commitments missing from warm-up recall")
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}

// --- synthesis ---

type stubProvider struct {
	reply string
	err   error
}

func (p *stubProvider) Name() string      { return "stub" }
func (p *stubProvider) Model() string     { return "stub-model" }
func (p *stubProvider) IsAvailable() bool { return true }
func (p *stubProvider) Complete(ctx context.Context, system []types.SystemBlock, messages []types.Message, tools []types.ToolDefinition) (*llm.Response, error) {
	return &llm.Response{Text: p.reply, StopReason: "end_turn"}, p.err
}
func (p *stubProvider) SimpleMessage(ctx context.Context, system, prompt string) (string, error) {
	return p.reply, p.err
}

const rawRecall = `## Recalled context
Known facts:
- user.name: Dana

Open commitments:
- assistant: send packing list (by 2026-09-01)
[recall: facts, commitments — ~40 tokens]`

func TestSynthesizePreservesCommitmentsAndFooter(t *testing.T) {
	s := NewSynthesizer(&stubProvider{reply: "Dana is the user we are talking to."}, "narrative")
	out := s.Synthesize(context.Background(), rawRecall)

	if !strings.Contains(out, "Dana is the user we are talking to.") {
		t.Errorf("synthesized prose missing: %q", out)
	}
	if !strings.Contains(out, "- assistant: send packing list (by 2026-09-01)") {
		t.Error("commitment line must survive verbatim")
	}
	if !strings.Contains(out, "[recall: facts, commitments — ~40 tokens]") {
		t.Error("footer must be re-appended")
	}
}

func TestSynthesizeFallsBackOnFailure(t *testing.T) {
	s := NewSynthesizer(&stubProvider{err: errors.New("boom")}, "narrative")
	if out := s.Synthesize(context.Background(), rawRecall); out != rawRecall {
		t.Errorf("failure should return raw recall, got %q", out)
	}
}

func TestSynthesizeSkipsStructuredStyle(t *testing.T) {
	s := NewSynthesizer(&stubProvider{reply: "should not appear"}, "structured")
	if out := s.Synthesize(context.Background(), rawRecall); out != rawRecall {
		t.Error("structured style must pass raw recall through")
	}
	s = NewSynthesizer(nil, "narrative")
	if out := s.Synthesize(context.Background(), rawRecall); out != rawRecall {
		t.Error("missing provider must pass raw recall through")
	}
}
