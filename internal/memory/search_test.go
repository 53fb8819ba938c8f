package memory

import (
	"context"
	"testing"
)

func TestSanitizeFTSQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello world", `"hello" "world"`},
		{`say "hi" there`, `"say" "hi" "there"`},
		{"o'brien's co-worker", `"o'brien's" "co-worker"`},
		{"   ", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeFTSQuery(tc.in); got != tc.want {
			t.Errorf("SanitizeFTSQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSearchChunksFullText(t *testing.T) {
	store := setupTestStore(t)

	store.UpsertChunk("notes.md", "Nicolas moved to Bergen last spring", nil, "")
	store.UpsertChunk("notes.md", "The quarterly report is due Friday", nil, "")

	results, err := store.SearchChunks(context.Background(), "bergen", 5, nil, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Path != "notes.md" || results[0].Score <= 0 {
		t.Errorf("result = %+v", results[0])
	}

	// empty query returns nothing rather than erroring
	results, err = store.SearchChunks(context.Background(), "  ", 5, nil, 0)
	if err != nil || len(results) != 0 {
		t.Errorf("empty query = %v, %v", results, err)
	}
}

func TestSearchChunksVectorFallback(t *testing.T) {
	store := setupTestStore(t)

	store.UpsertChunk("a.md", "alpha topic", []float32{1, 0, 0}, "test-model")
	store.UpsertChunk("b.md", "beta topic", []float32{0, 1, 0}, "test-model")

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return []float32{0.9, 0.1, 0}, nil
	}

	// query matches nothing in FTS, so the vector fallback ranks by cosine
	results, err := store.SearchChunks(context.Background(), "zzzz", 5, embed, 100)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Path != "a.md" {
		t.Errorf("top result = %s, want a.md (closest embedding)", results[0].Path)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %f <= %f", results[0].Score, results[1].Score)
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID("p.md", "text")
	b := ChunkID("p.md", "text")
	c := ChunkID("p.md", "other")
	if a != b {
		t.Error("same inputs produced different ids")
	}
	if a == c {
		t.Error("different text produced the same id")
	}
}

func TestEmbeddingCache(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.CachedEmbedding("hello", "m1")
	if err != nil || got != nil {
		t.Fatalf("miss = %v, %v", got, err)
	}

	want := []float32{0.1, 0.2, 0.3}
	if err := store.CacheEmbedding("hello", "m1", want); err != nil {
		t.Fatalf("cache: %v", err)
	}
	got, err = store.CachedEmbedding("hello", "m1")
	if err != nil || len(got) != 3 {
		t.Fatalf("hit = %v, %v", got, err)
	}

	// model participates in the key
	got, _ = store.CachedEmbedding("hello", "m2")
	if got != nil {
		t.Error("different model should miss")
	}
}
