package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// ChunkResult is one ranked hit from the indexed chunk search.
type ChunkResult struct {
	ID        string  `json:"id"`
	Path      string  `json:"path"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	CreatedAt time.Time
}

// EmbedFunc produces a query embedding. nil disables the vector fallback.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// minFTSHits is the full-text hit count below which the vector fallback runs.
const minFTSHits = 3

// SearchChunks runs sanitized full-text search first; when it returns fewer
// than minFTSHits hits and an embed function is configured, a cosine
// similarity pass over embedded chunks fills in, capped at maxVectorRows.
// Merged results are re-ranked by score.
func (s *Store) SearchChunks(ctx context.Context, query string, limit int, embed EmbedFunc, maxVectorRows int) ([]ChunkResult, error) {
	if limit <= 0 {
		limit = 6
	}

	scores := make(map[string]float64)

	ftsQuery := SanitizeFTSQuery(query)
	if ftsQuery != "" {
		rows, err := s.db.Query(`
			SELECT c.id, bm25(chunks_fts) AS rank
			FROM chunks_fts
			JOIN chunks c ON c.rowid = chunks_fts.rowid
			WHERE chunks_fts MATCH ?
			ORDER BY rank
			LIMIT ?
		`, ftsQuery, limit*4)
		if err != nil {
			L_warn("memory: fts search failed", "query", ftsQuery, "error", err)
		} else {
			for rows.Next() {
				var id string
				var rank float64
				if err := rows.Scan(&id, &rank); err != nil {
					continue
				}
				// bm25 is negative, lower is better
				scores[id] = 1.0 / (1.0 + math.Abs(rank))
			}
			rows.Close()
		}
	}

	if len(scores) < minFTSHits && embed != nil {
		vector, err := s.searchVector(ctx, query, limit*4, embed, maxVectorRows)
		if err != nil {
			L_warn("memory: vector fallback failed", "error", err)
		} else {
			for id, score := range vector {
				if existing, ok := scores[id]; !ok || score > existing {
					scores[id] = score
				}
			}
		}
	}

	if len(scores) == 0 {
		return nil, nil
	}

	results := make([]ChunkResult, 0, len(scores))
	for id, score := range scores {
		var r ChunkResult
		var created string
		err := s.db.QueryRow(`
			SELECT id, path, text, created_at FROM chunks WHERE id = ?
		`, id).Scan(&r.ID, &r.Path, &r.Text, &created)
		if err != nil {
			continue
		}
		r.Score = score
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchVector loads embedded chunks (capped) and ranks them by cosine
// similarity against the query embedding.
func (s *Store) searchVector(ctx context.Context, query string, limit int, embed EmbedFunc, maxRows int) (map[string]float64, error) {
	queryEmbedding, err := embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(queryEmbedding) == 0 {
		return nil, nil
	}

	if maxRows <= 0 {
		maxRows = 5000
	}
	rows, err := s.db.Query(`
		SELECT id, embedding FROM chunks
		WHERE embedding IS NOT NULL
		LIMIT ?
	`, maxRows+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	loaded := 0
	for rows.Next() {
		if loaded >= maxRows {
			L_warn("memory: vector search row cap hit, results may be incomplete", "cap", maxRows)
			break
		}
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			continue
		}
		loaded++
		var embedding []float32
		if err := json.Unmarshal(blob, &embedding); err != nil {
			continue
		}
		if sim := cosineSimilarity(queryEmbedding, embedding); sim > 0 {
			candidates = append(candidates, scored{id: id, score: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	results := make(map[string]float64)
	for i, c := range candidates {
		if i >= limit {
			break
		}
		results[c.id] = c.score
	}
	return results, nil
}

// SanitizeFTSQuery strips literal double quotes, then double-quotes every
// whitespace-separated token so hyphens and apostrophes are treated
// literally by FTS5. An empty result means "no search".
func SanitizeFTSQuery(query string) string {
	query = strings.ReplaceAll(query, `"`, "")
	words := strings.Fields(query)
	if len(words) == 0 {
		return ""
	}
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = `"` + w + `"`
	}
	return strings.Join(parts, " ")
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
