package memory

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// ChunkID derives the deterministic chunk key from path and text, so an
// indexer pass over unchanged content is a no-op.
func ChunkID(path, text string) string {
	h := sha256.Sum256([]byte(path + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// EmbeddingKey derives the embedding-cache key from text and model.
func EmbeddingKey(text, model string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// UpsertChunk stores an indexed text chunk. Embedding may be nil when the
// indexer runs without an embedding provider.
func (s *Store) UpsertChunk(path, text string, embedding []float32, model string) error {
	id := ChunkID(path, text)
	var blob []byte
	if len(embedding) > 0 {
		blob, _ = json.Marshal(embedding)
	}
	_, err := s.db.Exec(`
		INSERT INTO chunks (id, path, text, embedding, embedding_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			embedding = excluded.embedding,
			embedding_model = excluded.embedding_model
	`, id, path, text, blob, model, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}
	return nil
}

// DeleteChunksForPath drops all chunks of one source file, ahead of a
// re-index of that file.
func (s *Store) DeleteChunksForPath(path string) error {
	result, err := s.db.Exec(`DELETE FROM chunks WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		L_debug("memory: chunks dropped", "path", path, "count", n)
	}
	return nil
}

// CachedEmbedding returns a previously computed embedding, or nil on miss.
func (s *Store) CachedEmbedding(text, model string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(`
		SELECT embedding FROM embedding_cache WHERE hash = ?
	`, EmbeddingKey(text, model)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("embedding cache get: %w", err)
	}
	var embedding []float32
	if err := json.Unmarshal(blob, &embedding); err != nil {
		return nil, nil
	}
	return embedding, nil
}

// CacheEmbedding stores a computed embedding.
func (s *Store) CacheEmbedding(text, model string, embedding []float32) error {
	blob, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("embedding cache marshal: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO embedding_cache (hash, model, embedding, created_at)
		VALUES (?, ?, ?, ?)
	`, EmbeddingKey(text, model), model, blob, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("embedding cache put: %w", err)
	}
	return nil
}
