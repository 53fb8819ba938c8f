package memory

import (
	"database/sql"
	"fmt"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

const schemaVersion = 1

// Migration represents a database migration
type Migration struct {
	Version int
	Up      string
}

var migrations = []Migration{
	{
		Version: 1,
		Up: `
-- Entity-attribute-value facts with soft invalidation.
-- At most one row per (entity, attribute) has invalidated_at IS NULL.
CREATE TABLE IF NOT EXISTS facts (
    id INTEGER PRIMARY KEY,
    entity TEXT NOT NULL,
    attribute TEXT NOT NULL,
    value TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0.8,
    source_session TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    accessed_at TEXT NOT NULL,
    invalidated_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_facts_entity ON facts(entity);
CREATE INDEX IF NOT EXISTS idx_facts_accessed ON facts(accessed_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_current
    ON facts(entity, attribute) WHERE invalidated_at IS NULL;

-- Alias -> canonical entity mapping, both normalized.
CREATE TABLE IF NOT EXISTS aliases (
    alias TEXT PRIMARY KEY,
    canonical TEXT NOT NULL,
    created_at TEXT NOT NULL
);

-- Narrative episodes from consolidation passes.
CREATE TABLE IF NOT EXISTS episodes (
    id INTEGER PRIMARY KEY,
    session_id TEXT NOT NULL,
    date TEXT NOT NULL,
    topics TEXT NOT NULL,      -- JSON array
    decisions TEXT NOT NULL,   -- JSON array
    summary TEXT NOT NULL,
    emotional_tone TEXT NOT NULL DEFAULT 'neutral',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_date ON episodes(date DESC);
CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);

-- Commitments embedded in episodes. Status transitions only
-- open -> done/expired/cancelled.
CREATE TABLE IF NOT EXISTS commitments (
    id INTEGER PRIMARY KEY,
    episode_id INTEGER REFERENCES episodes(id) ON DELETE CASCADE,
    subject TEXT NOT NULL,
    obligation TEXT NOT NULL,
    deadline TEXT,
    status TEXT NOT NULL DEFAULT 'open',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_commitments_status ON commitments(status);

-- Last-processed markers per session for incremental consolidation.
CREATE TABLE IF NOT EXISTS consolidation_state (
    session_id TEXT PRIMARY KEY,
    compaction_count INTEGER NOT NULL,
    message_count INTEGER NOT NULL,
    updated_at TEXT NOT NULL
);

-- Content hashes of consolidated workspace files.
CREATE TABLE IF NOT EXISTS file_hashes (
    path TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    processed_at TEXT NOT NULL
);

-- Indexed text chunks for full-text + vector search.
CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,       -- hash(path + text)
    path TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding BLOB,
    embedding_model TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    text,
    content='chunks',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, text) VALUES (NEW.rowid, NEW.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', OLD.rowid, OLD.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', OLD.rowid, OLD.text);
    INSERT INTO chunks_fts(rowid, text) VALUES (NEW.rowid, NEW.text);
END;

-- Embedding cache keyed by hash(text, model).
CREATE TABLE IF NOT EXISTS embedding_cache (
    hash TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    embedding BLOB NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// InitSchema applies pending migrations.
func InitSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&currentVersion)
	if err != nil {
		// Table doesn't exist yet
		currentVersion = 0
	}

	for _, m := range migrations {
		if m.Version > currentVersion {
			L_info("memory: applying migration", "version", m.Version)
			if _, err := db.Exec(m.Up); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.Version, err)
			}
			currentVersion = m.Version
		}
	}

	L_debug("memory: schema initialized", "version", currentVersion)
	return nil
}
