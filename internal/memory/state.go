package memory

import (
	"database/sql"
	"fmt"
	"time"
)

// GetConsolidationState returns the last-processed markers for a session,
// or nil when the session has never been consolidated.
func (o ops) GetConsolidationState(sessionID string) (*ConsolidationState, error) {
	var st ConsolidationState
	var updated string
	err := o.q.QueryRow(`
		SELECT session_id, compaction_count, message_count, updated_at
		FROM consolidation_state WHERE session_id = ?
	`, sessionID).Scan(&st.SessionID, &st.CompactionCount, &st.MessageCount, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consolidation state: %w", err)
	}
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &st, nil
}

// SetConsolidationState records the processed range markers for a session.
func (o ops) SetConsolidationState(sessionID string, compactionCount, messageCount int) error {
	_, err := o.q.Exec(`
		INSERT INTO consolidation_state (session_id, compaction_count, message_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			compaction_count = excluded.compaction_count,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at
	`, sessionID, compactionCount, messageCount, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set consolidation state: %w", err)
	}
	return nil
}

// GetFileHash returns the stored content hash for a workspace file, or ""
// when the file has never been consolidated.
func (o ops) GetFileHash(path string) (string, error) {
	var hash string
	err := o.q.QueryRow(`SELECT content_hash FROM file_hashes WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get file hash: %w", err)
	}
	return hash, nil
}

// SetFileHash records the content hash of a consolidated workspace file.
func (o ops) SetFileHash(path, hash string) error {
	_, err := o.q.Exec(`
		INSERT INTO file_hashes (path, content_hash, processed_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			processed_at = excluded.processed_at
	`, path, hash, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set file hash: %w", err)
	}
	return nil
}
