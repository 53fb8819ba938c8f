package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucyd-ai/lucyd/internal/paths"
)

// checkpointPath returns the JSON state file for a session.
func checkpointPath(sessionsDir, sessionID string) string {
	return filepath.Join(sessionsDir, sessionID+".json")
}

// indexPath returns the per-contact index file mapping contact -> session id.
func indexPath(sessionsDir, contact string) string {
	return filepath.Join(sessionsDir, contact+".json")
}

type contactIndex struct {
	SessionID string `json:"sessionId"`
}

// writeCheckpoint rewrites the session state atomically (temp + rename) so a
// crash never leaves a partial checkpoint.
func writeCheckpoint(sessionsDir string, sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := paths.WriteFileAtomic(checkpointPath(sessionsDir, sess.ID), data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// readCheckpoint loads a session's state, or nil when none exists.
func readCheckpoint(sessionsDir, sessionID string) (*Session, error) {
	data, err := os.ReadFile(checkpointPath(sessionsDir, sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &sess, nil
}

// writeIndex records a contact's current session id.
func writeIndex(sessionsDir, contact, sessionID string) error {
	data, err := json.Marshal(contactIndex{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := paths.WriteFileAtomic(indexPath(sessionsDir, contact), data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// readIndex returns the contact's session id, or "" when no index exists.
func readIndex(sessionsDir, contact string) (string, error) {
	data, err := os.ReadFile(indexPath(sessionsDir, contact))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read index: %w", err)
	}
	var idx contactIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return "", fmt.Errorf("parse index: %w", err)
	}
	return idx.SessionID, nil
}
