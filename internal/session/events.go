package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lucyd-ai/lucyd/internal/types"
)

// eventRecord is one line of the session JSONL event log. The log is an
// append-only audit trail; the checkpoint is the replayed state.
type eventRecord struct {
	Type      string             `json:"type"`
	Role      string             `json:"role,omitempty"`
	Content   *types.Content     `json:"content,omitempty"`
	Results   []types.ToolResult `json:"results,omitempty"`
	From      string             `json:"from,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// eventLogPath returns the dated JSONL file for a session.
func eventLogPath(sessionsDir, sessionID string, now time.Time) string {
	return filepath.Join(sessionsDir, fmt.Sprintf("%s.%s.jsonl", sessionID, now.Format("2006-01-02")))
}

// appendEvent writes one message event to the session's event log for the
// current date. Event append happens before the checkpoint rewrite so a
// crash between the two loses no evidence.
func appendEvent(sessionsDir, sessionID string, msg types.Message) error {
	rec := eventRecord{
		Type:      "message",
		Role:      msg.Role,
		From:      msg.From,
		Timestamp: msg.Timestamp,
	}
	switch msg.Role {
	case types.RoleToolResults:
		rec.Results = msg.ToolResults
	default:
		content := msg.Content
		rec.Content = &content
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	path := eventLogPath(sessionsDir, sessionID, time.Now())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
