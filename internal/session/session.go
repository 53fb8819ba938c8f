// Package session implements per-contact durable sessions: an in-memory
// message log persisted via an append-only JSONL event log plus an atomic
// JSON checkpoint.
package session

import (
	"strings"
	"time"

	"github.com/lucyd-ai/lucyd/internal/types"
)

// Session is the durable conversation state for one contact.
type Session struct {
	ID      string `json:"id"`
	Contact string `json:"contact"`
	Model   string `json:"model"`

	Messages []types.Message `json:"messages"`

	CompactionCount       int    `json:"compactionCount"`
	LastInputTokens       int    `json:"lastInputTokens"`
	PendingWarning        string `json:"pendingWarning,omitempty"`
	WarnedAboutCompaction bool   `json:"warnedAboutCompaction,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MergeConsecutiveUserMessages coalesces adjacent user messages into one,
// text concatenated with newlines. This is the recovery path for orphaned
// user messages left by a crashed or failed turn. Reports whether anything
// was merged.
func (s *Session) MergeConsecutiveUserMessages() bool {
	merged := false
	for i := 1; i < len(s.Messages); {
		prev := &s.Messages[i-1]
		cur := s.Messages[i]
		if prev.Role == types.RoleUser && cur.Role == types.RoleUser {
			texts := []string{}
			if t := prev.Content.Text(); t != "" {
				texts = append(texts, t)
			}
			if t := cur.Content.Text(); t != "" {
				texts = append(texts, t)
			}
			prev.Content = types.PlainText(strings.Join(texts, "\n"))
			if cur.Timestamp.After(prev.Timestamp) {
				prev.Timestamp = cur.Timestamp
			}
			s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)
			merged = true
			continue
		}
		i++
	}
	return merged
}

// RemoveOrphanedUserTail drops a trailing user message, the cleanup after a
// failed turn. Reports whether a message was removed.
func (s *Session) RemoveOrphanedUserTail() bool {
	n := len(s.Messages)
	if n == 0 || s.Messages[n-1].Role != types.RoleUser {
		return false
	}
	s.Messages = s.Messages[:n-1]
	return true
}

// NeedsCompaction reports whether the last observed input token count has
// crossed the threshold.
func (s *Session) NeedsCompaction(threshold int) bool {
	return threshold > 0 && s.LastInputTokens >= threshold
}

// TakeWarning returns the pending system warning and clears it.
func (s *Session) TakeWarning() string {
	w := s.PendingWarning
	s.PendingWarning = ""
	return w
}

// LastAssistantText returns the text of the last assistant message, or "".
func (s *Session) LastAssistantText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == types.RoleAssistant {
			return s.Messages[i].Content.Text()
		}
	}
	return ""
}

// InjectWarning prepends a system warning to user text. Returns the combined
// text and whether an injection happened.
func InjectWarning(text, warning string) (string, bool) {
	if warning == "" {
		return text, false
	}
	return "[system: " + warning + "]\n\n" + text, true
}
