package memory

import (
	"regexp"
	"strings"
	"time"
)

// Commitment statuses.
const (
	StatusOpen      = "open"
	StatusDone      = "done"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Fact is one entity-attribute-value row.
type Fact struct {
	ID            int64
	Entity        string
	Attribute     string
	Value         string
	Confidence    float64
	SourceSession string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	AccessedAt    time.Time
	InvalidatedAt *time.Time
}

// Episode is one narrative consolidation artifact.
type Episode struct {
	ID            int64
	SessionID     string
	Date          string // YYYY-MM-DD
	Topics        []string
	Decisions     []string
	Summary       string
	EmotionalTone string
	CreatedAt     time.Time
}

// Commitment is an obligation extracted from an episode.
type Commitment struct {
	ID         int64
	EpisodeID  int64
	Subject    string
	Obligation string
	Deadline   string // free-form date text, "" when none
	Status     string
	CreatedAt  time.Time
}

// ConsolidationState marks the last processed range for a session.
type ConsolidationState struct {
	SessionID       string
	CompactionCount int
	MessageCount    int
	UpdatedAt       time.Time
}

var nonKeyChars = regexp.MustCompile(`[^a-z0-9_]+`)

// NormalizeKey lowercases and underscores an entity or attribute name so
// "Nicolas Berg" and "nicolas_berg" address the same rows.
func NormalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = nonKeyChars.ReplaceAllString(s, "")
	s = strings.Trim(s, "_")
	return s
}
