// Package consolidate distills session transcripts into durable memory:
// facts and aliases into the knowledge table, one episode per pass with its
// commitments. Each pass writes in a single transaction and advances the
// per-session watermark only on success, so a re-run never double-writes.
package consolidate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/llm"
	"github.com/lucyd-ai/lucyd/internal/memory"
	"github.com/lucyd-ai/lucyd/internal/session"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// Config holds consolidation tuning.
type Config struct {
	MaxTranscriptChars int     `toml:"max_transcript_chars"`
	MinConfidence      float64 `toml:"min_confidence"`
	ToolTruncateChars  int     `toml:"tool_truncate_chars"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MaxTranscriptChars: 24000,
		MinConfidence:      0.6,
		ToolTruncateChars:  300,
	}
}

// Engine runs consolidation passes against the memory store. Fact
// extraction goes to the small subagent model; episode summaries go to the
// primary model so they read in the agent's own voice.
type Engine struct {
	store    *memory.Store
	facts    llm.Provider
	episodes llm.Provider
	persona  func() string // voice text for episode prompts, may be nil
	config   Config
}

// NewEngine creates a consolidation engine. A nil episodes provider falls
// back to the facts provider; persona, when non-nil, supplies the voice
// text flattened into the episode prompt.
func NewEngine(store *memory.Store, facts, episodes llm.Provider, persona func() string, cfg Config) *Engine {
	if episodes == nil {
		episodes = facts
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultConfig().MinConfidence
	}
	if cfg.MaxTranscriptChars <= 0 {
		cfg.MaxTranscriptChars = DefaultConfig().MaxTranscriptChars
	}
	if cfg.ToolTruncateChars <= 0 {
		cfg.ToolTruncateChars = DefaultConfig().ToolTruncateChars
	}
	return &Engine{store: store, facts: facts, episodes: episodes, persona: persona, config: cfg}
}

// OnSessionClose lets the engine serve as the session manager's close hook.
func (e *Engine) OnSessionClose(ctx context.Context, sess *session.Session) {
	if err := e.ConsolidateSession(ctx, sess); err != nil {
		L_warn("consolidation on close failed", "session", sess.ID, "error", err)
	}
}

// UnprocessedRange computes the [start, end) message window a pass should
// read, given the stored watermark and the session's current counters. A
// compaction invalidates old indices, so the window restarts after the
// summary message.
func UnprocessedRange(state *memory.ConsolidationState, compactionCount, messageCount int) (int, int) {
	if state == nil {
		return 0, messageCount
	}
	if compactionCount > state.CompactionCount {
		return 1, messageCount
	}
	if messageCount > state.MessageCount {
		return state.MessageCount, messageCount
	}
	return 0, 0
}

// ConsolidateSession runs one pass over a session's unprocessed messages.
// Extraction failures leave the watermark untouched so the next pass
// retries the same window.
func (e *Engine) ConsolidateSession(ctx context.Context, sess *session.Session) error {
	state, err := e.store.GetConsolidationState(sess.ID)
	if err != nil {
		return fmt.Errorf("load consolidation state: %w", err)
	}

	start, end := UnprocessedRange(state, sess.CompactionCount, len(sess.Messages))
	if start >= end {
		L_debug("consolidation: nothing to process", "session", sess.ID)
		return nil
	}
	L_info("consolidating session", "session", sess.ID, "from", start, "to", end)

	transcript := e.serialize(sess.Messages[start:end])
	if strings.TrimSpace(transcript) == "" {
		return e.advance(sess)
	}

	facts, aliases, err := e.extractFacts(ctx, transcript)
	if err != nil {
		return fmt.Errorf("fact extraction: %w", err)
	}
	episode, commitments, err := e.extractEpisode(ctx, transcript)
	if err != nil {
		return fmt.Errorf("episode extraction: %w", err)
	}

	err = e.store.WithTx(func(tx *memory.Tx) error {
		// aliases first, so fact entities resolve through them
		for _, a := range aliases {
			if err := tx.AddAlias(a.Alias, a.Canonical); err != nil {
				return fmt.Errorf("alias %s: %w", a.Alias, err)
			}
		}
		for _, f := range facts {
			entity := tx.ResolveAlias(memory.NormalizeKey(f.Entity))
			if err := tx.UpsertFact(entity, f.Attribute, f.Value, f.Confidence, sess.ID); err != nil {
				return fmt.Errorf("fact %s.%s: %w", entity, f.Attribute, err)
			}
		}
		if episode != nil {
			episode.SessionID = sess.ID
			id, err := tx.InsertEpisode(episode)
			if err != nil {
				return fmt.Errorf("episode: %w", err)
			}
			for _, c := range commitments {
				if _, err := tx.InsertCommitment(id, c.Subject, c.Obligation, c.Deadline); err != nil {
					return fmt.Errorf("commitment: %w", err)
				}
			}
		}
		return tx.SetConsolidationState(sess.ID, sess.CompactionCount, len(sess.Messages))
	})
	if err != nil {
		return err
	}

	L_info("consolidation complete", "session", sess.ID,
		"facts", len(facts), "aliases", len(aliases), "episode", episode != nil)
	return nil
}

// advance moves the watermark without extraction (empty window).
func (e *Engine) advance(sess *session.Session) error {
	return e.store.WithTx(func(tx *memory.Tx) error {
		return tx.SetConsolidationState(sess.ID, sess.CompactionCount, len(sess.Messages))
	})
}

// ConsolidateFile ingests a workspace document once per content hash, under
// the synthetic session id "file:<path>".
func (e *Engine) ConsolidateFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	stored, err := e.store.GetFileHash(path)
	if err != nil {
		return fmt.Errorf("file hash lookup: %w", err)
	}
	if stored == hash {
		L_debug("consolidation: file unchanged", "path", path)
		return nil
	}

	text := string(data)
	if len(text) > e.config.MaxTranscriptChars {
		text = text[:e.config.MaxTranscriptChars]
	}
	sessionID := "file:" + path

	facts, aliases, err := e.extractFacts(ctx, text)
	if err != nil {
		return fmt.Errorf("fact extraction: %w", err)
	}

	err = e.store.WithTx(func(tx *memory.Tx) error {
		for _, a := range aliases {
			if err := tx.AddAlias(a.Alias, a.Canonical); err != nil {
				return err
			}
		}
		for _, f := range facts {
			entity := tx.ResolveAlias(memory.NormalizeKey(f.Entity))
			if err := tx.UpsertFact(entity, f.Attribute, f.Value, f.Confidence, sessionID); err != nil {
				return err
			}
		}
		return tx.SetFileHash(path, hash)
	})
	if err != nil {
		return err
	}
	L_info("file consolidated", "path", path, "facts", len(facts))
	return nil
}

// serialize renders messages as a plain transcript. When the result exceeds
// the character budget the oldest lines are dropped first.
func (e *Engine) serialize(messages []types.Message) string {
	var lines []string
	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			if text := m.Content.Text(); text != "" {
				lines = append(lines, "Human: "+text)
			}
		case types.RoleAssistant:
			if text := m.Content.Text(); text != "" {
				lines = append(lines, "Assistant: "+text)
			}
			for _, tc := range m.ToolCalls {
				args := truncate(string(tc.Input), e.config.ToolTruncateChars)
				lines = append(lines, fmt.Sprintf("Tool call: %s(%s)", tc.Name, args))
			}
		case types.RoleToolResults:
			for _, tr := range m.ToolResults {
				lines = append(lines, "Tool result: "+truncate(tr.Content, e.config.ToolTruncateChars))
			}
		}
	}

	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	for len(lines) > 0 && total > e.config.MaxTranscriptChars {
		total -= len(lines[0]) + 1
		lines = lines[1:]
	}

	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// --- extraction ---

type extractedFact struct {
	Entity     string  `json:"entity"`
	Attribute  string  `json:"attribute"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type extractedAlias struct {
	Alias     string `json:"alias"`
	Canonical string `json:"canonical"`
}

type extractedCommitment struct {
	Subject    string `json:"subject"`
	Obligation string `json:"obligation"`
	Deadline   string `json:"deadline"`
}

const factSystem = "You extract durable facts from conversation transcripts. Reply with JSON only, no prose."

const factPrompt = `Extract stable facts about people, places, projects and preferences from this transcript. Skip small talk and one-off details. Use snake_case entity and attribute names. Rate confidence 0.0-1.0.

Respond with exactly this JSON shape:
{"facts": [{"entity": "...", "attribute": "...", "value": "...", "confidence": 0.9}], "aliases": [{"alias": "...", "canonical": "..."}]}

Transcript:
`

// extractFacts asks the model for facts and aliases. Malformed JSON yields
// zero facts rather than an error; the transcript gets another chance on
// the next pass either way.
func (e *Engine) extractFacts(ctx context.Context, transcript string) ([]extractedFact, []extractedAlias, error) {
	raw, err := e.facts.SimpleMessage(ctx, factSystem, factPrompt+transcript)
	if err != nil {
		return nil, nil, err
	}

	var parsed struct {
		Facts   []extractedFact  `json:"facts"`
		Aliases []extractedAlias `json:"aliases"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		L_warn("fact extraction returned malformed JSON", "error", err)
		return nil, nil, nil
	}

	var kept []extractedFact
	for _, f := range parsed.Facts {
		if f.Entity == "" || f.Attribute == "" || f.Value == "" {
			continue
		}
		if f.Confidence < e.config.MinConfidence {
			L_trace("dropping low-confidence fact", "entity", f.Entity, "confidence", f.Confidence)
			continue
		}
		kept = append(kept, f)
	}
	return kept, parsed.Aliases, nil
}

const episodeSystem = "You summarize conversations into episode records. Reply with JSON only, no prose."

const episodePrompt = `Summarize this conversation as one episode. List the topics discussed, any decisions made, and any commitments (who owes what, by when; use null for no deadline). Note the emotional tone in one word.

Respond with exactly this JSON shape:
{"episode": {"topics": ["..."], "decisions": ["..."], "commitments": [{"subject": "...", "obligation": "...", "deadline": "2026-01-15"}], "summary": "...", "emotional_tone": "neutral"}}

Transcript:
`

// extractEpisode asks the primary model for an episode record, with the
// persona voice (not the full identity stack) flattened into the system
// prompt. A trivial episode (no topics, no decisions, no commitments,
// neutral tone) is skipped.
func (e *Engine) extractEpisode(ctx context.Context, transcript string) (*memory.Episode, []extractedCommitment, error) {
	system := episodeSystem
	if e.persona != nil {
		if voice := strings.TrimSpace(e.persona()); voice != "" {
			system = episodeSystem + "\n\nWrite the summary in this voice:\n" + voice
		}
	}
	raw, err := e.episodes.SimpleMessage(ctx, system, episodePrompt+transcript)
	if err != nil {
		return nil, nil, err
	}

	var parsed struct {
		Episode struct {
			Topics        []string              `json:"topics"`
			Decisions     []string              `json:"decisions"`
			Commitments   []extractedCommitment `json:"commitments"`
			Summary       string                `json:"summary"`
			EmotionalTone string                `json:"emotional_tone"`
		} `json:"episode"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		L_warn("episode extraction returned malformed JSON", "error", err)
		return nil, nil, nil
	}

	ep := parsed.Episode
	if len(ep.Topics) == 0 && len(ep.Decisions) == 0 && len(ep.Commitments) == 0 &&
		(ep.EmotionalTone == "" || ep.EmotionalTone == "neutral") {
		L_debug("skipping trivial episode")
		return nil, nil, nil
	}

	commitments := ep.Commitments
	for i := range commitments {
		if strings.EqualFold(commitments[i].Deadline, "null") || strings.EqualFold(commitments[i].Deadline, "none") {
			commitments[i].Deadline = ""
		}
	}

	return &memory.Episode{
		Date:          time.Now().Format("2006-01-02"),
		Topics:        ep.Topics,
		Decisions:     ep.Decisions,
		Summary:       ep.Summary,
		EmotionalTone: ep.EmotionalTone,
	}, commitments, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
