package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/llm"
	"github.com/lucyd-ai/lucyd/internal/tokens"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// CloseHook observes a session just before it is archived, while the full
// message log is still readable. Consolidation hangs off this.
type CloseHook interface {
	OnSessionClose(ctx context.Context, sess *Session)
}

// Config holds session manager settings.
type Config struct {
	CompactionThreshold int `toml:"compaction_threshold"` // input tokens triggering compaction
	KeepRecent          int `toml:"keep_recent"`          // tail messages preserved by compaction
}

// Manager owns the per-contact session index and all persistence. Writes are
// ordered: event append first, then atomic checkpoint rewrite. The mutex
// guards the index and session state against the HTTP read-only views; the
// dispatcher remains the only writer.
type Manager struct {
	sessionsDir string
	config      Config
	closeHook   CloseHook

	mu       sync.RWMutex
	sessions map[string]*Session // contact -> session
}

// NewManager creates a manager over a sessions directory.
func NewManager(sessionsDir string, cfg Config) (*Manager, error) {
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = 4
	}
	return &Manager{
		sessionsDir: sessionsDir,
		config:      cfg,
		sessions:    make(map[string]*Session),
	}, nil
}

// SetCloseHook registers the pre-archival observer. Injected at wiring time
// to break the manager -> consolidation -> memory cycle.
func (m *Manager) SetCloseHook(hook CloseHook) {
	m.closeHook = hook
}

// CompactionThreshold exposes the configured threshold to the pipeline.
func (m *Manager) CompactionThreshold() int {
	return m.config.CompactionThreshold
}

// GetOrCreate returns the contact's session, recovering from checkpoint
// after a restart or creating a fresh one.
func (m *Manager) GetOrCreate(contact, model string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[contact]; ok {
		return sess, nil
	}

	id, err := readIndex(m.sessionsDir, contact)
	if err != nil {
		L_warn("session: unreadable index, starting fresh", "contact", contact, "error", err)
	}
	if id != "" {
		sess, err := readCheckpoint(m.sessionsDir, id)
		if err != nil {
			L_warn("session: unreadable checkpoint, starting fresh", "contact", contact, "error", err)
		} else if sess != nil {
			m.sessions[contact] = sess
			L_info("session: recovered", "contact", contact, "id", sess.ID, "messages", len(sess.Messages))
			return sess, nil
		}
	}

	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Contact:   contact,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := writeIndex(m.sessionsDir, contact, sess.ID); err != nil {
		return nil, err
	}
	if err := writeCheckpoint(m.sessionsDir, sess); err != nil {
		return nil, err
	}
	m.sessions[contact] = sess
	L_info("session: created", "contact", contact, "id", sess.ID)
	return sess, nil
}

// Get returns a live session by id, or nil.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		if sess.ID == sessionID {
			return sess
		}
	}
	return nil
}

// AddUserMessage appends a user message and persists it.
func (m *Manager) AddUserMessage(sess *Session, text, from string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := types.UserMessage(text)
	msg.From = from
	sess.Messages = append(sess.Messages, msg)
	return m.persist(sess, msg)
}

// PersistAssistantMessage persists an assistant message already appended to
// the in-memory log by the agentic loop.
func (m *Manager) PersistAssistantMessage(sess *Session, msg types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persist(sess, msg)
}

// PersistToolResults persists a tool_results message already appended to the
// in-memory log.
func (m *Manager) PersistToolResults(sess *Session, msg types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persist(sess, msg)
}

func (m *Manager) persist(sess *Session, msg types.Message) error {
	sess.UpdatedAt = time.Now()
	if err := appendEvent(m.sessionsDir, sess.ID, msg); err != nil {
		return err
	}
	return writeCheckpoint(m.sessionsDir, sess)
}

// SaveState rewrites the checkpoint without appending an event, for state
// changes (warnings, token counts) that are not messages.
func (m *Manager) SaveState(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess.UpdatedAt = time.Now()
	return writeCheckpoint(m.sessionsDir, sess)
}

// Compact summarizes everything but the recent tail and atomically replaces
// the log with [summary] + tail. The compaction counter increases by exactly
// one and the warned flag clears for the next cycle.
func (m *Manager) Compact(ctx context.Context, sess *Session, provider llm.Provider, prompt string) error {
	m.mu.Lock()
	keep := m.config.KeepRecent
	if len(sess.Messages) <= keep {
		m.mu.Unlock()
		return nil
	}
	// never split a tool exchange: the tail must not start with tool_results
	cut := len(sess.Messages) - keep
	for cut < len(sess.Messages) && sess.Messages[cut].Role == types.RoleToolResults {
		cut++
	}
	if cut == 0 || cut >= len(sess.Messages) {
		m.mu.Unlock()
		return nil
	}
	transcript := renderTranscript(sess.Messages[:cut])
	// the dispatcher is the only writer, so the cut stays valid while the
	// lock is released for the summary call
	m.mu.Unlock()

	summary, err := provider.SimpleMessage(ctx, "", prompt+"\n\n"+transcript)
	if err != nil {
		return fmt.Errorf("compaction summary: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	summaryMsg := types.AssistantMessage("[Conversation summary]\n" + strings.TrimSpace(summary))
	tail := make([]types.Message, len(sess.Messages)-cut)
	copy(tail, sess.Messages[cut:])
	sess.Messages = append([]types.Message{summaryMsg}, tail...)
	sess.CompactionCount++
	sess.WarnedAboutCompaction = false
	sess.LastInputTokens = 0

	if err := m.persist(sess, summaryMsg); err != nil {
		return err
	}
	L_info("session: compacted", "id", sess.ID, "count", sess.CompactionCount,
		"kept", len(tail), "summarized", cut)
	return nil
}

// CloseSession archives and drops the contact's session. The close hook
// fires first, with the final log intact.
func (m *Manager) CloseSession(ctx context.Context, contact string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[contact]
	if !ok {
		id, err := readIndex(m.sessionsDir, contact)
		if err != nil || id == "" {
			return fmt.Errorf("no session for contact %q", contact)
		}
		sess, err = readCheckpoint(m.sessionsDir, id)
		if err != nil || sess == nil {
			return fmt.Errorf("no session state for contact %q", contact)
		}
	}
	return m.close(ctx, sess)
}

// CloseSessionByID archives and drops a session found by id.
func (m *Manager) CloseSessionByID(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sess *Session
	for _, s := range m.sessions {
		if s.ID == sessionID {
			sess = s
			break
		}
	}
	if sess == nil {
		var err error
		sess, err = readCheckpoint(m.sessionsDir, sessionID)
		if err != nil || sess == nil {
			return fmt.Errorf("no session %q", sessionID)
		}
	}
	return m.close(ctx, sess)
}

// CloseAll archives every live session.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.RLock()
	contacts := make([]string, 0, len(m.sessions))
	for contact := range m.sessions {
		contacts = append(contacts, contact)
	}
	m.mu.RUnlock()

	for _, contact := range contacts {
		if err := m.CloseSession(ctx, contact); err != nil {
			L_warn("session: close failed", "contact", contact, "error", err)
		}
	}
}

func (m *Manager) close(ctx context.Context, sess *Session) error {
	if m.closeHook != nil {
		m.closeHook.OnSessionClose(ctx, sess)
	}
	if err := m.archive(sess); err != nil {
		return err
	}
	delete(m.sessions, sess.Contact)
	os.Remove(indexPath(m.sessionsDir, sess.Contact))
	L_info("session: closed", "contact", sess.Contact, "id", sess.ID)
	return nil
}

// archive moves the session's files into sessions/archive/.
func (m *Manager) archive(sess *Session) error {
	archiveDir := filepath.Join(m.sessionsDir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	matches, _ := filepath.Glob(filepath.Join(m.sessionsDir, sess.ID+"*"))
	for _, path := range matches {
		dest := filepath.Join(archiveDir, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			return fmt.Errorf("archive %s: %w", path, err)
		}
	}
	return nil
}

// Info is a read-only session summary for status views.
type Info struct {
	Contact         string    `json:"contact"`
	SessionID       string    `json:"sessionId"`
	Messages        int       `json:"messages"`
	CompactionCount int       `json:"compactionCount"`
	LastInputTokens int       `json:"lastInputTokens"`
	EstimatedTokens int       `json:"estimatedTokens"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Sessions snapshots the live session index.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		est := 0
		for _, msg := range sess.Messages {
			est += tokens.Estimate(msg.Content.Text())
		}
		infos = append(infos, Info{
			Contact:         sess.Contact,
			SessionID:       sess.ID,
			Messages:        len(sess.Messages),
			CompactionCount: sess.CompactionCount,
			LastInputTokens: sess.LastInputTokens,
			EstimatedTokens: est,
			UpdatedAt:       sess.UpdatedAt,
		})
	}
	return infos
}

// renderTranscript flattens messages for the compaction prompt.
func renderTranscript(messages []types.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			fmt.Fprintf(&b, "Human: %s\n", msg.Content.Text())
		case types.RoleAssistant:
			if text := msg.Content.Text(); text != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", text)
			}
			for _, tc := range msg.ToolCalls {
				fmt.Fprintf(&b, "Tool call: %s(%s)\n", tc.Name, string(tc.Input))
			}
		case types.RoleToolResults:
			for _, tr := range msg.ToolResults {
				content := tr.Content
				if len(content) > 500 {
					content = content[:500] + "..."
				}
				fmt.Fprintf(&b, "Tool result: %s\n", content)
			}
		}
	}
	return b.String()
}
