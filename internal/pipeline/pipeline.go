// Package pipeline runs the ordered processing steps for each combined
// ingress item: provider routing, attachment normalization, session write,
// context assembly, the agentic loop with retry, delivery, webhooks and
// compaction housekeeping.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lucyd-ai/lucyd/internal/agent"
	"github.com/lucyd-ai/lucyd/internal/channel"
	"github.com/lucyd-ai/lucyd/internal/consolidate"
	"github.com/lucyd-ai/lucyd/internal/cost"
	"github.com/lucyd-ai/lucyd/internal/dispatch"
	"github.com/lucyd-ai/lucyd/internal/llm"
	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/prompt"
	"github.com/lucyd-ai/lucyd/internal/recall"
	"github.com/lucyd-ai/lucyd/internal/session"
	"github.com/lucyd-ai/lucyd/internal/status"
	"github.com/lucyd-ai/lucyd/internal/stt"
	"github.com/lucyd-ai/lucyd/internal/tools"
	"github.com/lucyd-ai/lucyd/internal/types"
)

const defaultCompactionPrompt = "Summarize this conversation concisely, " +
	"preserving names, dates, decisions, open questions and anything the " +
	"user asked to be remembered. Write in third person."

const compactionWarningText = "the conversation is getting long and will be " +
	"summarized soon; mention anything that must survive verbatim"

// Config tunes the pipeline.
type Config struct {
	MessageRetries   int           `toml:"message_retries"`
	RetryBackoff     time.Duration `toml:"retry_backoff"`
	SilentTokens     []string      `toml:"silent_tokens"`
	CompactionPrompt string        `toml:"compaction_prompt,omitempty"`
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		MessageRetries: 2,
		RetryBackoff:   2 * time.Second,
		SilentTokens:   []string{"HEARTBEAT_OK"},
	}
}

// ProviderSource routes purposes to providers. *llm.Registry satisfies it.
type ProviderSource interface {
	ForSource(source string) llm.Provider
	Vision() llm.Provider
	Voice() llm.Provider
	Compaction() llm.Provider
}

// Deps carries everything the pipeline needs. Optional fields may be nil:
// Recall, Synth, Consolidator, Transcriber, Ledger, Webhook.
type Deps struct {
	Sessions     *session.Manager
	Providers    ProviderSource
	Recall       *recall.Engine
	Synth        *recall.Synthesizer
	Consolidator *consolidate.Engine
	Tools        *tools.Registry
	Assembler    *prompt.Assembler
	Channels     map[string]channel.Channel // keyed by source
	Transcriber  stt.Provider
	Ledger       *cost.Ledger
	Rates        cost.Rates
	Webhook      *Notifier
	Monitor      *status.Writer
	AgentConfig  agent.Config
	Config       Config
}

// Pipeline implements dispatch.Handler.
type Pipeline struct {
	deps Deps
}

// New creates a pipeline. Deps.Sessions, Providers, Tools and Assembler are
// required.
func New(deps Deps) *Pipeline {
	if deps.Config.MessageRetries <= 0 {
		deps.Config.MessageRetries = DefaultConfig().MessageRetries
	}
	if deps.Config.RetryBackoff <= 0 {
		deps.Config.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if deps.Config.CompactionPrompt == "" {
		deps.Config.CompactionPrompt = defaultCompactionPrompt
	}
	return &Pipeline{deps: deps}
}

// Process runs the full pipeline for one combined ingress item and resolves
// the future, when present, with the outcome.
func (p *Pipeline) Process(ctx context.Context, msg types.InboundMessage, fut dispatch.Future) {
	turnID := ulid.Make().String()
	outcome := p.process(ctx, msg, turnID)
	if outcome.Err != nil {
		L_warn("pipeline: message failed", "turn", turnID, "sender", msg.Sender, "source", msg.Source, "error", outcome.Err)
	}
	p.recordTurn(msg, outcome, turnID)
	if fut != nil {
		fut <- outcome
	}
}

func (p *Pipeline) recordTurn(msg types.InboundMessage, outcome dispatch.Outcome, turnID string) {
	if p.deps.Monitor == nil {
		return
	}
	turn := status.Turn{
		ID:        turnID,
		Sender:    msg.Sender,
		Source:    msg.Source,
		SessionID: outcome.SessionID,
		Silent:    outcome.Silent,
		Reply:     outcome.Reply,
		Tokens:    outcome.Usage,
	}
	if outcome.Err != nil {
		turn.Error = outcome.Err.Error()
	}
	p.deps.Monitor.WriteTurn(turn)
	p.deps.Monitor.WriteOverview(p.deps.Sessions.Sessions())
}

// Reset closes sessions named by the target.
func (p *Pipeline) Reset(ctx context.Context, target dispatch.ResetTarget) error {
	switch {
	case target.All:
		p.deps.Sessions.CloseAll(ctx)
		return nil
	case target.SessionID != "":
		return p.deps.Sessions.CloseSessionByID(ctx, target.SessionID)
	case target.Sender != "":
		return p.deps.Sessions.CloseSession(ctx, target.Sender)
	}
	return fmt.Errorf("empty reset target")
}

func (p *Pipeline) process(ctx context.Context, msg types.InboundMessage, turnID string) dispatch.Outcome {
	// 1. routing
	provider := p.route(msg)
	if provider == nil || !provider.IsAvailable() {
		return dispatch.Outcome{Err: fmt.Errorf("no usable provider for source %q", msg.Source)}
	}

	// 2. attachment normalization
	norm := normalizeAttachments(ctx, msg, p.deps.Transcriber)
	if msg.QuotedText != "" {
		norm.Text = "[replying to: " + truncate(msg.QuotedText, 200) + "]\n" + norm.Text
	}
	if norm.Text == "" && len(norm.Images) == 0 {
		return dispatch.Outcome{}
	}

	// 3. session write
	sess, err := p.deps.Sessions.GetOrCreate(msg.Sender, provider.Model())
	if err != nil {
		return dispatch.Outcome{Err: fmt.Errorf("session: %w", err)}
	}
	text := norm.Text
	if warning := sess.TakeWarning(); warning != "" {
		text, _ = session.InjectWarning(text, warning)
	}
	text = fmt.Sprintf("[%s] %s", time.Now().Format("Mon 2006-01-02 15:04"), text)
	if err := p.deps.Sessions.AddUserMessage(sess, text, msg.Sender); err != nil {
		return dispatch.Outcome{SessionID: sess.ID, Err: fmt.Errorf("session write: %w", err)}
	}
	if sess.MergeConsecutiveUserMessages() {
		if err := p.deps.Sessions.SaveState(sess); err != nil {
			L_warn("pipeline: save after merge failed", "error", err)
		}
	}

	// 4. transient image block injection
	userIdx := len(sess.Messages) - 1
	textOnly := sess.Messages[userIdx].Content
	inject := func() {
		if len(norm.Images) == 0 {
			return
		}
		blocks := []types.ContentBlock{types.TextBlock(textOnly.Text())}
		for _, img := range norm.Images {
			blocks = append(blocks, types.ImageBlock(img.MimeType, img.Data))
		}
		sess.Messages[userIdx].Content = types.BlockContent(blocks...)
	}
	restore := func() { sess.Messages[userIdx].Content = textOnly }
	inject()

	// 5. context assembly
	system := p.deps.Assembler.Build(prompt.Request{
		Tier:             msg.Tier,
		Source:           msg.Source,
		RecallText:       p.buildRecall(ctx, sess, norm.Text),
		VoiceHint:        norm.VoiceHint,
		ToolDescriptions: p.toolDescriptions(),
		Now:              time.Now(),
	})

	// 6. typing indicator
	suppressed := types.IsSuppressedSource(msg.Source)
	transport := p.deps.Channels[msg.Source]
	if !suppressed && transport != nil {
		transport.SendTyping(ctx, msg.Sender)
	}

	// 7. agentic loop with retry
	preLen := len(sess.Messages)
	result, runErr := p.runLoop(ctx, provider, system, sess, restore, inject)
	if runErr != nil {
		restore()
		sess.RemoveOrphanedUserTail()
		if err := p.deps.Sessions.SaveState(sess); err != nil {
			L_warn("pipeline: save after failure failed", "error", err)
		}
		if !suppressed && transport != nil {
			if err := transport.Send(ctx, msg.Sender, llm.FormatForUser(runErr)); err != nil {
				L_warn("pipeline: error delivery failed", "error", err)
			}
		}
		p.notify(ctx, msg, turnID, sess.ID, "", false, types.Usage{})
		return dispatch.Outcome{SessionID: sess.ID, Err: runErr}
	}

	// 8. post-turn persistence
	sess.Messages = result.Messages
	restore()
	for _, m := range sess.Messages[preLen:] {
		switch m.Role {
		case types.RoleAssistant:
			if err := p.deps.Sessions.PersistAssistantMessage(sess, m); err != nil {
				L_warn("pipeline: persist assistant failed", "error", err)
			}
		case types.RoleToolResults:
			if err := p.deps.Sessions.PersistToolResults(sess, m); err != nil {
				L_warn("pipeline: persist tool results failed", "error", err)
			}
		}
	}
	if err := p.deps.Sessions.SaveState(sess); err != nil {
		L_warn("pipeline: save state failed", "error", err)
	}

	// 9. silent-token check
	reply := result.Text
	silent := p.isSilent(reply)

	// 10. deliver
	if !silent && !suppressed && reply != "" && transport != nil {
		if err := transport.Send(ctx, msg.Sender, reply); err != nil {
			L_warn("pipeline: delivery failed", "sender", msg.Sender, "error", err)
		}
	}

	// 11. webhook
	p.notify(ctx, msg, turnID, sess.ID, reply, silent, result.Usage)

	// 12.–14. compaction housekeeping
	p.compactionPass(ctx, sess)

	return dispatch.Outcome{Reply: reply, SessionID: sess.ID, Silent: silent, Usage: result.Usage}
}

// route picks the provider: vision for image-bearing messages, voice for
// voice notes, else the per-source chat route.
func (p *Pipeline) route(msg types.InboundMessage) llm.Provider {
	for _, att := range msg.Attachments {
		if att.IsImage() {
			return p.deps.Providers.Vision()
		}
	}
	for _, att := range msg.Attachments {
		if att.IsVoice {
			return p.deps.Providers.Voice()
		}
	}
	return p.deps.Providers.ForSource(msg.Source)
}

// buildRecall assembles recall text for a fresh session only: query-driven
// recall plus the session-start warm-up, synthesized when configured.
func (p *Pipeline) buildRecall(ctx context.Context, sess *session.Session, query string) string {
	if p.deps.Recall == nil || len(sess.Messages) > 1 {
		return ""
	}
	text := p.deps.Recall.Recall(ctx, query)
	if p.deps.Consolidator != nil {
		if start := p.deps.Recall.SessionStart(ctx); start != "" {
			if text != "" {
				text += "\n\n"
			}
			text += start
		}
	}
	if p.deps.Synth != nil {
		text = p.deps.Synth.Synthesize(ctx, text)
	}
	return text
}

func (p *Pipeline) toolDescriptions() []prompt.ToolDescription {
	briefs := p.deps.Tools.Briefs()
	descs := make([]prompt.ToolDescription, 0, len(briefs))
	for _, name := range p.deps.Tools.Names() {
		descs = append(descs, prompt.ToolDescription{Name: name, Brief: briefs[name]})
	}
	return descs
}

// runLoop drives the agent with transient-failure retry. restore/inject flip
// the last user message between text-only and image-block form around waits.
func (p *Pipeline) runLoop(ctx context.Context, provider llm.Provider, system []types.SystemBlock, sess *session.Session, restore, inject func()) (*agent.Result, error) {
	callbacks := agent.Callbacks{
		OnResponse: func(resp *llm.Response) {
			sess.LastInputTokens = resp.Usage.InputTokens + resp.Usage.CacheReadTokens + resp.Usage.CacheWriteTokens
		},
		RecordCost: func(usage types.Usage) float64 {
			if p.deps.Ledger == nil {
				return p.deps.Rates.Compute(usage)
			}
			dollars, err := p.deps.Ledger.Record(sess.ID, provider.Model(), usage, p.deps.Rates)
			if err != nil {
				L_warn("pipeline: cost record failed", "error", err)
				return p.deps.Rates.Compute(usage)
			}
			return dollars
		},
	}

	agentCfg := p.deps.AgentConfig
	if p.deps.Ledger != nil {
		if spent, err := p.deps.Ledger.SessionTotal(sess.ID); err == nil {
			agentCfg.PriorSpend = spent
		} else {
			L_warn("pipeline: session spend lookup failed", "session", sess.ID, "error", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= p.deps.Config.MessageRetries; attempt++ {
		if attempt > 0 {
			restore()
			backoff := p.deps.Config.RetryBackoff * time.Duration(1<<(attempt-1))
			if half := int64(backoff) / 2; half > 0 {
				backoff += time.Duration(rand.Int63n(half))
			}
			L_info("pipeline: retrying after transient failure", "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, lastErr
			}
			inject()
		}

		result, err := agent.Run(ctx, provider, system, sess.Messages, p.deps.Tools.Definitions(), p.deps.Tools, agentCfg, callbacks)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !llm.IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *Pipeline) isSilent(reply string) bool {
	for _, token := range p.deps.Config.SilentTokens {
		if IsSilent(reply, token) {
			return true
		}
	}
	return false
}

func (p *Pipeline) notify(ctx context.Context, msg types.InboundMessage, turnID, sessionID, reply string, silent bool, usage types.Usage) {
	if p.deps.Webhook == nil {
		return
	}
	p.deps.Webhook.Notify(ctx, Notification{
		TurnID:     turnID,
		Reply:      reply,
		SessionID:  sessionID,
		Sender:     msg.Sender,
		Source:     msg.Source,
		Silent:     silent,
		Tokens:     usage,
		NotifyMeta: msg.NotifyMeta,
	})
}

// compactionPass runs steps 12–14: the approach warning, pre-compaction
// consolidation, then compaction itself.
func (p *Pipeline) compactionPass(ctx context.Context, sess *session.Session) {
	threshold := p.deps.Sessions.CompactionThreshold()
	if threshold <= 0 {
		return
	}

	warnAt := int(0.8 * float64(threshold))
	needs := sess.NeedsCompaction(threshold)
	if sess.LastInputTokens > warnAt && !needs && !sess.WarnedAboutCompaction {
		sess.PendingWarning = compactionWarningText
		sess.WarnedAboutCompaction = true
		if err := p.deps.Sessions.SaveState(sess); err != nil {
			L_warn("pipeline: save warning failed", "error", err)
		}
		return
	}
	if !needs {
		return
	}

	if p.deps.Consolidator != nil {
		if err := p.deps.Consolidator.ConsolidateSession(ctx, sess); err != nil {
			L_warn("pipeline: pre-compaction consolidation failed", "session", sess.ID, "error", err)
		}
	}
	if err := p.deps.Sessions.Compact(ctx, sess, p.deps.Providers.Compaction(), p.deps.Config.CompactionPrompt); err != nil {
		L_warn("pipeline: compaction failed", "session", sess.ID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
