package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lucyd-ai/lucyd/internal/agent"
	"github.com/lucyd-ai/lucyd/internal/channel"
	"github.com/lucyd-ai/lucyd/internal/dispatch"
	"github.com/lucyd-ai/lucyd/internal/llm"
	"github.com/lucyd-ai/lucyd/internal/prompt"
	"github.com/lucyd-ai/lucyd/internal/session"
	"github.com/lucyd-ai/lucyd/internal/tools"
	"github.com/lucyd-ai/lucyd/internal/types"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	replies []string
	usage   types.Usage
}

func (f *fakeProvider) Name() string      { return "fake" }
func (f *fakeProvider) Model() string     { return "fake-model" }
func (f *fakeProvider) IsAvailable() bool { return true }

func (f *fakeProvider) Complete(ctx context.Context, system []types.SystemBlock, messages []types.Message, defs []types.ToolDefinition) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	reply := "ok"
	if len(f.replies) > 0 {
		reply = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	usage := f.usage
	if usage == (types.Usage{}) {
		usage = types.Usage{InputTokens: 10, OutputTokens: 5}
	}
	return &llm.Response{Text: reply, StopReason: "end_turn", Usage: usage}, nil
}

func (f *fakeProvider) SimpleMessage(ctx context.Context, system, promptText string) (string, error) {
	return "summary", nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSource struct{ provider llm.Provider }

func (s fakeSource) ForSource(string) llm.Provider { return s.provider }
func (s fakeSource) Vision() llm.Provider          { return s.provider }
func (s fakeSource) Voice() llm.Provider           { return s.provider }
func (s fakeSource) Compaction() llm.Provider      { return s.provider }

type fakeChannel struct {
	mu     sync.Mutex
	sends  []string
	typing int
}

func (c *fakeChannel) Name() string                          { return "fake" }
func (c *fakeChannel) Connect(ctx context.Context) error     { return nil }
func (c *fakeChannel) Receive() <-chan types.InboundMessage  { return nil }
func (c *fakeChannel) SendTyping(ctx context.Context, recipient string) {
	c.mu.Lock()
	c.typing++
	c.mu.Unlock()
}
func (c *fakeChannel) Send(ctx context.Context, recipient, text string) error {
	c.mu.Lock()
	c.sends = append(c.sends, text)
	c.mu.Unlock()
	return nil
}
func (c *fakeChannel) SendReaction(ctx context.Context, recipient string, timestamp int64, emoji string) error {
	return nil
}
func (c *fakeChannel) Disconnect() error { return nil }

func (c *fakeChannel) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sends...)
}

func newTestPipeline(t *testing.T, provider *fakeProvider, sessCfg session.Config) (*Pipeline, *fakeChannel) {
	t.Helper()
	mgr, err := session.NewManager(t.TempDir(), sessCfg)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	ch := &fakeChannel{}
	p := New(Deps{
		Sessions:  mgr,
		Providers: fakeSource{provider: provider},
		Tools:     tools.NewRegistry(),
		Assembler: prompt.NewAssembler(t.TempDir(), prompt.Config{}),
		Channels:  map[string]channel.Channel{types.SourceTelegram: ch},
		AgentConfig: agent.Config{MaxTurns: 4, Timeout: 10 * time.Second},
		Config: Config{
			MessageRetries: 2,
			RetryBackoff:   time.Millisecond,
			SilentTokens:   []string{"HEARTBEAT_OK"},
		},
	})
	return p, ch
}

func inbound(text string) types.InboundMessage {
	return types.InboundMessage{
		Text:      text,
		Sender:    "alice",
		Source:    types.SourceTelegram,
		Timestamp: time.Now().Unix(),
	}
}

func processOne(t *testing.T, p *Pipeline, msg types.InboundMessage) dispatch.Outcome {
	t.Helper()
	fut := make(dispatch.Future, 1)
	p.Process(context.Background(), msg, fut)
	select {
	case out := <-fut:
		return out
	default:
		t.Fatal("future not resolved")
		return dispatch.Outcome{}
	}
}

func TestProcessHappyPath(t *testing.T) {
	provider := &fakeProvider{replies: []string{"hello there"}}
	p, ch := newTestPipeline(t, provider, session.Config{})

	out := processOne(t, p, inbound("hi"))
	if out.Err != nil {
		t.Fatalf("process: %v", out.Err)
	}
	if out.Reply != "hello there" || out.Silent {
		t.Errorf("outcome = %+v", out)
	}
	if got := ch.sent(); len(got) != 1 || got[0] != "hello there" {
		t.Errorf("sends = %v", got)
	}

	sess := p.deps.Sessions.Get(out.SessionID)
	if sess == nil {
		t.Fatal("session not live")
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("messages = %d", len(sess.Messages))
	}
	userText := sess.Messages[0].Content.Text()
	if !strings.HasPrefix(userText, "[") || !strings.HasSuffix(userText, "hi") {
		t.Errorf("user message missing time annotation: %q", userText)
	}
	if sess.Messages[0].Content.IsBlocks() {
		t.Error("user content should be text-only after the turn")
	}
}

func TestSilentTokenSuppressesDelivery(t *testing.T) {
	provider := &fakeProvider{replies: []string{"HEARTBEAT_OK"}}
	p, ch := newTestPipeline(t, provider, session.Config{})

	out := processOne(t, p, inbound("ping"))
	if out.Err != nil {
		t.Fatalf("process: %v", out.Err)
	}
	if !out.Silent || out.Reply != "HEARTBEAT_OK" {
		t.Errorf("outcome = %+v", out)
	}
	if got := ch.sent(); len(got) != 0 {
		t.Errorf("silent reply was delivered: %v", got)
	}
}

func TestSuppressedSourceSkipsTransport(t *testing.T) {
	provider := &fakeProvider{replies: []string{"noted"}}
	p, ch := newTestPipeline(t, provider, session.Config{})

	msg := inbound("system ping")
	msg.Source = types.SourceSystem
	out := processOne(t, p, msg)
	if out.Err != nil || out.Reply != "noted" {
		t.Fatalf("outcome = %+v", out)
	}
	if got := ch.sent(); len(got) != 0 {
		t.Errorf("suppressed source delivered: %v", got)
	}
	ch.mu.Lock()
	typing := ch.typing
	ch.mu.Unlock()
	if typing != 0 {
		t.Errorf("typing fired for suppressed source")
	}
}

func TestTransientFailureRetries(t *testing.T) {
	provider := &fakeProvider{
		errs:    []error{errors.New("429 too many requests"), errors.New("overloaded_error")},
		replies: []string{"recovered"},
	}
	p, _ := newTestPipeline(t, provider, session.Config{})

	out := processOne(t, p, inbound("hi"))
	if out.Err != nil {
		t.Fatalf("process: %v", out.Err)
	}
	if out.Reply != "recovered" {
		t.Errorf("reply = %q", out.Reply)
	}
	if provider.callCount() != 3 {
		t.Errorf("calls = %d, want 3", provider.callCount())
	}
}

func TestFatalFailureRemovesOrphanedUserMessage(t *testing.T) {
	provider := &fakeProvider{errs: []error{errors.New("invalid api key")}}
	p, ch := newTestPipeline(t, provider, session.Config{})

	out := processOne(t, p, inbound("hi"))
	if out.Err == nil {
		t.Fatal("expected error outcome")
	}
	if provider.callCount() != 1 {
		t.Errorf("fatal error was retried: calls = %d", provider.callCount())
	}

	sess := p.deps.Sessions.Get(out.SessionID)
	if sess == nil {
		t.Fatal("session not live")
	}
	if len(sess.Messages) != 0 {
		t.Errorf("orphaned user message left behind: %d messages", len(sess.Messages))
	}
	got := ch.sent()
	if len(got) != 1 || !strings.Contains(got[0], "Authentication") {
		t.Errorf("error delivery = %v", got)
	}
}

func TestCompactionWarningCycle(t *testing.T) {
	provider := &fakeProvider{usage: types.Usage{InputTokens: 90, OutputTokens: 5}}
	p, _ := newTestPipeline(t, provider, session.Config{CompactionThreshold: 100})

	out := processOne(t, p, inbound("first"))
	if out.Err != nil {
		t.Fatalf("process: %v", out.Err)
	}
	sess := p.deps.Sessions.Get(out.SessionID)
	if sess.PendingWarning == "" || !sess.WarnedAboutCompaction {
		t.Fatalf("warning not set: pending=%q warned=%v", sess.PendingWarning, sess.WarnedAboutCompaction)
	}

	out = processOne(t, p, inbound("second"))
	if out.Err != nil {
		t.Fatalf("process: %v", out.Err)
	}
	if sess.PendingWarning != "" {
		t.Error("warning not cleared after injection")
	}
	var injected bool
	for _, m := range sess.Messages {
		if m.Role == types.RoleUser && strings.Contains(m.Content.Text(), "[system: ") {
			injected = true
		}
	}
	if !injected {
		t.Error("warning was not injected into the next user message")
	}
}

func TestWebhookNotification(t *testing.T) {
	var mu sync.Mutex
	var notes []Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Errorf("decode: %v", err)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("auth header = %q", got)
		}
		mu.Lock()
		notes = append(notes, n)
		mu.Unlock()
	}))
	defer srv.Close()

	provider := &fakeProvider{replies: []string{"done"}}
	p, _ := newTestPipeline(t, provider, session.Config{})
	p.deps.Webhook = NewNotifier(WebhookConfig{URL: srv.URL, BearerToken: "sekrit"})

	msg := inbound("do the thing")
	msg.NotifyMeta = map[string]string{"job": "42"}
	out := processOne(t, p, msg)
	if out.Err != nil {
		t.Fatalf("process: %v", out.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notes) != 1 {
		t.Fatalf("webhook fired %d times", len(notes))
	}
	n := notes[0]
	if n.Reply != "done" || n.Sender != "alice" || n.Silent || n.SessionID != out.SessionID {
		t.Errorf("notification = %+v", n)
	}
	if n.NotifyMeta["job"] != "42" {
		t.Errorf("notify meta = %v", n.NotifyMeta)
	}
}

func TestResetClosesSession(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestPipeline(t, provider, session.Config{})

	out := processOne(t, p, inbound("hi"))
	if out.Err != nil {
		t.Fatalf("process: %v", out.Err)
	}
	if err := p.Reset(context.Background(), dispatch.ResetTarget{Sender: "alice"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if p.deps.Sessions.Get(out.SessionID) != nil {
		t.Error("session still live after reset")
	}

	if err := p.Reset(context.Background(), dispatch.ResetTarget{}); err == nil {
		t.Error("empty reset target should error")
	}
}

func TestIsSilentBoundaries(t *testing.T) {
	cases := []struct {
		reply string
		want  bool
	}{
		{"HEARTBEAT_OK", true},
		{"  HEARTBEAT_OK\n", true},
		{"HEARTBEAT_OK all quiet", true},
		{"all quiet HEARTBEAT_OK", true},
		{"HEARTBEAT_OKAY", false},
		{"not_HEARTBEAT_OK", false},
		{"mid HEARTBEAT_OK sentence", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsSilent(tc.reply, "HEARTBEAT_OK"); got != tc.want {
			t.Errorf("IsSilent(%q) = %v, want %v", tc.reply, got, tc.want)
		}
	}
}

func TestQuotedTextPrefixed(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestPipeline(t, provider, session.Config{})

	msg := inbound("yes, that one")
	msg.QuotedText = "should I book the early flight?"
	out := processOne(t, p, msg)
	if out.Err != nil {
		t.Fatalf("process: %v", out.Err)
	}
	sess := p.deps.Sessions.Get(out.SessionID)
	if !strings.Contains(sess.Messages[0].Content.Text(), "[replying to: should I book the early flight?]") {
		t.Errorf("quoted text missing: %q", sess.Messages[0].Content.Text())
	}
}
