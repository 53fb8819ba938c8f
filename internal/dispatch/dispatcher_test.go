package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lucyd-ai/lucyd/internal/types"
)

// collectingHandler records everything the dispatcher hands it.
type collectingHandler struct {
	mu        sync.Mutex
	processed []types.InboundMessage
	resets    []ResetTarget
	reply     string
}

func (h *collectingHandler) Process(ctx context.Context, msg types.InboundMessage, fut Future) {
	h.mu.Lock()
	h.processed = append(h.processed, msg)
	h.mu.Unlock()
	if fut != nil {
		fut <- Outcome{Reply: h.reply, SessionID: "s1"}
	}
}

func (h *collectingHandler) Reset(ctx context.Context, target ResetTarget) error {
	h.mu.Lock()
	h.resets = append(h.resets, target)
	h.mu.Unlock()
	return nil
}

func (h *collectingHandler) snapshot() []types.InboundMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.InboundMessage(nil), h.processed...)
}

func startDispatcher(t *testing.T, h Handler, cfg Config) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	d := New(h, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	return d, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDebounceCombinesBurst(t *testing.T) {
	h := &collectingHandler{}
	d, cancel := startDispatcher(t, h, Config{Debounce: 150 * time.Millisecond})
	defer cancel()

	d.Enqueue(types.InboundMessage{Text: "first", Sender: "alice", Source: types.SourceTelegram, Tier: "operational"}, nil)
	d.Enqueue(types.InboundMessage{Text: "second", Sender: "alice", Source: types.SourceTelegram}, nil)
	d.Enqueue(types.InboundMessage{Text: "third", Sender: "alice", Source: types.SourceTelegram}, nil)

	waitFor(t, func() bool { return len(h.snapshot()) == 1 })
	got := h.snapshot()[0]
	if got.Text != "first\nsecond\nthird" {
		t.Errorf("combined text = %q", got.Text)
	}
	if got.Tier != "operational" {
		t.Error("first item's tier should win")
	}
}

func TestDebounceSeparatesSenders(t *testing.T) {
	h := &collectingHandler{}
	d, cancel := startDispatcher(t, h, Config{Debounce: 100 * time.Millisecond})
	defer cancel()

	d.Enqueue(types.InboundMessage{Text: "from alice", Sender: "alice", Source: types.SourceTelegram}, nil)
	d.Enqueue(types.InboundMessage{Text: "from bob", Sender: "bob", Source: types.SourceTelegram}, nil)

	waitFor(t, func() bool { return len(h.snapshot()) == 2 })
	texts := map[string]bool{}
	for _, m := range h.snapshot() {
		texts[m.Text] = true
	}
	if !texts["from alice"] || !texts["from bob"] {
		t.Errorf("messages = %+v", h.snapshot())
	}
}

func TestHTTPBypassesDebounce(t *testing.T) {
	h := &collectingHandler{reply: "pong"}
	d, cancel := startDispatcher(t, h, Config{Debounce: 5 * time.Second})
	defer cancel()

	fut := make(Future, 1)
	d.Enqueue(types.InboundMessage{Text: "ping", Sender: "api", Source: types.SourceHTTP}, fut)

	select {
	case out := <-fut:
		if out.Reply != "pong" || out.SessionID != "s1" {
			t.Errorf("outcome = %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("HTTP future not resolved; debounce should not apply")
	}
}

func TestResetDropsPending(t *testing.T) {
	h := &collectingHandler{}
	d, cancel := startDispatcher(t, h, Config{Debounce: 200 * time.Millisecond})
	defer cancel()

	d.Enqueue(types.InboundMessage{Text: "stale", Sender: "alice", Source: types.SourceTelegram}, nil)
	d.EnqueueReset(ResetTarget{Sender: "alice"})

	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.resets) == 1
	})
	time.Sleep(400 * time.Millisecond)
	if len(h.snapshot()) != 0 {
		t.Errorf("pending message survived reset: %+v", h.snapshot())
	}
}

func TestShutdownDrains(t *testing.T) {
	h := &collectingHandler{}
	d, cancel := startDispatcher(t, h, Config{Debounce: 10 * time.Second})
	defer cancel()

	d.Enqueue(types.InboundMessage{Text: "pending", Sender: "alice", Source: types.SourceTelegram}, nil)

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelShutdown()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(h.snapshot()) != 1 {
		t.Errorf("pending message not drained on shutdown: %+v", h.snapshot())
	}
}

func TestQueueFull(t *testing.T) {
	h := &collectingHandler{}
	d := New(h, Config{QueueSize: 2}) // worker not started
	d.Enqueue(types.InboundMessage{Text: "a", Sender: "x"}, nil)
	d.Enqueue(types.InboundMessage{Text: "b", Sender: "x"}, nil)

	fut := make(Future, 1)
	if err := d.Enqueue(types.InboundMessage{Text: "c", Sender: "x"}, fut); err != ErrQueueFull {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
	out := <-fut
	if out.Err != ErrQueueFull {
		t.Errorf("future outcome = %+v", out)
	}
}

func TestSenderLRUEviction(t *testing.T) {
	l := newSenderLRU(3)
	l.get("a")
	l.get("b")
	l.get("c")
	l.get("a") // refresh a
	l.get("d") // evicts b
	if l.len() != 3 {
		t.Fatalf("len = %d", l.len())
	}
	if _, ok := l.entries["b"]; ok {
		t.Error("coldest sender should be evicted")
	}
	for _, want := range []string{"a", "c", "d"} {
		if _, ok := l.entries[want]; !ok {
			t.Errorf("sender %s missing", want)
		}
	}
}

func TestSenderLRUEvictionPrefersIdle(t *testing.T) {
	l := newSenderLRU(2)
	a, _ := l.get("a")
	a.pending = append(a.pending, item{msg: types.InboundMessage{Text: "buffered", Sender: "a"}})
	l.get("b") // idle, colder than nothing

	_, evicted := l.get("c")
	if evicted != nil {
		t.Errorf("idle sender should be evicted silently, got %+v", evicted)
	}
	if _, ok := l.entries["a"]; !ok {
		t.Error("sender with buffered work evicted while an idle one existed")
	}
	if _, ok := l.entries["b"]; ok {
		t.Error("idle sender should have been evicted")
	}
}

func TestSenderLRUEvictionReturnsPending(t *testing.T) {
	l := newSenderLRU(1)
	a, _ := l.get("a")
	a.pending = append(a.pending, item{msg: types.InboundMessage{Text: "buffered", Sender: "a"}})

	_, evicted := l.get("b")
	if evicted == nil || evicted.sender != "a" || len(evicted.pending) != 1 {
		t.Fatalf("evicted = %+v, want a's buffered entry", evicted)
	}
	if evicted.pending[0].msg.Text != "buffered" {
		t.Errorf("pending = %+v", evicted.pending)
	}
}

func TestSenderOverflowFlushesInsteadOfDropping(t *testing.T) {
	h := &collectingHandler{}
	d, cancel := startDispatcher(t, h, Config{Debounce: 10 * time.Second, MaxSenders: 1})
	defer cancel()

	d.Enqueue(types.InboundMessage{Text: "from alice", Sender: "alice", Source: types.SourceTelegram}, nil)
	d.Enqueue(types.InboundMessage{Text: "from bob", Sender: "bob", Source: types.SourceTelegram}, nil)

	// alice's buffered message must reach the handler despite the long
	// debounce window: bob's arrival displaced her from the sender table
	waitFor(t, func() bool { return len(h.snapshot()) == 1 })
	if got := h.snapshot()[0]; got.Text != "from alice" {
		t.Errorf("flushed message = %+v", got)
	}
}

func TestParseControlLine(t *testing.T) {
	item, err := ParseControlLine(`{"text": "run backup", "sender": "ops", "notify_meta": {"job": "42"}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if item.Message == nil || item.Message.Text != "run backup" || item.Message.Source != types.SourceSystem {
		t.Errorf("message = %+v", item.Message)
	}
	if item.Message.NotifyMeta["job"] != "42" {
		t.Error("notify_meta lost")
	}

	item, err = ParseControlLine(`{"reset": "alice"}`)
	if err != nil || item.Reset == nil || item.Reset.Sender != "alice" {
		t.Errorf("reset = %+v, err = %v", item, err)
	}
	item, _ = ParseControlLine(`{"reset": "all"}`)
	if !item.Reset.All {
		t.Error("reset all not recognized")
	}
	item, _ = ParseControlLine(`{"reset_session": "sess-9"}`)
	if item.Reset.SessionID != "sess-9" {
		t.Error("reset_session not recognized")
	}

	for _, bad := range []string{"", "[1,2]", `"just a string"`, `{"text": "no sender"}`, `{"sender": "no text"}`, "not json", `{"type": "reset"}`, `{"type": "dance"}`} {
		if _, err := ParseControlLine(bad); err == nil {
			t.Errorf("line %q should be rejected", bad)
		}
	}
}

func TestParseControlLineTypedReset(t *testing.T) {
	item, err := ParseControlLine(`{"type": "reset", "sender": "alice"}`)
	if err != nil || item.Reset == nil || item.Reset.Sender != "alice" {
		t.Errorf("typed sender reset = %+v, err = %v", item, err)
	}

	item, err = ParseControlLine(`{"type": "reset", "session_id": "sess-4"}`)
	if err != nil || item.Reset == nil || item.Reset.SessionID != "sess-4" {
		t.Errorf("typed session reset = %+v, err = %v", item, err)
	}

	item, err = ParseControlLine(`{"type": "reset", "all": true}`)
	if err != nil || item.Reset == nil || !item.Reset.All {
		t.Errorf("typed all reset = %+v, err = %v", item, err)
	}

	// typed messages still parse through the message branch
	item, err = ParseControlLine(`{"type": "message", "text": "hi", "sender": "ops"}`)
	if err != nil || item.Message == nil || item.Message.Text != "hi" {
		t.Errorf("typed message = %+v, err = %v", item, err)
	}
}
