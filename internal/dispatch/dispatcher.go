// Package dispatch owns the inbound message queue: per-sender debouncing
// so rapid message bursts reach the model as one turn, reset commands, and
// synchronous HTTP requests that need an answer back.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// ErrQueueFull is returned when the inbound queue is at capacity.
var ErrQueueFull = errors.New("inbound queue full")

// Outcome resolves a Future once a message has been processed.
type Outcome struct {
	Reply     string
	SessionID string
	Silent    bool
	Usage     types.Usage
	Err       error
}

// Future receives exactly one Outcome.
type Future chan Outcome

// ResetTarget names what a reset command clears.
type ResetTarget struct {
	Sender    string
	SessionID string
	All       bool
}

// Handler processes dequeued work. The pipeline implements it.
type Handler interface {
	Process(ctx context.Context, msg types.InboundMessage, fut Future)
	Reset(ctx context.Context, target ResetTarget) error
}

// Config tunes the dispatcher.
type Config struct {
	QueueSize  int           `toml:"queue_size"`
	Debounce   time.Duration `toml:"debounce"`
	MaxSenders int           `toml:"max_senders"`
}

// DefaultConfig returns the standard dispatcher tuning.
func DefaultConfig() Config {
	return Config{QueueSize: 1000, Debounce: 2 * time.Second, MaxSenders: 1000}
}

type item struct {
	msg      types.InboundMessage
	fut      Future
	reset    *ResetTarget
	sentinel bool
}

// Dispatcher serializes all message processing through one worker.
type Dispatcher struct {
	queue   chan item
	handler Handler
	config  Config
	done    chan struct{}
}

// New creates a dispatcher; call Run to start the worker.
func New(handler Handler, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.MaxSenders <= 0 {
		cfg.MaxSenders = def.MaxSenders
	}
	return &Dispatcher{
		queue:   make(chan item, cfg.QueueSize),
		handler: handler,
		config:  cfg,
		done:    make(chan struct{}),
	}
}

// Enqueue queues an inbound message. fut may be nil; HTTP-sourced messages
// skip debouncing so the caller gets its answer promptly.
func (d *Dispatcher) Enqueue(msg types.InboundMessage, fut Future) error {
	select {
	case d.queue <- item{msg: msg, fut: fut}:
		return nil
	default:
		L_error("dispatch: queue full, dropping message", "sender", msg.Sender)
		if fut != nil {
			fut <- Outcome{Err: ErrQueueFull}
		}
		return ErrQueueFull
	}
}

// EnqueueReset queues a reset command.
func (d *Dispatcher) EnqueueReset(target ResetTarget) error {
	select {
	case d.queue <- item{reset: &target}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown queues the stop sentinel; Run drains everything pending and
// returns. Blocks until the worker exits or the context ends.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	select {
	case d.queue <- item{sentinel: true}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the worker loop. Non-HTTP messages sit in a per-sender pending
// list until the sender has been quiet for the debounce window, then flush
// as one combined message.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	pending := newSenderLRU(d.config.MaxSenders)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case it := <-d.queue:
			switch {
			case it.sentinel:
				d.flushAll(ctx, pending)
				d.drain(ctx)
				L_info("dispatch: worker stopped")
				return

			case it.reset != nil:
				pending.remove(it.reset.Sender)
				if err := d.handler.Reset(ctx, *it.reset); err != nil {
					L_warn("dispatch: reset failed", "error", err)
				}

			case it.msg.Source == types.SourceHTTP:
				d.handler.Process(ctx, it.msg, it.fut)

			default:
				entry, evicted := pending.get(it.msg.Sender)
				if evicted != nil {
					L_warn("dispatch: sender table full, flushing coldest early",
						"sender", evicted.sender, "buffered", len(evicted.pending))
					d.process(ctx, evicted.pending)
				}
				entry.pending = append(entry.pending, it)
				entry.lastAt = time.Now()
			}

		case <-ticker.C:
			d.flushQuiet(ctx, pending)
		}
	}
}

func (d *Dispatcher) flushQuiet(ctx context.Context, pending *senderLRU) {
	now := time.Now()
	for sender, el := range pending.entries {
		entry := el.Value.(*lruEntry)
		if len(entry.pending) == 0 || now.Sub(entry.lastAt) < d.config.Debounce {
			continue
		}
		items := entry.pending
		entry.pending = nil
		pending.remove(sender)
		d.process(ctx, items)
	}
}

func (d *Dispatcher) flushAll(ctx context.Context, pending *senderLRU) {
	for _, el := range pending.entries {
		entry := el.Value.(*lruEntry)
		if len(entry.pending) > 0 {
			d.process(ctx, entry.pending)
		}
	}
}

// drain empties the queue during shutdown, processing immediately.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case it := <-d.queue:
			switch {
			case it.sentinel:
			case it.reset != nil:
				d.handler.Reset(ctx, *it.reset)
			default:
				d.handler.Process(ctx, it.msg, it.fut)
			}
		default:
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, items []item) {
	combined, fut := combine(items)
	d.handler.Process(ctx, combined, fut)
}

// combine merges a debounced burst into one message: texts joined with
// newlines, attachments concatenated. The first item decides the tier and
// notify metadata.
func combine(items []item) (types.InboundMessage, Future) {
	if len(items) == 1 {
		return items[0].msg, items[0].fut
	}

	first := items[0].msg
	var texts []string
	var attachments []types.Attachment
	var fut Future
	for _, it := range items {
		if t := strings.TrimSpace(it.msg.Text); t != "" {
			texts = append(texts, t)
		}
		attachments = append(attachments, it.msg.Attachments...)
		if fut == nil {
			fut = it.fut
		}
	}

	combined := first
	combined.Text = strings.Join(texts, "\n")
	combined.Attachments = attachments
	return combined, fut
}
