// Package channel defines the transport interface the daemon speaks to
// messaging networks through.
package channel

import (
	"context"

	"github.com/lucyd-ai/lucyd/internal/types"
)

// Channel is a bidirectional transport adapter. Implementations deliver
// inbound traffic on Receive and accept outbound replies via Send.
type Channel interface {
	// Name returns the transport identifier (e.g. "telegram").
	Name() string

	// Connect starts the transport. Inbound messages begin flowing on the
	// Receive channel once Connect returns.
	Connect(ctx context.Context) error

	// Receive returns the inbound message stream. Closed on Disconnect.
	Receive() <-chan types.InboundMessage

	// Send delivers a reply to a sender.
	Send(ctx context.Context, recipient, text string) error

	// SendTyping shows a typing indicator, best-effort.
	SendTyping(ctx context.Context, recipient string)

	// SendReaction attaches an emoji reaction to the message identified by
	// the inbound timestamp.
	SendReaction(ctx context.Context, recipient string, timestamp int64, emoji string) error

	// Disconnect stops the transport and closes the Receive stream.
	Disconnect() error
}
