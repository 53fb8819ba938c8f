// Package llm provides LLM provider implementations and routing.
package llm

import (
	"context"

	"github.com/lucyd-ai/lucyd/internal/types"
)

// Response is the normalized result of one provider call.
type Response struct {
	Text       string           // accumulated text content
	StopReason string           // "end_turn", "tool_use", "max_tokens", ...
	ToolCalls  []types.ToolCall // tool invocations requested by the model
	Usage      types.Usage
}

// HasToolCalls reports whether the model requested any tool invocations.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Provider is the transport-neutral LLM interface. Implementations convert
// the shared message/tool shapes to their wire format and back, so callers
// never see provider SDK types.
type Provider interface {
	// Name identifies the provider instance for logs and the cost ledger.
	Name() string

	// Model returns the configured model identifier.
	Model() string

	// IsAvailable reports whether the provider is configured (API key set).
	IsAvailable() bool

	// Complete sends a full conversation and returns the model's reply.
	// System blocks are ordered stable -> semi_stable -> dynamic; providers
	// that support prompt caching mark the cacheable tiers.
	Complete(ctx context.Context, system []types.SystemBlock, messages []types.Message, tools []types.ToolDefinition) (*Response, error)

	// SimpleMessage is a one-shot prompt with no history or tools, used by
	// consolidation, synthesis and summarization.
	SimpleMessage(ctx context.Context, system, prompt string) (string, error)
}

// EmbeddingProvider produces embedding vectors for semantic recall.
type EmbeddingProvider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}
