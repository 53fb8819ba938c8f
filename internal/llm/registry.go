package llm

import (
	"fmt"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// Registry builds provider instances from config and routes purposes
// (chat, consolidation, synthesis, compaction, embeddings) to them.
type Registry struct {
	providers map[string]Provider
	routes    Routes
	embedder  EmbeddingProvider
}

// NewRegistry instantiates every configured provider and validates that the
// chat route resolves.
func NewRegistry(cfg Config) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider),
		routes:    cfg.Routes,
	}

	for name, pc := range cfg.Providers {
		provider, err := newProvider(name, pc)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		r.providers[name] = provider
		L_info("llm: provider registered", "name", name, "driver", pc.Driver, "model", pc.Model)
	}

	if cfg.Routes.Chat == "" {
		return nil, fmt.Errorf("no chat provider configured")
	}
	if _, ok := r.providers[cfg.Routes.Chat]; !ok {
		return nil, fmt.Errorf("chat route references unknown provider %q", cfg.Routes.Chat)
	}

	if name := cfg.Routes.Embeddings; name != "" {
		ep, ok := r.providers[name].(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("embeddings route %q does not support embeddings", name)
		}
		r.embedder = ep
	}

	return r, nil
}

func newProvider(name string, cfg ProviderConfig) (Provider, error) {
	switch cfg.Driver {
	case "anthropic":
		return NewAnthropicProvider(name, cfg), nil
	case "openai":
		return NewOpenAIProvider(name, cfg), nil
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

// Chat returns the main conversation provider.
func (r *Registry) Chat() Provider {
	return r.providers[r.routes.Chat]
}

// ForSource returns the chat provider for an ingress source, honoring any
// per-source override.
func (r *Registry) ForSource(source string) Provider {
	if name, ok := r.routes.BySource[source]; ok {
		return r.resolve(name)
	}
	return r.Chat()
}

// Vision returns the provider for messages carrying images.
func (r *Registry) Vision() Provider {
	return r.resolve(r.routes.Vision)
}

// Voice returns the provider for messages carrying voice notes.
func (r *Registry) Voice() Provider {
	return r.resolve(r.routes.Voice)
}

// Consolidation returns the provider for memory consolidation passes.
func (r *Registry) Consolidation() Provider {
	return r.resolve(r.routes.Consolidation)
}

// Synthesis returns the provider for recall synthesis.
func (r *Registry) Synthesis() Provider {
	return r.resolve(r.routes.Synthesis)
}

// Compaction returns the provider for session summarization.
func (r *Registry) Compaction() Provider {
	return r.resolve(r.routes.Compaction)
}

// Embedder returns the embedding provider, or nil when semantic recall is
// not configured.
func (r *Registry) Embedder() EmbeddingProvider {
	return r.embedder
}

func (r *Registry) resolve(name string) Provider {
	if name != "" {
		if p, ok := r.providers[name]; ok {
			return p
		}
		L_warn("llm: route references unknown provider, using chat", "name", name)
	}
	return r.Chat()
}
