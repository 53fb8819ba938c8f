package llm

// ProviderConfig configures a single provider instance.
type ProviderConfig struct {
	Driver         string `toml:"driver"` // "anthropic" or "openai"
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url,omitempty"` // for compatible endpoints
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model,omitempty"`
	MaxTokens      int    `toml:"max_tokens,omitempty"`
}

// Routes names the provider instance used for each purpose. Empty entries
// fall back to Chat.
type Routes struct {
	Chat          string `toml:"chat"`
	Consolidation string `toml:"consolidation,omitempty"`
	Synthesis     string `toml:"synthesis,omitempty"`
	Compaction    string `toml:"compaction,omitempty"`
	Embeddings    string `toml:"embeddings,omitempty"`

	// Vision and Voice pick providers for messages carrying images or voice
	// notes. BySource overrides the chat provider per ingress source
	// ("cron", "http", ...).
	Vision   string            `toml:"vision,omitempty"`
	Voice    string            `toml:"voice,omitempty"`
	BySource map[string]string `toml:"by_source,omitempty"`
}

// Config holds all provider instances and purpose routing.
type Config struct {
	Providers map[string]ProviderConfig `toml:"providers"`
	Routes    Routes                    `toml:"routes"`
}
