// Package config loads the root TOML configuration and composes the
// per-package configs. Precedence: built-in defaults < config file <
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"

	"github.com/lucyd-ai/lucyd/internal/agent"
	"github.com/lucyd-ai/lucyd/internal/channel/telegram"
	"github.com/lucyd-ai/lucyd/internal/consolidate"
	"github.com/lucyd-ai/lucyd/internal/cost"
	"github.com/lucyd-ai/lucyd/internal/dispatch"
	"github.com/lucyd-ai/lucyd/internal/httpapi"
	"github.com/lucyd-ai/lucyd/internal/llm"
	"github.com/lucyd-ai/lucyd/internal/pipeline"
	"github.com/lucyd-ai/lucyd/internal/prompt"
	"github.com/lucyd-ai/lucyd/internal/recall"
	"github.com/lucyd-ai/lucyd/internal/session"
	"github.com/lucyd-ai/lucyd/internal/stt"
)

// MemoryConfig gates the structured-memory subsystem.
type MemoryConfig struct {
	Enabled     bool               `toml:"enabled"`
	Consolidate consolidate.Config `toml:"consolidate"`
}

// Timing holds the duration knobs in plain units, since TOML has no
// duration type. Zero means "use the package default".
type Timing struct {
	DebounceMS     int `toml:"debounce_ms"`
	AgentTimeoutS  int `toml:"agent_timeout_s"`
	RetryBackoffMS int `toml:"retry_backoff_ms"`
	ChatTimeoutS   int `toml:"chat_timeout_s"`
}

// Config is the root configuration.
type Config struct {
	AgentDir     string `toml:"agent_dir"`
	LogLevel     string `toml:"log_level"`
	Owner        string `toml:"owner"`         // contact that receives scheduled reminders
	MaxSchedules int    `toml:"max_schedules"` // cap on armed reminders plus cron jobs, 0 = default

	LLM      llm.Config             `toml:"llm"`
	Session  session.Config         `toml:"session"`
	Prompt   prompt.Config          `toml:"prompt"`
	Recall   recall.Config          `toml:"recall"`
	Memory   MemoryConfig           `toml:"memory"`
	Agent    agent.Config           `toml:"agent"`
	Dispatch dispatch.Config        `toml:"dispatch"`
	Pipeline pipeline.Config        `toml:"pipeline"`
	STT      stt.Config             `toml:"stt"`
	Telegram telegram.Config        `toml:"telegram"`
	HTTP     httpapi.Config         `toml:"http"`
	Webhook  pipeline.WebhookConfig `toml:"webhook"`
	Rates    cost.Rates             `toml:"rates"`
	Timing   Timing                 `toml:"timing"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AgentDir: "~/.lucyd",
		LogLevel: "info",
		Session:  session.Config{CompactionThreshold: 120_000, KeepRecent: 4},
		Prompt: prompt.Config{
			PersonaFiles: []string{"SOUL.md", "IDENTITY.md", "USER.md"},
			MemoryFiles:  []string{"MEMORY.md"},
		},
		Recall:   recall.DefaultConfig(),
		Memory:   MemoryConfig{Enabled: true, Consolidate: consolidate.DefaultConfig()},
		Agent:    agent.DefaultConfig(),
		Dispatch: dispatch.DefaultConfig(),
		Pipeline: pipeline.DefaultConfig(),
		Rates:    cost.Rates{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
	}
}

// Load reads the config file (missing file means pure defaults), fills the
// gaps from Default, then applies environment overrides.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, fmt.Errorf("merge defaults: %w", err)
	}
	cfg.applyTiming()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyTiming() {
	if c.Timing.DebounceMS > 0 {
		c.Dispatch.Debounce = time.Duration(c.Timing.DebounceMS) * time.Millisecond
	}
	if c.Timing.AgentTimeoutS > 0 {
		c.Agent.Timeout = time.Duration(c.Timing.AgentTimeoutS) * time.Second
	}
	if c.Timing.RetryBackoffMS > 0 {
		c.Pipeline.RetryBackoff = time.Duration(c.Timing.RetryBackoffMS) * time.Millisecond
	}
	if c.Timing.ChatTimeoutS > 0 {
		c.HTTP.ChatTimeout = time.Duration(c.Timing.ChatTimeoutS) * time.Second
	}
}

// applyEnv fills secrets from the environment so they can stay out of the
// config file: LUCYD_TELEGRAM_TOKEN, LUCYD_STT_API_KEY, and per-provider
// API keys via LUCYD_<PROVIDER>_API_KEY or the driver's conventional
// variable (ANTHROPIC_API_KEY, OPENAI_API_KEY).
func (c *Config) applyEnv() {
	if v := os.Getenv("LUCYD_TELEGRAM_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("LUCYD_STT_API_KEY"); v != "" {
		c.STT.APIKey = v
	}
	if v := os.Getenv("LUCYD_HTTP_BEARER_TOKEN"); v != "" {
		c.HTTP.BearerToken = v
	}
	if v := os.Getenv("LUCYD_WEBHOOK_BEARER_TOKEN"); v != "" {
		c.Webhook.BearerToken = v
	}

	for name, pc := range c.LLM.Providers {
		if pc.APIKey != "" {
			continue
		}
		envName := "LUCYD_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_API_KEY"
		if v := os.Getenv(envName); v != "" {
			pc.APIKey = v
		} else {
			switch pc.Driver {
			case "anthropic":
				pc.APIKey = os.Getenv("ANTHROPIC_API_KEY")
			case "openai":
				pc.APIKey = os.Getenv("OPENAI_API_KEY")
			}
		}
		c.LLM.Providers[name] = pc
	}
}
