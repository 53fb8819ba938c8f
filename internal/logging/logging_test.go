package logging_test

import (
	"testing"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// Config mirrors the package-level config structs declared by packages that
// dot-import logging. Declaring it here guarantees the logging package never
// exports a name that shadows it.
type Config struct {
	Threshold int
}

// DefaultConfig likewise must stay free for dot-importers.
func DefaultConfig() Config {
	return Config{Threshold: 1}
}

func TestDotImportLeavesConfigFree(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Threshold != 1 {
		t.Fatalf("config = %+v", cfg)
	}

	Init(&Options{Level: LevelFromString("debug")})
	L_debug("dot-import smoke test", "threshold", cfg.Threshold)
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]int{
		"trace":    LevelTrace,
		"debug":    LevelDebug,
		"INFO":     LevelInfo,
		"warn":     LevelWarn,
		"warning":  LevelWarn,
		"error":    LevelError,
		"fatal":    LevelFatal,
		"":         LevelInfo,
		"verbose":  LevelInfo,
	}
	for in, want := range cases {
		if got := LevelFromString(in); got != want {
			t.Errorf("LevelFromString(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.Level != LevelInfo || opts.TimeFormat == "" {
		t.Errorf("defaults = %+v", opts)
	}
}
