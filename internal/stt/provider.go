// Package stt transcribes voice attachments to text.
package stt

import "context"

// Provider is the interface for transcription backends.
type Provider interface {
	// Transcribe converts an audio file (OGG, WAV, MP3, ...) to text.
	Transcribe(ctx context.Context, filePath string) (string, error)

	// Name returns the backend name (e.g. "whisper", "openai").
	Name() string
}

// Config selects and configures the transcription backend.
type Config struct {
	Backend string `toml:"backend"` // "whisper", "openai" or "" to disable

	// whisper backend: a local whisper-server endpoint
	WhisperURL string `toml:"whisper_url"`

	// openai backend
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}
