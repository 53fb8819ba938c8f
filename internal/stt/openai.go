package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

const openaiTranscriptionURL = "https://api.openai.com/v1/audio/transcriptions"

// OpenAIProvider transcribes via OpenAI's hosted Whisper API, which takes
// OGG/Opus directly so no local conversion is needed.
type OpenAIProvider struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

// NewOpenAIProvider creates a cloud transcription provider.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	L_info("stt: openai provider initialized", "model", model)
	return &OpenAIProvider{apiKey: cfg.APIKey, model: model, url: openaiTranscriptionURL, client: &http.Client{}}, nil
}

func (o *OpenAIProvider) Name() string { return "openai" }

// Transcribe posts the audio file as multipart form data.
func (o *OpenAIProvider) Transcribe(ctx context.Context, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy file to form: %w", err)
	}
	writer.WriteField("model", o.model)
	writer.WriteField("response_format", "text")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		L_error("stt: openai request failed", "status", resp.StatusCode, "body", string(body))
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("openai API error: %s", errResp.Error.Message)
		}
		return "", fmt.Errorf("openai API error: status %d", resp.StatusCode)
	}

	L_debug("stt: openai transcription complete", "length", len(body))
	return string(body), nil
}

// NewProvider builds the configured backend, or nil when disabled.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "whisper":
		return NewWhisperProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown stt backend %q", cfg.Backend)
	}
}
