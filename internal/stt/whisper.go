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
	"os/exec"
	"path/filepath"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// WhisperProvider sends audio to a local whisper-server instance. Inputs
// are first converted with ffmpeg to the 16kHz mono WAV the server wants.
type WhisperProvider struct {
	url    string
	client *http.Client
}

// NewWhisperProvider creates a local-whisper provider.
func NewWhisperProvider(cfg Config) (*WhisperProvider, error) {
	if cfg.WhisperURL == "" {
		return nil, fmt.Errorf("whisper_url not configured")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	L_info("stt: whisper provider initialized", "url", cfg.WhisperURL)
	return &WhisperProvider{url: cfg.WhisperURL, client: &http.Client{}}, nil
}

func (w *WhisperProvider) Name() string { return "whisper" }

// Transcribe converts the file to 16kHz mono WAV and posts it to the
// whisper server's /inference endpoint.
func (w *WhisperProvider) Transcribe(ctx context.Context, filePath string) (string, error) {
	wavPath, err := convertToWAV(ctx, filePath)
	if err != nil {
		return "", err
	}
	defer os.Remove(wavPath)

	wav, err := os.Open(wavPath)
	if err != nil {
		return "", fmt.Errorf("open converted audio: %w", err)
	}
	defer wav.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, wav); err != nil {
		return "", fmt.Errorf("copy audio to form: %w", err)
	}
	writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url+"/inference", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read whisper response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		L_error("stt: whisper request failed", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("whisper server: status %d", resp.StatusCode)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse whisper response: %w", err)
	}
	L_debug("stt: whisper transcription complete", "length", len(parsed.Text))
	return parsed.Text, nil
}

// convertToWAV shells out to ffmpeg for a 16kHz mono PCM WAV.
func convertToWAV(ctx context.Context, inPath string) (string, error) {
	out, err := os.CreateTemp("", "lucyd-stt-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}
	out.Close()

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-i", inPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		out.Name())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(out.Name())
		L_error("stt: ffmpeg failed", "error", err, "stderr", stderr.String())
		return "", fmt.Errorf("ffmpeg conversion: %w", err)
	}
	return out.Name(), nil
}
