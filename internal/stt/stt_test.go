package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewProviderSwitch(t *testing.T) {
	p, err := NewProvider(Config{})
	if p != nil || err != nil {
		t.Errorf("empty backend: p=%v err=%v", p, err)
	}
	if _, err := NewProvider(Config{Backend: "bogus"}); err == nil {
		t.Error("unknown backend should error")
	}
	if _, err := NewProvider(Config{Backend: "openai"}); err == nil {
		t.Error("openai backend without key should error")
	}
	if _, err := NewProvider(Config{Backend: "whisper"}); err == nil {
		t.Error("whisper backend without url should error")
	}
}

func TestOpenAITranscribe(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotModel = r.FormValue("model")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("form file: %v", err)
		}
		w.Write([]byte("hello from the recording"))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	p.url = srv.URL

	audio := filepath.Join(t.TempDir(), "voice.ogg")
	os.WriteFile(audio, []byte("fake-ogg-bytes"), 0o644)

	text, err := p.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello from the recording" {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer sk-test" || gotModel != "whisper-1" {
		t.Errorf("auth=%q model=%q", gotAuth, gotModel)
	}
}

func TestOpenAITranscribeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider(Config{APIKey: "sk-test"})
	p.url = srv.URL

	audio := filepath.Join(t.TempDir(), "voice.ogg")
	os.WriteFile(audio, []byte("bytes"), 0o644)

	_, err := p.Transcribe(context.Background(), audio)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("err = %v", err)
	}
}
