package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucyd-ai/lucyd/internal/cost"
	"github.com/lucyd-ai/lucyd/internal/dispatch"
	"github.com/lucyd-ai/lucyd/internal/session"
	"github.com/lucyd-ai/lucyd/internal/types"
)

type echoHandler struct{}

func (echoHandler) Process(ctx context.Context, msg types.InboundMessage, fut dispatch.Future) {
	if fut != nil {
		fut <- dispatch.Outcome{
			Reply:     "echo: " + msg.Text,
			SessionID: "sess-1",
			Usage:     types.Usage{InputTokens: 10, OutputTokens: 3},
		}
	}
}

func (echoHandler) Reset(ctx context.Context, target dispatch.ResetTarget) error { return nil }

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	d := dispatch.New(echoHandler{}, dispatch.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	mgr, err := session.NewManager(t.TempDir(), session.Config{})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return New(Config{BearerToken: token, ChatTimeout: 5 * time.Second}, d, mgr, nil)
}

func TestChatRoundTrip(t *testing.T) {
	s := newTestServer(t, "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json",
		strings.NewReader(`{"text": "hello", "sender": "alice"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Reply != "echo: hello" || out.SessionID != "sess-1" || out.Tokens.InputTokens != 10 {
		t.Errorf("response = %+v", out)
	}
}

func TestChatValidation(t *testing.T) {
	s := newTestServer(t, "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, _ := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"text": ""}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty body status = %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/chat")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", resp.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(t, "sekrit")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, _ := http.Get(ts.URL + "/status")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", ts.URL+"/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token status = %d", resp.StatusCode)
	}
}

func TestReadOnlyViews(t *testing.T) {
	s := newTestServer(t, "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	var infos []session.Info
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	resp.Body.Close()
	if len(infos) != 0 {
		t.Errorf("sessions = %+v", infos)
	}

	resp, err = http.Get(ts.URL + "/cost")
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	var costs map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&costs); err != nil {
		t.Fatalf("decode cost: %v", err)
	}
	resp.Body.Close()
	if _, ok := costs["today"]; !ok {
		t.Errorf("cost view = %v", costs)
	}
	if _, ok := costs["by_model"]; !ok {
		t.Errorf("cost view missing by_model: %v", costs)
	}
}

func TestCostViewAggregatesByModel(t *testing.T) {
	d := dispatch.New(echoHandler{}, dispatch.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	mgr, err := session.NewManager(t.TempDir(), session.Config{})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	ledger, err := cost.Open(filepath.Join(t.TempDir(), "cost.db"))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	rates := cost.Rates{Input: 3, Output: 15}
	if _, err := ledger.Record("sess-1", "haiku", types.Usage{InputTokens: 1000, OutputTokens: 100}, rates); err != nil {
		t.Fatalf("record: %v", err)
	}

	s := New(Config{ChatTimeout: 5 * time.Second}, d, mgr, ledger)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/cost")
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		ByModel map[string]cost.Summary `json:"by_model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum, ok := out.ByModel["haiku"]; !ok || sum.Requests != 1 {
		t.Errorf("by_model = %+v", out.ByModel)
	}
}
