package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// WebhookConfig points replies at an external consumer.
type WebhookConfig struct {
	URL         string `toml:"url"`
	BearerToken string `toml:"bearer_token"`
}

// Notification is the payload posted after every processed message.
type Notification struct {
	TurnID     string            `json:"turn_id"`
	Reply      string            `json:"reply"`
	SessionID  string            `json:"session_id"`
	Sender     string            `json:"sender"`
	Source     string            `json:"source"`
	Silent     bool              `json:"silent"`
	Tokens     types.Usage       `json:"tokens"`
	NotifyMeta map[string]string `json:"notify_meta,omitempty"`
}

// Notifier posts notifications; failures are logged, never fatal.
type Notifier struct {
	config WebhookConfig
	client *http.Client
}

// NewNotifier returns nil when no URL is configured.
func NewNotifier(cfg WebhookConfig) *Notifier {
	if cfg.URL == "" {
		return nil
	}
	return &Notifier{config: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

// Notify posts one notification.
func (n *Notifier) Notify(ctx context.Context, note Notification) {
	body, err := json.Marshal(note)
	if err != nil {
		L_error("webhook: marshal failed", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, "POST", n.config.URL, bytes.NewReader(body))
	if err != nil {
		L_error("webhook: request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.config.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.config.BearerToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		L_warn("webhook: post failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		L_warn("webhook: non-2xx response", "status", fmt.Sprintf("%d", resp.StatusCode))
		return
	}
	L_trace("webhook: delivered", "session", note.SessionID, "silent", note.Silent)
}
