package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lucyd-ai/lucyd/internal/types"
)

// ControlItem is one parsed control-pipe line: either a message to enqueue
// or a reset command.
type ControlItem struct {
	Message *types.InboundMessage
	Reset   *ResetTarget
}

// ParseControlLine validates one JSON line from the control pipe.
// Accepted shapes:
//
//	{"text": "...", "sender": "...", "source": "system", ...}
//	{"type": "reset", "sender": "..."} | {"type": "reset", "session_id": "..."} | {"type": "reset", "all": true}
//	{"reset": "sender-or-all", ...}
//	{"reset_session": "session-id"}
func ParseControlLine(line string) (*ControlItem, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty line")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("control line must be a JSON object: %w", err)
	}

	if t, ok := raw["type"]; ok {
		var kind string
		if err := json.Unmarshal(t, &kind); err != nil {
			return nil, fmt.Errorf("type must be a string: %w", err)
		}
		switch kind {
		case "reset":
			var cmd struct {
				Sender    string `json:"sender"`
				SessionID string `json:"session_id"`
				All       bool   `json:"all"`
			}
			if err := json.Unmarshal([]byte(line), &cmd); err != nil {
				return nil, fmt.Errorf("malformed reset: %w", err)
			}
			switch {
			case cmd.All:
				return &ControlItem{Reset: &ResetTarget{All: true}}, nil
			case cmd.SessionID != "":
				return &ControlItem{Reset: &ResetTarget{SessionID: cmd.SessionID}}, nil
			case cmd.Sender != "":
				return &ControlItem{Reset: &ResetTarget{Sender: cmd.Sender}}, nil
			}
			return nil, fmt.Errorf("reset requires sender, session_id or all")
		case "message":
			// falls through to the message branch below
		default:
			return nil, fmt.Errorf("unknown control type %q", kind)
		}
	}

	if r, ok := raw["reset"]; ok {
		var target string
		if err := json.Unmarshal(r, &target); err != nil {
			return nil, fmt.Errorf("reset must be a string: %w", err)
		}
		if target == "all" {
			return &ControlItem{Reset: &ResetTarget{All: true}}, nil
		}
		return &ControlItem{Reset: &ResetTarget{Sender: target}}, nil
	}
	if r, ok := raw["reset_session"]; ok {
		var id string
		if err := json.Unmarshal(r, &id); err != nil {
			return nil, fmt.Errorf("reset_session must be a string: %w", err)
		}
		return &ControlItem{Reset: &ResetTarget{SessionID: id}}, nil
	}

	var msg struct {
		Text        string             `json:"text"`
		Sender      string             `json:"sender"`
		Source      string             `json:"source"`
		Tier        string             `json:"tier"`
		Notify      map[string]string  `json:"notify_meta"`
		Attachments []types.Attachment `json:"attachments"`
	}
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if msg.Text == "" || msg.Sender == "" {
		return nil, fmt.Errorf("message requires text and sender")
	}
	if msg.Source == "" {
		msg.Source = types.SourceSystem
	}

	return &ControlItem{Message: &types.InboundMessage{
		Text:        msg.Text,
		Sender:      msg.Sender,
		Source:      msg.Source,
		Tier:        msg.Tier,
		NotifyMeta:  msg.Notify,
		Attachments: msg.Attachments,
		Timestamp:   time.Now().Unix(),
	}}, nil
}
