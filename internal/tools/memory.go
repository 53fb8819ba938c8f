package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucyd-ai/lucyd/internal/memory"
	"github.com/lucyd-ai/lucyd/internal/recall"
)

// MemorySearchTool runs an on-demand recall pass over the memory store,
// for when the injected recall dropped a section the agent needs.
type MemorySearchTool struct {
	engine *recall.Engine
}

// NewMemorySearchTool creates the memory_search tool.
func NewMemorySearchTool(engine *recall.Engine) *MemorySearchTool {
	return &MemorySearchTool{engine: engine}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory for facts, past conversations, notes and open commitments. Use when the recalled context mentions dropped sections or when the user refers to something you don't see."
}

func (t *MemorySearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to look up, e.g. a person, project or topic",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if params.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	out := t.engine.Recall(ctx, params.Query)
	if out == "" {
		return "Nothing stored about that.", nil
	}
	return out, nil
}

// RememberTool stores a fact directly, bypassing consolidation.
type RememberTool struct {
	store *memory.Store
}

// NewRememberTool creates the remember tool.
func NewRememberTool(store *memory.Store) *RememberTool {
	return &RememberTool{store: store}
}

func (t *RememberTool) Name() string { return "remember" }

func (t *RememberTool) Description() string {
	return "Store a durable fact immediately. Use for things the user explicitly asks you to remember."
}

func (t *RememberTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entity":    map[string]any{"type": "string", "description": "Who or what the fact is about"},
			"attribute": map[string]any{"type": "string", "description": "The property name, e.g. birthday"},
			"value":     map[string]any{"type": "string", "description": "The value"},
		},
		"required": []string{"entity", "attribute", "value"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Entity    string `json:"entity"`
		Attribute string `json:"attribute"`
		Value     string `json:"value"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if params.Entity == "" || params.Attribute == "" || params.Value == "" {
		return "", fmt.Errorf("entity, attribute and value are required")
	}

	entity := t.store.ResolveAlias(memory.NormalizeKey(params.Entity))
	if err := t.store.UpsertFact(entity, params.Attribute, params.Value, 1.0, "tool:remember"); err != nil {
		return "", fmt.Errorf("store fact: %w", err)
	}
	return fmt.Sprintf("Stored %s.%s = %s", entity, memory.NormalizeKey(params.Attribute), params.Value), nil
}

// CommitmentTool lists and resolves open commitments.
type CommitmentTool struct {
	store *memory.Store
}

// NewCommitmentTool creates the commitments tool.
func NewCommitmentTool(store *memory.Store) *CommitmentTool {
	return &CommitmentTool{store: store}
}

func (t *CommitmentTool) Name() string { return "commitments" }

func (t *CommitmentTool) Description() string {
	return "List open commitments or mark one done, expired or cancelled."
}

func (t *CommitmentTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"list", "done", "expired", "cancelled"},
			},
			"id": map[string]any{
				"type":        "integer",
				"description": "Commitment id, required for anything but list",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CommitmentTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Action string `json:"action"`
		ID     int64  `json:"id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	switch params.Action {
	case "list", "":
		open, err := t.store.ListOpenCommitments()
		if err != nil {
			return "", fmt.Errorf("list commitments: %w", err)
		}
		if len(open) == 0 {
			return "No open commitments.", nil
		}
		var b strings.Builder
		for _, c := range open {
			fmt.Fprintf(&b, "#%d %s: %s", c.ID, c.Subject, c.Obligation)
			if c.Deadline != "" {
				fmt.Fprintf(&b, " (by %s)", c.Deadline)
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil

	case memory.StatusDone, memory.StatusExpired, memory.StatusCancelled:
		if params.ID == 0 {
			return "", fmt.Errorf("id is required")
		}
		if err := t.store.UpdateCommitmentStatus(params.ID, params.Action); err != nil {
			return "", fmt.Errorf("update commitment: %w", err)
		}
		return fmt.Sprintf("Commitment #%d marked %s.", params.ID, params.Action), nil

	default:
		return "", fmt.Errorf("unknown action %q", params.Action)
	}
}
