// Package tools provides the tool execution framework and the built-in
// tools the agent can call.
package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// Tool is the interface every tool implements.
type Tool interface {
	// Name returns the unique tool name.
	Name() string

	// Description returns the description handed to the model.
	Description() string

	// Schema returns the JSON Schema for the tool's input.
	Schema() map[string]any

	// Execute runs the tool. Errors become error-flagged tool results.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Brief returns the first sentence of a tool's description, used for the
// tool index in the system prompt.
func Brief(t Tool) string {
	desc := t.Description()
	if i := strings.IndexAny(desc, ".!"); i > 0 {
		return desc[:i+1]
	}
	return desc
}
