package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// Registry holds the registered tools and executes calls from the loop.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	L_debug("tool registered", "name", tool.Name())
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all tools in API schema form, sorted by name.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, types.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Briefs returns (name, first sentence) pairs for the system prompt.
func (r *Registry) Briefs() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	briefs := make(map[string]string, len(r.tools))
	for name, t := range r.tools {
		briefs[name] = Brief(t)
	}
	return briefs
}

// Execute satisfies the agent loop's Executor. Unknown tools, tool errors
// and panics all come back as error-flagged results so the loop keeps
// going.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) (result types.ToolResult) {
	result.ToolUseID = call.ID

	defer func() {
		if rec := recover(); rec != nil {
			L_error("tool panicked", "tool", call.Name, "panic", rec)
			result.Content = fmt.Sprintf("tool %s panicked: %v", call.Name, rec)
			result.IsError = true
		}
	}()

	tool, ok := r.Get(call.Name)
	if !ok {
		result.Content = fmt.Sprintf("unknown tool: %s", call.Name)
		result.IsError = true
		return result
	}

	out, err := tool.Execute(ctx, call.Input)
	if err != nil {
		L_warn("tool failed", "tool", call.Name, "error", err)
		result.Content = err.Error()
		result.IsError = true
		return result
	}
	if out == "" {
		out = "(no output)"
	}
	result.Content = out
	return result
}
