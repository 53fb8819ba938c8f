// Package types contains shared types used across multiple packages.
// This avoids import cycles between packages like llm, session and pipeline.
package types

import (
	"encoding/json"
	"time"
)

// Message roles. A tool_results message collects the results of all tool
// calls issued by the preceding assistant message.
const (
	RoleUser        = "user"
	RoleAssistant   = "assistant"
	RoleToolResults = "tool_results"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult pairs a tool call with its textual output.
type ToolResult struct {
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
	IsError   bool   `json:"isError,omitempty"`
}

// Message is a single entry in a session's message log.
type Message struct {
	Role        string       `json:"role"`
	Content     Content      `json:"content"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	From        string       `json:"from,omitempty"` // sender label for user messages
	Timestamp   time.Time    `json:"timestamp"`
}

// UserMessage creates a plain user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: PlainText(text), Timestamp: time.Now()}
}

// AssistantMessage creates a plain assistant message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: PlainText(text), Timestamp: time.Now()}
}

// ToolResultsMessage creates a tool_results message.
func ToolResultsMessage(results []ToolResult) Message {
	return Message{Role: RoleToolResults, ToolResults: results, Timestamp: time.Now()}
}

// Usage holds token accounting for one provider call.
type Usage struct {
	InputTokens      int `json:"inputTokens"`
	OutputTokens     int `json:"outputTokens"`
	CacheReadTokens  int `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int `json:"cacheWriteTokens,omitempty"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// ToolDefinition is the schema handed to LLM APIs for tool calling.
// It lives in types to break the llm -> tools import cycle.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}
