// Package agent runs the model/tool loop: complete, execute requested
// tools, feed results back, repeat until the model stops or a limit trips.
package agent

import (
	"context"
	"fmt"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/llm"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// Executor runs one tool call. Failures come back as an error-flagged
// result, never as a Go error; the loop always continues.
type Executor interface {
	Execute(ctx context.Context, call types.ToolCall) types.ToolResult
}

// Config bounds a single loop run.
type Config struct {
	MaxTurns int           `toml:"max_turns"`
	MaxCost  float64       `toml:"max_cost"` // dollars, 0 disables
	Timeout  time.Duration `toml:"timeout"`

	// PriorSpend is the session's accumulated cost before this run.
	// MaxCost bounds PriorSpend plus the run's own cost, so a long
	// session runs out of budget across invocations, not per turn batch.
	PriorSpend float64 `toml:"-"`
}

// DefaultConfig returns the standard loop bounds.
func DefaultConfig() Config {
	return Config{MaxTurns: 24, MaxCost: 2.0, Timeout: 5 * time.Minute}
}

// Callbacks let the pipeline observe the loop mid-flight. All fields are
// optional.
type Callbacks struct {
	// OnResponse fires after every completion.
	OnResponse func(resp *llm.Response)
	// OnToolResults fires after a batch of tool executions.
	OnToolResults func(results []types.ToolResult)
	// RecordCost converts a turn's usage into dollars and persists it.
	RecordCost func(usage types.Usage) float64
}

// Result is the outcome of one loop run. Messages holds the full message
// slice including everything the loop appended.
type Result struct {
	Messages    []types.Message
	Text        string
	StopReason  string
	Usage       types.Usage
	Cost        float64
	Turns       int
	CostLimited bool
}

// Run drives the loop until the model returns a terminal stop reason or a
// configured limit trips. The returned Result is valid even when err is
// non-nil partway through.
func Run(ctx context.Context, provider llm.Provider, system []types.SystemBlock, messages []types.Message, tools []types.ToolDefinition, executor Executor, cfg Config, cb Callbacks) (*Result, error) {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	result := &Result{Messages: messages}

	if cfg.MaxCost > 0 && cfg.PriorSpend >= cfg.MaxCost {
		L_warn("loop not started, session over budget", "spent", cfg.PriorSpend, "limit", cfg.MaxCost)
		result.CostLimited = true
		result.StopReason = "cost_limit"
		return result, nil
	}

	for result.Turns < cfg.MaxTurns {
		result.Turns++

		resp, err := provider.Complete(ctx, system, result.Messages, tools)
		if err != nil {
			return result, fmt.Errorf("turn %d: %w", result.Turns, err)
		}

		result.Usage.Add(resp.Usage)
		if cb.RecordCost != nil {
			result.Cost += cb.RecordCost(resp.Usage)
		}
		if cb.OnResponse != nil {
			cb.OnResponse(resp)
		}
		result.Text = resp.Text
		result.StopReason = resp.StopReason

		if !resp.HasToolCalls() {
			result.Messages = append(result.Messages, types.AssistantMessage(resp.Text))
			L_debug("loop done", "turns", result.Turns, "stop", resp.StopReason, "cost", result.Cost)
			return result, nil
		}

		result.Messages = append(result.Messages, types.Message{
			Role:      types.RoleAssistant,
			Content:   types.PlainText(resp.Text),
			ToolCalls: resp.ToolCalls,
			Timestamp: time.Now(),
		})

		results := make([]types.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			L_info("tool call", "tool", call.Name, "turn", result.Turns)
			results = append(results, executor.Execute(ctx, call))
		}
		result.Messages = append(result.Messages, types.ToolResultsMessage(results))
		if cb.OnToolResults != nil {
			cb.OnToolResults(results)
		}

		if cfg.MaxCost > 0 && cfg.PriorSpend+result.Cost >= cfg.MaxCost {
			L_warn("loop cost limit reached", "cost", cfg.PriorSpend+result.Cost, "limit", cfg.MaxCost)
			result.CostLimited = true
			result.StopReason = "cost_limit"
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("loop timed out after %d turns: %w", result.Turns, err)
		}
	}

	L_warn("loop turn limit reached", "turns", result.Turns)
	result.StopReason = "max_turns"
	return result, nil
}
