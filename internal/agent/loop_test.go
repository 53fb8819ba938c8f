package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/lucyd-ai/lucyd/internal/llm"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// turnProvider replays a scripted list of responses.
type turnProvider struct {
	responses []*llm.Response
	err       error
	calls     int
}

func (p *turnProvider) Name() string      { return "turns" }
func (p *turnProvider) Model() string     { return "turns-model" }
func (p *turnProvider) IsAvailable() bool { return true }
func (p *turnProvider) Complete(ctx context.Context, system []types.SystemBlock, messages []types.Message, tools []types.ToolDefinition) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}
func (p *turnProvider) SimpleMessage(ctx context.Context, system, prompt string) (string, error) {
	return "", errors.New("not used")
}

type mapExecutor struct {
	outputs map[string]string
	failing map[string]bool
	calls   []string
}

func (e *mapExecutor) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	e.calls = append(e.calls, call.Name)
	if e.failing[call.Name] {
		return types.ToolResult{ToolUseID: call.ID, Content: "tool blew up", IsError: true}
	}
	return types.ToolResult{ToolUseID: call.ID, Content: e.outputs[call.Name]}
}

func toolUse(id, name, args string) *llm.Response {
	return &llm.Response{
		StopReason: "tool_use",
		ToolCalls:  []types.ToolCall{{ID: id, Name: name, Input: json.RawMessage(args)}},
		Usage:      types.Usage{InputTokens: 100, OutputTokens: 20},
	}
}

func endTurn(text string) *llm.Response {
	return &llm.Response{
		Text:       text,
		StopReason: "end_turn",
		Usage:      types.Usage{InputTokens: 120, OutputTokens: 30},
	}
}

func TestRunToolRoundTrip(t *testing.T) {
	provider := &turnProvider{responses: []*llm.Response{
		toolUse("t1", "clock", `{}`),
		endTurn("It is noon."),
	}}
	exec := &mapExecutor{outputs: map[string]string{"clock": "12:00"}}

	start := []types.Message{types.UserMessage("what time is it?")}
	res, err := Run(context.Background(), provider, nil, start, nil, exec, Config{MaxTurns: 5}, Callbacks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Text != "It is noon." || res.StopReason != "end_turn" || res.Turns != 2 {
		t.Errorf("result = %+v", res)
	}
	// user, assistant(tool call), tool_results, assistant(text)
	if len(res.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(res.Messages))
	}
	if res.Messages[1].Role != types.RoleAssistant || len(res.Messages[1].ToolCalls) != 1 {
		t.Errorf("assistant tool-call message = %+v", res.Messages[1])
	}
	if res.Messages[2].Role != types.RoleToolResults || res.Messages[2].ToolResults[0].Content != "12:00" {
		t.Errorf("tool results message = %+v", res.Messages[2])
	}
	if res.Usage.InputTokens != 220 || res.Usage.OutputTokens != 50 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestRunToolFailureContinues(t *testing.T) {
	provider := &turnProvider{responses: []*llm.Response{
		toolUse("t1", "broken", `{}`),
		endTurn("The tool failed, sorry."),
	}}
	exec := &mapExecutor{failing: map[string]bool{"broken": true}}

	res, err := Run(context.Background(), provider, nil, nil, nil, exec, Config{MaxTurns: 5}, Callbacks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Messages[1].ToolResults[0].IsError {
		t.Error("failing tool should produce an error-flagged result")
	}
	if res.Text != "The tool failed, sorry." {
		t.Errorf("loop should continue past tool failure, text = %q", res.Text)
	}
}

func TestRunMaxTurns(t *testing.T) {
	provider := &turnProvider{responses: []*llm.Response{toolUse("t1", "clock", `{}`)}}
	exec := &mapExecutor{outputs: map[string]string{"clock": "12:00"}}

	res, err := Run(context.Background(), provider, nil, nil, nil, exec, Config{MaxTurns: 3}, Callbacks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Turns != 3 || res.StopReason != "max_turns" {
		t.Errorf("result = %+v", res)
	}
}

func TestRunCostLimit(t *testing.T) {
	provider := &turnProvider{responses: []*llm.Response{toolUse("t1", "clock", `{}`)}}
	exec := &mapExecutor{outputs: map[string]string{"clock": "12:00"}}

	res, err := Run(context.Background(), provider, nil, nil, nil, exec,
		Config{MaxTurns: 50, MaxCost: 0.25},
		Callbacks{RecordCost: func(u types.Usage) float64 { return 0.10 }})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.CostLimited || res.StopReason != "cost_limit" {
		t.Errorf("result = %+v", res)
	}
	if res.Turns != 3 {
		t.Errorf("turns = %d, want 3 (0.30 >= 0.25)", res.Turns)
	}
}

func TestRunCostLimitIncludesPriorSpend(t *testing.T) {
	provider := &turnProvider{responses: []*llm.Response{toolUse("t1", "clock", `{}`)}}
	exec := &mapExecutor{outputs: map[string]string{"clock": "12:00"}}

	res, err := Run(context.Background(), provider, nil, nil, nil, exec,
		Config{MaxTurns: 50, MaxCost: 0.25, PriorSpend: 0.20},
		Callbacks{RecordCost: func(u types.Usage) float64 { return 0.10 }})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.CostLimited || res.Turns != 1 {
		t.Errorf("result = %+v, want limited after one turn (0.20 + 0.10 >= 0.25)", res)
	}
}

func TestRunSkipsWhenAlreadyOverBudget(t *testing.T) {
	provider := &turnProvider{responses: []*llm.Response{endTurn("hi")}}

	res, err := Run(context.Background(), provider, nil, nil, nil, &mapExecutor{},
		Config{MaxTurns: 5, MaxCost: 1.0, PriorSpend: 1.5}, Callbacks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.CostLimited || res.StopReason != "cost_limit" {
		t.Errorf("result = %+v", res)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times, want 0", provider.calls)
	}
}

func TestRunProviderError(t *testing.T) {
	provider := &turnProvider{err: errors.New("overloaded")}
	_, err := Run(context.Background(), provider, nil, nil, nil, &mapExecutor{}, Config{}, Callbacks{})
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("err = %v", err)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &turnProvider{responses: []*llm.Response{endTurn("hi")}}
	_, err := Run(ctx, provider, nil, nil, nil, &mapExecutor{}, Config{}, Callbacks{})
	if err == nil {
		t.Error("cancelled context should surface an error")
	}
}

func TestRunCallbacks(t *testing.T) {
	provider := &turnProvider{responses: []*llm.Response{
		toolUse("t1", "clock", `{}`),
		endTurn("done"),
	}}
	exec := &mapExecutor{outputs: map[string]string{"clock": "12:00"}}

	var responses, toolBatches int
	_, err := Run(context.Background(), provider, nil, nil, nil, exec, Config{MaxTurns: 5}, Callbacks{
		OnResponse:    func(*llm.Response) { responses++ },
		OnToolResults: func([]types.ToolResult) { toolBatches++ },
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if responses != 2 || toolBatches != 1 {
		t.Errorf("callbacks: responses=%d toolBatches=%d", responses, toolBatches)
	}
}
