package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// AnthropicProvider implements Provider against the Anthropic Messages API.
// Stable and semi-stable system blocks are marked for prompt caching; the
// dynamic tail is never cached.
type AnthropicProvider struct {
	name      string
	client    *anthropic.Client
	model     string
	maxTokens int
	apiKey    string
}

// NewAnthropicProvider creates a provider from config. The client is built
// even without an API key so IsAvailable can be queried.
func NewAnthropicProvider(name string, cfg ProviderConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	L_debug("llm: anthropic provider created", "name", name, "model", cfg.Model, "maxTokens", maxTokens)

	return &AnthropicProvider{
		name:      name,
		client:    &client,
		model:     cfg.Model,
		maxTokens: maxTokens,
		apiKey:    cfg.APIKey,
	}
}

func (p *AnthropicProvider) Name() string  { return p.name }
func (p *AnthropicProvider) Model() string { return p.model }

// IsAvailable reports whether an API key is configured.
func (p *AnthropicProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Complete sends the conversation and returns the normalized response.
func (p *AnthropicProvider) Complete(ctx context.Context, system []types.SystemBlock, messages []types.Message, tools []types.ToolDefinition) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  convertMessages(messages),
	}

	if blocks := convertSystemBlocks(system); len(blocks) > 0 {
		params.System = blocks
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	L_debug("llm: anthropic request", "model", p.model, "messages", len(params.Messages), "tools", len(tools))

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}

	response := &Response{
		StopReason: string(message.StopReason),
		Usage: types.Usage{
			InputTokens:      int(message.Usage.InputTokens),
			OutputTokens:     int(message.Usage.OutputTokens),
			CacheReadTokens:  int(message.Usage.CacheReadInputTokens),
			CacheWriteTokens: int(message.Usage.CacheCreationInputTokens),
		},
	}

	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			response.Text += variant.Text
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(variant.Input)
			response.ToolCalls = append(response.ToolCalls, types.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: input,
			})
			L_debug("llm: tool use requested", "tool", variant.Name, "id", variant.ID)
		}
	}

	if response.Usage.CacheReadTokens > 0 || response.Usage.CacheWriteTokens > 0 {
		L_trace("llm: anthropic response (cache active)",
			"stopReason", response.StopReason,
			"inputTokens", response.Usage.InputTokens,
			"outputTokens", response.Usage.OutputTokens,
			"cacheRead", response.Usage.CacheReadTokens,
			"cacheWrite", response.Usage.CacheWriteTokens)
	} else {
		L_trace("llm: anthropic response",
			"stopReason", response.StopReason,
			"inputTokens", response.Usage.InputTokens,
			"outputTokens", response.Usage.OutputTokens)
	}

	return response, nil
}

// SimpleMessage sends a one-shot prompt with no history or tools.
func (p *AnthropicProvider) SimpleMessage(ctx context.Context, system, prompt string) (string, error) {
	var blocks []types.SystemBlock
	if system != "" {
		blocks = []types.SystemBlock{{Text: system, Tier: types.TierDynamic}}
	}
	resp, err := p.Complete(ctx, blocks, []types.Message{types.UserMessage(prompt)}, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// convertSystemBlocks maps tiered blocks to Anthropic text blocks, attaching
// cache_control to cacheable tiers. Anthropic allows at most four cache
// breakpoints per request; two tiers stay well under that.
func convertSystemBlocks(system []types.SystemBlock) []anthropic.TextBlockParam {
	result := make([]anthropic.TextBlockParam, 0, len(system))
	for _, sb := range system {
		if sb.Text == "" {
			continue
		}
		block := anthropic.TextBlockParam{Text: sb.Text}
		if sb.Cacheable() {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		result = append(result, block)
	}
	return result
}

// convertMessages maps the shared message log to Anthropic wire messages.
// A tool_results message becomes a user message of tool_result blocks.
func convertMessages(messages []types.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content.IsBlocks() {
				for _, cb := range msg.Content.Blocks {
					switch cb.Type {
					case types.BlockText:
						if cb.Text != "" {
							blocks = append(blocks, anthropic.NewTextBlock(cb.Text))
						}
					case types.BlockImage:
						data := base64.StdEncoding.EncodeToString(cb.Data)
						blocks = append(blocks, anthropic.NewImageBlockBase64(cb.MediaType, data))
					}
				}
			} else if msg.Content.Plain != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content.Plain))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewUserMessage(blocks...))

		case types.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := msg.Content.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				json.Unmarshal(tc.Input, &input)
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))

		case types.RoleToolResults:
			var blocks []anthropic.ContentBlockParamUnion
			for _, tr := range msg.ToolResults {
				content := tr.Content
				if content == "" {
					content = "[empty result]"
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolUseID, content, tr.IsError))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}

	return result
}

// convertTools maps tool definitions to the Anthropic tools parameter.
func convertTools(defs []types.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var properties any
		if props, ok := def.InputSchema["properties"]; ok {
			properties = props
		}
		schema := anthropic.ToolInputSchemaParam{Properties: properties}
		if req, ok := def.InputSchema["required"]; ok {
			schema.ExtraFields = map[string]any{"required": req}
		}

		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: schema,
			},
		})
	}
	return result
}
