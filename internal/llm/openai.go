package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// OpenAIProvider implements Provider and EmbeddingProvider against the
// OpenAI chat/embeddings APIs and OpenAI-compatible servers (via BaseURL).
type OpenAIProvider struct {
	name           string
	client         *openai.Client
	model          string
	embeddingModel string
	maxTokens      int
	apiKey         string
}

// NewOpenAIProvider creates a provider from config.
func NewOpenAIProvider(name string, cfg ProviderConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	L_debug("llm: openai provider created", "name", name, "model", cfg.Model, "maxTokens", maxTokens)

	return &OpenAIProvider{
		name:           name,
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		maxTokens:      maxTokens,
		apiKey:         cfg.APIKey,
	}
}

func (p *OpenAIProvider) Name() string  { return p.name }
func (p *OpenAIProvider) Model() string { return p.model }

// IsAvailable reports whether an API key is configured.
func (p *OpenAIProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Complete sends the conversation and returns the normalized response.
func (p *OpenAIProvider) Complete(ctx context.Context, system []types.SystemBlock, messages []types.Message, tools []types.ToolDefinition) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages:  convertToOpenAIMessages(system, messages),
	}
	if len(tools) > 0 {
		req.Tools = convertToOpenAITools(tools)
	}

	L_debug("llm: openai request", "model", p.model, "messages", len(req.Messages), "tools", len(tools))

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai request: empty choices")
	}

	choice := resp.Choices[0]
	response := &Response{
		Text:       choice.Message.Content,
		StopReason: normalizeFinishReason(choice.FinishReason),
		Usage: types.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, types.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}

	L_trace("llm: openai response",
		"stopReason", response.StopReason,
		"inputTokens", response.Usage.InputTokens,
		"outputTokens", response.Usage.OutputTokens,
		"toolCalls", len(response.ToolCalls))

	return response, nil
}

// SimpleMessage sends a one-shot prompt with no history or tools.
func (p *OpenAIProvider) SimpleMessage(ctx context.Context, system, prompt string) (string, error) {
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

// Embed returns the embedding vector for a text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.embeddingModel
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// normalizeFinishReason maps OpenAI finish reasons onto the Anthropic-style
// stop reasons used across the codebase.
func normalizeFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "tool_use"
	case openai.FinishReasonLength:
		return "max_tokens"
	case openai.FinishReasonStop:
		return "end_turn"
	}
	return string(reason)
}

// convertToOpenAIMessages flattens the tiered system blocks into one system
// message (the OpenAI API has no cache breakpoints) and maps the shared
// message log onto chat roles. A tool_results message expands to one tool
// message per result.
func convertToOpenAIMessages(system []types.SystemBlock, messages []types.Message) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	var systemText string
	for _, sb := range system {
		if sb.Text == "" {
			continue
		}
		if systemText != "" {
			systemText += "\n\n"
		}
		systemText += sb.Text
	}
	if systemText != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemText,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			if msg.Content.HasImage() {
				var parts []openai.ChatMessagePart
				for _, cb := range msg.Content.Blocks {
					switch cb.Type {
					case types.BlockText:
						if cb.Text != "" {
							parts = append(parts, openai.ChatMessagePart{
								Type: openai.ChatMessagePartTypeText,
								Text: cb.Text,
							})
						}
					case types.BlockImage:
						url := fmt.Sprintf("data:%s;base64,%s",
							cb.MediaType, base64.StdEncoding.EncodeToString(cb.Data))
						parts = append(parts, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    url,
								Detail: openai.ImageURLDetailAuto,
							},
						})
					}
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:         openai.ChatMessageRoleUser,
					MultiContent: parts,
				})
			} else if text := msg.Content.Text(); text != "" {
				result = append(result, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				})
			}

		case types.RoleAssistant:
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content.Text(),
			}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			if out.Content == "" && len(out.ToolCalls) == 0 {
				continue
			}
			result = append(result, out)

		case types.RoleToolResults:
			for _, tr := range msg.ToolResults {
				content := tr.Content
				if content == "" {
					content = "[empty result]"
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    content,
					ToolCallID: tr.ToolUseID,
				})
			}
		}
	}

	return result
}

// convertToOpenAITools maps tool definitions to OpenAI function tools.
func convertToOpenAITools(defs []types.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		}
	}
	return result
}
