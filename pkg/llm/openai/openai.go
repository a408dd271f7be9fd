// Package openai adapts the OpenAI chat-completions API to the
// provider-agnostic llm.Client interface, translating streamed deltas
// into llm.Chunk values.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/codeready-toolchain/secaudit/pkg/llm"
)

// Client implements llm.Client against the OpenAI chat-completions API.
type Client struct {
	sdk   *gopenai.Client
	model string
}

// Config configures a new Client.
type Config struct {
	APIKey  string
	BaseURL string // empty uses the default OpenAI endpoint
	Model   string // empty defaults to gpt-4o
}

// New creates an OpenAI-backed llm.Client.
func New(cfg Config) *Client {
	clientCfg := gopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = gopenai.GPT4o
	}
	return &Client{sdk: gopenai.NewClientWithConfig(clientCfg), model: model}
}

// Generate streams a chat completion, translating delta events into
// llm.Chunk values on the returned channel.
func (c *Client) Generate(ctx context.Context, input llm.GenerateInput) (<-chan llm.Chunk, error) {
	req := gopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(input.Messages),
		Stream:   true,
	}
	if len(input.Tools) > 0 {
		req.Tools = toOpenAITools(input.Tools)
	}

	stream, err := c.sdk.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.Chunk, 16)

	go func() {
		defer close(out)
		defer stream.Close()

		toolArgs := map[string]*llm.ToolCallChunk{}
		var toolOrder []string
		usage := llm.UsageChunk{}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				out <- &llm.ErrorChunk{Message: err.Error(), Retryable: isRetryable(err)}
				return
			}

			if resp.Usage != nil {
				usage.InputTokens = resp.Usage.PromptTokens
				usage.OutputTokens = resp.Usage.CompletionTokens
				usage.TotalTokens = resp.Usage.TotalTokens
			}

			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					out <- &llm.TextChunk{Content: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					id := tc.ID
					if id == "" && tc.Index != nil {
						id = toolOrder0(toolOrder, *tc.Index)
					}
					if id == "" {
						continue
					}
					existing, ok := toolArgs[id]
					if !ok {
						existing = &llm.ToolCallChunk{CallID: id, Name: tc.Function.Name}
						toolArgs[id] = existing
						toolOrder = append(toolOrder, id)
					}
					if tc.Function.Name != "" {
						existing.Name = tc.Function.Name
					}
					existing.Arguments += tc.Function.Arguments
				}
			}
		}

		for _, id := range toolOrder {
			out <- toolArgs[id]
		}
		out <- &llm.UsageChunk{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens, TotalTokens: usage.TotalTokens}
	}()

	return out, nil
}

// toolOrder0 is a defensive fallback for providers that identify a
// streamed tool-call fragment by index rather than a stable ID.
func toolOrder0(seen []string, index int) string {
	if index < 0 || index >= len(seen) {
		return ""
	}
	return seen[index]
}

// Close is a no-op: the OpenAI SDK client has no persistent connection
// to release.
func (c *Client) Close() error { return nil }

func toOpenAIMessages(messages []llm.Message) []gopenai.ChatCompletionMessage {
	out := make([]gopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := gopenai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case llm.RoleSystem:
			msg.Role = gopenai.ChatMessageRoleSystem
		case llm.RoleUser:
			msg.Role = gopenai.ChatMessageRoleUser
		case llm.RoleAssistant:
			msg.Role = gopenai.ChatMessageRoleAssistant
		case llm.RoleTool:
			msg.Role = gopenai.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []llm.ToolDefinition) []gopenai.Tool {
	out := make([]gopenai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, gopenai.Tool{
			Type: gopenai.ToolTypeFunction,
			Function: &gopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  rawSchema(t.ParametersSchema),
			},
		})
	}
	return out
}

func rawSchema(schema string) any {
	if schema == "" {
		return nil
	}
	return json.RawMessage(schema)
}

func isRetryable(err error) bool {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
