// Package anthropic adapts the Anthropic Messages API to the
// provider-agnostic llm.Client interface, translating streaming SSE
// events into llm.Chunk values.
package anthropic

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/llm"
)

// Client implements llm.Client against the Anthropic Messages API.
type Client struct {
	sdk       anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// Config configures a new Client.
type Config struct {
	APIKey    string
	Model     string // empty defaults to Claude 3.5 Sonnet
	MaxTokens int64  // empty defaults to 4096
}

// New creates an Anthropic-backed llm.Client.
func New(cfg Config) *Client {
	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaude3_5SonnetLatest
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &Client{
		sdk:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Generate streams a chat completion, translating Anthropic SSE events
// into llm.Chunk values on the returned channel.
func (c *Client) Generate(ctx context.Context, input llm.GenerateInput) (<-chan llm.Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  toAnthropicMessages(input.Messages),
	}
	if system := systemPrompt(input.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(input.Tools) > 0 {
		params.Tools = toAnthropicTools(input.Tools)
	}

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	out := make(chan llm.Chunk, 16)

	go func() {
		defer close(out)

		var currentToolCallID, currentToolName string
		var toolArgsBuf []byte
		usage := llm.UsageChunk{}

		for stream.Next() {
			event := stream.Current()
			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if toolUse := e.ContentBlock.AsAny(); toolUse != nil {
					if tu, ok := toolUse.(anthropic.ToolUseBlock); ok {
						currentToolCallID = tu.ID
						currentToolName = tu.Name
						toolArgsBuf = toolArgsBuf[:0]
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := e.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- &llm.TextChunk{Content: delta.Text}
				case anthropic.ThinkingDelta:
					out <- &llm.ThinkingChunk{Content: delta.Thinking}
				case anthropic.InputJSONDelta:
					toolArgsBuf = append(toolArgsBuf, delta.PartialJSON...)
				}
			case anthropic.ContentBlockStopEvent:
				if currentToolCallID != "" {
					out <- &llm.ToolCallChunk{CallID: currentToolCallID, Name: currentToolName, Arguments: string(toolArgsBuf)}
					currentToolCallID = ""
					currentToolName = ""
					toolArgsBuf = nil
				}
			case anthropic.MessageDeltaEvent:
				usage.OutputTokens += int(e.Usage.OutputTokens)
			}
		}

		if err := stream.Err(); err != nil {
			out <- &llm.ErrorChunk{Message: err.Error(), Retryable: classifyRetryable(err)}
			return
		}

		out <- &llm.UsageChunk{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens, TotalTokens: usage.InputTokens + usage.OutputTokens}
	}()

	return out, nil
}

// Close is a no-op: the Anthropic SDK client has no persistent connection
// to release.
func (c *Client) Close() error { return nil }

func systemPrompt(messages []llm.Message) string {
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			return m.Content
		}
	}
	return ""
}

func toAnthropicMessages(messages []llm.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			continue // carried in params.System, not the message list
		case llm.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case llm.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return out
}

func toAnthropicTools(tools []llm.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if t.ParametersSchema != "" {
			_ = json.Unmarshal([]byte(t.ParametersSchema), &schema)
		}
		out = append(out, anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: schema["properties"],
		}, t.Name))
	}
	return out
}

func classifyRetryable(err error) bool {
	return apperr.Recoverable(err)
}
