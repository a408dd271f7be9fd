// Package llm defines the provider-agnostic LLM client interface: a
// streaming chat-completion call that concrete providers (pkg/llm/anthropic,
// pkg/llm/openai) implement directly, and that Shim wraps with a rate
// limiter, circuit breaker, retry, and fallback degradation.
package llm

import (
	"context"
)

// Role identifies the speaker of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a conversation sent to the LLM.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// ToolDefinition describes a tool available to the model for this call.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string
}

// ToolCall is a model-issued request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// GenerateInput is one chat-completion request.
type GenerateInput struct {
	Messages []Message
	Tools    []ToolDefinition
	Model    string
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// Chunk is one unit of a streamed response.
type Chunk interface {
	Type() ChunkType
}

type TextChunk struct{ Content string }
type ThinkingChunk struct{ Content string }
type ToolCallChunk struct{ CallID, Name, Arguments string }
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens, ThinkingTokens int }
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TextChunk) Type() ChunkType     { return ChunkTypeText }
func (c *ThinkingChunk) Type() ChunkType { return ChunkTypeThinking }
func (c *ToolCallChunk) Type() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) Type() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) Type() ChunkType    { return ChunkTypeError }

// Client is the provider-agnostic chat-completion interface. Concrete
// providers (pkg/llm/anthropic, pkg/llm/openai) implement this directly;
// callers should use Shim rather than a bare Client, so every call is
// rate-limited, breaker-protected, retried and fallback-aware.
type Client interface {
	Generate(ctx context.Context, input GenerateInput) (<-chan Chunk, error)
	Close() error
}

// Collect drains a chunk channel into a single assembled response; useful
// for non-streaming callers (tests, structured-output parsing) layered on
// top of a streaming Client.
func Collect(ch <-chan Chunk) (text string, toolCalls []ToolCall, usage UsageChunk, errChunk *ErrorChunk) {
	var textBuilder []string
	pending := map[string]*ToolCallChunk{}
	var order []string

	for c := range ch {
		switch v := c.(type) {
		case *TextChunk:
			textBuilder = append(textBuilder, v.Content)
		case *ToolCallChunk:
			if _, seen := pending[v.CallID]; !seen {
				order = append(order, v.CallID)
			}
			pending[v.CallID] = v
		case *UsageChunk:
			usage = *v
		case *ErrorChunk:
			errChunk = v
		}
	}

	for _, id := range order {
		tc := pending[id]
		toolCalls = append(toolCalls, ToolCall{ID: tc.CallID, Name: tc.Name, Arguments: tc.Arguments})
	}

	joined := ""
	for _, s := range textBuilder {
		joined += s
	}
	return joined, toolCalls, usage, errChunk
}
