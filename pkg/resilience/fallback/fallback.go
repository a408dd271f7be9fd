// Package fallback implements graceful-degradation policy for LLM and
// tool failures: context-length reduction, tool-to-tool fallback
// substitution, and content truncation, kept as its own component so
// degradation decisions are made in one place rather than scattered
// across callers.
package fallback

import (
	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

// Action is the chosen degradation response.
type Action string

const (
	ActionRetry                Action = "retry"
	ActionRetryReducedContext  Action = "retry_reduced"
	ActionUseFallbackTool      Action = "use_fallback"
	ActionSkip                 Action = "skip"
	ActionContinuePartial      Action = "continue_partial"
	ActionAbort                Action = "abort"
)

// Result is the outcome of a fallback decision.
type Result struct {
	Action       Action
	Success      bool
	Value        any
	Err          error
	FallbackUsed string
	Message      string
}

// Config tunes fallback behavior, including the tool substitution table
// used when an external tool (e.g. a scanner) fails and a pattern-match
// fallback should run in its place.
type Config struct {
	Enabled                 bool
	MaxContextReductionRatio float64
	ContinueOnPartial       bool
	ToolFallbacks           map[string]string
}

func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		MaxContextReductionRatio: 0.5,
		ContinueOnPartial:        true,
		ToolFallbacks: map[string]string{
			"scanner.semgrep_scan":  "patternmatch.pattern_match",
			"scanner.bandit_scan":   "patternmatch.pattern_match",
			"scanner.gitleaks_scan": "fileset.search_code",
			"scanner.npm_audit":     "fileset.search_code",
		},
	}
}

// Message is the minimal conversation-message shape needed for context
// reduction; callers convert to/from their own LLM message type.
type Message struct {
	Role    string
	Content string
}

// Handler applies fallback policy for LLM and tool failures.
type Handler struct {
	cfg Config
}

func New(cfg Config) *Handler { return &Handler{cfg: cfg} }

// HandleLLMFailure decides the fallback action for an LLM-call error:
// rate limit retries, context-length triggers context reduction,
// everything else defers to the error's own recoverability.
func (h *Handler) HandleLLMFailure(err error, canReduceContext bool) Result {
	if !h.cfg.Enabled {
		return Result{Action: ActionAbort, Err: err, Message: "fallback disabled"}
	}

	kind, _ := apperr.KindOf(err)
	switch kind {
	case apperr.KindLLMRateLimit:
		return Result{Action: ActionRetry, Err: err, Message: "rate limited, retrying"}
	case apperr.KindLLMTimeout:
		if canReduceContext {
			return Result{Action: ActionRetryReducedContext, Err: err, Message: "timeout, retrying with reduced context"}
		}
		return Result{Action: ActionContinuePartial, Err: err, Message: "timeout, continuing with partial results"}
	case apperr.KindLLMContextLength:
		return Result{Action: ActionRetryReducedContext, Err: err, Message: "context too long, reducing and retrying"}
	}

	if apperr.Recoverable(err) {
		return Result{Action: ActionRetry, Err: err, Message: "recoverable LLM error"}
	}
	return Result{Action: ActionAbort, Err: err, Message: "non-recoverable LLM error"}
}

// ToolFallbackExecutor invokes the named fallback tool with the original
// tool's input, returning its result.
type ToolFallbackExecutor func(fallbackTool string, toolInput map[string]any) (any, error)

// HandleToolFailure decides the fallback action for a tool-call error,
// substituting a configured fallback tool when available.
func (h *Handler) HandleToolFailure(toolName string, err error, toolInput map[string]any, exec ToolFallbackExecutor) Result {
	if !h.cfg.Enabled {
		return Result{Action: ActionAbort, Err: err, Message: "fallback disabled"}
	}

	if fb, ok := h.cfg.ToolFallbacks[toolName]; ok && exec != nil {
		val, fbErr := exec(fb, toolInput)
		if fbErr == nil {
			return Result{Action: ActionUseFallbackTool, Success: true, Value: val, FallbackUsed: fb, Message: "used fallback tool: " + fb}
		}
		return Result{Action: ActionSkip, Err: fbErr, FallbackUsed: fb, Message: "fallback tool also failed"}
	}

	if apperr.Recoverable(err) {
		return Result{Action: ActionRetry, Err: err, Message: "recoverable tool error"}
	}
	return Result{Action: ActionSkip, Err: err, Message: "tool failed, skipping"}
}

// ReduceContext keeps the system message(s) and the most recent
// reduction-ratio fraction of the remaining messages, always preserving
// at least the last message (typically the last user turn).
func (h *Handler) ReduceContext(messages []Message, ratio float64) []Message {
	if ratio <= 0 {
		ratio = h.cfg.MaxContextReductionRatio
	}
	if len(messages) <= 2 {
		return messages
	}

	var system, other []Message
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}

	keep := int(float64(len(other)) * ratio)
	if keep < 1 {
		keep = 1
	}
	if keep > len(other) {
		keep = len(other)
	}
	kept := other[len(other)-keep:]

	out := make([]Message, 0, len(system)+len(kept))
	out = append(out, system...)
	out = append(out, kept...)
	return out
}

// TruncateContent keeps the first and last portions of content when it
// exceeds a per-call size cap, inserting a notice in place of the
// dropped middle.
func TruncateContent(content string, maxLength, keepStart, keepEnd int) string {
	if len(content) <= maxLength {
		return content
	}
	const notice = "\n\n... [CONTENT TRUNCATED] ...\n\n"
	available := maxLength - len(notice)
	if available < 0 {
		available = 0
	}

	startLen := keepStart
	if startLen > available/2 {
		startLen = available / 2
	}
	endLen := keepEnd
	if endLen > available-startLen {
		endLen = available - startLen
	}
	if endLen < 0 {
		endLen = 0
	}

	return content[:startLen] + notice + content[len(content)-endLen:]
}
