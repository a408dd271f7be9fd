package fallback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

func TestHandleLLMFailure(t *testing.T) {
	h := New(DefaultConfig())

	tests := []struct {
		name   string
		err    error
		reduce bool
		want   Action
	}{
		{"rate limit retries", apperr.New(apperr.KindLLMRateLimit, "slow down", nil), true, ActionRetry},
		{"timeout reduces context when allowed", apperr.New(apperr.KindLLMTimeout, "slow", nil), true, ActionRetryReducedContext},
		{"timeout continues partial when context fixed", apperr.New(apperr.KindLLMTimeout, "slow", nil), false, ActionContinuePartial},
		{"context length always reduces", apperr.New(apperr.KindLLMContextLength, "too long", nil), false, ActionRetryReducedContext},
		{"auth aborts", apperr.New(apperr.KindLLMAuth, "bad key", nil), true, ActionAbort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.HandleLLMFailure(tt.err, tt.reduce)
			assert.Equal(t, tt.want, got.Action)
		})
	}
}

func TestHandleLLMFailureDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	h := New(cfg)
	got := h.HandleLLMFailure(apperr.New(apperr.KindLLMRateLimit, "x", nil), true)
	assert.Equal(t, ActionAbort, got.Action)
}

func TestHandleToolFailureUsesFallback(t *testing.T) {
	h := New(DefaultConfig())
	got := h.HandleToolFailure("scanner.semgrep_scan", errors.New("scanner crashed"), map[string]any{"target": "."}, func(tool string, input map[string]any) (any, error) {
		assert.Equal(t, "patternmatch.pattern_match", tool)
		return "fallback result", nil
	})
	assert.Equal(t, ActionUseFallbackTool, got.Action)
	assert.True(t, got.Success)
	assert.Equal(t, "patternmatch.pattern_match", got.FallbackUsed)
}

func TestHandleToolFailureNoFallbackConfigured(t *testing.T) {
	h := New(DefaultConfig())
	got := h.HandleToolFailure("read_file", errors.New("not found"), nil, nil)
	assert.Equal(t, ActionSkip, got.Action)
}

func TestReduceContextKeepsSystemAndLastMessage(t *testing.T) {
	h := New(DefaultConfig())
	messages := []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "1"},
		{Role: "assistant", Content: "2"},
		{Role: "user", Content: "3"},
		{Role: "user", Content: "last"},
	}
	reduced := h.ReduceContext(messages, 0.5)
	assert.Equal(t, "sys", reduced[0].Content)
	assert.Equal(t, "last", reduced[len(reduced)-1].Content)
	assert.Less(t, len(reduced), len(messages))
}

func TestTruncateContent(t *testing.T) {
	content := "0123456789"
	out := TruncateContent(content, 5, 2, 2)
	assert.Contains(t, out, "TRUNCATED")
	assert.True(t, len(out) > 0)

	untouched := TruncateContent("short", 100, 10, 10)
	assert.Equal(t, "short", untouched)
}
