package apperr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesPolicy(t *testing.T) {
	tests := []struct {
		name        string
		kind        Kind
		recoverable bool
		strategy    RecoveryStrategy
	}{
		{"rate limit recovers with backoff", KindLLMRateLimit, true, RecoveryRetryWithBackoff},
		{"auth never recovers", KindLLMAuth, false, RecoveryAbort},
		{"context length falls back", KindLLMContextLength, true, RecoveryFallback},
		{"path traversal aborts", KindValidationPath, false, RecoveryAbort},
		{"tool not found is skip", KindToolNotFound, false, RecoverySkip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.kind, "boom", nil)
			assert.Equal(t, tt.recoverable, err.Recoverable)
			assert.Equal(t, tt.strategy, err.Strategy)
		})
	}
}

func TestErrorUnwrapAndIs(t *testing.T) {
	cause := errors.New("network reset")
	err := New(KindLLMConnection, "dial failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, New(KindLLMConnection, "other message", nil)))
	assert.False(t, errors.Is(err, New(KindLLMTimeout, "other", nil)))
}

func TestErrorString(t *testing.T) {
	err := New(KindToolTimeout, "tool took too long", errors.New("context deadline exceeded"))
	assert.Contains(t, err.Error(), "Tool.Timeout")
	assert.Contains(t, err.Error(), "tool took too long")
	assert.Contains(t, err.Error(), "context deadline exceeded")
}

func TestWithContextMerges(t *testing.T) {
	err := New(KindToolExecution, "failed", nil).WithContext(Context{
		AgentID:   "agent-1",
		Iteration: 3,
		Extra:     map[string]any{"tool": "read_file"},
	})
	require.NotNil(t, err)
	assert.Equal(t, "agent-1", err.Context.AgentID)
	assert.Equal(t, 3, err.Context.Iteration)
	assert.Equal(t, "read_file", err.Context.Extra["tool"])
}

func TestRetryAfterOverride(t *testing.T) {
	err := New(KindLLMRateLimit, "slow down", nil).WithRetryAfterDuration(2 * time.Second)
	d, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}

func TestRecoverableHelper(t *testing.T) {
	assert.True(t, Recoverable(New(KindLLMTimeout, "x", nil)))
	assert.False(t, Recoverable(New(KindLLMAuth, "x", nil)))
	assert.False(t, Recoverable(errors.New("plain error")))
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(New(KindToolNotFound, "x", nil))
	require.True(t, ok)
	assert.Equal(t, KindToolNotFound, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}
