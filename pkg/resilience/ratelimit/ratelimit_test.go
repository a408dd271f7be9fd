package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenLimits(t *testing.T) {
	tb := NewTokenBucket("test", 1.0, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, tb.TryAcquire(1), "token %d should be immediately available", i)
	}
	assert.False(t, tb.TryAcquire(1), "6th immediate acquire should fail")
}

func TestTokenBucketAcquireWaitsForReplenish(t *testing.T) {
	tb := NewTokenBucket("test", 10.0, 1)
	ok, err := tb.Acquire(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	start := time.Now()
	ok, err = tb.Acquire(context.Background(), 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTokenBucketAcquireTimesOut(t *testing.T) {
	tb := NewTokenBucket("test", 0.1, 1)
	_ = tb.TryAcquire(1)
	ok, err := tb.Acquire(context.Background(), 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlidingWindowAdmitsUpToMax(t *testing.T) {
	sw := NewSlidingWindow("test", 3, 50*time.Millisecond)
	assert.True(t, sw.TryAcquire())
	assert.True(t, sw.TryAcquire())
	assert.True(t, sw.TryAcquire())
	assert.False(t, sw.TryAcquire())
}

func TestSlidingWindowEvictsExpired(t *testing.T) {
	sw := NewSlidingWindow("test", 1, 20*time.Millisecond)
	assert.True(t, sw.TryAcquire())
	assert.False(t, sw.TryAcquire())
	time.Sleep(25 * time.Millisecond)
	assert.True(t, sw.TryAcquire())
}

func TestRegistryPresetLimiters(t *testing.T) {
	r := NewRegistry()
	llm := r.LLM()
	assert.Equal(t, "llm", llm.name)
	tool := r.ExternalTool("semgrep")
	assert.Equal(t, "tool:semgrep", tool.name)
	fileRead := r.FileRead()
	assert.Equal(t, "file-read", fileRead.name)

	again := r.GetOrCreate("llm", 99, 99)
	assert.Same(t, llm, again)
}
