package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 3, SuccessThreshold: 2, RecoveryTimeout: 50 * time.Millisecond, HalfOpenMaxCalls: 2}, nil)

	for i := 0; i < 3; i++ {
		err := b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
		require.Error(t, err)
	}
	assert.Equal(t, Open, b.State())

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, 1, int(b.Stats().RejectedCalls))
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1}, nil)

	err := b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	require.Error(t, err)
	assert.Equal(t, Open, b.State())

	time.Sleep(15 * time.Millisecond)

	err = b.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 1, SuccessThreshold: 2, RecoveryTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 2}, nil)
	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	time.Sleep(15 * time.Millisecond)

	err := b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail again") })
	require.Error(t, err)
	assert.Equal(t, Open, b.State())
}

func TestBreakerCountsFailureWhenNoKindIsExcluded(t *testing.T) {
	b := New("svc", DefaultConfig(), nil)
	b.cfg.ExcludedKinds = nil // a plain error carries no apperr kind, so it is counted
	err := b.Call(context.Background(), func(ctx context.Context) error { return errors.New("generic") })
	require.Error(t, err)
	assert.Equal(t, int64(1), b.Stats().ConsecutiveFailures)
}

func TestBreakerReset(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 1, RecoveryTimeout: time.Hour, HalfOpenMaxCalls: 1}, nil)
	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	assert.Equal(t, Open, b.State())
	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, int64(0), b.Stats().TotalCalls)
}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil)
	a := r.GetOrCreate("x", nil)
	b := r.GetOrCreate("x", nil)
	assert.Same(t, a, b)
}
