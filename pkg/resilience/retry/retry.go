// Package retry implements the security auditor's retry engine: bounded
// attempts with constant/linear/exponential backoff, jitter, and
// kind-aware retryability.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// Config controls retry behavior. The zero value is not usable directly;
// use one of the presets below or construct explicitly.
type Config struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	ExponentialBase  float64
	Jitter           bool
	JitterFraction   float64
	Backoff          Backoff
	RetryableKinds   map[apperr.Kind]bool // nil means "defer to apperr.Recoverable"
}

// Presets for the call sites that need distinct retry behavior: LLM
// provider calls, tool execution, and operations that should never retry.
var (
	LLMConfig = Config{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		JitterFraction:  0.5,
		Backoff:         BackoffExponential,
	}

	ToolConfig = Config{
		MaxAttempts:     2,
		BaseDelay:       2 * time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		JitterFraction:  0.5,
		Backoff:         BackoffExponential,
	}

	NoRetryConfig = Config{
		MaxAttempts: 1,
	}
)

// Result describes the outcome of a retried operation without raising.
type Result[T any] struct {
	Success    bool
	Value      T
	Err        error
	Attempts   int
	TotalDelay time.Duration
}

// OnRetry is invoked before sleeping ahead of each retry attempt.
type OnRetry func(attempt int, err error, delay time.Duration)

// shouldRetry decides retryability: an explicit per-kind allow-list wins
// when configured, otherwise fall back to the error's own
// apperr.Recoverable policy.
func (c Config) shouldRetry(err error) bool {
	if kind, ok := apperr.KindOf(err); ok && c.RetryableKinds != nil {
		return c.RetryableKinds[kind]
	}
	return apperr.Recoverable(err)
}

// calculateDelay computes the wait before the next attempt (0-indexed).
// An error-carried RetryAfter always wins, capped by MaxDelay.
func (c Config) calculateDelay(attempt int, err error) time.Duration {
	if d, ok := apperr.RetryAfter(err); ok {
		if d > c.MaxDelay && c.MaxDelay > 0 {
			return c.MaxDelay
		}
		return d
	}

	var delay time.Duration
	switch c.Backoff {
	case BackoffConstant:
		delay = c.BaseDelay
	case BackoffLinear:
		delay = c.BaseDelay * time.Duration(attempt+1)
	default: // exponential
		base := c.ExponentialBase
		if base == 0 {
			base = 2.0
		}
		delay = time.Duration(float64(c.BaseDelay) * math.Pow(base, float64(attempt)))
	}

	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	if c.Jitter {
		frac := c.JitterFraction
		if frac == 0 {
			frac = 0.5
		}
		jitterRange := float64(delay) * frac
		delay = delay + time.Duration((rand.Float64()*2-1)*jitterRange)
		if delay < 100*time.Millisecond {
			delay = 100 * time.Millisecond
		}
	}
	return delay
}

// Do executes op, retrying on recoverable failures per cfg. Cancellation
// interrupts an in-progress sleep.
func Do[T any](ctx context.Context, cfg Config, operationName string, op func(ctx context.Context) (T, error)) (T, error) {
	r := DoWithResult(ctx, cfg, operationName, op, nil)
	return r.Value, r.Err
}

// DoWithResult executes op, returning a Result instead of raising — the Go
// analogue of the original retry_with_result.
func DoWithResult[T any](ctx context.Context, cfg Config, operationName string, op func(ctx context.Context) (T, error), onRetry OnRetry) Result[T] {
	var (
		lastErr    error
		totalDelay time.Duration
		zero       T
	)

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result[T]{Success: false, Err: err, Attempts: attempt, TotalDelay: totalDelay}
		}

		val, err := op(ctx)
		if err == nil {
			return Result[T]{Success: true, Value: val, Attempts: attempt + 1, TotalDelay: totalDelay}
		}
		lastErr = err

		if !cfg.shouldRetry(err) || attempt >= attempts-1 {
			return Result[T]{Success: false, Err: err, Value: zero, Attempts: attempt + 1, TotalDelay: totalDelay}
		}

		delay := cfg.calculateDelay(attempt, err)
		totalDelay += delay
		if onRetry != nil {
			onRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result[T]{Success: false, Err: ctx.Err(), Attempts: attempt + 1, TotalDelay: totalDelay}
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = errors.New(operationName + " failed")
	}
	return Result[T]{Success: false, Err: lastErr, Attempts: attempts, TotalDelay: totalDelay}
}
