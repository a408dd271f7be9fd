// Package ratelimit implements the security auditor's rate-limiting
// fabric: a token-bucket limiter built on golang.org/x/time/rate plus a
// hand-rolled sliding-window variant, since x/time/rate has no
// sliding-window mode. Named presets cover the call sites that need
// rate limiting: LLM provider calls, tool execution, sandbox dispatch.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

// TokenBucket wraps golang.org/x/time/rate.Limiter with a named-status
// surface (Status/AvailableTokens) and makes cancellation-aware waiting
// an explicit method rather than relying on the caller to thread
// contexts through x/time/rate directly.
type TokenBucket struct {
	name    string
	ratePerSec float64
	burst   int
	limiter *rate.Limiter
}

// NewTokenBucket creates a limiter replenishing at r tokens/sec up to a
// burst of b.
func NewTokenBucket(name string, r float64, burst int) *TokenBucket {
	return &TokenBucket{
		name:       name,
		ratePerSec: r,
		burst:      burst,
		limiter:    rate.NewLimiter(rate.Limit(r), burst),
	}
}

// Acquire blocks until n tokens are available, ctx is cancelled, or the
// optional timeout elapses (timeout<=0 means wait forever, bounded only
// by ctx). Returns false on timeout/cancellation.
func (tb *TokenBucket) Acquire(ctx context.Context, n int, timeout time.Duration) (bool, error) {
	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := tb.limiter.WaitN(waitCtx, n); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

// TryAcquire attempts to take n tokens without waiting.
func (tb *TokenBucket) TryAcquire(n int) bool {
	return tb.limiter.AllowN(time.Now(), n)
}

// AvailableTokens approximates the current bucket level.
func (tb *TokenBucket) AvailableTokens() float64 {
	return tb.limiter.Tokens()
}

type Status struct {
	Name            string  `json:"name"`
	Rate            float64 `json:"rate"`
	Burst           int     `json:"burst"`
	AvailableTokens float64 `json:"available_tokens"`
}

func (tb *TokenBucket) GetStatus() Status {
	return Status{Name: tb.name, Rate: tb.ratePerSec, Burst: tb.burst, AvailableTokens: tb.AvailableTokens()}
}

// SlidingWindow admits up to maxRequests within window, evicting
// timestamps older than window on every check — direct translation of
// core/rate_limiter.py's SlidingWindowRateLimiter since x/time/rate has
// no equivalent mode.
type SlidingWindow struct {
	name         string
	maxRequests  int
	window       time.Duration
	mu           sync.Mutex
	requests     []time.Time
}

func NewSlidingWindow(name string, maxRequests int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{name: name, maxRequests: maxRequests, window: window}
}

func (sw *SlidingWindow) prune(now time.Time) {
	kept := sw.requests[:0]
	for _, ts := range sw.requests {
		if now.Sub(ts) < sw.window {
			kept = append(kept, ts)
		}
	}
	sw.requests = kept
}

// TryAcquire admits the caller without waiting.
func (sw *SlidingWindow) TryAcquire() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := time.Now()
	sw.prune(now)
	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return true
	}
	return false
}

// Acquire blocks until admitted, ctx is cancelled, or timeout elapses.
func (sw *SlidingWindow) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if sw.TryAcquire() {
			return true, nil
		}

		sw.mu.Lock()
		wait := sw.window
		if len(sw.requests) > 0 {
			oldest := sw.requests[0]
			for _, ts := range sw.requests {
				if ts.Before(oldest) {
					oldest = ts
				}
			}
			wait = sw.window - time.Since(oldest)
		}
		sw.mu.Unlock()
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}

		if !deadline.IsZero() && time.Now().Add(wait).After(deadline) {
			return false, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// Registry keeps named token-bucket limiters: predefined presets (llm,
// per-external-tool, file-read) plus any ad hoc names callers register.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*TokenBucket
}

func NewRegistry() *Registry {
	return &Registry{limiters: map[string]*TokenBucket{}}
}

func (r *Registry) GetOrCreate(name string, ratePerSec float64, burst int) *TokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tb, ok := r.limiters[name]; ok {
		return tb
	}
	tb := NewTokenBucket(name, ratePerSec, burst)
	r.limiters[name] = tb
	return tb
}

func (r *Registry) Get(name string) (*TokenBucket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tb, ok := r.limiters[name]
	return tb, ok
}

func (r *Registry) AllStatus() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.limiters))
	for name, tb := range r.limiters {
		out[name] = tb.GetStatus()
	}
	return out
}

// LLM returns the ~1/s burst-5 limiter for LLM provider calls.
func (r *Registry) LLM() *TokenBucket { return r.GetOrCreate("llm", 1.0, 5) }

// ExternalTool returns the 0.2/s burst-3 limiter for a named external tool.
func (r *Registry) ExternalTool(toolName string) *TokenBucket {
	return r.GetOrCreate("tool:"+toolName, 0.2, 3)
}

// FileRead returns the 10/s burst-20 limiter for file-read operations.
func (r *Registry) FileRead() *TokenBucket { return r.GetOrCreate("file-read", 10.0, 20) }

// RateLimitExceeded converts an exhausted wait into the error taxonomy.
func RateLimitExceeded(name string) *apperr.Error {
	return apperr.New(apperr.KindResourceRateLimit, "rate limit exceeded for "+name, nil)
}
