package llm

import (
	"context"
	"time"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/breaker"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/fallback"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/ratelimit"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/retry"
)

// Shim wraps a provider Client with a resilience fabric applied in
// order: rate limiter -> circuit breaker -> retry -> fallback.
type Shim struct {
	underlying Client
	limiter    *ratelimit.TokenBucket
	breaker    *breaker.Breaker
	retryCfg   retry.Config
	fallback   *fallback.Handler
}

// NewShim builds a Shim around an underlying provider Client using the
// named LLM presets from the rate limiter and breaker registries.
func NewShim(underlying Client, limiters *ratelimit.Registry, breakers *breaker.Registry) *Shim {
	return &Shim{
		underlying: underlying,
		limiter:    limiters.LLM(),
		breaker:    breakers.LLM(),
		retryCfg:   retry.LLMConfig,
		fallback:   fallback.New(fallback.DefaultConfig()),
	}
}

// Generate runs input through the resilience fabric and streams the
// result. On a ContextLength error it applies the fallback's conversation
// reduction and retries once with the trimmed input.
func (s *Shim) Generate(ctx context.Context, input GenerateInput) (<-chan Chunk, error) {
	ch, err := s.attempt(ctx, input)
	if err == nil {
		return ch, nil
	}

	kind, _ := apperr.KindOf(err)
	if kind != apperr.KindLLMContextLength {
		return nil, err
	}

	decision := s.fallback.HandleLLMFailure(err, true)
	if decision.Action != fallback.ActionRetryReducedContext {
		return nil, err
	}

	reduced := toFallbackMessages(input.Messages)
	reducedOut := s.fallback.ReduceContext(reduced, 0.5)
	input.Messages = fromFallbackMessages(reducedOut)

	return s.attempt(ctx, input)
}

func (s *Shim) attempt(ctx context.Context, input GenerateInput) (<-chan Chunk, error) {
	if ok, err := s.limiter.Acquire(ctx, 1, 30*time.Second); err != nil || !ok {
		if err == nil {
			err = apperr.New(apperr.KindResourceRateLimit, "timed out waiting for LLM rate limit token", nil)
		}
		return nil, err
	}

	res := retry.DoWithResult(ctx, s.retryCfg, "llm.generate", func(ctx context.Context) (<-chan Chunk, error) {
		var result <-chan Chunk
		callErr := s.breaker.Call(ctx, func(ctx context.Context) error {
			ch, err := s.underlying.Generate(ctx, input)
			if err != nil {
				return err
			}
			result = ch
			return nil
		})
		return result, callErr
	}, nil)
	return res.Value, res.Err
}

// Close releases the underlying client's resources.
func (s *Shim) Close() error { return s.underlying.Close() }

func toFallbackMessages(msgs []Message) []fallback.Message {
	out := make([]fallback.Message, len(msgs))
	for i, m := range msgs {
		out[i] = fallback.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func fromFallbackMessages(msgs []fallback.Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: Role(m.Role), Content: m.Content}
	}
	return out
}
