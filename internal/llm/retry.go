package llm

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy configures the Retry middleware. Retries counts calls after the first, so
// Retries == 0 disables retrying.
type RetryPolicy struct {
	Retries       int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	// PerTryTimeout bounds each call. A call that hits it while the caller's context is still
	// live fails with a retryable RequestTimeoutError.
	PerTryTimeout time.Duration
}

// Delay returns the wait before retry n (1-indexed). A provider Retry-After wins over the
// computed backoff but is still capped at MaxDelay.
func (p RetryPolicy) Delay(n int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil && *retryAfter >= 0 {
		return p.capped(*retryAfter)
	}
	if n < 1 {
		n = 1
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1.0
	}
	d := float64(p.InitialDelay) * math.Pow(factor, float64(n-1))
	if d > float64(math.MaxInt64) {
		return p.capped(time.Duration(math.MaxInt64))
	}
	return p.capped(time.Duration(d))
}

func (p RetryPolicy) capped(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retry repeats calls that fail with a retryable Error. Non-retryable errors and context
// cancellation are returned as-is; an exhausted policy returns the last error.
func Retry(policy RetryPolicy, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next CompleteFunc) CompleteFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			for n := 0; ; n++ {
				resp, err := policy.try(ctx, next, req)
				if err == nil {
					return resp, nil
				}
				if ctx.Err() != nil {
					return resp, ctx.Err()
				}
				var le Error
				if !errors.As(err, &le) || !le.Retryable() || n >= policy.Retries {
					return resp, err
				}
				wait := policy.Delay(n+1, le.RetryAfter())
				logger.Info("retrying llm call",
					zap.String("provider", req.Provider),
					zap.String("model", req.Model),
					zap.Int("retry", n+1),
					zap.Duration("delay", wait),
					zap.Error(err),
				)
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return Response{}, ctx.Err()
				case <-t.C:
				}
			}
		}
	}
}

func (p RetryPolicy) try(ctx context.Context, next CompleteFunc, req Request) (Response, error) {
	if p.PerTryTimeout <= 0 {
		return next(ctx, req)
	}
	tctx, cancel := context.WithTimeout(ctx, p.PerTryTimeout)
	defer cancel()
	resp, err := next(tctx, req)
	if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return resp, NewRequestTimeoutError(req.Provider, "no response within "+p.PerTryTimeout.String())
	}
	return resp, err
}
