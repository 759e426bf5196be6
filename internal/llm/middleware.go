package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit blocks each Complete call until limiter admits it. A cancelled context while
// waiting is returned unchanged so callers can tell cancellation from provider failures.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(next CompleteFunc) CompleteFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					if ctx.Err() != nil {
						return Response{}, ctx.Err()
					}
					return Response{}, &RateLimitError{httpErrorBase{
						provider: req.Provider,
						message:  "local rate limiter: " + err.Error(),
					}}
				}
			}
			return next(ctx, req)
		}
	}
}

// Logging records one debug line per call and a warning for failures. A failure that
// carries the provider's raw error body also logs it at debug level.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next CompleteFunc) CompleteFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("provider", req.Provider),
				zap.String("model", req.Model),
				zap.Int("messages", len(req.Messages)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("llm complete failed", append(fields, zap.Error(err))...)
				var raw interface{ Raw() any }
				if errors.As(err, &raw) && raw.Raw() != nil {
					logger.Debug("llm error body", zap.String("provider", req.Provider), zap.Any("raw", raw.Raw()))
				}
				return resp, err
			}
			logger.Debug("llm complete",
				append(fields,
					zap.String("finish_reason", string(resp.FinishReason)),
					zap.Int("input_tokens", resp.Usage.InputTokens),
					zap.Int("output_tokens", resp.Usage.OutputTokens),
					zap.Int("tool_calls", len(resp.ToolCalls())),
				)...)
			return resp, nil
		}
	}
}
