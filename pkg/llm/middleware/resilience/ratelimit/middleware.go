package ratelimit

import (
	"context"
	"errors"
	"time"

	"testsmith/pkg/config"
	"testsmith/pkg/llm"
	"testsmith/pkg/llm/llmerrors"
	"testsmith/pkg/llm/middleware/metrics"
	"testsmith/pkg/utils"
)

// Middleware returns a middleware function that wraps an LLM client with rate limiting.
// It estimates token usage and acquires tokens plus a concurrency slot before making
// requests, and records the request's cost against the provider's daily budget after.
func Middleware(limiterMap *ProviderLimiterMap, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	if estimator == nil {
		estimator = NewDefaultTokenEstimator()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			// Complete implementation with rate limiting
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				model := next.GetModelName()

				// Get the appropriate rate limiter
				limiter, err := limiterMap.GetLimiter(model)
				if err != nil {
					// If we can't get a limiter, record throttle and fail
					recorder.IncThrottle(model, "no_limiter")
					return llm.CompletionResponse{}, err
				}

				// Estimate tokens needed (prompt + max output)
				promptTokens := estimator.EstimatePrompt(req)
				totalTokens := promptTokens + req.MaxTokens

				// Acquire tokens and a concurrency slot
				waitStart := time.Now()
				release, err := limiter.Acquire(ctx, totalTokens)
				if err != nil {
					if errors.Is(err, ErrBudgetExceeded) {
						recorder.IncThrottle(model, "budget")
						// The budget only resets at midnight: surface as a
						// non-retryable error so callers stop immediately.
						return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(
							llmerrors.ErrorTypeServiceUnavailable, err, "daily budget exceeded for "+model)
					}
					recorder.IncThrottle(model, "rate_limit")
					return llm.CompletionResponse{}, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}
				defer release()
				recorder.ObserveQueueWait(model, time.Since(waitStart))

				// Execute the request
				resp, err := next.Complete(ctx, req)
				if err != nil {
					return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				// Charge actual usage against the daily budget
				completionTokens := utils.CountTokensSimple(resp.Content)
				if cost, cerr := config.CalculateCost(model, promptTokens, completionTokens); cerr == nil {
					limiter.RecordCost(cost)
				}

				return resp, nil
			},
			// Delegate GetModelName to the next client
			func() string {
				return next.GetModelName()
			},
		)
	}
}
