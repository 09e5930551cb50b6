package retry

import (
	"context"
	"fmt"
	"time"

	"testsmith/pkg/llm"
	"testsmith/pkg/llm/llmerrors"
)

// Middleware returns a middleware function that wraps an LLM client with retry logic.
// It retries failed requests according to the configured policy, with exponential
// backoff sized to the error type that occurred.
func Middleware(policy *Policy) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			// Complete implementation with retry
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error
				attempt := 0

				for {
					attempt++

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}

					lastErr = err

					// Check if we should retry this error
					if !policy.ShouldRetry(err) {
						break
					}

					// The attempt budget depends on the error type: rate limits
					// tolerate more attempts than unclassified failures
					if attempt >= policy.AttemptsFor(err) {
						break
					}

					// Wait for backoff delay before the next attempt
					delay := policy.DelayFor(err, attempt+1)
					if delay > 0 {
						select {
						case <-ctx.Done():
							return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
						case <-time.After(delay):
							// Continue with retry
						}
					}
				}

				// If we exhausted retries on a retryable error, emit ServiceUnavailable
				// to signal callers the provider is down rather than the prompt broken
				if policy.ShouldRetry(lastErr) {
					return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, attempt)
				}
				return llm.CompletionResponse{}, lastErr
			},
			// Delegate GetModelName to the next client
			func() string {
				return next.GetModelName()
			},
		)
	}
}
