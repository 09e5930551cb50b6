// Package circuit provides circuit breaker middleware for LLM clients.
package circuit

import (
	"context"

	"testsmith/pkg/llm"
)

// Middleware returns a middleware function that wraps an LLM client with circuit breaker logic.
// If the circuit is OPEN, requests are rejected immediately without calling the underlying client.
// This prevents hammering a failing provider and gives it time to recover.
func Middleware(breaker Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !breaker.Allow() {
					return llm.CompletionResponse{}, &Error{State: breaker.GetState()}
				}

				resp, err := next.Complete(ctx, req)
				breaker.Record(err == nil)

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}
