// Package logging provides logging middleware for LLM clients.
package logging

import (
	"context"

	"testsmith/pkg/llm"
	"testsmith/pkg/llm/llmerrors"
	"testsmith/pkg/logx"
)

// EmptyResponseLoggingMiddleware returns a middleware function that logs comprehensive
// debugging information when empty responses are encountered, then passes the error
// through unchanged. Empty completions otherwise surface only as a failed iteration,
// which makes them hard to diagnose after the fact.
func EmptyResponseLoggingMiddleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)

				if err != nil && llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
					logEmptyResponseDebugInfo(next.GetModelName(), req)
				}

				//nolint:wrapcheck // Middleware intentionally passes through errors unchanged
				return resp, err
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

// logEmptyResponseDebugInfo logs the full prompt and request parameters for an
// empty LLM response.
func logEmptyResponseDebugInfo(model string, req llm.CompletionRequest) {
	logger := logx.NewLogger("llm-middleware")

	logger.Error("🚨 EMPTY RESPONSE FROM LLM - DEBUGGING INFO:")
	logger.Error("📝 Complete prompt sent to %s:", model)
	logger.Error("================================================================================")

	for i := range req.Messages {
		msg := &req.Messages[i]
		// Limit extremely long messages but show substantial content
		content := msg.Content
		if len(content) > 10000 {
			content = content[:10000] + "\n\n[... message truncated after 10000 characters for log readability ...]"
		}
		logger.Error("Message [%d] Role: %s, Content: %s", i, msg.Role, content)
	}

	logger.Error("================================================================================")
	logger.Error("🔍 Request Details:")
	logger.Error("  - Temperature: %v", req.Temperature)
	logger.Error("  - Max Tokens: %d", req.MaxTokens)
	logger.Error("🚨 END EMPTY RESPONSE DEBUG")
}
