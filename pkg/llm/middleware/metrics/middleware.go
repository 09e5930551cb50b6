// Package metrics provides metrics middleware for LLM clients.
package metrics

import (
	"context"
	"errors"
	"time"

	"testsmith/pkg/config"
	"testsmith/pkg/llm"
	"testsmith/pkg/llm/llmerrors"
	"testsmith/pkg/logx"
	"testsmith/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor is a function that extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor provides a default implementation using TikToken for token counting.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	promptTokens = utils.CountTokensSimple(promptText)
	completionTokens = utils.CountTokensSimple(resp.Content)
	return promptTokens, completionTokens
}

// Middleware returns a middleware function that records metrics for LLM operations.
// It tracks request latency, token usage, cost, success/failure rates, and error types.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, stateProvider StateProvider, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				var cost float64
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
					cost, _ = config.CalculateCost(model, promptTokens, completionTokens)
				}

				errorType := ""
				if err != nil {
					errorType = getErrorType(err)
				}

				experimentID, technique, state := "", "", ""
				if stateProvider != nil {
					experimentID = stateProvider.GetExperimentID()
					technique = stateProvider.GetTechnique()
					state = stateProvider.GetCurrentState()
				}

				recorder.ObserveRequest(
					model,
					experimentID,
					technique,
					state,
					promptTokens,
					completionTokens,
					cost,
					err == nil,
					errorType,
					duration,
				)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					totalTokens := promptTokens + completionTokens
					logger.Info("🎯 LLM Request: model=%s experiment=%s state=%s tokens=%d+%d=%d status=%s duration=%dms",
						model, experimentID, state, promptTokens, completionTokens, totalTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

// getErrorType classifies errors for metrics labeling.
func getErrorType(err error) string {
	if err == nil {
		return ""
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.Type.String()
	}

	errStr := err.Error()
	switch {
	case errStr == "circuit breaker is OPEN" || errStr == "circuit breaker is HALF_OPEN":
		return "circuit_breaker"
	case errStr == "context deadline exceeded":
		return "timeout"
	case errStr == "context canceled":
		return "canceled"
	default:
		return "unknown"
	}
}
