// Package factory assembles LLM clients with the full middleware chain.
package factory

import (
	"context"
	"fmt"
	"time"

	"testsmith/pkg/config"
	"testsmith/pkg/llm"
	"testsmith/pkg/llm/internal/llmimpl/anthropic"
	"testsmith/pkg/llm/internal/llmimpl/google"
	"testsmith/pkg/llm/internal/llmimpl/ollama"
	"testsmith/pkg/llm/internal/llmimpl/openai"
	"testsmith/pkg/llm/middleware/logging"
	"testsmith/pkg/llm/middleware/metrics"
	"testsmith/pkg/llm/middleware/resilience/circuit"
	"testsmith/pkg/llm/middleware/resilience/ratelimit"
	"testsmith/pkg/llm/middleware/resilience/retry"
	"testsmith/pkg/llm/middleware/resilience/timeout"
	"testsmith/pkg/logx"
)

// providers lists every provider the factory can build clients for.
//
//nolint:gochecknoglobals // Static provider registry
var providers = []string{
	config.ProviderAnthropic,
	config.ProviderOpenAI,
	config.ProviderGoogle,
	config.ProviderOllama,
}

// ClientFactory creates LLM clients with properly configured middleware chains.
// Circuit breakers and rate limiters are shared across all clients the factory
// creates, so failures and spend are tracked per provider process-wide.
type ClientFactory struct {
	recorder        metrics.Recorder
	circuitBreakers map[string]circuit.Breaker // per-provider circuit breakers
	rateLimitMap    *ratelimit.ProviderLimiterMap
	requestTimeout  time.Duration
}

// NewClientFactory creates a new LLM client factory. The context governs the
// rate limiter refill goroutines; cancel it (or call Stop) on shutdown.
func NewClientFactory(ctx context.Context) *ClientFactory {
	// Use Prometheus for full metrics collection
	recorder := metrics.NewPrometheusRecorder()

	requestTimeout := time.Duration(config.DefaultProviderTimeoutSec) * time.Second
	if cfg, err := config.GetConfig(); err == nil && cfg.Providers != nil {
		requestTimeout = time.Duration(cfg.Providers.TimeoutSeconds) * time.Second
	}

	// Per-provider circuit breakers and rate limiters
	circuitBreakers := make(map[string]circuit.Breaker, len(providers))
	rateLimitConfigs := make(map[string]ratelimit.Config, len(providers))
	for _, provider := range providers {
		circuitBreakers[provider] = circuit.New(circuit.DefaultConfig)

		limits := config.GetProviderLimits(provider)
		rateLimitConfigs[provider] = ratelimit.Config{
			TokensPerMinute: limits.TokensPerMinute,
			MaxConcurrency:  limits.MaxConcurrency,
			DailyBudgetUSD:  limits.DailyBudgetUSD,
		}
	}
	rateLimitMap := ratelimit.NewProviderLimiterMap(ctx, rateLimitConfigs, requestTimeout)

	return &ClientFactory{
		recorder:        recorder,
		circuitBreakers: circuitBreakers,
		rateLimitMap:    rateLimitMap,
		requestTimeout:  requestTimeout,
	}
}

// Stop shuts down the factory's rate limiter goroutines.
func (f *ClientFactory) Stop() {
	f.rateLimitMap.Stop()
}

// LimiterStats returns rate limiter statistics for all providers.
func (f *ClientFactory) LimiterStats() map[string]ratelimit.LimiterStats {
	return f.rateLimitMap.GetAllStats()
}

// CreateClient creates an LLM client for the given model with the full middleware chain.
// The API key is automatically retrieved from environment variables based on the model's provider.
func (f *ClientFactory) CreateClient(modelName string) (llm.LLMClient, error) {
	return f.createClientWithMiddleware(modelName, nil, nil)
}

// CreateClientWithContext creates an LLM client with a StateProvider and logger
// so request metrics carry the experiment id, technique, and loop state.
func (f *ClientFactory) CreateClientWithContext(modelName string, stateProvider metrics.StateProvider, logger *logx.Logger) (llm.LLMClient, error) {
	return f.createClientWithMiddleware(modelName, stateProvider, logger)
}

// createClientWithMiddleware creates a client with the full middleware chain.
func (f *ClientFactory) createClientWithMiddleware(modelName string, stateProvider metrics.StateProvider, logger *logx.Logger) (llm.LLMClient, error) {
	rawClient, provider, err := newRawClient(modelName)
	if err != nil {
		return nil, err
	}

	// Get the circuit breaker for this provider
	circuitBreaker, exists := f.circuitBreakers[provider]
	if !exists {
		return nil, fmt.Errorf("no circuit breaker found for provider %s", provider)
	}

	retryPolicy := retry.NewPolicy(retry.DefaultConfig, nil) // Use default classifier

	// Build the middleware chain in the correct order:
	// Metrics -> CircuitBreaker -> Retry -> RateLimit -> Timeout -> EmptyResponseLogging -> RawClient
	// Retry sits outside the per-request timeout so every attempt gets a fresh deadline.
	client := llm.Chain(rawClient,
		metrics.Middleware(f.recorder, nil, stateProvider, logger), // Enhanced metrics with state context
		circuit.Middleware(circuitBreaker),
		retry.Middleware(retryPolicy),
		ratelimit.Middleware(f.rateLimitMap, nil, f.recorder), // Uses default token estimator
		timeout.Middleware(f.requestTimeout),
		logging.EmptyResponseLoggingMiddleware(), // Dump request context before retry swallows the error
	)

	return client, nil
}

// NewRawClient creates a provider client with no middleware. Used by integration
// tests and diagnostics that need to observe provider behavior directly.
func NewRawClient(modelName string) (llm.LLMClient, error) {
	client, _, err := newRawClient(modelName)
	return client, err
}

func newRawClient(modelName string) (llm.LLMClient, string, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	// For Ollama this is the host URL rather than a secret
	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	var client llm.LLMClient
	switch provider {
	case config.ProviderAnthropic:
		client = anthropic.NewClaudeClientWithModel(apiKey, modelName)
	case config.ProviderOpenAI:
		client = openai.NewOfficialClientWithModel(apiKey, modelName)
	case config.ProviderGoogle:
		client = google.NewGeminiClientWithModel(apiKey, modelName)
	case config.ProviderOllama:
		client = ollama.NewOllamaClientWithModel(apiKey, modelName)
	default:
		return nil, "", fmt.Errorf("unsupported provider: %s", provider)
	}

	return client, provider, nil
}
