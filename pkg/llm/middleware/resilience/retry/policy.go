// Package retry provides retry logic with exponential backoff for resilient LLM calls.
package retry

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"testsmith/pkg/llm/llmerrors"
	"testsmith/pkg/llm/middleware/resilience/circuit"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           `json:"max_attempts"`   // Maximum number of attempts (including initial)
	InitialDelay  time.Duration `json:"initial_delay"`  // Initial delay before first retry
	MaxDelay      time.Duration `json:"max_delay"`      // Maximum delay between retries
	BackoffFactor float64       `json:"backoff_factor"` // Multiplier for exponential backoff
	Jitter        bool          `json:"jitter"`         // Add random jitter to prevent thundering herd
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default error classifier that determines retry behavior.
// Uses a blocklist approach: errors are retryable unless known to be permanent.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	// Never retry context cancellation - the caller gave up
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Never retry circuit breaker errors - let the circuit breaker handle recovery
	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return false
	}

	// Classified provider errors carry their own retryability
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}

	// DeadlineExceeded is retryable: per-request HTTP timeouts wrap
	// DeadlineExceeded but the parent context is still valid
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// Don't retry auth failures
	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") {
		return false
	}

	// Don't retry malformed requests
	if strings.Contains(errStr, "400") ||
		strings.Contains(errStr, "404") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "not found") {
		return false
	}

	// Everything else (network errors, 5xx, rate limits, the unexpected) is retryable
	return true
}

// Policy encapsulates retry configuration and logic.
//
//nolint:govet // Simple struct, logical grouping preferred
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a new retry policy with the given configuration and classifier.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
	}
}

// AttemptsFor returns the total attempt budget for the given error.
// Classified provider errors use their per-type retry configuration
// (a rate limit tolerates more attempts than an unknown failure);
// everything else falls back to the policy's MaxAttempts.
func (p *Policy) AttemptsFor(err error) int {
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return 1 + llmErr.GetRetryConfig().MaxRetries
	}
	return p.Config.MaxAttempts
}

// DelayFor computes the backoff delay before the given attempt number,
// using the error type's retry configuration when the error is classified.
func (p *Policy) DelayFor(err error, attempt int) time.Duration {
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		cfg := llmErr.GetRetryConfig()
		return computeDelay(attempt, cfg.InitialDelay, cfg.MaxDelay, cfg.BackoffFactor, cfg.Jitter)
	}
	return p.CalculateDelay(attempt)
}

// CalculateDelay computes the delay for the given attempt number.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	return computeDelay(attempt, p.Config.InitialDelay, p.Config.MaxDelay, p.Config.BackoffFactor, p.Config.Jitter)
}

func computeDelay(attempt int, initial, maxDelay time.Duration, factor float64, jitter bool) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-2)))

	// Cap at maximum delay
	if delay > maxDelay {
		delay = maxDelay
	}

	// Add jitter if enabled
	if jitter && delay > 0 {
		jitterFactor := (2*time.Now().UnixNano()%2 - 1) // -1 or 1
		jitterAmount := time.Duration(float64(delay) * 0.1 * float64(jitterFactor))
		delay += jitterAmount
		if delay < 0 {
			delay = initial
		}
	}

	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
