// Package ratelimit provides rate limiting and budget enforcement for LLM clients.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"testsmith/pkg/config"
	"testsmith/pkg/llm"
	"testsmith/pkg/logx"
	"testsmith/pkg/utils"
)

// bufferFactor discounts bucket capacity to absorb token estimation inaccuracies.
const bufferFactor = 0.9

// ErrBudgetExceeded is returned when the provider's daily spend cap is reached.
// It resets at local midnight.
var ErrBudgetExceeded = fmt.Errorf("daily budget exceeded")

// Limiter defines the interface for rate limiting implementations.
type Limiter interface {
	// Acquire attempts to atomically acquire tokens and a concurrency slot.
	// Returns a release function that must be called to return the concurrency slot.
	// Blocks until both resources are available or context is cancelled.
	Acquire(ctx context.Context, tokens int) (releaseFunc func(), err error)

	// RecordCost adds to the provider's daily spend.
	RecordCost(costUSD float64)

	// GetStats returns current limiter statistics.
	GetStats() LimiterStats
}

// TokenEstimator estimates the number of tokens needed for a request.
type TokenEstimator interface {
	// EstimatePrompt estimates the number of prompt tokens for a request.
	EstimatePrompt(req llm.CompletionRequest) int
}

// Config defines rate limiting configuration for a provider.
type Config struct {
	TokensPerMinute int     `json:"tokens_per_minute"` // Rate limit in tokens per minute
	MaxConcurrency  int     `json:"max_concurrency"`   // Maximum concurrent requests
	DailyBudgetUSD  float64 `json:"daily_budget_usd"`  // Daily spend cap (0 = unlimited)
}

// DefaultTokenEstimator provides token estimation using TikToken.
type DefaultTokenEstimator struct{}

// NewDefaultTokenEstimator creates a new default token estimator.
func NewDefaultTokenEstimator() TokenEstimator {
	return &DefaultTokenEstimator{}
}

// EstimatePrompt estimates prompt tokens using TikToken-based counting.
//
//nolint:gocritic // 80 bytes is reasonable for token estimation
func (e *DefaultTokenEstimator) EstimatePrompt(req llm.CompletionRequest) int {
	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	return utils.CountTokensSimple(promptText)
}

// acquisition tracks a single concurrency slot acquisition for cleanup purposes.
type acquisition struct {
	timestamp time.Time
}

// TokenBucketLimiter implements rate limiting using a token bucket algorithm
// combined with concurrency limiting (semaphore) and daily budget enforcement.
//
//nolint:govet // fieldalignment: Struct layout optimized for readability over memory
type TokenBucketLimiter struct {
	mu sync.Mutex

	// Provider identification
	provider string

	// Token bucket state
	availableTokens int // Current tokens available
	tokensPerRefill int // Tokens added every refill (tokens_per_minute / 10)
	maxCapacity     int // Maximum bucket capacity (tokens_per_minute * bufferFactor)

	// Concurrency limiting
	activeRequests int            // Current active requests
	maxConcurrency int            // Maximum concurrent requests
	acquisitions   []*acquisition // Track active acquisitions for cleanup
	releaseTimeout time.Duration  // How long before auto-releasing stale acquisitions

	// Daily budget
	maxBudgetUSD float64 // Daily spend cap (0 = unlimited)
	spentUSD     float64 // Spend since last daily reset

	// Metrics
	tokenLimitHits  int64 // Times we had to wait for tokens
	concurrencyHits int64 // Times we had to wait for a slot
}

// LimiterStats represents current rate limiter statistics.
type LimiterStats struct {
	Provider            string  `json:"provider"`
	AvailableTokens     int     `json:"available_tokens"`
	MaxCapacity         int     `json:"max_capacity"`
	ActiveRequests      int     `json:"active_requests"`
	MaxConcurrency      int     `json:"max_concurrency"`
	SpentUSD            float64 `json:"spent_usd"`
	MaxBudgetUSD        float64 `json:"max_budget_usd"`
	TokenLimitHits      int64   `json:"token_limit_hits"`
	ConcurrencyHits     int64   `json:"concurrency_hits"`
	TrackedAcquisitions int     `json:"tracked_acquisitions"` // For debugging
}

// NewTokenBucketLimiter creates a new token bucket rate limiter for a provider.
func NewTokenBucketLimiter(provider string, cfg Config, requestTimeout time.Duration) *TokenBucketLimiter {
	maxCapacity := int(float64(cfg.TokensPerMinute) * bufferFactor)

	// Refill every 6 seconds (divide by 10 for per-minute rate)
	tokensPerRefill := cfg.TokensPerMinute / 10

	return &TokenBucketLimiter{
		provider:        provider,
		availableTokens: maxCapacity, // Start with full bucket
		tokensPerRefill: tokensPerRefill,
		maxCapacity:     maxCapacity,
		activeRequests:  0,
		maxConcurrency:  cfg.MaxConcurrency,
		acquisitions:    make([]*acquisition, 0),
		releaseTimeout:  requestTimeout * 2, // 2x request timeout for stale detection
		maxBudgetUSD:    cfg.DailyBudgetUSD,
		spentUSD:        0,
	}
}

// Acquire atomically acquires both tokens and a concurrency slot.
// Returns a release function that MUST be called (via defer) to return the slot.
// Blocks until both resources are available, context is cancelled, or the wait cap is reached.
//
// A budget-exceeded provider fails immediately rather than blocking: the budget
// only resets at midnight, so waiting cannot help.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, tokens int) (func(), error) {
	firstAttempt := true
	startTime := time.Now()

	// The bucket refills to full capacity over ~1 minute (10 refills x 6 seconds).
	// Waiting much longer than a couple of refill cycles means the request can
	// never be satisfied (config error or impossible request).
	const maxWait = 3 * time.Minute

	for {
		l.mu.Lock()

		if l.maxBudgetUSD > 0 && l.spentUSD >= l.maxBudgetUSD {
			spent := l.spentUSD
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: provider %s spent $%.2f of $%.2f daily budget",
				ErrBudgetExceeded, l.provider, spent, l.maxBudgetUSD)
		}

		// If we're at capacity, opportunistically check for stale acquisitions
		if l.activeRequests >= l.maxConcurrency {
			l.cleanStaleAcquisitions()
		}

		// Check both conditions atomically under same lock
		hasTokens := l.availableTokens >= tokens
		hasSlot := l.activeRequests < l.maxConcurrency

		if hasTokens && hasSlot {
			// Acquire both resources atomically
			l.availableTokens -= tokens
			l.activeRequests++

			acq := &acquisition{timestamp: time.Now()}
			l.acquisitions = append(l.acquisitions, acq)

			releaseFunc := func() {
				l.release(acq)
			}

			l.mu.Unlock()
			return releaseFunc, nil
		}

		// Check for timeout before waiting
		elapsed := time.Since(startTime)
		if elapsed > maxWait {
			l.mu.Unlock()
			return nil, fmt.Errorf("rate limit acquisition timeout after %v "+
				"(requested %d tokens, max capacity %d, provider: %s)",
				elapsed.Round(time.Second), tokens, l.maxCapacity, l.provider)
		}

		// Can't acquire - record what blocked us (only on first attempt to avoid log spam)
		if firstAttempt {
			if !hasTokens {
				l.tokenLimitHits++
				logx.Infof("RATELIMIT: %s token limit hit, waiting for refill (need %d, have %d)",
					l.provider, tokens, l.availableTokens)
			}
			if !hasSlot {
				l.concurrencyHits++
				logx.Infof("RATELIMIT: %s concurrency limit hit, waiting for slot (active: %d/%d)",
					l.provider, l.activeRequests, l.maxConcurrency)
			}
			firstAttempt = false
		}

		l.mu.Unlock()

		// Wait briefly then retry
		select {
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck // Context error propagated as-is
		case <-time.After(100 * time.Millisecond):
			continue
		}
	}
}

// RecordCost adds to the daily spend total.
func (l *TokenBucketLimiter) RecordCost(costUSD float64) {
	if costUSD <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spentUSD += costUSD
}

// release returns a concurrency slot (tokens are already consumed and not refunded).
func (l *TokenBucketLimiter) release(acq *acquisition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, a := range l.acquisitions {
		if a == acq {
			l.acquisitions = append(l.acquisitions[:i], l.acquisitions[i+1:]...)
			break
		}
	}

	l.activeRequests--
}

// cleanStaleAcquisitions removes acquisitions that have exceeded the release timeout.
// Called under lock when concurrency appears full.
func (l *TokenBucketLimiter) cleanStaleAcquisitions() {
	now := time.Now()
	cleaned := 0

	validAcquisitions := make([]*acquisition, 0, len(l.acquisitions))
	for _, acq := range l.acquisitions {
		if now.Sub(acq.timestamp) > l.releaseTimeout {
			cleaned++
			l.activeRequests--
			_ = logx.Errorf("RATELIMIT: Force-released stale concurrency slot after %v (provider: %s)",
				l.releaseTimeout, l.provider)
		} else {
			validAcquisitions = append(validAcquisitions, acq)
		}
	}
	l.acquisitions = validAcquisitions

	if cleaned > 0 {
		logx.Warnf("RATELIMIT: Cleaned %d stale concurrency slots for provider %s", cleaned, l.provider)
	}
}

// startRefillTimer starts a background goroutine that refills tokens every 6 seconds.
// Stops when context is cancelled.
func (l *TokenBucketLimiter) startRefillTimer(ctx context.Context) {
	ticker := time.NewTicker(6 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.refill()
			}
		}
	}()
}

// refill adds tokens to the bucket up to max capacity.
func (l *TokenBucketLimiter) refill() {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldTokens := l.availableTokens
	l.availableTokens += l.tokensPerRefill

	if l.availableTokens > l.maxCapacity {
		l.availableTokens = l.maxCapacity
	}

	if l.availableTokens != oldTokens {
		logx.Debugf("RATELIMIT: %s bucket refilled: %d -> %d tokens (max: %d)",
			l.provider, oldTokens, l.availableTokens, l.maxCapacity)
	}
}

// resetDaily clears the daily spend. Called at local midnight.
func (l *TokenBucketLimiter) resetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.spentUSD > 0 {
		logx.Infof("RATELIMIT: %s daily budget reset (spent $%.2f)", l.provider, l.spentUSD)
	}
	l.spentUSD = 0
}

// GetStats returns current limiter statistics (thread-safe).
func (l *TokenBucketLimiter) GetStats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterStats{
		Provider:            l.provider,
		AvailableTokens:     l.availableTokens,
		MaxCapacity:         l.maxCapacity,
		ActiveRequests:      l.activeRequests,
		MaxConcurrency:      l.maxConcurrency,
		SpentUSD:            l.spentUSD,
		MaxBudgetUSD:        l.maxBudgetUSD,
		TokenLimitHits:      l.tokenLimitHits,
		ConcurrencyHits:     l.concurrencyHits,
		TrackedAcquisitions: len(l.acquisitions),
	}
}

// ProviderLimiterMap manages rate limiters for different API providers.
type ProviderLimiterMap struct {
	limiters   map[string]*TokenBucketLimiter
	ctx        context.Context //nolint:containedctx // Required for refill timer lifecycle management
	cancel     context.CancelFunc
	resetTimer *time.Timer
	mu         sync.Mutex
}

// NewProviderLimiterMap creates a new provider limiter map with real token bucket limiters.
func NewProviderLimiterMap(ctx context.Context, configs map[string]Config, requestTimeout time.Duration) *ProviderLimiterMap {
	// Create cancellable context for limiter lifecycle
	ctx, cancel := context.WithCancel(ctx)

	limiters := make(map[string]*TokenBucketLimiter)
	for provider, cfg := range configs {
		limiter := NewTokenBucketLimiter(provider, cfg, requestTimeout)
		limiter.startRefillTimer(ctx) // Start background refill
		limiters[provider] = limiter
	}

	p := &ProviderLimiterMap{
		limiters: limiters,
		ctx:      ctx,
		cancel:   cancel,
	}
	p.scheduleDailyReset()

	return p
}

// Stop cancels all refill timers and cleans up resources.
func (p *ProviderLimiterMap) Stop() {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resetTimer != nil {
		p.resetTimer.Stop()
	}
}

// GetLimiter returns the rate limiter for a specific model.
func (p *ProviderLimiterMap) GetLimiter(modelName string) (Limiter, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("cannot determine provider for model %s: %w", modelName, err)
	}

	limiter, exists := p.limiters[provider]
	if !exists {
		return nil, fmt.Errorf("no rate limiter configured for provider %s", provider)
	}

	return limiter, nil
}

// GetAllStats returns statistics for all provider limiters.
func (p *ProviderLimiterMap) GetAllStats() map[string]LimiterStats {
	stats := make(map[string]LimiterStats)
	for provider, limiter := range p.limiters {
		stats[provider] = limiter.GetStats()
	}
	return stats
}

// ResetDaily resets daily spend for all providers.
func (p *ProviderLimiterMap) ResetDaily() {
	for _, limiter := range p.limiters {
		limiter.resetDaily()
	}
}

// scheduleDailyReset arms a timer for the next local midnight, rearming after each fire.
func (p *ProviderLimiterMap) scheduleDailyReset() {
	now := time.Now()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	timeUntilMidnight := time.Until(nextMidnight)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetTimer = time.AfterFunc(timeUntilMidnight, func() {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		p.ResetDaily()
		p.scheduleDailyReset()
	})
}
