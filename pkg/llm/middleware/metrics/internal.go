// Package metrics provides internal metrics tracking for LLM operations.
package metrics

import (
	"sync"
	"time"
)

// InternalRecorder aggregates per-experiment usage in memory. It backs the
// end-of-run summary without requiring a Prometheus server.
type InternalRecorder struct {
	experiments map[string]*ExperimentMetrics // experimentID -> aggregated metrics
	mu          sync.RWMutex
}

// ExperimentMetrics represents aggregated usage for one experiment.
//
//nolint:govet
type ExperimentMetrics struct {
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	TotalCost        float64   `json:"total_cost_usd"`
	ExperimentID     string    `json:"experiment_id"`
	LastUpdated      time.Time `json:"last_updated"`
}

var (
	// Singleton instance and initialization synchronization.
	internalInstance *InternalRecorder //nolint:gochecknoglobals
	internalOnce     sync.Once         //nolint:gochecknoglobals
)

// NewInternalRecorder returns a singleton internal metrics recorder.
func NewInternalRecorder() *InternalRecorder {
	internalOnce.Do(func() {
		internalInstance = &InternalRecorder{
			experiments: make(map[string]*ExperimentMetrics),
		}
	})
	return internalInstance
}

// ObserveRequest records metrics for a completed LLM request.
func (r *InternalRecorder) ObserveRequest(
	_, experimentID, _, _ string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	_ string,
	_ time.Duration,
) {
	// Only record successful requests for token/cost tracking
	if !success || experimentID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	exp, exists := r.experiments[experimentID]
	if !exists {
		exp = &ExperimentMetrics{
			ExperimentID: experimentID,
		}
		r.experiments[experimentID] = exp
	}

	exp.PromptTokens += int64(promptTokens)
	exp.CompletionTokens += int64(completionTokens)
	exp.TotalTokens = exp.PromptTokens + exp.CompletionTokens
	exp.TotalCost += cost
	exp.RequestCount++
	exp.LastUpdated = time.Now()
}

// IncThrottle does nothing in the internal recorder.
func (r *InternalRecorder) IncThrottle(_, _ string) {}

// ObserveQueueWait does nothing in the internal recorder.
func (r *InternalRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// GetExperimentMetrics returns the aggregated metrics for a specific experiment.
func (r *InternalRecorder) GetExperimentMetrics(experimentID string) *ExperimentMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if exp, exists := r.experiments[experimentID]; exists {
		// Return a copy to prevent external modification
		clone := *exp
		return &clone
	}
	return nil
}

// GetAllExperimentMetrics returns metrics for all experiments.
func (r *InternalRecorder) GetAllExperimentMetrics() map[string]*ExperimentMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ExperimentMetrics, len(r.experiments))
	for id, exp := range r.experiments {
		clone := *exp
		result[id] = &clone
	}
	return result
}

// ClearExperimentMetrics removes metrics for a specific experiment (useful for testing).
func (r *InternalRecorder) ClearExperimentMetrics(experimentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.experiments, experimentID)
}

// Reset clears all metrics (useful for testing).
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experiments = make(map[string]*ExperimentMetrics)
}
