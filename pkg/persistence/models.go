package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Experiment is one persisted generation request: its parameters, terminal
// outcome, and aggregate accounting. The per-iteration trace lives in the
// attempts table.
//
//nolint:govet // struct alignment optimization not critical for this type
type Experiment struct {
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ID        string `json:"id"`
	PUTID     string `json:"put_id"`
	Technique string `json:"technique"`
	Category  string `json:"category"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`

	MaxIterations   int  `json:"max_iterations"`
	ExecuteTests    bool `json:"execute_tests"`
	MeasureCoverage bool `json:"measure_coverage"`

	OutcomeKind     string   `json:"outcome_kind"`
	Iterations      int      `json:"iterations"`
	CoveragePercent *float64 `json:"coverage_percent,omitempty"` // nil = unavailable
	TestCount       int      `json:"test_count"`

	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`

	ErrorText string `json:"error_text,omitempty"`
}

// AttemptRecord is one persisted loop iteration.
//
//nolint:govet // struct alignment optimization not critical for this type
type AttemptRecord struct {
	ExperimentID    string   `json:"experiment_id"`
	Iteration       int      `json:"iteration"`
	Valid           bool     `json:"valid"`
	ValidityMessage string   `json:"validity_message,omitempty"`
	ExecutionStatus string   `json:"execution_status,omitempty"` // empty = execution not attempted
	ExecutionDetail string   `json:"execution_detail,omitempty"`
	CoveragePercent *float64 `json:"coverage_percent,omitempty"` // nil = unavailable
	Candidate       string   `json:"candidate"`
	ErrorText       string   `json:"error_text,omitempty"`
	DurationMS      int64    `json:"duration_ms"`
}

// Experiment outcome kinds as stored. These mirror the loop's outcome enum;
// the string values are the storage contract.
const (
	OutcomeSuccess           = "success"
	OutcomePartialSuccess    = "partial_success"
	OutcomeExhaustedAttempts = "exhausted_attempts"
	OutcomeFatal             = "fatal"
)

// ValidOutcomeKinds returns all valid outcome kinds.
func ValidOutcomeKinds() []string {
	return []string{OutcomeSuccess, OutcomePartialSuccess, OutcomeExhaustedAttempts, OutcomeFatal}
}

// IsValidOutcomeKind checks if an outcome kind string is valid.
func IsValidOutcomeKind(kind string) bool {
	for _, valid := range ValidOutcomeKinds() {
		if kind == valid {
			return true
		}
	}
	return false
}

// NewExperimentID generates a new UUID for an experiment.
func NewExperimentID() string {
	return uuid.New().String()
}
