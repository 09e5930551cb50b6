package loop

import (
	"fmt"
	"strings"
	"time"

	"testsmith/pkg/harness"
	"testsmith/pkg/validity"
)

// GenerationRequest is the immutable input for one unit of work. Created once
// per request; owned by the caller.
type GenerationRequest struct {
	// ExperimentID correlates attempts, metrics, and persisted records.
	// Optional; empty disables correlation.
	ExperimentID string

	// PUTID identifies the program under test, e.g. its file base name.
	PUTID string

	// SourceCode is the full source text of the function under test.
	SourceCode string

	// PackageName is the declared package of the source under test.
	PackageName string

	// Functions lists the exported function names of the source under test,
	// included in prompt context when present.
	Functions []string

	// ModulePath is the module identifier generated tests may import the
	// package by. Defaults to PackageName when empty.
	ModulePath string

	// Technique is the prompt technique id, e.g. "zero-shot-v1".
	Technique string

	// MaxIterations bounds the generate-verify-repair iterations.
	MaxIterations int

	// ExecuteTests controls whether valid candidates are run. When false, a
	// syntactically valid candidate is immediate success.
	ExecuteTests bool

	// MeasureCoverage controls whether passing candidates are re-run under
	// coverage instrumentation. Requires ExecuteTests.
	MeasureCoverage bool

	// Timeout overrides the harness default per-run wall-clock budget when
	// positive.
	Timeout time.Duration
}

// Validate reports caller misuse. Provider and generation failures are loop
// outcomes, never validation errors.
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.SourceCode) == "" {
		return fmt.Errorf("generation request has no source code")
	}
	if r.PackageName == "" {
		return fmt.Errorf("generation request has no package name")
	}
	if r.Technique == "" {
		return fmt.Errorf("generation request has no technique")
	}
	if r.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be >= 1, got %d", r.MaxIterations)
	}
	if r.MeasureCoverage && !r.ExecuteTests {
		return fmt.Errorf("coverage measurement requires test execution")
	}
	return nil
}

// Attempt records one iteration of the loop. Immutable once recorded.
type Attempt struct {
	// Iteration is the 1-based iteration index.
	Iteration int

	// Candidate is the generated test file text this iteration produced.
	// Empty when the provider call failed.
	Candidate string

	// Validity is the syntax-check result for the candidate.
	Validity validity.Result

	// Execution is nil when execution was not attempted: invalid candidates,
	// execution disabled, or a failed provider call.
	Execution *harness.ExecutionResult

	// Coverage is unavailable unless the candidate passed and coverage
	// measurement was requested.
	Coverage harness.Coverage

	// ErrorText is the raw failure text fed into the next iteration's
	// prompt. Empty on success.
	ErrorText string

	// PromptTokens and CompletionTokens are token counts for the LLM
	// exchange behind this attempt.
	PromptTokens     int
	CompletionTokens int

	// Duration is the wall-clock time of the whole iteration.
	Duration time.Duration
}

// Passed reports whether this attempt executed and passed.
func (a *Attempt) Passed() bool {
	return a.Execution != nil && a.Execution.Status == harness.StatusPassed
}
