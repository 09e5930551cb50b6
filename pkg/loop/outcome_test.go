package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"testsmith/pkg/harness"
	"testsmith/pkg/validity"
)

func validAttempt(iteration int) Attempt {
	return Attempt{
		Iteration: iteration,
		Candidate: "package x",
		Validity:  validity.Result{Valid: true},
		Coverage:  harness.Unavailable(),
	}
}

func invalidAttempt(iteration int, message string) Attempt {
	return Attempt{
		Iteration: iteration,
		Candidate: "not go",
		Validity:  validity.Result{Valid: false, Message: message},
		Coverage:  harness.Unavailable(),
		ErrorText: message,
	}
}

func failedAttempt(iteration int, detail string) Attempt {
	a := validAttempt(iteration)
	a.Execution = &harness.ExecutionResult{Status: harness.StatusFailed, Detail: detail}
	a.ErrorText = detail
	return a
}

func passedAttempt(iteration int, coverage harness.Coverage) Attempt {
	a := validAttempt(iteration)
	a.Execution = &harness.ExecutionResult{Status: harness.StatusPassed}
	a.Coverage = coverage
	return a
}

func TestComputeOutcomeEmpty(t *testing.T) {
	outcome := ComputeOutcome(nil)
	assert.Equal(t, OutcomeExhaustedAttempts, outcome.Kind)
	assert.Equal(t, 0, outcome.Iterations)
}

func TestComputeOutcomePassedIsSuccess(t *testing.T) {
	attempts := []Attempt{
		invalidAttempt(1, "parse error"),
		passedAttempt(2, harness.NewCoverage(83.3)),
	}
	outcome := ComputeOutcome(attempts)

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 2, outcome.Iterations)
	assert.True(t, outcome.Coverage.Available)
	assert.Equal(t, 83.3, outcome.Coverage.Percent)
	assert.True(t, outcome.Accepted())
}

func TestComputeOutcomeValidWithoutExecutionIsSuccess(t *testing.T) {
	// Execution disabled: a valid candidate with no execution is success,
	// coverage unavailable.
	outcome := ComputeOutcome([]Attempt{validAttempt(1)})

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.False(t, outcome.Coverage.Available)
}

func TestComputeOutcomeAllInvalidIsExhausted(t *testing.T) {
	attempts := []Attempt{
		invalidAttempt(1, "first error"),
		invalidAttempt(2, "second error"),
		invalidAttempt(3, "third error"),
	}
	outcome := ComputeOutcome(attempts)

	assert.Equal(t, OutcomeExhaustedAttempts, outcome.Kind)
	assert.Equal(t, 3, outcome.Iterations)
	assert.Equal(t, "third error", outcome.ErrorText, "last error carried")
	assert.False(t, outcome.Accepted())
	for _, a := range attempts {
		assert.False(t, a.Coverage.Available)
	}
}

func TestComputeOutcomeSomeValidIsPartial(t *testing.T) {
	attempts := []Attempt{
		invalidAttempt(1, "parse error"),
		failedAttempt(2, "assertion failed"),
		failedAttempt(3, "assertion failed again"),
	}
	outcome := ComputeOutcome(attempts)

	assert.Equal(t, OutcomePartialSuccess, outcome.Kind)
	// No coverage observed: ties broken by latest iteration.
	assert.Equal(t, attempts[2].Candidate, outcome.Candidate)
	assert.Equal(t, "assertion failed again", outcome.ErrorText)
}

func TestPartialSuccessPrefersHighestCoverage(t *testing.T) {
	// Coverage on a non-passed attempt cannot normally happen, but the
	// selection rule is specified over observed coverage regardless.
	high := failedAttempt(1, "flaky")
	high.Coverage = harness.NewCoverage(90.0)
	high.Candidate = "high"
	low := failedAttempt(2, "flaky")
	low.Coverage = harness.NewCoverage(10.0)
	low.Candidate = "low"

	outcome := ComputeOutcome([]Attempt{high, low})
	assert.Equal(t, OutcomePartialSuccess, outcome.Kind)
	assert.Equal(t, "high", outcome.Candidate)
}

func TestPartialSuccessTieBreaksToLatest(t *testing.T) {
	first := failedAttempt(1, "x")
	first.Candidate = "first"
	second := failedAttempt(2, "x")
	second.Candidate = "second"

	outcome := ComputeOutcome([]Attempt{first, second})
	assert.Equal(t, "second", outcome.Candidate)
}

func TestOutcomeIsPureOverAttemptSequence(t *testing.T) {
	attempts := []Attempt{
		invalidAttempt(1, "e1"),
		failedAttempt(2, "e2"),
	}
	first := ComputeOutcome(attempts)
	second := ComputeOutcome(attempts)
	assert.Equal(t, first, second)
}
