package loop

import "testsmith/pkg/harness"

// OutcomeKind classifies the terminal result of a generation request.
type OutcomeKind string

const (
	// OutcomeSuccess means a candidate passed, or was syntactically valid
	// with execution disabled.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomePartialSuccess means the budget ran out but at least one
	// candidate was syntactically valid.
	OutcomePartialSuccess OutcomeKind = "partial_success"
	// OutcomeExhaustedAttempts means the budget ran out with no valid
	// candidate.
	OutcomeExhaustedAttempts OutcomeKind = "exhausted_attempts"
	// OutcomeFatal means a non-retryable provider error aborted the request.
	OutcomeFatal OutcomeKind = "fatal"
)

// Outcome is the terminal classification of a generation request.
type Outcome struct {
	Kind OutcomeKind

	// Candidate is the final (Success), best (PartialSuccess), or last
	// (ExhaustedAttempts) candidate text. Empty for Fatal with no attempts.
	Candidate string

	// Coverage belongs to Candidate; unavailable unless it passed under
	// instrumentation.
	Coverage harness.Coverage

	// Iterations is the number of attempts consumed.
	Iterations int

	// ErrorText carries the last failure for ExhaustedAttempts and the
	// provider error for Fatal.
	ErrorText string
}

// Accepted reports whether the outcome carries a candidate worth keeping.
func (o Outcome) Accepted() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomePartialSuccess
}

// ComputeOutcome classifies a completed request purely from its ordered
// attempt sequence. Fatal outcomes never reach here; the controller builds
// them directly from the provider error.
//
// Rules, in order:
//   - last attempt passed → Success with its coverage
//   - last attempt valid with no execution attempted → Success (execution
//     was disabled; invalid attempts never execute either, but they are not
//     valid)
//   - any valid attempt → PartialSuccess with the best valid attempt: highest
//     observed coverage, ties broken by latest iteration (documented policy
//     choice, not a discovered invariant)
//   - otherwise → ExhaustedAttempts carrying the last error
func ComputeOutcome(attempts []Attempt) Outcome {
	if len(attempts) == 0 {
		return Outcome{Kind: OutcomeExhaustedAttempts}
	}

	last := attempts[len(attempts)-1]
	if last.Passed() {
		return Outcome{
			Kind:       OutcomeSuccess,
			Candidate:  last.Candidate,
			Coverage:   last.Coverage,
			Iterations: len(attempts),
		}
	}
	if last.Validity.Valid && last.Execution == nil {
		return Outcome{
			Kind:       OutcomeSuccess,
			Candidate:  last.Candidate,
			Coverage:   harness.Unavailable(),
			Iterations: len(attempts),
		}
	}

	if best, ok := bestValidAttempt(attempts); ok {
		return Outcome{
			Kind:       OutcomePartialSuccess,
			Candidate:  best.Candidate,
			Coverage:   best.Coverage,
			Iterations: len(attempts),
			ErrorText:  last.ErrorText,
		}
	}

	return Outcome{
		Kind:       OutcomeExhaustedAttempts,
		Candidate:  last.Candidate,
		Iterations: len(attempts),
		ErrorText:  last.ErrorText,
	}
}

// bestValidAttempt selects the valid attempt with the highest observed
// coverage, later iterations winning ties. Unavailable coverage ranks below
// any available value.
func bestValidAttempt(attempts []Attempt) (Attempt, bool) {
	var best Attempt
	found := false
	bestScore := -1.0

	for _, a := range attempts {
		if !a.Validity.Valid {
			continue
		}
		score := -1.0
		if a.Coverage.Available {
			score = a.Coverage.Percent
		}
		// >= so the latest of equally scored attempts wins.
		if !found || score >= bestScore {
			best = a
			bestScore = score
			found = true
		}
	}
	return best, found
}
