// Package loop implements the generate-verify-repair loop: the state machine
// that turns unreliable LLM completions into syntactically valid, executable,
// and optionally passing test files, with bounded retries and deterministic
// outcome classification.
package loop

import (
	"fmt"
	"sort"
)

// State names the loop's position within one generation request.
type State string

// State constants - single source of truth for state names.
const (
	// StateDrafting awaits an LLM completion.
	StateDrafting State = "DRAFTING"
	// StateCheckingValidity parses the candidate without executing it.
	StateCheckingValidity State = "CHECKING_VALIDITY"
	// StateExecuting runs the candidate in the sandbox harness.
	StateExecuting State = "EXECUTING"
	// StateMeasuringCoverage re-runs a passing candidate under instrumentation.
	StateMeasuringCoverage State = "MEASURING_COVERAGE"
	// StateDone is terminal for the request.
	StateDone State = "DONE"
)

// Transitions defines the canonical state transition map for the repair loop.
// This is the single source of truth; the controller and its tests must match
// it exactly.
//
//nolint:gochecknoglobals // Canonical transition table
var Transitions = map[State][]State{
	// DRAFTING produces a candidate (→CHECKING_VALIDITY), consumes an
	// iteration on a retryable provider error (→DRAFTING), or aborts on a
	// fatal provider error / exhausted budget (→DONE).
	StateDrafting: {StateCheckingValidity, StateDrafting, StateDone},

	// CHECKING_VALIDITY proceeds to execution, succeeds immediately when
	// execution is disabled (→DONE), or feeds the parse error back
	// (→DRAFTING) while budget remains (→DONE when exhausted).
	StateCheckingValidity: {StateExecuting, StateDrafting, StateDone},

	// EXECUTING passes (→MEASURING_COVERAGE or →DONE when coverage is off)
	// or feeds the failure back (→DRAFTING, →DONE when budget exhausted).
	StateExecuting: {StateMeasuringCoverage, StateDrafting, StateDone},

	// MEASURING_COVERAGE always completes the request.
	StateMeasuringCoverage: {StateDone},

	// DONE is terminal.
	StateDone: {},
}

// IsValidTransition checks if a transition between two states is allowed
// according to the canonical state machine specification.
func IsValidTransition(from, to State) bool {
	allowed, exists := Transitions[from]
	if !exists {
		return false
	}
	for _, state := range allowed {
		if state == to {
			return true
		}
	}
	return false
}

// ValidateState checks if a state is known to the loop.
func ValidateState(state State) error {
	if _, exists := Transitions[state]; !exists {
		return fmt.Errorf("invalid loop state: %s", state)
	}
	return nil
}

// AllStates returns every state in the transition map in deterministic
// alphabetical order.
func AllStates() []State {
	stateSet := make(map[State]bool)
	for from, targets := range Transitions {
		stateSet[from] = true
		for _, to := range targets {
			stateSet[to] = true
		}
	}

	states := make([]State, 0, len(stateSet))
	for state := range stateSet {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states
}
