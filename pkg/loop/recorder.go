package loop

import "fmt"

// Recorder accumulates the attempts of one generation request. Append-only:
// a recorded attempt is never mutated, and the sequence is exposed as a copy.
type Recorder struct {
	attempts []Attempt
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends an attempt. Iteration indices must be contiguous starting at
// 1; a gap is a programming error in the controller and panics.
func (r *Recorder) Record(a Attempt) {
	expected := len(r.attempts) + 1
	if a.Iteration != expected {
		panic(fmt.Sprintf("attempt iteration %d recorded out of order, expected %d", a.Iteration, expected))
	}
	r.attempts = append(r.attempts, a)
}

// Len returns the number of recorded attempts.
func (r *Recorder) Len() int {
	return len(r.attempts)
}

// Last returns the most recent attempt, or false when none exist.
func (r *Recorder) Last() (Attempt, bool) {
	if len(r.attempts) == 0 {
		return Attempt{}, false
	}
	return r.attempts[len(r.attempts)-1], true
}

// Attempts returns the ordered attempt sequence as a defensive copy.
func (r *Recorder) Attempts() []Attempt {
	out := make([]Attempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}
