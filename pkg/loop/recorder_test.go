package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testsmith/pkg/validity"
)

func TestRecorderAppendsInOrder(t *testing.T) {
	r := NewRecorder()
	assert.Equal(t, 0, r.Len())

	_, ok := r.Last()
	assert.False(t, ok)

	r.Record(Attempt{Iteration: 1})
	r.Record(Attempt{Iteration: 2})
	r.Record(Attempt{Iteration: 3})

	require.Equal(t, 3, r.Len())
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 3, last.Iteration)

	attempts := r.Attempts()
	for i, a := range attempts {
		assert.Equal(t, i+1, a.Iteration, "indices contiguous from 1")
	}
}

func TestRecorderPanicsOnGap(t *testing.T) {
	r := NewRecorder()
	r.Record(Attempt{Iteration: 1})

	assert.Panics(t, func() { r.Record(Attempt{Iteration: 3}) })
	assert.Panics(t, func() { r.Record(Attempt{Iteration: 1}) })
}

func TestRecorderReturnsDefensiveCopy(t *testing.T) {
	r := NewRecorder()
	r.Record(Attempt{Iteration: 1, Validity: validity.Result{Valid: true}})

	snapshot := r.Attempts()
	snapshot[0].Iteration = 99
	snapshot[0].Validity.Valid = false

	stored := r.Attempts()
	assert.Equal(t, 1, stored[0].Iteration, "mutating the copy must not touch the stored attempt")
	assert.True(t, stored[0].Validity.Valid)
}
