package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome int

const (
	fail outcome = iota
	ok
)

func replay(b *Breaker, outcomes ...outcome) {
	for _, o := range outcomes {
		if o == fail {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	b := New("enrichment_cache")
	assert.Equal(t, "enrichment_cache", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		history  []outcome
		wantOpen bool
	}{
		{"below failure threshold", []Option{WithFailureThreshold(3)}, []outcome{fail, fail}, false},
		{"at failure threshold", []Option{WithFailureThreshold(3)}, []outcome{fail, fail, fail}, true},
		{"success resets failure streak", []Option{WithFailureThreshold(3)}, []outcome{fail, fail, ok, fail, fail}, false},
		{"one success is not enough to close", []Option{WithFailureThreshold(1), WithSuccessThreshold(2)}, []outcome{fail, ok}, true},
		{"closes after success streak", []Option{WithFailureThreshold(1), WithSuccessThreshold(2)}, []outcome{fail, ok, ok}, false},
		{"failure while open restarts success streak", []Option{WithFailureThreshold(1), WithSuccessThreshold(2)}, []outcome{fail, ok, fail, ok}, true},
		{"non-positive thresholds keep defaults", []Option{WithFailureThreshold(0), WithSuccessThreshold(-1)}, []outcome{fail, fail, fail, fail}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("rate_limit_store", tt.opts...)
			replay(b, tt.history...)
			assert.Equal(t, tt.wantOpen, b.IsOpen())
		})
	}
}

func TestBreakerReportsStateChangesOnce(t *testing.T) {
	b := New("rate_limit_store", WithFailureThreshold(2), WithSuccessThreshold(1))

	useFallback, change := b.RecordFailure()
	assert.False(t, useFallback)
	assert.False(t, change.Opened)

	useFallback, change = b.RecordFailure()
	require.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.Equal(t, "open", b.State().String())

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback, "open breaker keeps answering from the fallback")
	assert.False(t, change.Opened)

	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.False(t, change.Closed)
}
