package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/circuit"
)

// flakyStore is a MemoryStore that can be switched off.
type flakyStore struct {
	*MemoryStore
	down  bool
	calls int
}

var errDown = errors.New("connection refused")

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.calls++
	if f.down {
		return nil, false, errDown
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.calls++
	if f.down {
		return errDown
	}
	return f.MemoryStore.Set(ctx, key, value, ttl)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	f.calls++
	if f.down {
		return errDown
	}
	return f.MemoryStore.Delete(ctx, key)
}

func TestFallbackStore(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{MemoryStore: NewMemory(100)}
	secondary := NewMemory(100)
	m := metrics.New(prometheus.NewRegistry())
	breaker := circuit.New("broker_cache", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(2))
	s := NewFallback(primary, secondary, breaker,
		WithProbeEvery(3),
		WithFallbackLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithFallbackMetrics(m),
	)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Hour))
	_, ok, _ := secondary.Get(ctx, "k")
	assert.False(t, ok, "healthy primary takes writes")

	primary.down = true
	_, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, s.Degraded())
	_, _, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, s.Degraded(), "second failure opens the breaker")
	assert.Equal(t, 2.0, promtest.ToFloat64(m.BreakerState.WithLabelValues("broker_cache")))

	t.Run("writes during the outage land in secondary", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "during", []byte("x"), time.Hour))
		got, ok, err := s.Get(ctx, "during")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("x"), got)
	})

	t.Run("only every third call probes the primary while open", func(t *testing.T) {
		before := primary.calls
		for range 6 {
			_, _, _ = s.Get(ctx, "during")
		}
		assert.Equal(t, before+2, primary.calls)
	})

	t.Run("successful probes close the breaker", func(t *testing.T) {
		primary.down = false
		for range 6 {
			_, _, _ = s.Get(ctx, "k")
		}
		assert.False(t, s.Degraded())
		assert.Equal(t, 0.0, promtest.ToFloat64(m.BreakerState.WithLabelValues("broker_cache")))

		got, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("delete clears both stores", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "during"))
		require.NoError(t, s.Delete(ctx, "k"))
		_, ok, _ := secondary.Get(ctx, "during")
		assert.False(t, ok)
		_, ok, _ = primary.MemoryStore.Get(ctx, "k")
		assert.False(t, ok)
	})
}
