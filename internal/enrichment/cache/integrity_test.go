package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Emit(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type brokenStore struct{ *MemoryStore }

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("i/o timeout")
}

func TestIntegrityCache(t *testing.T) {
	ctx := context.Background()
	payload := []byte(`{"DadosBasicos":{"nome":"MARIA"}}`)

	setup := func() (*IntegrityCache, *MemoryStore, *metrics.Metrics, *recordingAuditor, *bytes.Buffer) {
		store := NewMemory(10)
		m := metrics.New(prometheus.NewRegistry())
		aud := &recordingAuditor{}
		var logs bytes.Buffer
		c := NewIntegrityCache(store, time.Hour,
			WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
			WithMetrics(m),
			WithAuditor(aud),
		)
		return c, store, m, aud, &logs
	}

	t.Run("put then get", func(t *testing.T) {
		c, store, m, _, _ := setup()
		require.NoError(t, c.Put(ctx, "cpf", "12345678909", payload))

		raw, ok, _ := store.Get(ctx, "broker:cpf:12345678909")
		require.True(t, ok)
		assert.Contains(t, string(raw), `"checksum"`)

		got, ok := c.Get(ctx, "cpf", "12345678909", "*******8909")
		require.True(t, ok)
		assert.Equal(t, payload, got)
		assert.Equal(t, 1.0, promtest.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	})

	t.Run("a one byte change in stored data is a miss", func(t *testing.T) {
		c, store, m, aud, logs := setup()
		require.NoError(t, c.Put(ctx, "cpf", "12345678909", payload))

		raw, _, _ := store.Get(ctx, Key("cpf", "12345678909"))
		tampered := bytes.Replace(raw, []byte("MARIA"), []byte("MARIO"), 1)
		require.NotEqual(t, raw, tampered)
		require.NoError(t, store.Set(ctx, Key("cpf", "12345678909"), tampered, time.Hour))

		_, ok := c.Get(ctx, "cpf", "12345678909", "*******8909")
		assert.False(t, ok)
		assert.Equal(t, 1.0, promtest.ToFloat64(m.CacheIntegrity))
		assert.Equal(t, 1.0, promtest.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
		assert.Contains(t, logs.String(), "potential cache poisoning")
		assert.NotContains(t, logs.String(), "12345678909")

		require.Len(t, aud.events, 1)
		assert.Equal(t, audit.ActionCacheIntegrityFailed, aud.events[0].Action)
		assert.Equal(t, "*******8909", aud.events[0].Subject)

		_, stored, _ := store.Get(ctx, Key("cpf", "12345678909"))
		assert.False(t, stored, "mismatched entry is evicted")
		_, ok = c.Get(ctx, "cpf", "12345678909", "*******8909")
		assert.False(t, ok)
		assert.Len(t, aud.events, 1, "evicted entry is a plain miss")
		assert.Equal(t, 1.0, promtest.ToFloat64(m.CacheIntegrity))
	})

	t.Run("put overwrites a poisoned entry", func(t *testing.T) {
		c, store, _, _, _ := setup()
		require.NoError(t, store.Set(ctx, Key("cpf", "1"), []byte(`{"data":"x","checksum":"bad"}`), time.Hour))
		require.NoError(t, c.Put(ctx, "cpf", "1", payload))

		got, ok := c.Get(ctx, "cpf", "1", "****")
		require.True(t, ok)
		assert.Equal(t, payload, got)
	})

	t.Run("store errors are misses", func(t *testing.T) {
		c := NewIntegrityCache(brokenStore{NewMemory(1)}, time.Hour, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
		_, ok := c.Get(ctx, "cpf", "1", "****")
		assert.False(t, ok)
	})
}
