package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncIngested("accepted")
	m.ObserveStage("fetch", time.Now())
	m.SetBreakerState("canonical_store", 2)
	m.IncPoolPanic()
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncIngested("accepted")
	m.IncIngested("accepted")
	m.IncIngested("duplicate")
	m.IncCacheHit()
	m.SetStuckEvents(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StuckEvents))
}
