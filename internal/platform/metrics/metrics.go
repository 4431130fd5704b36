package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the enrichment service.
// All methods are safe on a nil receiver so components can run without
// metrics in tests.
type Metrics struct {
	EventsIngested    *prometheus.CounterVec
	PipelineOutcomes  *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	BrokerCalls       *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	CacheIntegrity    prometheus.Counter
	Suppressions      prometheus.Counter
	BreakerState      *prometheus.GaugeVec
	StuckEvents       prometheus.Gauge
	PoolQueueDepth    prometheus.Gauge
	PoolPanics        prometheus.Counter
	RateLimitRejected prometheus.Counter
}

// New registers collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrichment_events_ingested_total",
			Help: "Webhook events by ingest result (accepted, duplicate, rejected, saturated)",
		}, []string{"result"}),
		PipelineOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrichment_pipeline_outcomes_total",
			Help: "Terminal ledger status per processed event",
		}, []string{"status"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enrichment_stage_duration_seconds",
			Help:    "Latency of pipeline stages",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		BrokerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrichment_broker_calls_total",
			Help: "Outbound broker requests by result",
		}, []string{"result"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrichment_cache_lookups_total",
			Help: "Response cache lookups by result (hit, miss)",
		}, []string{"result"}),
		CacheIntegrity: f.NewCounter(prometheus.CounterOpts{
			Name: "enrichment_cache_integrity_failures_total",
			Help: "Cache entries whose checksum did not match their data",
		}),
		Suppressions: f.NewCounter(prometheus.CounterOpts{
			Name: "enrichment_recency_suppressions_total",
			Help: "Identities skipped because they were enriched recently",
		}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "enrichment_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"breaker"}),
		StuckEvents: f.NewGauge(prometheus.GaugeOpts{
			Name: "enrichment_stuck_events",
			Help: "Ledger events left in received or processing past the threshold",
		}),
		PoolQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "enrichment_pool_queue_depth",
			Help: "Tasks waiting in the worker pool queue",
		}),
		PoolPanics: f.NewCounter(prometheus.CounterOpts{
			Name: "enrichment_pool_panics_total",
			Help: "Worker tasks that panicked",
		}),
		RateLimitRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "enrichment_rate_limit_rejected_total",
			Help: "Webhook requests rejected by the rate limiter",
		}),
	}
}

func (m *Metrics) IncIngested(result string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(result).Inc()
}

func (m *Metrics) IncOutcome(status string) {
	if m == nil {
		return
	}
	m.PipelineOutcomes.WithLabelValues(status).Inc()
}

// ObserveStage records the time since start for a pipeline stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncBrokerCall(result string) {
	if m == nil {
		return
	}
	m.BrokerCalls.WithLabelValues(result).Inc()
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) IncCacheIntegrityFailure() {
	if m == nil {
		return
	}
	m.CacheIntegrity.Inc()
}

func (m *Metrics) IncSuppressed() {
	if m == nil {
		return
	}
	m.Suppressions.Inc()
}

// SetBreakerState records 0 (closed), 1 (half-open) or 2 (open).
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(state)
}

func (m *Metrics) SetStuckEvents(n int) {
	if m == nil {
		return
	}
	m.StuckEvents.Set(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.PoolQueueDepth.Set(float64(n))
}

func (m *Metrics) IncPoolPanic() {
	if m == nil {
		return
	}
	m.PoolPanics.Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitRejected.Inc()
}
