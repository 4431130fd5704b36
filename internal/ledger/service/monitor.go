package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
)

// stuckLogLimit caps per-scan warnings; the gauge carries the full count.
const stuckLogLimit = 20

// Monitor periodically reports events that stayed in received or processing
// too long, typically because a worker crashed or the process restarted
// mid-task. It only detects; recovery is an operator decision.
type Monitor struct {
	store    Store
	after    time.Duration
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	auditor  audit.Emitter
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type MonitorOption func(*Monitor)

func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logger }
}

func WithMonitorMetrics(mt *metrics.Metrics) MonitorOption {
	return func(m *Monitor) { m.metrics = mt }
}

func WithMonitorAuditor(a audit.Emitter) MonitorOption {
	return func(m *Monitor) {
		if a != nil {
			m.auditor = a
		}
	}
}

func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(store Store, after, interval time.Duration, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:    store,
		after:    after,
		interval: interval,
		logger:   slog.Default(),
		auditor:  audit.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the scan loop. Stop ends it.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Scan(ctx); err != nil && ctx.Err() == nil {
					m.logger.ErrorContext(ctx, "stuck event scan failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Scan runs one detection pass and returns the stuck events found.
func (m *Monitor) Scan(ctx context.Context) ([]*models.Event, error) {
	cutoff := m.now().Add(-m.after)
	stuck, err := m.store.ListStuck(ctx, []models.Status{models.StatusReceived, models.StatusProcessing}, cutoff)
	if err != nil {
		return nil, err
	}
	m.metrics.SetStuckEvents(len(stuck))

	for i, event := range stuck {
		if i == stuckLogLimit {
			m.logger.WarnContext(ctx, "more stuck events not logged", "total", len(stuck))
			break
		}
		m.logger.WarnContext(ctx, "event stuck",
			"lead_id", event.Key.LeadID,
			"occurred_at", event.Key.OccurredAt,
			"status", event.Status,
			"age", m.now().Sub(event.ReceivedAt).Round(time.Second).String(),
		)
		if err := m.auditor.Emit(ctx, audit.Event{
			Action: audit.ActionLeadStuck,
			LeadID: event.Key.LeadID,
			Reason: string(event.Status),
		}); err != nil {
			m.logger.DebugContext(ctx, "audit event dropped", "error", err)
		}
	}
	return stuck, nil
}
