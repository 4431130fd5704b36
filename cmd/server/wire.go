package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical"
	cstore "github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/store"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/crm"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/enrichment"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/enrichment/broker"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/enrichment/cache"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/identity"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/identity/directory"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/handler"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/service"
	lstore "github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/store"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/pipeline"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/amqp"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/config"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/kafka"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/middleware"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/postgres"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/redis"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/workers"
	rlmiddleware "github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ratelimit/middleware"
	rlmodels "github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ratelimit/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ratelimit/store/bucket"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/recency"
	rstore "github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/recency/store"
	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit/publisher"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit/store/logsink"
	auditpg "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit/store/postgres"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/circuit"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/middleware/metadata"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/middleware/requestid"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/middleware/requesttime"
)

// app holds what run needs to serve and to shut down in order.
type app struct {
	log     *slog.Logger
	router  http.Handler
	pool    *workers.Pool
	monitor *service.Monitor
	events  *publisher.Publisher

	// closed last, in reverse order of opening
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func (a *app) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// close drains the pool, stops the monitor, flushes audit events and then
// releases connections.
func (a *app) close(ctx context.Context) {
	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			a.log.Warn("worker pool did not drain", "error", err)
		}
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.events != nil {
		if err := a.events.Close(ctx); err != nil {
			a.log.Warn("audit publisher did not flush", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.log.Warn("close failed", "resource", c.name, "error", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{log: log}
	m := metrics.New(prometheus.DefaultRegisterer)

	var db *sql.DB
	if cfg.Database.Enabled() {
		var err error
		db, err = postgres.Open(ctx, cfg.Database)
		if err != nil {
			return a, err
		}
		a.onClose("postgres", db.Close)
		if cfg.Database.ApplySchema {
			if err := postgres.ApplySchema(ctx, db); err != nil {
				return a, err
			}
		}
		log.Info("connected to postgres", "driver", cfg.Database.Driver)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory ledger and canonical store")
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return a, err
	}
	if rdb != nil {
		a.onClose("redis", rdb.Close)
		log.Info("connected to redis")
	}

	events, err := buildEventSink(ctx, cfg, db, log)
	if err != nil {
		return a, err
	}
	if c, ok := events.(interface{ Close() error }); ok {
		a.onClose("event sink", c.Close)
	}
	a.events = publisher.New(events,
		publisher.WithSampler(publisher.NewSampler(cfg.Events.SampleRate)),
		publisher.WithMetrics(publisher.NewMetrics()),
		publisher.WithLogger(log),
	)
	var auditor audit.Emitter = a.events

	// ledger
	var ledgerStore interface {
		service.Store
		Ping(ctx context.Context) error
	}
	if db != nil {
		ledgerStore = lstore.NewPostgres(db)
	} else {
		ledgerStore = lstore.NewInMemoryStore()
	}
	ledger := service.New(ledgerStore,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditor(auditor),
	)
	a.monitor = service.NewMonitor(ledgerStore, cfg.Pipeline.StuckAfter, cfg.Pipeline.StuckScanInterval,
		service.WithMonitorLogger(log),
		service.WithMonitorMetrics(m),
		service.WithMonitorAuditor(auditor),
	)

	// identity
	dir := directory.New(cfg.Directory.BaseURL, cfg.Directory.User, cfg.Directory.Password, cfg.Directory.Timeout,
		directory.WithLogger(log))
	resolver := identity.New(dir, identity.WithLogger(log))

	// recency
	var recencyStore recency.Store
	if cfg.Recency.Backend == config.BackendRedis && rdb != nil {
		recencyStore = rstore.NewRedis(rdb.Client, cfg.Recency.TTL)
	} else {
		mem := rstore.NewInMemory(cfg.Recency.TTL, cfg.Recency.Capacity)
		a.onClose("recency store", mem.Close)
		recencyStore = mem
	}
	gate := recency.New(recencyStore,
		recency.WithCooldown(cfg.Recency.Cooldown),
		recency.WithLogger(log),
		recency.WithMetrics(m),
	)

	// enrichment
	var cacheStore cache.Store = cache.NewMemory(cfg.Cache.Capacity)
	if cfg.Cache.Backend == config.BackendRedis && rdb != nil {
		cacheStore = cache.NewFallback(cache.NewRedis(rdb.Client), cacheStore, circuit.New("enrichment_cache"),
			cache.WithFallbackLogger(log),
			cache.WithFallbackMetrics(m),
		)
	}
	a.onClose("enrichment cache", cacheStore.Close)
	integrity := cache.NewIntegrityCache(cacheStore, cfg.Cache.TTL,
		cache.WithLogger(log),
		cache.WithMetrics(m),
		cache.WithAuditor(auditor),
	)
	brk := broker.New(cfg.Broker.BaseURL, cfg.Broker.Token, cfg.Broker.Timeout,
		broker.WithRateLimit(cfg.Broker.RatePerSecond, cfg.Broker.Burst),
		broker.WithLogger(log),
		broker.WithMetrics(m),
	)
	enricher := enrichment.New(brk, integrity, enrichment.WithLogger(log), enrichment.WithMetrics(m))

	// canonical store
	var backend cstore.Backend
	if db != nil {
		backend = cstore.NewPostgres(db)
	} else {
		backend = cstore.NewInMemoryStore()
	}
	canonicalStore := cstore.NewBreaker(backend, cfg.StoreBreaker.Failures, cfg.StoreBreaker.Cooldown,
		cstore.WithBreakerLogger(log),
		cstore.WithBreakerMetrics(m),
	)
	writer := canonical.NewWriter(canonicalStore, canonical.WithLogger(log), canonical.WithMetrics(m))

	messenger := crm.New(cfg.CRM.BaseURL, cfg.CRM.Token, cfg.CRM.GatewayURL, cfg.CRM.Timeout, crm.WithLogger(log))
	log.Info("crm client configured", "mode", messenger.Mode())

	// pipeline
	a.pool = workers.New(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize,
		workers.WithLogger(log),
		workers.WithMetrics(m),
		workers.WithTaskTimeout(cfg.Pipeline.TaskTimeout),
	)
	orch := pipeline.New(ledger, resolver, gate, enricher, writer, messenger,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithAuditor(auditor),
	)
	ledger.SetDispatcher(pipeline.NewDispatcher(a.pool, orch))

	// http
	limiter := buildRateLimiter(cfg, rdb, m, auditor, log)
	opts := []handler.Option{
		handler.WithMaxBody(cfg.Webhook.MaxBodyBytes),
		handler.WithRateLimit(limiter.RateLimit),
		handler.WithAuditor(auditor),
		handler.WithHealthCheck("ledger", ledgerStore.Ping),
		handler.WithHealthCheck("canonical_store", canonicalStore.Ping),
	}
	if v := webhookVerifier(cfg.Webhook); v != nil {
		opts = append(opts, handler.WithSecret(v))
	} else {
		log.Warn("webhook secret not configured, accepting unauthenticated deliveries")
	}
	if rdb != nil {
		opts = append(opts, handler.WithHealthCheck("redis", rdb.Health))
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	handler.New(ledger, log, opts...).Register(r)
	r.Handle("/metrics", promhttp.Handler())
	a.router = r

	return a, nil
}

// buildEventSink picks where audit events go. Postgres needs the database.
func buildEventSink(ctx context.Context, cfg *config.Config, db *sql.DB, log *slog.Logger) (audit.Store, error) {
	switch cfg.Events.Sink {
	case config.SinkKafka:
		sink, err := kafka.NewSink(ctx, cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			return nil, err
		}
		if err := sink.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("could not ensure kafka topic", "topic", cfg.Events.KafkaTopic, "error", err)
		}
		return kafkaSink{sink}, nil
	case config.SinkAMQP:
		conn, err := amqp.DialWithRetry(ctx, amqp.DialOptions{
			URL:           cfg.Events.AMQPURL,
			RetryAttempts: 5,
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}
		sink, err := amqp.NewSink(conn, cfg.Events.AMQPExchange)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return sink, nil
	case config.SinkPostgres:
		if db == nil {
			return nil, fmt.Errorf("event sink %q requires DATABASE_URL", config.SinkPostgres)
		}
		return auditpg.New(db), nil
	default:
		return logsink.New(log), nil
	}
}

// kafkaSink adapts the kafka sink's Close to the error-returning shape used
// by the other closers.
type kafkaSink struct{ *kafka.Sink }

func (k kafkaSink) Close() error {
	k.Sink.Close()
	return nil
}

// buildRateLimiter uses Redis buckets when configured, falling back to
// in-memory buckets while Redis fails.
func buildRateLimiter(cfg *config.Config, rdb *redis.Client, m *metrics.Metrics, auditor audit.Emitter, log *slog.Logger) *rlmiddleware.Middleware {
	opts := []rlmiddleware.Option{
		rlmiddleware.WithDisabled(cfg.RateLimit.Disabled),
		rlmiddleware.WithMetrics(m),
		rlmiddleware.WithOnLimited(func(r *http.Request, result *rlmodels.RateLimitResult) {
			_ = auditor.Emit(r.Context(), audit.Event{
				Action: audit.ActionWebhookDenied,
				Reason: "rate_limited",
				Attributes: map[string]string{
					"client_ip":   metadata.GetClientIP(r.Context()),
					"retry_after": fmt.Sprint(result.RetryAfter),
				},
			})
		}),
	}
	var primary rlmiddleware.BucketStore = bucket.New()
	if cfg.RateLimit.Backend == config.BackendRedis && rdb != nil {
		primary = bucket.NewRedis(rdb.Client)
		opts = append(opts, rlmiddleware.WithFallback(bucket.New(), circuit.New("rate_limit_store")))
	}
	return rlmiddleware.New(primary, cfg.RateLimit.Requests, cfg.RateLimit.Window, log, opts...)
}

func webhookVerifier(cfg config.WebhookConfig) middleware.SecretVerifier {
	switch {
	case cfg.SecretBcrypt != "":
		return middleware.BcryptSecret(cfg.SecretBcrypt)
	case cfg.Secret != "":
		return middleware.PlainSecret(cfg.Secret)
	default:
		return nil
	}
}
