// Package config loads service configuration.
//
// Sources, lowest precedence first: built-in defaults, an optional YAML file
// named by CONFIG_FILE, then environment variables. A .env file in the
// working directory is loaded into the environment first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultAddr            = ":3000"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultLogLevel        = "info"

	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 15 * time.Second
	DefaultIdleTimeout       = 90 * time.Second
	DefaultMaxHeaderBytes    = 64 << 10

	DefaultMaxBodyBytes = 5 << 20

	DefaultRateLimitRequests = 20
	DefaultRateLimitWindow   = 2 * time.Second

	DefaultDirectoryTimeout = 10 * time.Second
	DefaultBrokerBaseURL    = "https://completa.workbuscas.com"
	DefaultBrokerTimeout    = 20 * time.Second
	DefaultBrokerRate       = 5.0
	DefaultBrokerBurst      = 5
	DefaultCRMTimeout       = 10 * time.Second

	DefaultRecencyCooldown = 60 * time.Second
	DefaultRecencyTTL      = 5 * time.Minute
	DefaultRecencyCapacity = 10_000

	DefaultCacheTTL      = 6 * time.Hour
	DefaultCacheCapacity = 100_000

	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 10 * time.Second

	DefaultPipelineWorkers     = 8
	DefaultPipelineQueue       = 256
	DefaultPipelineTaskTimeout = 2 * time.Minute
	DefaultStuckAfter          = 10 * time.Minute
	DefaultStuckScanInterval   = time.Minute

	DefaultKafkaTopic   = "lead-enrichment-events"
	DefaultAMQPExchange = "lead-enrichment"
)

// Backend names for stores that can live in memory or Redis.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Event sink names.
const (
	SinkLog      = "log"
	SinkKafka    = "kafka"
	SinkAMQP     = "amqp"
	SinkPostgres = "postgres"
)

type Config struct {
	Server       ServerConfig    `yaml:"server"`
	Database     DatabaseConfig  `yaml:"database"`
	Redis        RedisConfig     `yaml:"redis"`
	Webhook      WebhookConfig   `yaml:"webhook"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	Directory    DirectoryConfig `yaml:"directory"`
	Broker       BrokerConfig    `yaml:"broker"`
	CRM          CRMConfig       `yaml:"crm"`
	Recency      RecencyConfig   `yaml:"recency"`
	Cache        CacheConfig     `yaml:"cache"`
	StoreBreaker BreakerConfig   `yaml:"store_breaker"`
	Pipeline     PipelineConfig  `yaml:"pipeline"`
	Events       EventsConfig    `yaml:"events"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// ReadTimeout bounds the webhook body read; the CRM posts at most
	// WEBHOOK_MAX_BODY_BYTES.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Driver          string        `yaml:"driver"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ApplySchema     bool          `yaml:"apply_schema"`
}

// Enabled reports whether Postgres is configured. Without it the service
// runs on in-memory stores.
func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func (r RedisConfig) Enabled() bool { return r.URL != "" }

type WebhookConfig struct {
	Secret       string `yaml:"secret"`
	SecretBcrypt string `yaml:"secret_bcrypt"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Disabled bool          `yaml:"disabled"`
	Backend  string        `yaml:"backend"`
}

type DirectoryConfig struct {
	BaseURL  string        `yaml:"base_url"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type BrokerConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

type CRMConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	GatewayURL string        `yaml:"gateway_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type RecencyConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
	Backend  string        `yaml:"backend"`
}

type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
	Backend  string        `yaml:"backend"`
}

type BreakerConfig struct {
	Failures int           `yaml:"failures"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type PipelineConfig struct {
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queue_size"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`
	StuckAfter        time.Duration `yaml:"stuck_after"`
	StuckScanInterval time.Duration `yaml:"stuck_scan_interval"`
}

type EventsConfig struct {
	Sink         string   `yaml:"sink"`
	SampleRate   float64  `yaml:"sample_rate"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	AMQPURL      string   `yaml:"amqp_url"`
	AMQPExchange string   `yaml:"amqp_exchange"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			LogLevel:        DefaultLogLevel,
			ShutdownTimeout: DefaultShutdownTimeout,

			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			MaxHeaderBytes:    DefaultMaxHeaderBytes,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Webhook:   WebhookConfig{MaxBodyBytes: DefaultMaxBodyBytes},
		RateLimit: RateLimitConfig{Requests: DefaultRateLimitRequests, Window: DefaultRateLimitWindow, Backend: BackendMemory},
		Directory: DirectoryConfig{Timeout: DefaultDirectoryTimeout},
		Broker: BrokerConfig{
			BaseURL:       DefaultBrokerBaseURL,
			Timeout:       DefaultBrokerTimeout,
			RatePerSecond: DefaultBrokerRate,
			Burst:         DefaultBrokerBurst,
		},
		CRM: CRMConfig{Timeout: DefaultCRMTimeout},
		Recency: RecencyConfig{
			Cooldown: DefaultRecencyCooldown,
			TTL:      DefaultRecencyTTL,
			Capacity: DefaultRecencyCapacity,
			Backend:  BackendMemory,
		},
		Cache:        CacheConfig{TTL: DefaultCacheTTL, Capacity: DefaultCacheCapacity, Backend: BackendMemory},
		StoreBreaker: BreakerConfig{Failures: DefaultBreakerFailures, Cooldown: DefaultBreakerCooldown},
		Pipeline: PipelineConfig{
			Workers:           DefaultPipelineWorkers,
			QueueSize:         DefaultPipelineQueue,
			TaskTimeout:       DefaultPipelineTaskTimeout,
			StuckAfter:        DefaultStuckAfter,
			StuckScanInterval: DefaultStuckScanInterval,
		},
		Events: EventsConfig{
			Sink:         SinkLog,
			SampleRate:   1,
			KafkaTopic:   DefaultKafkaTopic,
			AMQPExchange: DefaultAMQPExchange,
		},
	}
}

// FromEnv builds the configuration from .env, CONFIG_FILE and the process
// environment.
func FromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Load(os.LookupEnv, os.ReadFile)
}

// Load is FromEnv with injectable sources.
func Load(lookup func(string) (string, bool), readFile func(string) ([]byte, error)) (*Config, error) {
	cfg := Default()

	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		raw, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	e := env{lookup: lookup}
	e.applyTo(cfg)
	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e *env) applyTo(cfg *Config) {
	if port, ok := e.get("PORT"); ok {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Server.Addr = port
	}
	e.str("ADDR", &cfg.Server.Addr)
	e.str("LOG_LEVEL", &cfg.Server.LogLevel)
	e.duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.duration("SERVER_READ_HEADER_TIMEOUT", &cfg.Server.ReadHeaderTimeout)
	e.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.duration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	e.integer("SERVER_MAX_HEADER_BYTES", &cfg.Server.MaxHeaderBytes)

	e.str("DB_URL", &cfg.Database.URL)
	e.str("DATABASE_URL", &cfg.Database.URL)
	e.str("DB_DRIVER", &cfg.Database.Driver)
	e.integer("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	e.integer("DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	e.duration("DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)
	e.boolean("DB_APPLY_SCHEMA", &cfg.Database.ApplySchema)

	e.str("REDIS_URL", &cfg.Redis.URL)
	e.integer("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	e.integer("REDIS_MIN_IDLE_CONNS", &cfg.Redis.MinIdleConns)
	e.duration("REDIS_DIAL_TIMEOUT", &cfg.Redis.DialTimeout)
	e.duration("REDIS_READ_TIMEOUT", &cfg.Redis.ReadTimeout)
	e.duration("REDIS_WRITE_TIMEOUT", &cfg.Redis.WriteTimeout)

	e.str("WEBHOOK_SECRET", &cfg.Webhook.Secret)
	e.str("WEBHOOK_SECRET_BCRYPT", &cfg.Webhook.SecretBcrypt)
	e.int64("WEBHOOK_MAX_BODY_BYTES", &cfg.Webhook.MaxBodyBytes)

	e.integer("RATE_LIMIT_REQUESTS", &cfg.RateLimit.Requests)
	e.duration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	e.boolean("RATE_LIMIT_DISABLED", &cfg.RateLimit.Disabled)
	e.str("RATE_LIMIT_BACKEND", &cfg.RateLimit.Backend)

	e.str("DIRETRIX_BASE_URL", &cfg.Directory.BaseURL)
	e.str("DIRETRIX_USER", &cfg.Directory.User)
	e.str("DIRETRIX_PASS", &cfg.Directory.Password)
	e.duration("DIRECTORY_TIMEOUT", &cfg.Directory.Timeout)

	e.str("WORK_API_BASE_URL", &cfg.Broker.BaseURL)
	e.str("WORKER_API_KEY", &cfg.Broker.Token)
	e.str("WORK_API", &cfg.Broker.Token)
	e.duration("BROKER_TIMEOUT", &cfg.Broker.Timeout)
	e.float("BROKER_RATE_PER_SECOND", &cfg.Broker.RatePerSecond)
	e.integer("BROKER_BURST", &cfg.Broker.Burst)

	e.str("C2S_BASE_URL", &cfg.CRM.BaseURL)
	e.str("C2S_TOKEN", &cfg.CRM.Token)
	e.str("C2S_GATEWAY_URL", &cfg.CRM.GatewayURL)
	e.duration("CRM_TIMEOUT", &cfg.CRM.Timeout)

	e.duration("RECENCY_COOLDOWN", &cfg.Recency.Cooldown)
	e.duration("RECENCY_TTL", &cfg.Recency.TTL)
	e.integer("RECENCY_CAPACITY", &cfg.Recency.Capacity)
	e.str("RECENCY_BACKEND", &cfg.Recency.Backend)

	e.duration("BROKER_CACHE_TTL", &cfg.Cache.TTL)
	e.integer("BROKER_CACHE_CAPACITY", &cfg.Cache.Capacity)
	e.str("BROKER_CACHE_BACKEND", &cfg.Cache.Backend)

	e.integer("STORE_BREAKER_FAILURES", &cfg.StoreBreaker.Failures)
	e.duration("STORE_BREAKER_COOLDOWN", &cfg.StoreBreaker.Cooldown)

	e.integer("PIPELINE_WORKERS", &cfg.Pipeline.Workers)
	e.integer("PIPELINE_QUEUE", &cfg.Pipeline.QueueSize)
	e.duration("PIPELINE_TASK_TIMEOUT", &cfg.Pipeline.TaskTimeout)
	e.duration("STUCK_AFTER", &cfg.Pipeline.StuckAfter)
	e.duration("STUCK_SCAN_INTERVAL", &cfg.Pipeline.StuckScanInterval)

	e.str("EVENT_SINK", &cfg.Events.Sink)
	e.float("EVENT_SAMPLE_RATE", &cfg.Events.SampleRate)
	e.list("KAFKA_BROKERS", &cfg.Events.KafkaBrokers)
	e.str("KAFKA_TOPIC", &cfg.Events.KafkaTopic)
	e.str("AMQP_URL", &cfg.Events.AMQPURL)
	e.str("AMQP_EXCHANGE", &cfg.Events.AMQPExchange)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL != "" &&
		!strings.HasPrefix(c.Database.URL, "postgres://") &&
		!strings.HasPrefix(c.Database.URL, "postgresql://") {
		errs = append(errs, errors.New("DATABASE_URL must start with postgres:// or postgresql://"))
	}
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q must be postgres or pgx", c.Database.Driver))
	}
	for name, backend := range map[string]string{
		"RECENCY_BACKEND":      c.Recency.Backend,
		"BROKER_CACHE_BACKEND": c.Cache.Backend,
		"RATE_LIMIT_BACKEND":   c.RateLimit.Backend,
	} {
		switch backend {
		case BackendMemory:
		case BackendRedis:
			if !c.Redis.Enabled() {
				errs = append(errs, fmt.Errorf("%s=redis requires REDIS_URL", name))
			}
		default:
			errs = append(errs, fmt.Errorf("%s %q must be memory or redis", name, backend))
		}
	}
	switch c.Events.Sink {
	case SinkLog:
	case SinkKafka:
		if len(c.Events.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("EVENT_SINK=kafka requires KAFKA_BROKERS"))
		}
	case SinkAMQP:
		if c.Events.AMQPURL == "" {
			errs = append(errs, errors.New("EVENT_SINK=amqp requires AMQP_URL"))
		}
	case SinkPostgres:
		if !c.Database.Enabled() {
			errs = append(errs, errors.New("EVENT_SINK=postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("EVENT_SINK %q must be log, kafka, amqp or postgres", c.Events.Sink))
	}
	if c.Server.ReadTimeout < c.Server.ReadHeaderTimeout {
		errs = append(errs, errors.New("SERVER_READ_TIMEOUT must be at least SERVER_READ_HEADER_TIMEOUT"))
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("WEBHOOK_MAX_BODY_BYTES must be positive"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit requests and window must be positive"))
	}
	if c.Recency.Cooldown <= 0 || c.Recency.TTL < c.Recency.Cooldown {
		errs = append(errs, errors.New("RECENCY_TTL must be at least RECENCY_COOLDOWN, and the cooldown positive"))
	}
	if c.Recency.Capacity <= 0 || c.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("recency and cache capacities must be positive"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("BROKER_CACHE_TTL must be positive"))
	}
	if c.Pipeline.Workers <= 0 || c.Pipeline.QueueSize <= 0 {
		errs = append(errs, errors.New("PIPELINE_WORKERS and PIPELINE_QUEUE must be positive"))
	}
	if c.StoreBreaker.Failures <= 0 {
		errs = append(errs, errors.New("STORE_BREAKER_FAILURES must be positive"))
	}
	if c.Events.SampleRate < 0 || c.Events.SampleRate > 1 {
		errs = append(errs, errors.New("EVENT_SAMPLE_RATE must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

// env applies typed environment overrides and collects parse errors.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *env) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *env) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *env) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *env) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

// duration accepts Go durations ("90s") or bare seconds ("90").
func (e *env) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(secs) * time.Second
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (e *env) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}
