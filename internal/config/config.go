// Package config centralizes every tunable, constant, env var name, and
// message string used by the scheduling and delivery pipeline, in the same
// spirit as the teacher application's internal/config package: one place to
// look for "what does this string mean", rather than magic values scattered
// through the codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------
// Log components & keys (structured logging via log/slog)
// -----------------------------------------------------------------------------

const (
	CompPrecalc    = "precalc"
	CompEnqueuer   = "enqueuer"
	CompWorker     = "worker"
	CompSweeper    = "sweeper"
	CompBroker     = "broker"
	CompEventLog   = "eventlog"
	CompResilience = "resilience"
	CompScheduler  = "scheduler"
	CompServer     = "server"
	CompDelivery   = "delivery"
	CompUsers      = "users"
	CompMain       = "main"
)

const (
	LogKeyComponent = "component"
	LogKeyError     = "error"
	LogKeyUserID    = "user_id"
	LogKeyKind      = "kind"
	LogKeyKey       = "idempotency_key"
	LogKeyMessageID = "message_id"
	LogKeyStatus    = "status"
	LogKeyRetry     = "retry_count"
	LogKeyDuration  = "duration_ms"
	LogKeyCount     = "count"
	LogKeyZone      = "zone"
	LogKeyJob       = "job"
	LogKeyPort      = "port"
)

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

const (
	MsgPrecalcStarted  = "pre-calculation run started"
	MsgPrecalcFinished = "pre-calculation run finished"
	MsgEnqueueStarted  = "enqueue tick started"
	MsgEnqueueFinished = "enqueue tick finished"
	MsgSweepStarted    = "recovery sweep started"
	MsgSweepFinished   = "recovery sweep finished"
	MsgWorkerStart     = "worker pool started"
	MsgWorkerStop      = "worker pool stopping"
	MsgDuplicateSkip   = "occurrence already scheduled, skipping"
	MsgValidationSkip  = "user failed strategy validation, skipping"
	MsgDeliverySent    = "delivery confirmed"
	MsgDeliveryRetry   = "delivery failed, will retry"
	MsgDeliveryDLQ     = "delivery exhausted retries or failed permanently, dead-lettering"
	MsgCircuitOpen     = "circuit breaker open, fast-failing delivery call"
	MsgLockNotAcquired = "distributed job lease not acquired, another instance is running this tick"
	MsgServerListen    = "http server listening"
	MsgServerStop      = "http server stopping"
	MsgAppStarting     = "greeter-service starting"
	MsgAppStop         = "greeter-service stopped"
	MsgCtxCancel       = "shutdown signal received"

	ErrPortRequired   = "server port is required"
	ErrServerShutdown = "server shutdown error"
	ErrServerStartup  = "server startup error"
	ErrAppFailed      = "application exited with error"
)

// -----------------------------------------------------------------------------
// Process exit codes
// -----------------------------------------------------------------------------

const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// Server timeouts, grounded on the teacher's CalendarServer http.Server
// configuration (ReadTimeout/WriteTimeout/IdleTimeout pulled from config
// rather than left at the zero-value/no-timeout default).
const (
	ServerReadTimeout  = 5 * time.Second
	ServerWriteTimeout = 10 * time.Second
	ServerIdleTimeout  = 120 * time.Second
)

// -----------------------------------------------------------------------------
// Defaults
// -----------------------------------------------------------------------------

const (
	DefaultSendHour   = 9
	DefaultSendMinute = 0

	DefaultMaxRetries      = 3
	DefaultRetryBaseDelay  = 2 * time.Second
	DefaultRetryMaxDelay   = 60 * time.Second
	DefaultRetryJitterFrac = 0.25
	DefaultAttemptTimeout  = 15 * time.Second

	DefaultBreakerThreshold = 0.5
	DefaultBreakerVolume    = 10
	DefaultBreakerReset     = 30 * time.Second

	DefaultEnqueueLookAhead = 1 * time.Hour
	DefaultEnqueueBatch     = 100
	DefaultSweepGrace       = 5 * time.Minute
	DefaultSweepBatch       = 200

	DefaultPrefetch        = 5
	DefaultQueueReplicas   = 3
	DefaultShutdownTimeout = 30 * time.Second

	DefaultDailyCron    = "0 0 * * *"
	DefaultMinuteCron   = "* * * * *"
	DefaultRecoveryCron = "*/10 * * * *"

	DefaultDBMaxOpenConns    = 20
	DefaultDBMaxIdleConns    = 5
	DefaultDBConnMaxLifetime = 30 * time.Minute

	DefaultHTTPPort = "8080"

	// DefaultPartitionMonthsAhead is how many months of message_logs
	// partitions EnsurePartitions provisions beyond the current month on
	// every startup.
	DefaultPartitionMonthsAhead = 2
)

// -----------------------------------------------------------------------------
// Config struct
// -----------------------------------------------------------------------------

// Config is the fully resolved runtime configuration, loaded from an optional
// YAML file and then overridden by environment variables (env wins), mirroring
// the Load/loadFromEnv/validate split used elsewhere in the corpus.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Broker   BrokerConfig   `yaml:"broker"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Users    UsersConfig    `yaml:"users"`
	Queue    QueueConfig    `yaml:"queue"`
	Breaker  BreakerConfig  `yaml:"circuit_breaker"`
	Cron     CronConfig     `yaml:"cron"`
	Server   ServerConfig   `yaml:"server"`
	RedisURL string         `yaml:"redis_url"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type BrokerConfig struct {
	URL                string `yaml:"url"`
	Exchange           string `yaml:"exchange"`
	Queue              string `yaml:"queue"`
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
	DeadLetterQueue    string `yaml:"dead_letter_queue"`
	RoutingPrefix      string `yaml:"routing_prefix"`
	Prefetch           int    `yaml:"prefetch"`
	QueueReplicas      int    `yaml:"queue_replicas"`
}

type DeliveryConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type UsersConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type QueueConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	RetryBackoff     string        `yaml:"retry_backoff"` // "exponential" | "linear"
	EnqueueLookAhead time.Duration `yaml:"enqueue_look_ahead"`
	EnqueueBatch     int           `yaml:"enqueue_batch"`
	SweepGrace       time.Duration `yaml:"sweep_grace"`
	SweepBatch       int           `yaml:"sweep_batch"`
}

type BreakerConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	ErrorThreshold  float64       `yaml:"error_threshold"`
	ResetTimeout    time.Duration `yaml:"reset_timeout"`
	VolumeThreshold uint32        `yaml:"volume_threshold"`
}

type CronConfig struct {
	Daily    string `yaml:"daily"`
	Minute   string `yaml:"minute"`
	Recovery string `yaml:"recovery"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// Default returns a Config populated with every default value documented
// above.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:    DefaultDBMaxOpenConns,
			MaxIdleConns:    DefaultDBMaxIdleConns,
			ConnMaxLifetime: DefaultDBConnMaxLifetime,
		},
		Broker: BrokerConfig{
			Exchange:           "greetings.topic",
			Queue:              "greetings.delivery",
			DeadLetterExchange: "greetings.dlx",
			DeadLetterQueue:    "greetings.delivery.dlq",
			RoutingPrefix:      "greeting",
			Prefetch:           DefaultPrefetch,
			QueueReplicas:      DefaultQueueReplicas,
		},
		Delivery: DeliveryConfig{
			Timeout: DefaultAttemptTimeout,
		},
		Users: UsersConfig{
			Timeout: DefaultAttemptTimeout,
		},
		Queue: QueueConfig{
			Concurrency:      DefaultPrefetch,
			MaxRetries:       DefaultMaxRetries,
			RetryDelay:       DefaultRetryBaseDelay,
			RetryBackoff:     "exponential",
			EnqueueLookAhead: DefaultEnqueueLookAhead,
			EnqueueBatch:     DefaultEnqueueBatch,
			SweepGrace:       DefaultSweepGrace,
			SweepBatch:       DefaultSweepBatch,
		},
		Breaker: BreakerConfig{
			Timeout:         DefaultBreakerReset,
			ErrorThreshold:  DefaultBreakerThreshold,
			ResetTimeout:    DefaultBreakerReset,
			VolumeThreshold: DefaultBreakerVolume,
		},
		Cron: CronConfig{
			Daily:    DefaultDailyCron,
			Minute:   DefaultMinuteCron,
			Recovery: DefaultRecoveryCron,
		},
		Server: ServerConfig{
			Port: DefaultHTTPPort,
		},
	}
}

// Load reads a YAML config file (if path is non-empty) over the defaults,
// then applies environment variable overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromEnv overrides cfg fields from the environment variables documented
// in §6 of the specification. Unset variables leave the existing value
// (defaults or file-provided) untouched.
func loadFromEnv(cfg *Config) {
	strVar(&cfg.Database.URL, "DATABASE_URL")
	strVar(&cfg.Broker.URL, "RABBITMQ_URL")
	strVar(&cfg.Delivery.URL, "EMAIL_SERVICE_URL")
	durVar(&cfg.Delivery.Timeout, "EMAIL_SERVICE_TIMEOUT")
	strVar(&cfg.Users.URL, "USER_SERVICE_URL")
	durVar(&cfg.Users.Timeout, "USER_SERVICE_TIMEOUT")
	strVar(&cfg.Cron.Daily, "CRON_DAILY_SCHEDULE")
	strVar(&cfg.Cron.Minute, "CRON_MINUTE_SCHEDULE")
	strVar(&cfg.Cron.Recovery, "CRON_RECOVERY_SCHEDULE")
	intVar(&cfg.Queue.Concurrency, "QUEUE_CONCURRENCY")
	intVar(&cfg.Queue.MaxRetries, "QUEUE_MAX_RETRIES")
	durVar(&cfg.Queue.RetryDelay, "QUEUE_RETRY_DELAY")
	strVar(&cfg.Queue.RetryBackoff, "QUEUE_RETRY_BACKOFF")
	durVar(&cfg.Breaker.Timeout, "CIRCUIT_BREAKER_TIMEOUT")
	floatVar(&cfg.Breaker.ErrorThreshold, "CIRCUIT_BREAKER_ERROR_THRESHOLD")
	durVar(&cfg.Breaker.ResetTimeout, "CIRCUIT_BREAKER_RESET_TIMEOUT")
	uint32Var(&cfg.Breaker.VolumeThreshold, "CIRCUIT_BREAKER_VOLUME_THRESHOLD")
	strVar(&cfg.RedisURL, "REDIS_URL")
	strVar(&cfg.Server.Port, "SERVER_PORT")
}

func strVar(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

func intVar(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func uint32Var(dst *uint32, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func floatVar(dst *float64, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func durVar(dst *time.Duration, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// validate rejects configuration that would be unsafe to run with (the
// Fatal-config error class from §7): it never retries or logs-and-continues,
// it aborts startup.
func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Broker.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required")
	}
	if cfg.Delivery.URL == "" {
		return fmt.Errorf("EMAIL_SERVICE_URL is required")
	}
	if cfg.Users.URL == "" {
		return fmt.Errorf("USER_SERVICE_URL is required")
	}
	if cfg.Queue.MaxRetries < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must be non-negative")
	}
	if cfg.Queue.RetryBackoff != "exponential" && cfg.Queue.RetryBackoff != "linear" {
		return fmt.Errorf("QUEUE_RETRY_BACKOFF must be %q or %q", "exponential", "linear")
	}
	if cfg.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database max open connections must be greater than 0")
	}
	if cfg.Breaker.ErrorThreshold <= 0 || cfg.Breaker.ErrorThreshold > 1 {
		return fmt.Errorf("circuit breaker error threshold must be in (0,1]")
	}
	return nil
}
