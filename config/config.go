package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Log         LogConfig         `mapstructure:"log"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Notifier    NotifierConfig    `mapstructure:"notifier"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"` // per-transaction row lock wait
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type LedgerConfig struct {
	Currency string `mapstructure:"currency"`
	Storage  string `mapstructure:"storage"` // postgres, memory
}

type LimitsConfig struct {
	DailyDeposit                   int64  `mapstructure:"daily_deposit"`
	DailyWithdrawal                int64  `mapstructure:"daily_withdrawal"`
	TransfersCountTowardWithdrawal bool   `mapstructure:"transfers_count_toward_withdrawal"`
	Timezone                       string `mapstructure:"timezone"`
}

// Location resolves the timezone that delimits a limit day.
func (l LimitsConfig) Location() (*time.Location, error) {
	return time.LoadLocation(l.Timezone)
}

type IdempotencyConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

const (
	NotifierAsynq = "asynq"
	NotifierLog   = "log"
)

type NotifierConfig struct {
	Driver         string          `mapstructure:"driver"` // asynq, log
	Queue          string          `mapstructure:"queue"`
	MaxRetry       int             `mapstructure:"max_retry"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	Backoff        []time.Duration `mapstructure:"backoff"`
	Concurrency    int             `mapstructure:"concurrency"`
	WebhookTimeout time.Duration   `mapstructure:"webhook_timeout"`
	PurgeSchedule  string          `mapstructure:"purge_schedule"` // cron spec for expired idempotency keys
}

type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	WorkerAddr string `mapstructure:"worker_addr"` // cmd/worker has no HTTP API of its own
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: WLEDGER_.
// Nested keys use underscore: WLEDGER_DATABASE_HOST, WLEDGER_LIMITS_DAILY_DEPOSIT, etc.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "wallet-ledger")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("ledger.currency", "BRL_CENTS")
	v.SetDefault("ledger.storage", StoragePostgres)
	v.SetDefault("limits.daily_deposit", 1000000)
	v.SetDefault("limits.daily_withdrawal", 200000)
	v.SetDefault("limits.transfers_count_toward_withdrawal", false)
	v.SetDefault("limits.timezone", "UTC")
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.claim_ttl", "30s")
	v.SetDefault("notifier.driver", NotifierAsynq)
	v.SetDefault("notifier.queue", "notifications")
	v.SetDefault("notifier.max_retry", 3)
	v.SetDefault("notifier.timeout", "5s")
	v.SetDefault("notifier.backoff", []string{"10s", "30s"})
	v.SetDefault("notifier.concurrency", 10)
	v.SetDefault("notifier.webhook_timeout", "5s")
	v.SetDefault("notifier.purge_schedule", "@every 1h")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "WALLET_LEDGER")
	v.SetDefault("nats.subject_prefix", "wallet.ledger.events")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.worker_addr", ":9091")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: WLEDGER_DATABASE_HOST -> database.host
	v.SetEnvPrefix("WLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the ledger cannot run with.
func (c *Config) Validate() error {
	if c.Limits.DailyDeposit <= 0 {
		return fmt.Errorf("limits.daily_deposit must be positive, got %d", c.Limits.DailyDeposit)
	}
	if c.Limits.DailyWithdrawal <= 0 {
		return fmt.Errorf("limits.daily_withdrawal must be positive, got %d", c.Limits.DailyWithdrawal)
	}
	if _, err := c.Limits.Location(); err != nil {
		return fmt.Errorf("limits.timezone: %w", err)
	}
	switch c.Ledger.Storage {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("ledger.storage: unknown driver %q", c.Ledger.Storage)
	}
	switch c.Notifier.Driver {
	case NotifierAsynq, NotifierLog:
	default:
		return fmt.Errorf("notifier.driver: unknown driver %q", c.Notifier.Driver)
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency.ttl must be positive")
	}
	return nil
}
