// Package config loads the engine configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/defi_engine/internal/engine/domains/defi"
)

// Snapshot backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the root configuration of the engine binary.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Pools    Pools          `yaml:"pools"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig configures the ops HTTP server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxConcurrent caps in-flight requests; 0 disables the cap.
	MaxConcurrent int             `yaml:"max_concurrent"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a per-client token bucket; a zero rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// JournalConfig configures the in-memory event journal.
type JournalConfig struct {
	Size int `yaml:"size"`
}

// SnapshotConfig selects and configures the snapshot store.
type SnapshotConfig struct {
	Backend  string         `yaml:"backend"`
	Schedule string         `yaml:"schedule"`
	Timeout  time.Duration  `yaml:"timeout"`
	Retry    RetryConfig    `yaml:"retry"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RetryConfig controls retries of failed snapshot saves.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// RedisConfig configures the Redis snapshot store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// PostgresConfig configures the Postgres snapshot store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// Pools lists the pools created on a fresh start.
type Pools struct {
	Staking   []defi.StakingConfig   `yaml:"staking"`
	Lending   []defi.LendingConfig   `yaml:"lending"`
	Liquidity []defi.LiquidityConfig `yaml:"liquidity"`
	DAOs      []defi.DAOConfig       `yaml:"daos"`
}

// Count returns the number of configured pools.
func (p Pools) Count() int {
	return len(p.Staking) + len(p.Lending) + len(p.Liquidity) + len(p.DAOs)
}

// Default returns a configuration that runs without external services.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:            ":8090",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxConcurrent:   64,
			RateLimit:       RateLimitConfig{RequestsPerSecond: 50, Burst: 100},
		},
		Metrics: MetricsConfig{Namespace: "defi"},
		Journal: JournalConfig{Size: 1000},
		Snapshot: SnapshotConfig{
			Backend:  BackendMemory,
			Schedule: "@every 1m",
			Timeout:  10 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   2,
			},
			Redis: RedisConfig{Addr: "localhost:6379", Key: "defi:snapshot"},
		},
	}
}

// envOverrides maps DEFI_* variables onto the configuration. Empty values
// leave the file setting untouched.
type envOverrides struct {
	LogLevel         string `env:"DEFI_LOG_LEVEL"`
	LogFormat        string `env:"DEFI_LOG_FORMAT"`
	HTTPAddr         string `env:"DEFI_HTTP_ADDR"`
	MetricsNamespace string `env:"DEFI_METRICS_NAMESPACE"`
	JournalSize      int    `env:"DEFI_JOURNAL_SIZE"`
	SnapshotBackend  string `env:"DEFI_SNAPSHOT_BACKEND"`
	SnapshotSchedule string `env:"DEFI_SNAPSHOT_SCHEDULE"`
	RedisAddr        string `env:"DEFI_REDIS_ADDR"`
	RedisPassword    string `env:"DEFI_REDIS_PASSWORD"`
	RedisDB          int    `env:"DEFI_REDIS_DB"`
	RedisKey         string `env:"DEFI_REDIS_KEY"`
	PostgresDSN      string `env:"DEFI_POSTGRES_DSN"`
}

// Load reads the YAML file at path over Default(), loads the given dotenv
// files into the process environment and applies DEFI_* overrides.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
	}

	if err := applyEnv(cfg, envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default() with environment
// overrides when path does not exist.
func LoadOrDefault(path string, envFiles ...string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path, envFiles...)
		}
	}
	cfg := Default()
	if err := applyEnv(cfg, envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, envFiles ...string) error {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	var env envOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to decode environment: %w", err)
	}

	setString(&cfg.Log.Level, env.LogLevel)
	setString(&cfg.Log.Format, env.LogFormat)
	setString(&cfg.HTTP.Addr, env.HTTPAddr)
	setString(&cfg.Metrics.Namespace, env.MetricsNamespace)
	setString(&cfg.Snapshot.Backend, env.SnapshotBackend)
	setString(&cfg.Snapshot.Schedule, env.SnapshotSchedule)
	setString(&cfg.Snapshot.Redis.Addr, env.RedisAddr)
	setString(&cfg.Snapshot.Redis.Password, env.RedisPassword)
	setString(&cfg.Snapshot.Redis.Key, env.RedisKey)
	setString(&cfg.Snapshot.Postgres.DSN, env.PostgresDSN)
	if env.JournalSize > 0 {
		cfg.Journal.Size = env.JournalSize
	}
	if env.RedisDB > 0 {
		cfg.Snapshot.Redis.DB = env.RedisDB
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Validate checks the configuration, including every seeded pool.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.MaxConcurrent < 0 {
		errs = append(errs, errors.New("http.max_concurrent must not be negative"))
	}
	if c.HTTP.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("http.rate_limit.requests_per_second must not be negative"))
	}
	if c.HTTP.RateLimit.RequestsPerSecond > 0 && c.HTTP.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("http.rate_limit.burst must be positive when rate limiting is enabled"))
	}
	if c.Journal.Size <= 0 {
		errs = append(errs, errors.New("journal.size must be positive"))
	}

	switch c.Snapshot.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if c.Snapshot.Redis.Addr == "" {
			errs = append(errs, errors.New("snapshot.redis.addr is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Snapshot.Postgres.DSN == "" {
			errs = append(errs, errors.New("snapshot.postgres.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot backend %q", c.Snapshot.Backend))
	}
	if c.Snapshot.Backend != BackendNone && c.Snapshot.Schedule == "" {
		errs = append(errs, errors.New("snapshot.schedule is required"))
	}
	if c.Snapshot.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("snapshot.retry.max_attempts must not be negative"))
	}

	for i, p := range c.Pools.Staking {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pools.staking[%d]: %w", i, err))
		}
	}
	for i, p := range c.Pools.Lending {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pools.lending[%d]: %w", i, err))
		}
	}
	for i, p := range c.Pools.Liquidity {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pools.liquidity[%d]: %w", i, err))
		}
	}
	for i, p := range c.Pools.DAOs {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pools.daos[%d]: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
