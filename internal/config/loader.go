package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read from the working directory when present.
const DefaultConfigFile = "crmledger.yaml"

// Load reads the default config file, then the environment.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom applies defaults, the YAML file at yamlPath (if it exists) and the
// environment, then validates.
func LoadFrom(yamlPath string) (*Config, error) {
	return load(yamlPath, CLIFlags{})
}

func load(yamlPath string, flags CLIFlags) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CRM_PORT")
	setString(&cfg.Server.CORSOrigin, "CRM_CORS_ORIGIN")
	setDuration(&cfg.Server.RequestTimeout, "CRM_REQUEST_TIMEOUT")
	setString(&cfg.Store.Driver, "CRM_STORE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CRM_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CRM_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CRM_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CRM_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CRM_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Logging.Level, "CRM_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CRM_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CRM_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "CRM_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CRM_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "CRM_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CRM_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "CRM_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "CRM_RATE_MAX_IDLE_TIME")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "CRM_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "CRM_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "CRM_CACHE_L2_TTL")

	// Ledger and sync
	setDuration(&cfg.Ledger.SweepInterval, "CRM_LEDGER_SWEEP_INTERVAL")
	setDuration(&cfg.Sync.ScheduleInterval, "CRM_SYNC_SCHEDULE_INTERVAL")
	setInt(&cfg.Sync.MaxParallel, "CRM_SYNC_MAX_PARALLEL")
	setDuration(&cfg.Sync.LockTTL, "CRM_SYNC_LOCK_TTL")
	setInt(&cfg.Sync.BatchLimit, "CRM_SYNC_BATCH_LIMIT")
	setString(&cfg.Secrets.CredentialKeyEnv, "CRM_CREDENTIAL_KEY_ENV")
	setString(&cfg.Secrets.File, "CRM_SECRETS_FILE")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "CRM_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "CRM_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "CRM_OTEL_SAMPLE_RATE")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "CRM_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "CRM_IDEMPOTENCY_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be postgres or memory, got %q", cfg.Store.Driver)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Ledger.SweepInterval <= 0 {
		return errors.New("ledger.sweep_interval must be > 0")
	}
	if cfg.Sync.MaxParallel < 1 {
		return errors.New("sync.max_parallel must be >= 1")
	}
	if cfg.Sync.ScheduleInterval <= 0 {
		return errors.New("sync.schedule_interval must be > 0")
	}
	if cfg.Secrets.CredentialKeyEnv == "" {
		return errors.New("secrets.credential_key_env is required")
	}
	return nil
}

// CLIFlags are command-line overrides. Nil fields were not given.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	Store      *string
}

// ParseFlags parses server flags from args (without the program name).
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("crmledger", flag.ContinueOnError)
	var (
		configPath, port, logLevel, dsn, natsURL, store string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "shorthand for --config")
	fs.StringVar(&port, "port", "", "HTTP port")
	fs.StringVar(&port, "p", "", "shorthand for --port")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS URL")
	fs.StringVar(&store, "store", "", "store driver (postgres, memory)")
	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}

	var out CLIFlags
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "config", "c":
			out.ConfigPath = &v
		case "port", "p":
			out.Port = &v
		case "log-level":
			out.LogLevel = &v
		case "dsn":
			out.DSN = &v
		case "nats-url":
			out.NatsURL = &v
		case "store":
			out.Store = &v
		}
	})
	return out, nil
}

func applyCLI(cfg *Config, f CLIFlags) {
	if f.Port != nil {
		cfg.Server.Port = *f.Port
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
	if f.DSN != nil {
		cfg.Postgres.DSN = *f.DSN
	}
	if f.NatsURL != nil {
		cfg.NATS.URL = *f.NatsURL
	}
	if f.Store != nil {
		cfg.Store.Driver = *f.Store
	}
}

// LoadWithCLI loads the config honoring flags and returns the YAML path used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}
	cfg, err := load(path, flags)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Holder keeps the current config and reloads it from disk on demand.
// A failed reload keeps the previous config.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps an already loaded config.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Get returns the current config.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-reads YAML and environment.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
