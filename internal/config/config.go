package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"ambassador-ledger/internal/benefit"
	"ambassador-ledger/internal/logger"
)

// Settled bases for the pending settlement calculation.
const (
	SettledBasisProcessed = "processed"
	SettledBasisAll       = "all"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   logger.Config   `yaml:"logging" envPrefix:"LOG_"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Backup    BackupConfig    `yaml:"backup"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string        `yaml:"port"             env:"SERVER_PORT"`
	Host            string        `yaml:"host"             env:"SERVER_HOST"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	// Serve HTTPS when both are set
	TLSCertFile string `yaml:"tls_cert_file" env:"SERVER_TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file"  env:"SERVER_TLS_KEY_FILE"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path             string        `yaml:"path"              env:"DATABASE_PATH"`
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"DATABASE_STATEMENT_TIMEOUT"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 10MB)
	MaxRequestBodySize int64 `yaml:"max_request_body_size" env:"MAX_REQUEST_BODY_SIZE"`
	// Max snapshot upload size in bytes for restores (default: 256MB)
	MaxSnapshotSize int64 `yaml:"max_snapshot_size" env:"MAX_SNAPSHOT_SIZE"`
	// Allowed CORS origins
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	Rate    int           `yaml:"rate"    env:"RATE_LIMIT_RATE"`
	Window  time.Duration `yaml:"window"  env:"RATE_LIMIT_WINDOW"`
}

// RedisConfig configures the shared counter store. An empty address keeps
// counters in process memory.
type RedisConfig struct {
	Addr      string `yaml:"addr"       env:"REDIS_ADDR"`
	Password  string `yaml:"password"   env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db"         env:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"     env:"TRACING_ENABLED"`
	Endpoint    string `yaml:"endpoint"    env:"TRACING_ENDPOINT"`
	Environment string `yaml:"environment" env:"TRACING_ENVIRONMENT"`
}

// LedgerConfig holds the business rules that are configurable per deployment.
type LedgerConfig struct {
	FiveStarStrategy       string        `yaml:"five_star_strategy"        env:"LEDGER_FIVE_STAR_STRATEGY"`
	SettledBasis           string        `yaml:"settled_basis"             env:"LEDGER_SETTLED_BASIS"`
	AcademicYearStartMonth int           `yaml:"academic_year_start_month" env:"LEDGER_ACADEMIC_YEAR_START_MONTH"`
	BenefitNotifications   bool          `yaml:"benefit_notifications"     env:"LEDGER_BENEFIT_NOTIFICATIONS"`
	IdempotencyTTL         time.Duration `yaml:"idempotency_ttl"           env:"LEDGER_IDEMPOTENCY_TTL"`
	ConfirmRetryAttempts   int           `yaml:"confirm_retry_attempts"    env:"LEDGER_CONFIRM_RETRY_ATTEMPTS"`
}

// BackupConfig selects where CLI snapshots are stored. A non-empty bucket
// selects S3, otherwise Dir is used.
type BackupConfig struct {
	Dir    string `yaml:"dir"    env:"BACKUP_DIR"`
	Bucket string `yaml:"bucket" env:"BACKUP_S3_BUCKET"`
	Prefix string `yaml:"prefix" env:"BACKUP_S3_PREFIX"`
	Region string `yaml:"region" env:"BACKUP_S3_REGION"`
}

type ctxKey struct{}

// WithContext stores cfg in ctx for CLI subcommands.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext returns the config stored by WithContext, or nil.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(ctxKey{}).(*Config)
	return cfg
}

// Default returns the configuration used when neither file nor environment
// supply a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:             "./ambassador_ledger.db",
			StatementTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 10 << 20,
			MaxSnapshotSize:    256 << 20,
			AllowedOrigins:     []string{"*"},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  time.Minute,
		},
		Redis: RedisConfig{
			KeyPrefix: "ambassador-ledger:",
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "json",
		},
		Ledger: LedgerConfig{
			FiveStarStrategy:       benefit.StrategySlabBase,
			SettledBasis:           SettledBasisProcessed,
			AcademicYearStartMonth: int(time.June),
			BenefitNotifications:   true,
			IdempotencyTTL:         24 * time.Hour,
			ConfirmRetryAttempts:   3,
		},
		Backup: BackupConfig{
			Dir: "./backups",
		},
	}
}

// LoadConfig loads configuration from a YAML file and/or environment variables.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("tls cert and key files must be set together")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.StatementTimeout <= 0 {
		return fmt.Errorf("database statement timeout must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if _, err := benefit.ParseStrategy(c.Ledger.FiveStarStrategy); err != nil {
		return err
	}
	switch c.Ledger.SettledBasis {
	case SettledBasisProcessed, SettledBasisAll:
	default:
		return fmt.Errorf("unknown settled basis %q (want %q or %q)",
			c.Ledger.SettledBasis, SettledBasisProcessed, SettledBasisAll)
	}
	if c.Ledger.AcademicYearStartMonth < 1 || c.Ledger.AcademicYearStartMonth > 12 {
		return fmt.Errorf("academic year start month must be 1-12, got %d", c.Ledger.AcademicYearStartMonth)
	}
	if c.Ledger.ConfirmRetryAttempts < 1 {
		return fmt.Errorf("confirm retry attempts must be at least 1")
	}
	if c.Backup.Bucket == "" && c.Backup.Dir == "" {
		return fmt.Errorf("backup dir or s3 bucket is required")
	}
	return nil
}
