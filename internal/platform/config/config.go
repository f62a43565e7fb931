// Package config loads process bootstrap configuration: the pieces needed
// before the runtime, DB-backed config store (internal/configstore) can be
// reached at all. Everything mutable at runtime belongs in configstore, not
// here.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminToken      string        `mapstructure:"admin_token"`
	AdminTokenPrev  string        `mapstructure:"admin_token_prev"`
}

type VendorConfig struct {
	APIBase        string        `mapstructure:"api_base"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RateLimitPerMn int           `mapstructure:"rate_limit_per_min"`
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Vendor   VendorConfig   `mapstructure:"vendor"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// Load reads .env (if present), applies defaults, binds environment
// variables, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "lsxsync")
	v.SetDefault("database.user", "lsxsync")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("vendor.api_base", "https://x-series-api.lightspeedhq.com")
	v.SetDefault("vendor.timeout", 30*time.Second)
	v.SetDefault("vendor.retry_attempts", 3)
	v.SetDefault("vendor.rate_limit_per_min", 120)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_rate", 0.1)
	v.SetDefault("tracing.insecure", false)
}

func overrideFromEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bind := func(key, env string) { _ = v.BindEnv(key, env) }
	bind("database.host", "DB_HOST")
	bind("database.port", "DB_PORT")
	bind("database.name", "DB_NAME")
	bind("database.user", "DB_USER")
	bind("database.password", "DB_PASS")
	bind("database.ssl_mode", "DB_SSL_MODE")
	bind("database.migrations_path", "DB_MIGRATIONS_PATH")

	bind("server.port", "PORT")
	bind("server.environment", "ENVIRONMENT")
	bind("server.admin_token", "ADMIN_BEARER_TOKEN")
	bind("server.admin_token_prev", "ADMIN_BEARER_TOKEN_PREV")

	bind("vendor.api_base", "VEND_API_BASE")
	bind("vendor.client_id", "VEND_CLIENT_ID")
	bind("vendor.client_secret", "VEND_CLIENT_SECRET")

	bind("tracing.collector_url", "OTEL_COLLECTOR_URL")
	bind("tracing.enabled", "OTEL_ENABLED")
}

func validate(cfg *Config) error {
	if cfg.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if cfg.Server.AdminToken == "" {
		// Allowed for bootstrapping; callers must log a warning (see
		// internal/api/middleware auth check, which does exactly that).
		return nil
	}
	return nil
}
