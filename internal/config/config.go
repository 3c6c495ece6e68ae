// Package config loads the wager-engine server configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional TOML file,
// a .env file in the working directory, then WAGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Auth     AuthConfig     `toml:"auth"`
	Ledger   LedgerConfig   `toml:"ledger"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	IdleTimeout     Duration `toml:"idle_timeout"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig selects the PostgreSQL store. An empty URL means the
// in-memory store.
type DatabaseConfig struct {
	URL     string `toml:"url"`
	Migrate bool   `toml:"migrate"`
}

// RedisConfig enables the read-through cache in front of PostgreSQL.
type RedisConfig struct {
	URL string   `toml:"url"`
	TTL Duration `toml:"ttl"`
}

// AuthConfig holds the bearer-token secret.
type AuthConfig struct {
	Secret   string   `toml:"secret"`
	TokenTTL Duration `toml:"token_ttl"`
}

// LedgerConfig holds the bootstrap values applied on first start. Both empty
// means the ledger waits for an explicit initialize call.
type LedgerConfig struct {
	Currency string `toml:"currency"`
	Operator string `toml:"operator"`
}

// Duration wraps time.Duration so the TOML decoder accepts strings like
// "30s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration{10 * time.Second},
			WriteTimeout:    Duration{10 * time.Second},
			IdleTimeout:     Duration{60 * time.Second},
			RequestTimeout:  Duration{30 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Database: DatabaseConfig{Migrate: true},
		Redis:    RedisConfig{TTL: Duration{30 * time.Second}},
		Auth:     AuthConfig{TokenTTL: Duration{24 * time.Hour}},
		LogLevel: "info",
	}
}

// Load builds the configuration. path may be empty, in which case
// WAGER_CONFIG names the file; with neither set only defaults and the
// environment apply. The result has not been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("WAGER_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "WAGER_PORT")
	setStr(&cfg.Database.URL, "WAGER_DATABASE_URL")
	setBool(&cfg.Database.Migrate, "WAGER_MIGRATE")
	setStr(&cfg.Redis.URL, "WAGER_REDIS_URL")
	setDuration(&cfg.Redis.TTL, "WAGER_CACHE_TTL")
	setStr(&cfg.Auth.Secret, "WAGER_AUTH_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "WAGER_TOKEN_TTL")
	setStr(&cfg.Ledger.Currency, "WAGER_CURRENCY")
	setStr(&cfg.Ledger.Operator, "WAGER_OPERATOR")
	setStr(&cfg.LogLevel, "WAGER_LOG_LEVEL")
}

func setStr(dst *string, key string) {
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	for name, d := range map[string]Duration{
		"read_timeout":     c.Server.ReadTimeout,
		"write_timeout":    c.Server.WriteTimeout,
		"idle_timeout":     c.Server.IdleTimeout,
		"request_timeout":  c.Server.RequestTimeout,
		"shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if d.Duration <= 0 {
			errs = append(errs, "server: "+name+" must be positive")
		}
	}
	if c.Redis.URL != "" {
		if c.Database.URL == "" {
			errs = append(errs, "redis: cache requires database.url")
		}
		if c.Redis.TTL.Duration <= 0 {
			errs = append(errs, "redis: ttl must be positive")
		}
	}
	if c.Auth.Secret == "" {
		errs = append(errs, "auth: secret is required (WAGER_AUTH_SECRET)")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be positive")
	}
	if (c.Ledger.Currency == "") != (c.Ledger.Operator == "") {
		errs = append(errs, "ledger: currency and operator must be set together")
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}
