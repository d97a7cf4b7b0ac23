// Package config loads service configuration from an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Account  AccountConfig  `mapstructure:"account"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// DatabaseConfig selects the store: PostgreSQL when URL is set, otherwise
// SQLite when SQLitePath is set, otherwise in-memory.
type DatabaseConfig struct {
	URL        string `mapstructure:"url"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type AccountConfig struct {
	Owner           string `mapstructure:"owner"`
	StartingBalance string `mapstructure:"starting_balance"`
}

// Balance parses StartingBalance.
func (a AccountConfig) Balance() (decimal.Decimal, error) {
	return decimal.NewFromString(a.StartingBalance)
}

type FeedConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Interval          time.Duration `mapstructure:"interval"`
	Seed              int64         `mapstructure:"seed"`
	Volatility        string        `mapstructure:"volatility"`
	MaxTicksPerSecond float64       `mapstructure:"max_ticks_per_second"`
}

// VolatilityDecimal parses Volatility.
func (f FeedConfig) VolatilityDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(f.Volatility)
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 30*time.Second)
	v.SetDefault("account.owner", "demo")
	v.SetDefault("account.starting_balance", "10000")
	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.interval", 2*time.Second)
	v.SetDefault("feed.seed", 1)
	v.SetDefault("feed.volatility", "0.02")
	v.SetDefault("feed.max_ticks_per_second", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
}

// Load reads configuration. path may be empty, in which case ./carbon.yaml is
// used when present. Environment variables override the file: CARBON_<KEY>
// with dots replaced by underscores (CARBON_SERVER_PORT), plus the bare PORT,
// DATABASE_URL and REDIS_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CARBON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "CARBON_SERVER_PORT", "PORT")
	_ = v.BindEnv("database.url", "CARBON_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis.url", "CARBON_REDIS_URL", "REDIS_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("carbon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that the type system cannot.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Account.Owner == "" {
		return errors.New("account.owner is required")
	}
	bal, err := c.Account.Balance()
	if err != nil {
		return fmt.Errorf("account.starting_balance: %w", err)
	}
	if bal.IsNegative() {
		return errors.New("account.starting_balance must not be negative")
	}
	vol, err := c.Feed.VolatilityDecimal()
	if err != nil {
		return fmt.Errorf("feed.volatility: %w", err)
	}
	if !vol.IsPositive() || vol.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("feed.volatility must be in (0, 1)")
	}
	if c.Feed.Enabled && c.Feed.Interval <= 0 {
		return errors.New("feed.interval must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug|info|warn|error", c.Log.Level)
	}
	return nil
}
