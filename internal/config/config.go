// Package config loads and validates the service configuration from
// owaiken.yaml, environment variables (OWAIKEN_ prefix) and an optional
// .env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Rate limit backend names accepted in configuration.
const (
	BackendLocal    = "local"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Debug     bool            `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

// DatabaseConfig contains PostgreSQL connection settings, used when the
// rate limit backend is "postgres".
type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	SSLMode        string        `mapstructure:"ssl_mode"`
	MaxConnections int32         `mapstructure:"max_connections"`
	MinConnections int32         `mapstructure:"min_connections"`
	ConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the connection string for pgxpool.
func (dc DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dc.User, dc.Password, dc.Host, dc.Port, dc.Database, dc.SSLMode)
}

// TierLimits holds the per-window thresholds for one subscription tier.
type TierLimits struct {
	PerMinute int64 `mapstructure:"per_minute"`
	PerHour   int64 `mapstructure:"per_hour"`
	PerDay    int64 `mapstructure:"per_day"`
}

// RateLimitConfig contains the limiter settings: which counter backend
// to use, how long to wait for it, the burst guard in front of the
// windowed checks, and the tier threshold table.
type RateLimitConfig struct {
	Backend      string        `mapstructure:"backend"`       // local, postgres or redis
	RedisURL     string        `mapstructure:"redis_url"`     // required for the redis backend
	StoreTimeout time.Duration `mapstructure:"store_timeout"` // per-call budget for shared backends

	BurstPerSecond float64 `mapstructure:"burst_per_second"` // token bucket refill rate per client
	Burst          int     `mapstructure:"burst"`            // token bucket capacity per client

	Tiers map[string]TierLimits `mapstructure:"tiers"`
}

// Load reads the configuration from file, environment and defaults.
func Load() (*Config, error) {
	// .env is a local development convenience.
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetConfigName("owaiken")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/owaiken")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("OWAIKEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
		"../.env",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

func setDefaults() {
	// Server
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.body_limit", 1024*1024)

	// Database (postgres backend only)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.database", "owaiken")
	viper.SetDefault("database.ssl_mode", "prefer")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("database.min_connections", 0)
	viper.SetDefault("database.max_conn_lifetime", "1h")

	// Rate limiting
	viper.SetDefault("rate_limit.backend", BackendLocal)
	viper.SetDefault("rate_limit.redis_url", "")
	viper.SetDefault("rate_limit.store_timeout", "250ms")
	viper.SetDefault("rate_limit.burst_per_second", 50.0)
	viper.SetDefault("rate_limit.burst", 100)

	viper.SetDefault("rate_limit.tiers.free.per_minute", 30)
	viper.SetDefault("rate_limit.tiers.free.per_hour", 300)
	viper.SetDefault("rate_limit.tiers.free.per_day", 1000)
	viper.SetDefault("rate_limit.tiers.basic.per_minute", 60)
	viper.SetDefault("rate_limit.tiers.basic.per_hour", 1000)
	viper.SetDefault("rate_limit.tiers.basic.per_day", 5000)
	viper.SetDefault("rate_limit.tiers.premium.per_minute", 120)
	viper.SetDefault("rate_limit.tiers.premium.per_hour", 3000)
	viper.SetDefault("rate_limit.tiers.premium.per_day", 10000)
	viper.SetDefault("rate_limit.tiers.enterprise.per_minute", 300)
	viper.SetDefault("rate_limit.tiers.enterprise.per_hour", 10000)
	viper.SetDefault("rate_limit.tiers.enterprise.per_day", 50000)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if c.RateLimit.Backend == BackendPostgres {
		if err := c.Database.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks server settings.
func (sc *ServerConfig) Validate() error {
	if sc.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if sc.BodyLimit <= 0 {
		return fmt.Errorf("server body_limit must be positive, got: %d", sc.BodyLimit)
	}
	return nil
}

// Validate checks database settings.
func (dc *DatabaseConfig) Validate() error {
	if dc.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got: %d", dc.Port)
	}
	if dc.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	return nil
}

// Validate checks rate limit settings.
func (rc *RateLimitConfig) Validate() error {
	switch rc.Backend {
	case BackendLocal, BackendPostgres, BackendRedis, "":
	default:
		return fmt.Errorf("rate_limit backend must be one of: %s, %s, %s, got: %s",
			BackendLocal, BackendPostgres, BackendRedis, rc.Backend)
	}

	if rc.Backend == BackendRedis && rc.RedisURL == "" {
		return fmt.Errorf("rate_limit redis_url is required for the redis backend")
	}

	if rc.StoreTimeout < 0 {
		return fmt.Errorf("rate_limit store_timeout cannot be negative, got: %v", rc.StoreTimeout)
	}

	if rc.BurstPerSecond <= 0 {
		return fmt.Errorf("rate_limit burst_per_second must be positive, got: %v", rc.BurstPerSecond)
	}
	if rc.Burst <= 0 {
		return fmt.Errorf("rate_limit burst must be positive, got: %d", rc.Burst)
	}

	if len(rc.Tiers) == 0 {
		return fmt.Errorf("rate_limit tiers cannot be empty")
	}
	for name, limits := range rc.Tiers {
		if limits.PerMinute <= 0 || limits.PerHour <= 0 || limits.PerDay <= 0 {
			return fmt.Errorf("rate_limit tier %q thresholds must be positive, got: %+v", name, limits)
		}
	}

	return nil
}
