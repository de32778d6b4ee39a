// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Session   SessionConfig   `mapstructure:"session"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
}

// ServerConfig holds the HTTP/websocket listener configuration.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// CatalogConfig holds token catalog configuration.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	Retention         time.Duration `mapstructure:"retention"`
}

// ScoringConfig holds the numeric scoring schedule. The schedule is
// deployment configuration, not a hard constant: productions run anything
// from small integers to currency-like values.
type ScoringConfig struct {
	RatingTable     map[int]int64      `mapstructure:"rating_table"`     // value rating (1-5) -> base points
	TypeMultipliers map[string]float64 `mapstructure:"type_multipliers"` // memory type -> multiplier
}

// BroadcastConfig holds broadcast router configuration.
type BroadcastConfig struct {
	CoalesceWindow     time.Duration `mapstructure:"coalesce_window"`
	RecentTransactions int           `mapstructure:"recent_transactions"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the given directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. SERVER_ADDR, DATABASE_HOST, SESSION_INACTIVITY_TIMEOUT.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; env vars can provide everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "scavenger")
	v.SetDefault("database.name", "scavenger")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("catalog.path", "config/tokens.json")

	v.SetDefault("session.inactivity_timeout", "30m")
	v.SetDefault("session.retention", "24h")

	// Large-currency scale from the production token data.
	v.SetDefault("scoring.rating_table", map[string]int64{
		"1": 100, "2": 500, "3": 1000, "4": 5000, "5": 10000,
	})
	v.SetDefault("scoring.type_multipliers", map[string]float64{
		"personal": 1.0, "business": 3.0, "technical": 5.0,
	})

	v.SetDefault("broadcast.coalesce_window", "100ms")
	v.SetDefault("broadcast.recent_transactions", 10)
}
