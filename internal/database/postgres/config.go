package postgres

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the connection and pool settings for the reload-history
// database. Values come from DB_* environment variables so the process can
// run in the same deployment harness as the rest of the fleet tooling.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	MaxConns int32
	MinConns int32

	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns the settings used when no environment overrides are
// present: a local single-node Postgres with a small pool, which is all the
// reload audit log ever needs.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "detectengine",
		User:            "detectengine",
		Password:        "",
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  30 * time.Second,
	}
}

// LoadFromEnv builds a Config from DB_* environment variables, falling back
// to DefaultConfig for anything unset or unparsable.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		cfg.SSLMode = v
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil && n > 0 {
			cfg.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("DB_MIN_CONNS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil && n >= 0 {
			cfg.MinConns = int32(n)
		}
	}
	if v := os.Getenv("DB_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConnectTimeout = d
		}
	}
	return cfg
}

// DSN renders the config as a keyword/value connection string for pgx.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode, int(c.ConnectTimeout.Seconds()))
}

// Validate rejects configs that cannot possibly connect.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("postgres: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("postgres: invalid port %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("postgres: database name is required")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("postgres: min_conns %d exceeds max_conns %d", c.MinConns, c.MaxConns)
	}
	return nil
}
