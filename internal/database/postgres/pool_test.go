package postgres

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "detectengine", cfg.Database)
	assert.Equal(t, int32(10), cfg.MaxConns)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_NAME", "detect_prod")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("DB_CONNECT_TIMEOUT", "10s")

	cfg := LoadFromEnv()
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "detect_prod", cfg.Database)
	assert.Equal(t, int32(25), cfg.MaxConns)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
}

func TestLoadFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("DB_MAX_CONNS", "-3")

	cfg := LoadFromEnv()
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, int32(10), cfg.MaxConns)
}

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "h"
	cfg.Port = 5432
	cfg.Database = "d"
	cfg.User = "u"
	cfg.Password = "p"
	cfg.SSLMode = "require"
	cfg.ConnectTimeout = 30 * time.Second

	assert.Equal(t, "host=h port=5432 dbname=d user=u password=p sslmode=require connect_timeout=30", cfg.DSN())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty host", func(c *Config) { c.Host = "" }, true},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"empty database", func(c *Config) { c.Database = "" }, true},
		{"min over max", func(c *Config) { c.MinConns = 20; c.MaxConns = 5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("syntax error")))

	assert.True(t, IsRetryable(&net.OpError{Op: "dial", Err: errors.New("refused")}))

	assert.True(t, IsRetryable(&pgconn.PgError{Code: "08006"}))  // connection failure
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "53300"}))  // too many connections
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "57P01"}))  // admin shutdown
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"})) // unique violation
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "42601"})) // syntax error
}

func TestPoolOperationsBeforeConnect(t *testing.T) {
	p := NewPool(DefaultConfig(), nil)

	_, err := p.Exec(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = p.Query(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, ErrNotConnected)

	err = p.QueryRow(context.Background(), "SELECT 1").Scan()
	require.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, p.Health(context.Background()), ErrNotConnected)
	assert.NoError(t, p.Disconnect(context.Background()))
}

func TestConnectRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = ""
	p := NewPool(cfg, nil)
	require.Error(t, p.Connect(context.Background()))
}
