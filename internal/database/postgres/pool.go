// Package postgres wraps a pgx connection pool for the reload-history
// store: connect with bounded retry, a health probe, and the small query
// surface pkg/storage actually uses.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the query surface the storage layer depends on; satisfied by
// *Pool and by test doubles.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Disconnect(ctx context.Context) error
}

// Pool owns one pgxpool.Pool plus the config it was built from.
type Pool struct {
	cfg    *Config
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPool builds an unconnected Pool; call Connect before use.
func NewPool(cfg *Config, logger *slog.Logger) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{cfg: cfg, logger: logger}
}

// Connect validates the config, builds the pgx pool and pings it, retrying
// transient failures with exponential backoff (3 attempts, 500ms base).
func (p *Pool) Connect(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}

	poolCfg, err := pgxpool.ParseConfig(p.cfg.DSN())
	if err != nil {
		return fmt.Errorf("postgres: parsing pool config: %w", err)
	}
	poolCfg.MaxConns = p.cfg.MaxConns
	poolCfg.MinConns = p.cfg.MinConns
	poolCfg.MaxConnLifetime = p.cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = p.cfg.MaxConnIdleTime

	delay := 500 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				p.pool = pool
				p.logger.Info("connected to postgres",
					"host", p.cfg.Host, "database", p.cfg.Database, "max_conns", p.cfg.MaxConns)
				return nil
			}
			pool.Close()
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
		p.logger.Warn("postgres connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("postgres: connect: %w", lastErr)
}

// Disconnect closes the pool. Safe to call when never connected.
func (p *Pool) Disconnect(ctx context.Context) error {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
		p.logger.Info("disconnected from postgres")
	}
	return nil
}

// Health pings the database.
func (p *Pool) Health(ctx context.Context) error {
	if p.pool == nil {
		return ErrNotConnected
	}
	return p.pool.Ping(ctx)
}

// Config returns the config the pool was built from; the migration runner
// uses it to open its own database/sql handle.
func (p *Pool) Config() *Config {
	return p.cfg
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if p.pool == nil {
		return pgconn.CommandTag{}, ErrNotConnected
	}
	return p.pool.Exec(ctx, sql, args...)
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if p.pool == nil {
		return nil, ErrNotConnected
	}
	return p.pool.Query(ctx, sql, args...)
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if p.pool == nil {
		return errRow{err: ErrNotConnected}
	}
	return p.pool.QueryRow(ctx, sql, args...)
}

// errRow lets QueryRow keep its non-error signature while still reporting a
// disconnected pool at Scan time, the way pgx itself defers errors to Scan.
type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }
