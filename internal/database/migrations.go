// Package database runs the goose SQL migrations that create the reload
// audit-log schema.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cheewill/detectengine/internal/database/postgres"
)

const migrationsDir = "migrations"

// RunMigrations applies all pending migrations. goose works against
// database/sql, so a separate short-lived *sql.DB is opened from the pool's
// DSN rather than borrowing pgx connections.
func RunMigrations(ctx context.Context, pool *postgres.Pool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openSQLDB(pool)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("database: setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("database: applying migrations: %w", err)
	}

	logger.Info("database migrations applied")
	return nil
}

// RollbackMigrations rolls back every migration newer than version, for
// operator-driven schema repair; version itself stays applied.
func RollbackMigrations(ctx context.Context, pool *postgres.Pool, version int64, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openSQLDB(pool)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("database: setting goose dialect: %w", err)
	}
	if err := goose.DownToContext(ctx, db, migrationsDir, version); err != nil {
		return fmt.Errorf("database: rolling back migrations: %w", err)
	}

	logger.Info("database migrations rolled back", "to_version", version)
	return nil
}

func openSQLDB(pool *postgres.Pool) (*sql.DB, error) {
	cfg := pool.Config()
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: opening sql handle: %w", err)
	}
	db.SetMaxOpenConns(2)
	return db, nil
}
