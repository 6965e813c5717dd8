// Package storage persists the reload audit trail to Postgres through the
// shared pgx-based connection pool.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/google/uuid"

	"github.com/cheewill/detectengine/internal/database/postgres"
	"github.com/cheewill/detectengine/internal/detect"
)

// ReloadRecord is one row of the reload audit log: the outcome of a single
// Orchestrator.Run call, keyed by a generated id so operators can correlate
// it with logs and metrics emitted during the same reload.
type ReloadRecord struct {
	ID             uuid.UUID
	SnapshotID     uint64
	Outcome        string
	WorkersTotal   int
	WorkersAdopted int
	DurationMS     int64
	ErrorMessage   string
	StartedAt      time.Time
}

// ReloadStore persists ReloadRecords and reads back recent history.
type ReloadStore struct {
	db     postgres.Querier
	logger *slog.Logger
}

// NewReloadStore wraps an already-connected database pool.
func NewReloadStore(db postgres.Querier, logger *slog.Logger) *ReloadStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReloadStore{db: db, logger: logger}
}

// Close disconnects the underlying database connection.
func (s *ReloadStore) Close(ctx context.Context) error {
	return s.db.Disconnect(ctx)
}

// RecordReload inserts one row for a completed (or failed) reload attempt.
func (s *ReloadStore) RecordReload(ctx context.Context, snapshotID uint64, report *detect.ReloadReport, startedAt time.Time) error {
	id := uuid.New()
	errMsg := ""
	if report.Err != nil {
		errMsg = report.Err.Error()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO detect_reload_history
			(id, snapshot_id, outcome, workers_total, workers_adopted, duration_ms, error_message, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, snapshotID, string(report.Outcome), report.WorkersTotal, report.Adopted,
		report.Duration.Milliseconds(), errMsg, startedAt)
	if err != nil {
		s.logger.Error("failed to persist reload record", "error", err, "snapshot_id", snapshotID)
		return fmt.Errorf("record reload: %w", err)
	}
	return nil
}

// RecentReloads returns the last limit reload records, most recent first.
func (s *ReloadStore) RecentReloads(ctx context.Context, limit int) ([]ReloadRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, snapshot_id, outcome, workers_total, workers_adopted, duration_ms, error_message, started_at
		FROM detect_reload_history
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent reloads: %w", err)
	}
	defer rows.Close()

	var out []ReloadRecord
	for rows.Next() {
		var r ReloadRecord
		if err := rows.Scan(&r.ID, &r.SnapshotID, &r.Outcome, &r.WorkersTotal, &r.WorkersAdopted,
			&r.DurationMS, &r.ErrorMessage, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan reload record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reload records: %w", err)
	}
	return out, nil
}

// LastSuccessful returns the most recent reload record with outcome
// "success", or pgx.ErrNoRows wrapped if none exists yet.
func (s *ReloadStore) LastSuccessful(ctx context.Context) (*ReloadRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, snapshot_id, outcome, workers_total, workers_adopted, duration_ms, error_message, started_at
		FROM detect_reload_history
		WHERE outcome = 'success'
		ORDER BY started_at DESC
		LIMIT 1
	`)

	var r ReloadRecord
	if err := row.Scan(&r.ID, &r.SnapshotID, &r.Outcome, &r.WorkersTotal, &r.WorkersAdopted,
		&r.DurationMS, &r.ErrorMessage, &r.StartedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("last successful reload: %w", err)
		}
		return nil, fmt.Errorf("scan last successful reload: %w", err)
	}
	return &r, nil
}
