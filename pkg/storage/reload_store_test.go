package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheewill/detectengine/internal/detect"
)

// fakeDB is a minimal postgres.Querier recording Exec calls, just enough to
// exercise ReloadStore.RecordReload without a live Postgres.
type fakeDB struct {
	execSQL  string
	execArgs []any
}

func (f *fakeDB) Disconnect(context.Context) error { return nil }

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = sql
	f.execArgs = args
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestReloadStore_RecordReload(t *testing.T) {
	db := &fakeDB{}
	store := NewReloadStore(db, nil)

	report := &detect.ReloadReport{
		Outcome:      detect.OutcomeSuccess,
		WorkersTotal: 4,
		Adopted:      4,
		Duration:     25 * time.Millisecond,
	}

	require.NoError(t, store.RecordReload(context.Background(), 7, report, time.Now()))
	assert.Contains(t, db.execSQL, "INSERT INTO detect_reload_history")
	assert.Len(t, db.execArgs, 8)
	assert.EqualValues(t, 7, db.execArgs[1])
	assert.Equal(t, "success", db.execArgs[2])
}
