package postgres

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotConnected is returned by pool operations before Connect succeeds or
// after Disconnect.
var ErrNotConnected = errors.New("postgres: pool is not connected")

// retryable Postgres SQLSTATE classes: connection failures (08xxx),
// insufficient resources (53xxx), and the operator-intervention shutdown
// codes 57P01, 57P02 and 57P03. Anything else is treated as a permanent error
// and surfaced to the caller immediately.
func retryableSQLState(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "53":
		return true
	}
	return code == "57P01" || code == "57P02" || code == "57P03"
}

// IsRetryable reports whether err is worth retrying: network-level failures
// and the transient SQLSTATE classes above. Context cancellation is never
// retryable, it means the caller has given up.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableSQLState(pgErr.Code)
	}
	return false
}
