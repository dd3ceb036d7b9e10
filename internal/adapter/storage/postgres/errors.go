package postgres

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	sqlStateLockNotAvailable = "55P03"
	sqlStateDeadlockDetected = "40P01"
	sqlStateUniqueViolation  = "23505"
)

// wrapErr annotates err with op and marks lock wait failures with
// ports.ErrLockTimeout so callers can tell them apart from other failures.
func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateLockNotAvailable, sqlStateDeadlockDetected:
			return fmt.Errorf("%s: %w: %w", op, ports.ErrLockTimeout, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrLockTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}
