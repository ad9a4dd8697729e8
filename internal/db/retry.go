package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultRetryBackoff is the pause before the single retry.
const DefaultRetryBackoff = 50 * time.Millisecond

// RetryOnce runs fn and, when it fails transiently and ctx is still live,
// runs it once more after backoff. The last error is returned unchanged.
func RetryOnce(ctx context.Context, backoff time.Duration, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !IsTransient(err) || ctx.Err() != nil {
		return err
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
		return fn(ctx)
	}
}

// IsTransient reports failures worth one retry: serialization and lock
// failures, dropped connections and server restarts.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available, raised by lock_timeout
			"57P01", // admin_shutdown
			"53300": // too_many_connections
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
