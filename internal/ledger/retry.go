package ledger

import (
	"context"
	stdErrors "errors"

	"github.com/jackc/pgx/v5/pgconn"

	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
)

const DefaultMaxAttempts = 3

// IsTransientConflict reports whether err is a serialization or deadlock
// failure that a fresh transaction may succeed past.
func IsTransientConflict(err error) bool {
	var pgErr *pgconn.PgError
	if stdErrors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
		return true
	}
	return false
}

// RunWithRetry runs fn up to attempts times, retrying only transient
// conflicts. fn must start its own transaction each call; retrying inside an
// aborted transaction would only fail again. When attempts are exhausted the
// last error is surfaced as a retryable CONFLICT.
func RunWithRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil || !IsTransientConflict(lastErr) {
			return lastErr
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "transaction retries exhausted")
}
