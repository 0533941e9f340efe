package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/stockops/internal/shared"
)

// Postgres SQLSTATE codes the service reacts to.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
)

// ErrRetryable marks transient lock and serialization failures.
var ErrRetryable = errors.New("platform/db: retryable conflict")

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string   { return c.err.Error() }
func (c *classified) Unwrap() []error { return []error{c.kind, c.err} }

// Classify tags Postgres errors so callers can branch with errors.Is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRetryable) || errors.Is(err, shared.ErrDuplicate) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
		return &classified{kind: ErrRetryable, err: err}
	case CodeUniqueViolation:
		return &classified{kind: shared.ErrDuplicate, err: fmt.Errorf("%s: %w", pgErr.ConstraintName, err)}
	}
	return err
}

// IsRetryable reports whether err is a transient conflict.
func IsRetryable(err error) bool {
	return errors.Is(Classify(err), ErrRetryable)
}
