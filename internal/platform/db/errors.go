package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// PostgreSQL error codes the engine reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// UniqueViolation reports whether err is a unique violation on the named constraint.
// An empty constraint matches any unique violation.
func UniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Classify wraps driver errors with the shared error taxonomy so callers can
// match them with errors.Is without importing pgconn.
func Classify(err error) error {
	if err == nil || errors.Is(err, shared.ErrConflict) || errors.Is(err, shared.ErrLockTimeout) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %w", shared.ErrConflict, err)
	case codeLockNotAvailable, codeQueryCanceled:
		return fmt.Errorf("%w: %w", shared.ErrLockTimeout, err)
	}
	return err
}
