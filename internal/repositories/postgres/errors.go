package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/openshop/api/internal/repositories"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	classConnectionException = "08"
	codeAdminShutdown        = "57P01"
)

// wrapError classifies database errors as repository errors. Context errors pass through unchanged.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if repositories.IsNotFound(err) || repositories.IsConflict(err) || repositories.IsUnavailable(err) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewNotFoundError(op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == codeUniqueViolation, pqErr.Code == codeSerializationFailure, pqErr.Code == codeDeadlockDetected:
			return repositories.NewConflictError(op, err)
		case pqErr.Code.Class() == classConnectionException, pqErr.Code == codeAdminShutdown:
			return repositories.NewUnavailableError(op, err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return repositories.NewUnavailableError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
