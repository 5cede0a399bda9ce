package repositories

import (
	"errors"
	"fmt"
)

// Error is the RepositoryError implementation shared by the memory and SQL backends.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool { return e != nil && e.notFound }
func (e *Error) IsConflict() bool { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

var _ RepositoryError = (*Error)(nil)

// NewNotFoundError marks err as a missing record.
func NewNotFoundError(op string, err error) error {
	return &Error{op: op, err: orDefault(err, "not found"), notFound: true}
}

// NewConflictError marks err as a version or uniqueness conflict.
func NewConflictError(op string, err error) error {
	return &Error{op: op, err: orDefault(err, "conflict"), conflict: true}
}

// NewUnavailableError marks err as a transient backend failure.
func NewUnavailableError(op string, err error) error {
	return &Error{op: op, err: orDefault(err, "unavailable"), unavailable: true}
}

// IsNotFound reports whether err carries a not-found repository classification.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict repository classification.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries an unavailable repository classification.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

func orDefault(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}
