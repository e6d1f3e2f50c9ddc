package repositories

import (
	"errors"
	"fmt"
)

var (
	// ErrSkipMutation aborts a mutation without writing and without reporting an error.
	ErrSkipMutation = errors.New("repositories: mutation skipped")
	// ErrStatusMismatch reports that the stored order was not in one of the expected statuses.
	ErrStatusMismatch = errors.New("repositories: order status mismatch")
	// ErrInsufficientStock reports that a reservation exceeds the available stock.
	ErrInsufficientStock = errors.New("repositories: insufficient stock")
)

// Error is a driver-neutral RepositoryError used by in-process implementations.
type Error struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.NotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Unavailable }

// NewNotFoundError reports a missing entity.
func NewNotFoundError(op, what string) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%s not found", what), NotFound: true}
}

// NewConflictError reports a write that collides with existing state.
func NewConflictError(op string, err error) *Error {
	return &Error{Op: op, Err: err, Conflict: true}
}

// IsNotFound reports whether err carries a not-found classification.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
