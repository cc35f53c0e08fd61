package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrUnavailable marks failures to reach the ledger. Callers treat these
	// as transient and retry on their next cycle.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrMalformed marks rows that were read but could not be decoded.
	ErrMalformed = errors.New("malformed ledger row")

	// ErrNotFound is returned when a record lookup matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when a status update would move a
	// record backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// UnavailableError wraps the driver error behind an unreachable ledger.
// errors.Is(err, ErrUnavailable) matches it.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is matches ErrUnavailable so callers need not know the concrete type.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// NewUnavailableError wraps err as an unavailable-ledger failure for op.
// Other backends use it so every Ledger reports failures the same way.
func NewUnavailableError(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}

// IsUnavailable reports whether err means the ledger could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsMalformed reports whether err means a row could not be decoded.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// unavailable classifies a SQLite driver error.
// Constraint violations are caller errors and are wrapped plainly; every
// other driver failure means the database could not serve the request.
func unavailable(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &UnavailableError{Op: op, Err: err}
}

func malformed(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrMalformed, err)
}
