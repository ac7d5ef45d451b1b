package sqlite

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidNotificationID indicates a zero notification ID.
	ErrInvalidNotificationID = errors.New("invalid notification ID")
	// ErrNotificationNotFound indicates that a notification cannot be found.
	ErrNotificationNotFound = errors.New("notification not found")
)

// PersistenceError reports a failed write to the history database.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("sqlite storage: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func writeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
