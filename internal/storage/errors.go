package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a document id is already taken
	ErrConflict = errors.New("document already exists")
	// ErrUnavailable is returned when the remote store cannot be reached
	ErrUnavailable = errors.New("remote store unavailable")
	// ErrUnauthorized is returned when the remote store rejects the caller
	ErrUnauthorized = errors.New("remote request not authorized")
	// ErrNotInitialized is returned when a store is used before Init or Load
	ErrNotInitialized = errors.New("storage not initialized, run 'streakly init' first")
)

// LocalError marks a failure of the device-local store. There is nothing
// beneath local storage to fall back on, so callers must propagate it.
type LocalError struct {
	Op  string
	Key string
	Err error
}

func (e *LocalError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("local store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("local store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *LocalError) Unwrap() error {
	return e.Err
}

// IsLocal reports whether err originated in the local store.
func IsLocal(err error) bool {
	var le *LocalError
	return errors.As(err, &le)
}

// Unavailable wraps a transport failure so errors.Is(err, ErrUnavailable) holds.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
