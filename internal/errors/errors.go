package errors

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/storage"
)

// Kind groups errors by how the application recovers from them
type Kind int

const (
	KindUnknown Kind = iota
	// KindConnectivity means the remote store could not be reached
	KindConnectivity
	// KindAuthorization means the remote rejected the caller or a premium feature was gated
	KindAuthorization
	// KindLocalStorage means the device-local store failed
	KindLocalStorage
	// KindPartialMigration means some migration phases did not complete
	KindPartialMigration
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindAuthorization:
		return "authorization"
	case KindLocalStorage:
		return "local-storage"
	case KindPartialMigration:
		return "partial-migration"
	default:
		return "unknown"
	}
}

type partialMigration interface {
	PartialMigration() bool
}

// Classify maps err onto the error taxonomy. A partial migration wraps the
// remote errors of its phases, so it is checked first.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var pm partialMigration
	if errors.As(err, &pm) && pm.PartialMigration() {
		return KindPartialMigration
	}
	if storage.IsLocal(err) {
		return KindLocalStorage
	}
	if errors.Is(err, storage.ErrUnauthorized) {
		return KindAuthorization
	}
	if errors.Is(err, storage.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return KindConnectivity
	}
	return KindUnknown
}

// UserMessage renders err for the terminal.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case KindConnectivity:
		return fmt.Sprintf("remote service unreachable, changes were kept on this device (%v)", err)
	case KindLocalStorage:
		return fmt.Sprintf("local storage failed: %v", err)
	case KindPartialMigration:
		return fmt.Sprintf("%v\nRun 'streakly sync migrate' to retry.", err)
	default:
		return err.Error()
	}
}

// Format formats an error message with a consistent "Error: " prefix
func Format(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Error: %v", err)
}

// Formatf formats an error message with a consistent "Error: " prefix using a format string
func Formatf(format string, args ...interface{}) string {
	return fmt.Sprintf("Error: "+format, args...)
}

// Fatal logs an error and exits the program with exit code 1
func Fatal(err error) {
	if err != nil {
		logger.Error("Command execution failed", "error", err, "kind", Classify(err))
		fmt.Fprintf(os.Stderr, "%s\n", Formatf("%s", UserMessage(err)))
		os.Exit(1)
	}
}

// Fatalf logs and formats an error message, then exits the program with exit code 1
func Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("Command execution failed", "error", msg)
	fmt.Fprintf(os.Stderr, "%s\n", Formatf(format, args...))
	os.Exit(1)
}
