package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies runtime errors so callers and the CLI can react without
// string matching. Every error surfaced by a hearth service carries a Kind.
type Kind string

const (
	KindUsage     Kind = "usage"     // invalid input, bad definition, bad cron expression
	KindNotFound  Kind = "not_found" // unknown id, agent, binding
	KindConflict  Kind = "conflict"  // CAS failure, duplicate registration
	KindTimeout   Kind = "timeout"   // lock acquire timeout, step timeout
	KindCapacity  Kind = "capacity"  // run queue full, oversize webhook body
	KindStorage   Kind = "storage"   // store unavailable or write refused
	KindCancelled Kind = "cancelled" // cooperative cancellation
	KindAgent     Kind = "agent"     // returned by an agent handler
)

// Error pairs a Kind with an underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err returns nil. If err already
// carries a Kind, the existing classification wins.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindStorage when they come from below the service layer; callers that need
// a different default should classify at the source, so the fallback here is
// the empty Kind.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsUsage reports a usage error.
func IsUsage(err error) bool { return Is(err, KindUsage) }

// IsNotFound reports a not_found error.
func IsNotFound(err error) bool { return Is(err, KindNotFound) }

// IsConflict reports a conflict error.
func IsConflict(err error) bool { return Is(err, KindConflict) }

// IsTimeout reports a timeout error.
func IsTimeout(err error) bool { return Is(err, KindTimeout) }

// IsCapacity reports a capacity error.
func IsCapacity(err error) bool { return Is(err, KindCapacity) }

// IsStorage reports a storage error.
func IsStorage(err error) bool { return Is(err, KindStorage) }

// IsCancelled reports a cancelled error.
func IsCancelled(err error) bool { return Is(err, KindCancelled) }

// ExitCode maps an error to the CLI exit code contract:
// 0 ok, 2 usage, 3 not-found, 4 conflict, 5 runtime error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindUsage:
		return 2
	case KindNotFound:
		return 3
	case KindConflict:
		return 4
	default:
		return 5
	}
}
