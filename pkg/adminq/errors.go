package adminq

import (
	"errors"
	"fmt"
)

// Status is the per-command completion code the device writes into the
// trailing status field of a command slot.
type Status uint32

// Command status codes.
const (
	StatusUnset  Status = 0
	StatusPassed Status = 1

	StatusAbortedError            Status = 0xFFFFFFF0
	StatusAlreadyExistsError      Status = 0xFFFFFFF1
	StatusCancelledError          Status = 0xFFFFFFF2
	StatusDataLossError           Status = 0xFFFFFFF3
	StatusDeadlineExceededError   Status = 0xFFFFFFF4
	StatusFailedPreconditionError Status = 0xFFFFFFF5
	StatusInternalError           Status = 0xFFFFFFF6
	StatusInvalidArgumentError    Status = 0xFFFFFFF7
	StatusNotFoundError           Status = 0xFFFFFFF8
	StatusOutOfRangeError         Status = 0xFFFFFFF9
	StatusPermissionDeniedError   Status = 0xFFFFFFFA
	StatusUnauthenticatedError    Status = 0xFFFFFFFB
	StatusResourceExhaustedError  Status = 0xFFFFFFFC
	StatusUnavailableError        Status = 0xFFFFFFFD
	StatusUnimplementedError      Status = 0xFFFFFFFE
	StatusUnknownError            Status = 0xFFFFFFFF
)

var statusMessages = map[Status]string{
	StatusUnset:                   "unset",
	StatusPassed:                  "passed",
	StatusAbortedError:            "aborted",
	StatusAlreadyExistsError:      "already exists",
	StatusCancelledError:          "cancelled",
	StatusDataLossError:           "data loss",
	StatusDeadlineExceededError:   "deadline exceeded",
	StatusFailedPreconditionError: "failed precondition",
	StatusInternalError:           "internal error",
	StatusInvalidArgumentError:    "invalid argument",
	StatusNotFoundError:           "not found",
	StatusOutOfRangeError:         "out of range",
	StatusPermissionDeniedError:   "permission denied",
	StatusUnauthenticatedError:    "unauthenticated",
	StatusResourceExhaustedError:  "resource exhausted",
	StatusUnavailableError:        "unavailable",
	StatusUnimplementedError:      "unimplemented",
	StatusUnknownError:            "unknown error",
}

// String returns the human-readable status message.
func (s Status) String() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("unrecognized status (0x%x)", uint32(s))
}

// Error classes. Every failed command maps to exactly one of these, so callers
// can branch with errors.Is without matching individual status codes.
var (
	// ErrTryAgain covers transient device-side failures. This layer never
	// retries on its own.
	ErrTryAgain = errors.New("adminq: transient failure, try again")

	// ErrInvalidRequest covers commands the device rejected outright.
	ErrInvalidRequest = errors.New("adminq: invalid request")

	// ErrDeadline is the device-side per-command deadline, distinct from the
	// queue-level ErrQueueTimeout.
	ErrDeadline = errors.New("adminq: command deadline exceeded")

	// ErrAccess covers permission and authentication failures.
	ErrAccess = errors.New("adminq: access denied")

	// ErrOutOfMemory is device-side resource exhaustion.
	ErrOutOfMemory = errors.New("adminq: out of memory")

	// ErrNotSupported means the device does not implement the command.
	ErrNotSupported = errors.New("adminq: not supported")

	// ErrProtocolViolation means the device signalled completion but left the
	// status unset. This should not be possible.
	ErrProtocolViolation = errors.New("adminq: command completed with status unset")
)

// Queue-level errors, independent of any single command's status.
var (
	// ErrQueueTimeout means the device never reached the expected completion
	// count. The queue is unusable until it is reset.
	ErrQueueTimeout = errors.New("adminq: commands timed out, queue reset required")

	// ErrQueueFull means a slot collision persisted after a full flush. The
	// producer accounting does not allow this.
	ErrQueueFull = errors.New("adminq: queue full after flush")

	// ErrQueueNotEmpty means Execute was called with commands still in
	// flight. Callers must serialize queue access.
	ErrQueueNotEmpty = errors.New("adminq: queue not empty")
)

// classOf maps a status to its error class. StatusPassed has no class.
func classOf(s Status) error {
	switch s {
	case StatusPassed:
		return nil
	case StatusUnset:
		return ErrProtocolViolation
	case StatusAbortedError, StatusCancelledError, StatusDataLossError,
		StatusFailedPreconditionError, StatusUnavailableError:
		return ErrTryAgain
	case StatusAlreadyExistsError, StatusInternalError, StatusInvalidArgumentError,
		StatusNotFoundError, StatusOutOfRangeError, StatusUnknownError:
		return ErrInvalidRequest
	case StatusDeadlineExceededError:
		return ErrDeadline
	case StatusPermissionDeniedError, StatusUnauthenticatedError:
		return ErrAccess
	case StatusResourceExhaustedError:
		return ErrOutOfMemory
	case StatusUnimplementedError:
		return ErrNotSupported
	default:
		return ErrInvalidRequest
	}
}

// CommandError is a command the device completed with a non-success status.
type CommandError struct {
	Op     string
	Status Status
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s command failed: %s (0x%x)", e.Op, e.Status.String(), uint32(e.Status))
}

// Unwrap returns the error class for this status, so errors.Is matches the
// class sentinels.
func (e *CommandError) Unwrap() error {
	return classOf(e.Status)
}

// Is matches two CommandErrors by status.
func (e *CommandError) Is(target error) bool {
	var other *CommandError
	if errors.As(target, &other) {
		return e.Status == other.Status
	}
	return false
}
