// Package errcode defines the error taxonomy shared by every operation
// (spec.md §4.12, §7). A Code wraps a plain Go error so that callers deep in
// the stack keep returning ordinary errors (%w-wrapped, as the teacher's
// sync package does) while the Router can still classify the outcome for the
// Envelope without string-sniffing.
package errcode

import (
	"errors"
	"fmt"
)

// Code is one of the taxonomy values named in spec.md §4.12.
type Code string

const (
	ValidationError      Code = "ValidationError"
	NotFound             Code = "NotFound"
	UnknownTag           Code = "UnknownTag"
	BackendUnavailable   Code = "BackendUnavailable"
	BackendTimeout       Code = "BackendTimeout"
	PermissionDenied     Code = "PermissionDenied"
	BackendError         Code = "BackendError"
	ParseError           Code = "ParseError"
	QueueFull            Code = "QueueFull"
	OperationExpired     Code = "OperationExpired"
	Canceled             Code = "Canceled"
	SchedulingFailed     Code = "SchedulingFailed"
	Unsupported          Code = "Unsupported"
	Internal             Code = "Internal"
)

// Retryable reports whether the Operation Queue should retry an attempt that
// failed with this code (spec.md §4.7, §7).
func (c Code) Retryable() bool {
	switch c {
	case BackendTimeout, BackendUnavailable, BackendError:
		return true
	default:
		return false
	}
}

// MaxAttemptsCap returns a code-specific ceiling on total attempts
// (first try plus retries), overriding the queue's general MaxAttempts
// config when it is lower. 0 means "no code-specific cap, use the
// queue's configured MaxAttempts". Only BackendError has one: spec.md §7
// specifies it is "retried once, then surfaced" regardless of how many
// attempts the queue would otherwise allow a BackendTimeout/
// BackendUnavailable to have.
func (c Code) MaxAttemptsCap() int {
	if c == BackendError {
		return 2
	}
	return 0
}

// Error pairs a Code with the underlying cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a tagged Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap tags an existing error with a taxonomy code.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Of extracts the Code from err if it (or something it wraps) is an *Error;
// otherwise it returns Internal, matching spec.md §7's "any unclassified
// exception → Internal" rule.
func Of(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
