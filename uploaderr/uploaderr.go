// Package uploaderr classifies failures of the presigned upload pipeline.
// Retryability is decided where an error is first classified and travels with it,
// so callers never have to inspect error messages.
package uploaderr

import (
	"errors"
	"fmt"
)

// Kind ...
type Kind int

const (
	// KindValidation is a file rejected before any network call (oversized, empty, wrong type).
	KindValidation Kind = iota + 1
	// KindDescriptor is a backend refusal or failure to issue an upload descriptor.
	KindDescriptor
	// KindTransport is a network failure while writing to storage.
	KindTransport
	// KindRejected is a non-2xx answer from storage.
	KindRejected
	// KindCancelled is an explicit abort by the caller.
	KindCancelled
	// KindConfirmation is a failed post-upload acknowledgment.
	KindConfirmation
	// KindFileAccess is a local file that could not be read.
	KindFileAccess
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDescriptor:
		return "descriptor"
	case KindTransport:
		return "transport"
	case KindRejected:
		return "storage rejection"
	case KindCancelled:
		return "cancelled"
	case KindConfirmation:
		return "confirmation"
	case KindFileAccess:
		return "file access"
	default:
		return "unknown"
	}
}

// Error ...
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Attempts   int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: HTTP %d", msg, e.StatusCode)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a non-retryable validation error.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Op: fmt.Sprintf(format, args...)}
}

// Descriptor ...
func Descriptor(op string, retryable bool, err error) *Error {
	return &Error{Kind: KindDescriptor, Op: op, Retryable: retryable, Err: err}
}

// Transport ...
func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Op: "storage write", Retryable: true, Err: err}
}

// Rejected classifies a storage HTTP status. Only malformed-request (400) and
// too-large (413) answers are retryable; every other status is final.
func Rejected(statusCode int, body string) *Error {
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &Error{
		Kind:       KindRejected,
		Op:         "storage write rejected",
		StatusCode: statusCode,
		Retryable:  retryableStatus(statusCode),
		Err:        err,
	}
}

// Cancelled ...
func Cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Op: "upload cancelled", Err: err}
}

// FileAccess is a retryable failure to read the local file.
func FileAccess(err error) *Error {
	return &Error{Kind: KindFileAccess, Op: "read file", Retryable: true, Err: err}
}

// Confirmation ...
func Confirmation(err error) *Error {
	return &Error{Kind: KindConfirmation, Op: "confirm uploads", Err: err}
}

func retryableStatus(code int) bool {
	return code == 400 || code == 413
}

// KindOf returns the kind of the first *Error in the chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsCancelled ...
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// IsRetryable reports whether err carries a retryable classification.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
