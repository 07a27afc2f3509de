package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies failures by how the pipeline reacts to them
type Kind string

const (
	// KindTransient covers network failures, upstream 5xx/429 responses and
	// missing upstream metadata. The run logs them and moves on.
	KindTransient Kind = "transient"
	// KindConfiguration covers invalid run parameters. Always fatal.
	KindConfiguration Kind = "configuration"
	// KindDataQuality covers all-nodata scenes, empty lookup tables and
	// malformed artifacts. Logged per scene, never fatal.
	KindDataQuality Kind = "data_quality"
	// KindUnknown is reported for errors that carry no kind.
	KindUnknown Kind = "unknown"
)

// Error is a classified error with the operation that produced it
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s error (code %d): %s", e.Op, e.Kind, e.Code, msg)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, op, message string) error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// HTTP creates an error from an upstream HTTP status code. A rejected query
// (400, 422) is a configuration error; every other status is transient.
func HTTP(op string, statusCode int, message string) error {
	kind := KindTransient
	if statusCode == 400 || statusCode == 422 {
		kind = KindConfiguration
	}
	return &Error{Kind: kind, Op: op, Message: message, Code: statusCode}
}

// KindOf returns the kind of the first classified error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsConfiguration reports whether err must abort the run
func IsConfiguration(err error) bool {
	return err != nil && KindOf(err) == KindConfiguration
}

// IsTransient reports whether err is a transient failure
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsDataQuality reports whether err is a data quality failure
func IsDataQuality(err error) bool {
	return err != nil && KindOf(err) == KindDataQuality
}

// IsRetryable checks if an error kind should be retried
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindTransient:
		return true
	case KindConfiguration, KindDataQuality:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 408, 429:
		return true
	case 500, 502, 503, 504:
		return true
	case 400, 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
