package model

import "fmt"

// ErrorKind is the §7 error taxonomy. Every public operation in the core
// returns either a value or one of these tagged errors; the core never
// panics or throws across a package boundary.
type ErrorKind string

const (
	ErrInvalidInput ErrorKind = "invalid_input"
	ErrNotFound     ErrorKind = "not_found"
	ErrAuthRequired ErrorKind = "auth_required"
	ErrAuthFailed   ErrorKind = "auth_failed"
	ErrFormat       ErrorKind = "format_error"
	ErrTerminated   ErrorKind = "terminated"
	ErrTransient    ErrorKind = "transient"
	ErrFatal        ErrorKind = "fatal"
)

// CoreError is the concrete error type every core package returns.
type CoreError struct {
	Kind    ErrorKind
	Message string
	// Cause, when set, is wrapped so errors.Is/errors.As keep working
	// through the core boundary.
	Cause error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// NewError builds a CoreError of the given kind.
func NewError(kind ErrorKind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// WrapError builds a CoreError of the given kind wrapping cause.
func WrapError(kind ErrorKind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind of err, or "" if err is not a *CoreError.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if ok := asCoreError(err, &ce); ok {
		return ce.Kind
	}
	return ""
}

func asCoreError(err error, target **CoreError) bool {
	for err != nil {
		if ce, ok := err.(*CoreError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
