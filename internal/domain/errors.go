package domain

import "errors"

// Sentinel errors for the application. Services wrap them with context,
// callers classify with errors.Is.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrConflict         = errors.New("resource already exists")
)

// Error codes reported to clients alongside the message.
const (
	CodeNotFound         = "not_found"
	CodeForbidden        = "forbidden"
	CodeInvalidOperation = "invalid_operation"
	CodeUnauthenticated  = "unauthenticated"
	CodeConflict         = "conflict"
	CodeInternal         = "internal"
)

// ErrorCode classifies err into one of the Code* constants.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrInvalidOperation):
		return CodeInvalidOperation
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// PublicMessage returns the text that may be shown to a client for err.
// Internal failures are not described.
func PublicMessage(err error) string {
	if ErrorCode(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
