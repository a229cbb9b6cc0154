package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindBadRequest     Kind = "bad_request"
	KindForbidden      Kind = "forbidden"
	KindUnauthorized   Kind = "unauthorized"
	KindSessionExpired Kind = "session_expired"
	KindInternal       Kind = "internal_error"
	KindDatabase       Kind = "database_error"
)

// Error carries a kind, a caller-safe message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error     { return newf(KindNotFound, format, args...) }
func BadRequest(format string, args ...any) *Error   { return newf(KindBadRequest, format, args...) }
func Forbidden(format string, args ...any) *Error    { return newf(KindForbidden, format, args...) }
func Unauthorized(format string, args ...any) *Error { return newf(KindUnauthorized, format, args...) }

// SessionExpired marks a credential that can no longer be refreshed.
func SessionExpired(format string, args ...any) *Error {
	return newf(KindSessionExpired, format, args...)
}

// Internal wraps a cause behind a single caller-safe message. Used where
// multi-step operations are compensated and re-raised as one failure.
func Internal(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Database wraps a data-layer failure with a translated message.
func Database(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindDatabase, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf reports the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
