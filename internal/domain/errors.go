package domain

import "errors"

// Kind classifies failures of the auth core. The HTTP layer maps every kind to
// exactly one status code.
type Kind string

const (
	KindValidation      Kind = "ValidationError"
	KindInactive        Kind = "Inactive"
	KindConflict        Kind = "Conflict"
	KindUnauthenticated Kind = "Unauthenticated"
	KindExpired         Kind = "Expired"
	KindMalformed       Kind = "Malformed"
	KindWrongType       Kind = "WrongType"
	KindRevoked         Kind = "Revoked"
	KindForbidden       Kind = "Forbidden"
	KindInvalidAPIKey   Kind = "InvalidAPIKey"
	KindRateLimited     Kind = "RateLimited"
	KindSubjectNotFound Kind = "SubjectNotFound"
	KindSubjectInactive Kind = "SubjectInactive"
	KindNotFound        Kind = "NotFound"
	KindInternal        Kind = "Internal"
)

// Error is a typed failure. Message is safe to show to clients; Err is kept
// for logs and never rendered.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an error of the given kind.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

var (
	ErrValidation      = E(KindValidation, "invalid request body")
	ErrInactive        = E(KindInactive, "inactive user")
	ErrConflict        = E(KindConflict, "username or email already registered")
	ErrUnauthenticated = E(KindUnauthenticated, "could not validate credentials")
	ErrExpired         = E(KindExpired, "token has expired")
	ErrMalformed       = E(KindMalformed, "invalid token")
	ErrWrongType       = E(KindWrongType, "invalid token type")
	ErrRevoked         = E(KindRevoked, "token has been revoked")
	ErrForbidden       = E(KindForbidden, "insufficient permissions")
	ErrInvalidAPIKey   = E(KindInvalidAPIKey, "Invalid API Key")
	ErrRateLimited     = E(KindRateLimited, "too many requests")
	ErrSubjectNotFound = E(KindSubjectNotFound, "user not found")
	ErrSubjectInactive = E(KindSubjectInactive, "user is inactive")
	ErrNotFound        = E(KindNotFound, "not found")
	ErrInternal        = E(KindInternal, "internal error")
)

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return ErrInternal.Message
}
