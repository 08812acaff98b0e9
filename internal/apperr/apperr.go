// Package apperr classifies failures at the HTTP boundary.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimited
	KindUnavailable
	KindUnsupportedMedia
)

const internalMessage = "Something went wrong"

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps the error kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WithCause attaches the underlying error for server side logging.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

func Validation(message string, details interface{}) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_request", Message: message, Details: details}
}

func Unauthorized(code, message string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindAuthorization, Code: "forbidden", Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Code: "rate_limited", Message: message}
}

func UnsupportedMediaType(message string) *Error {
	return &Error{Kind: KindUnsupportedMedia, Code: "unsupported_media_type", Message: message}
}

func Unavailable(message string) *Error {
	return &Error{Kind: KindUnavailable, Code: "unavailable", Message: message}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Message: internalMessage, Err: err}
}

// From returns err as an *Error, treating anything unclassified as internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// PublicMessage is the message safe to show to clients.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return internalMessage
	}
	return e.Message
}
