// Package apperr carries errors as a (kind, message, cause) triple so HTTP
// handlers can translate them to status codes without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of failure.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindRateLimited    Kind = "rate_limited"
	KindUnavailable    Kind = "unavailable"
	KindCrypto         Kind = "crypto_failure"
	KindStore          Kind = "store_failure"
	KindCache          Kind = "cache_failure"
)

// Error is the triple propagated by leaf components.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusCode maps a Kind to the HTTP status it should produce.
func (e *Error) StatusCode() int {
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
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(message string) *Error       { return New(KindValidation, message, nil) }
func Authentication(message string) *Error   { return New(KindAuthentication, message, nil) }
func Authorization(message string) *Error    { return New(KindAuthorization, message, nil) }
func NotFound(message string) *Error         { return New(KindNotFound, message, nil) }
func Conflict(message string) *Error         { return New(KindConflict, message, nil) }
func RateLimited(message string) *Error      { return New(KindRateLimited, message, nil) }
func Unavailable(message string) *Error      { return New(KindUnavailable, message, nil) }
func Crypto(message string, cause error) *Error { return New(KindCrypto, message, cause) }
func Store(message string, cause error) *Error  { return New(KindStore, message, cause) }
func Cache(message string, cause error) *Error  { return New(KindCache, message, cause) }

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
