package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an application error. Kinds are compared with errors.Is.
type Kind string

const (
	KindInvalidIdentifier      Kind = "invalid_identifier"
	KindDuplicateIdentifier    Kind = "duplicate_identifier"
	KindCodeStillValid         Kind = "code_still_valid"
	KindCodeInvalidOrExpired   Kind = "code_invalid_or_expired"
	KindCodeAlreadyUsed        Kind = "code_already_used"
	KindIncompleteRegistration Kind = "incomplete_registration"
	KindAuthenticationFailed   Kind = "authentication_failed"
	KindTokenInvalid           Kind = "token_invalid"
	KindTokenRevoked           Kind = "token_revoked"
	KindDispatchUnavailable    Kind = "dispatch_unavailable"
	KindNotFound               Kind = "not_found"
	KindValidation             Kind = "validation"
	KindInternal               Kind = "internal"
)

// Error is the typed error returned by the account subsystem.
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

// Is matches any *Error of the same kind, so sentinels work with errors.Is
// even after WithMessage or Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithMessage returns a copy of e carrying a different client-facing message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Kind: e.Kind, Message: msg, Err: e.Err}
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Err: cause}
}

var (
	ErrInvalidIdentifier      = &Error{Kind: KindInvalidIdentifier, Message: "email, phone number or username is invalid"}
	ErrDuplicateIdentifier    = &Error{Kind: KindDuplicateIdentifier, Message: "identifier already in use"}
	ErrCodeStillValid         = &Error{Kind: KindCodeStillValid, Message: "your code is still valid, wait for it to arrive"}
	ErrCodeInvalidOrExpired   = &Error{Kind: KindCodeInvalidOrExpired, Message: "your verification code is invalid or out of date"}
	ErrCodeAlreadyUsed        = &Error{Kind: KindCodeAlreadyUsed, Message: "your verification code has already been used"}
	ErrIncompleteRegistration = &Error{Kind: KindIncompleteRegistration, Message: "you are not fully registered"}
	ErrAuthenticationFailed   = &Error{Kind: KindAuthenticationFailed, Message: "login or password you entered is incorrect"}
	ErrTokenInvalid           = &Error{Kind: KindTokenInvalid, Message: "token is invalid or expired"}
	ErrTokenRevoked           = &Error{Kind: KindTokenRevoked, Message: "token has been revoked"}
	ErrDispatchUnavailable    = &Error{Kind: KindDispatchUnavailable, Message: "notification service unavailable"}
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
	ErrValidation             = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrInternal               = &Error{Kind: KindInternal, Message: "internal error"}
)

// Validation builds a validation error with the given message.
func Validation(msg string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: cause}
}

// Internal wraps an unexpected failure. The cause is logged, never shown.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: ErrInternal.Message, Err: cause}
}

// As extracts the *Error from err. Errors that are not typed are reported
// as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Status maps an error kind to the HTTP status class it belongs to.
func Status(err error) int {
	switch As(err).Kind {
	case KindInvalidIdentifier, KindValidation,
		KindCodeStillValid, KindCodeInvalidOrExpired, KindCodeAlreadyUsed:
		return http.StatusBadRequest
	case KindAuthenticationFailed, KindTokenInvalid, KindTokenRevoked:
		return http.StatusUnauthorized
	case KindIncompleteRegistration:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateIdentifier:
		return http.StatusConflict
	case KindDispatchUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
