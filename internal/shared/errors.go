package shared

import (
	"errors"
	"net/http"
)

// Kind classifies a failure for transport mapping and logging.
type Kind int

const (
	// KindInfrastructure covers store and timeout failures; retryable at the caller.
	KindInfrastructure Kind = iota
	// KindConflict indicates a uniqueness violation, e.g. duplicate registration.
	KindConflict
	// KindNotFound indicates an unknown principal or resource.
	KindNotFound
	// KindUnauthorized covers bad credentials and invalid, expired or reused tokens.
	KindUnauthorized
	// KindForbidden indicates a valid identity with insufficient permission.
	KindForbidden
	// KindInvalid indicates a malformed request rejected before the core runs.
	KindInvalid
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure. It deliberately covers
	// unknown email, wrong password and deactivated accounts so the public
	// response never reveals which one occurred.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken indicates a duplicate registration.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUnauthorized indicates a missing, invalid, expired or reused token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates insufficient permission for a valid identity.
	ErrForbidden = errors.New("forbidden")
)

// Error carries a stable kind and a user-facing message alongside the cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "internal error"
}

// Unwrap exposes the cause for errors.Is chains.
func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and message.
func E(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf resolves the kind of any error, defaulting to infrastructure.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrEmailTaken):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	}
	return KindInfrastructure
}

// HTTPStatus maps a kind to its transport status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to surface to clients. Internal
// detail never leaves the process.
func PublicMessage(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	switch KindOf(err) {
	case KindConflict:
		return "resource already exists"
	case KindNotFound:
		return "not found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindInvalid:
		return "invalid request"
	default:
		return "internal error"
	}
}
