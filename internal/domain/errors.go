package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories surfaced by the core.
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindAuthentication
	KindValidation
	KindNotFound
	KindMFA
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication_error"
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindMFA:
		return "mfa_error"
	default:
		return "internal_error"
	}
}

// Category sentinels. Match with errors.Is against any *Error of that kind.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrMFA            = errors.New("mfa verification failed")
	ErrInternal       = errors.New("internal error")
)

// Repository-level sentinels. Adapters return these (optionally wrapped) and
// the usecases classify them.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrDuplicateUser    = errors.New("username or email already registered")
	ErrOTPStateConflict = errors.New("otp state changed concurrently")
)

// Error is a classified failure. Message is safe to show to a client; Err
// carries the underlying detail for logs only.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMFA) and friends match on the kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuthentication:
		return e.Kind == KindAuthentication
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrMFA:
		return e.Kind == KindMFA
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return false
}

func NewAuthenticationError(op, msg string, err error) *Error {
	return &Error{Kind: KindAuthentication, Op: op, Message: msg, Err: err}
}

func NewValidationError(op, msg string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg, Err: err}
}

func NewNotFoundError(op, msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: msg, Err: err}
}

func NewMFAError(op, msg string, err error) *Error {
	return &Error{Kind: KindMFA, Op: op, Message: msg, Err: err}
}

func NewInternalError(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal server error", Err: err}
}

// KindOf classifies any error. Anything that is not a *Error is internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Kind != KindInternal {
		return de.Message
	}
	return "internal server error"
}
