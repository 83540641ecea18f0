package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shoplite/usersbackend/notifier"
)

// The sentinel errors the lifecycle operations return. Credential,
// verification and active-state failures on unauthenticated paths are
// deliberately collapsed into a handful of generic messages so callers
// cannot probe which check failed.
var (
	ErrNotFound              = errors.New("account not found")
	ErrInvalidCredentials    = errors.New("incorrect email or password")
	ErrUnverified            = errors.New("email address has not been verified")
	ErrDeactivated           = errors.New("account has been deactivated")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrConflict              = errors.New("email already registered")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrStatusUnchanged       = errors.New("account already in requested status")
)

// NotificationError reports a failed email send. On the forgot-password and
// register paths the just-issued token has already been rolled back when this
// error is returned, so the caller may safely retry.
type NotificationError struct {
	Kind notifier.Kind
	Err  error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("could not send %s email: %v", e.Kind, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates per-field input errors from the pure validators.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}
