package services

import (
	"errors"
	"fmt"

	"github.com/observach/apiserver/internal/store"
)

// Error kinds. Every failure a service reports on purpose wraps exactly one
// of these, so callers branch with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
)

// Error is a structured failure: a kind plus a message safe to show clients.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// fromStore converts repository sentinels into service errors and passes
// anything else through untouched.
func fromStore(err error, notFoundMsg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return newError(ErrNotFound, "%s", notFoundMsg)
	case errors.Is(err, store.ErrConflict):
		return newError(ErrConflict, "already exists")
	default:
		return err
	}
}
