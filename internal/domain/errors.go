package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer. Wrap with fmt.Errorf("...: %w", Err...)
// and classify with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrBusy         = errors.New("thread is busy")
	ErrModelFailure = errors.New("model failure")
	ErrTimeout      = errors.New("turn timed out")
	ErrTransport    = errors.New("transport error")
	ErrValidation   = errors.New("validation error")
	ErrReadOnly     = errors.New("agent is inactive")

	ErrDelegationDepth = fmt.Errorf("%w: sub-agents cannot delegate", ErrValidation)
)

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with context.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ErrorKind names the taxonomy bucket of err for wire payloads.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrBusy):
		return "Busy"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrReadOnly):
		return "ReadOnly"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrModelFailure):
		return "ModelFailure"
	case errors.Is(err, ErrTransport):
		return "TransportError"
	default:
		return "Internal"
	}
}
