package options

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrInvalidParameterType   = errors.New("invalid parameter type")
	ErrUnsupportedMessageType = errors.New("unsupported message type")
	ErrUnsupportedButtonType  = errors.New("unsupported button type")
)

// ValidationError describes malformed message options. It always matches
// ErrValidation and, when set, its more specific kind.
type ValidationError struct {
	Field  string
	Reason string
	kind   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	return e.kind != nil && target == e.kind
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func invalidKind(kind error, field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...), kind: kind}
}

// NewValidationError reports an invalid field outside the grammar itself,
// for example a wire limit checked while building a payload.
func NewValidationError(field, format string, args ...any) error {
	return invalid(field, format, args...)
}
