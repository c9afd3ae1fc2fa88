package model

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the render and cache layers.
var (
	ErrValidation      = errors.New("validation error")
	ErrRenderFailure   = errors.New("render failure")
	ErrSanitizeFailure = errors.New("sanitize failure")
	ErrNotFound        = errors.New("not found")
)

// Kind classifies an error into the closed taxonomy above
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindRender
	KindSanitize
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRender:
		return "render"
	case KindSanitize:
		return "sanitize"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// KindOf reports which kind err belongs to.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrSanitizeFailure):
		return KindSanitize
	case errors.Is(err, ErrRenderFailure):
		return KindRender
	default:
		return KindUnknown
	}
}

// ValidationError describes caller-correctable input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
