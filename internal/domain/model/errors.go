package model

import (
	"errors"
	"fmt"
)

// Error kinds recognised at the API boundary. Wrap them, match with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage failure")
	ErrDispatch   = errors.New("dispatch failure")
)

// NewValidationError reports a rejected input field.
func NewValidationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}

// NewNotFoundError reports an unknown key of the given kind.
func NewNotFoundError(kind, key string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, key)
}

// WrapStorage marks err as a persistence failure.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// WrapDispatch marks err as a transient fan-out failure.
func WrapDispatch(leg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrDispatch, leg, err)
}
