package apperr

import (
	"errors"
	"fmt"
)

// Sentinel kinds surfaced by the service layer. Handlers map these onto HTTP
// status codes; services never format user-facing (localized) messages.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrTransient  = errors.New("transient error")
)

// Validation wraps a precondition failure.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps a keyed lookup miss.
func NotFound(entity string, key interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, entity, key)
}

// Conflict wraps a uniqueness or contention failure that survived retries.
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Transient wraps a retryable database error.
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
