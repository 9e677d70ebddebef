package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned when a task does not exist or belongs to another user.
	ErrTaskNotFound = errors.New("scheduled task not found")

	// ErrQuotaExceeded is returned when a user already has the maximum number of active tasks.
	ErrQuotaExceeded = errors.New("maximum number of active tasks reached")
)

// ValidationError describes an invalid recurrence/time/day combination.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
