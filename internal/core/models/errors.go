package models

import (
	"errors"
	"fmt"
)

// ValidationError marks a configuration problem caught before any work
// is done: a missing column, an out-of-range hyperparameter, a model
// with nothing to predict with. Handlers map it to a client error while
// everything else stays a server-side failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
