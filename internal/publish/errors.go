package publish

import (
	"errors"
	"fmt"

	"github.com/sungwon/newsletter/internal/storage"
)

var (
	// ErrValidation matches every *ValidationError. The request is wrong
	// and retrying it unchanged will fail again.
	ErrValidation = errors.New("invalid publish request")

	// ErrRetryable marks storage failures that may succeed if the same
	// request is sent again. Nothing was committed.
	ErrRetryable = errors.New("publish failed, retry later")
)

// ValidationError names the offending form field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrValidation) hold for any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func retryable(err error) error {
	if storage.IsRetryable(err) {
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	return err
}
