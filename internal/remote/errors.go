package remote

import (
	"errors"
	"fmt"
)

// ErrNotFound marks operations on a key that does not exist remotely.
var ErrNotFound = errors.New("object not found")

// BackendError wraps a backend failure with the operation and key it
// belongs to. Transient failures (timeouts, throttling, 5xx) are worth
// retrying; everything else is not.
type BackendError struct {
	Op        string
	Key       string
	Transient bool
	Err       error
}

func (e *BackendError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s '%s': %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a backend failure that may succeed
// on a later attempt.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient
}
