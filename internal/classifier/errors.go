package classifier

import "errors"

// TransientError marks failures worth one more attempt (429, 5xx, transport).
type TransientError struct{ err error }

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

func transient(err error) error { return &TransientError{err: err} }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
