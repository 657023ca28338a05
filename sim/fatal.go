package sim

import "github.com/pkg/errors"

type fatalError struct {
	cause error
}

// Fatal marks an event handler error as fatal. An engine stops running when a
// handler returns a fatal error, instead of logging it and moving on.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &fatalError{cause: err}
}

func (e *fatalError) Error() string {
	return "fatal: " + e.cause.Error()
}

// Cause returns the wrapped error.
func (e *fatalError) Cause() error {
	return e.cause
}

func (e *fatalError) Unwrap() error {
	return e.cause
}

// IsFatal tells if the error has been marked as fatal with Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
