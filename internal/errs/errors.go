package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors the core packages return; wrap with fmt.Errorf("%w: ...")
// to add context without losing errors.Is matchability.
var (
	ErrEmptyCanonical  = errors.New("empty or invalid name")
	ErrStorageDown     = errors.New("storage unavailable")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyResolved = errors.New("review item already resolved")
	ErrInvalidInput    = errors.New("invalid input")
)

// CodedError pairs a sentinel error with a stable Code for HTTP mapping.
type CodedError struct {
	Code Code
	Err  error
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CodedError) Unwrap() error { return e.Err }

// New wraps err with a Code.
func New(code Code, err error) *CodedError {
	return &CodedError{Code: code, Err: err}
}

// HTTPStatus returns the HTTP status for err, defaulting to 500 when err
// carries no Code.
func HTTPStatus(err error) int {
	var ce *CodedError
	if errors.As(err, &ce) {
		if m, ok := Meta(ce.Code); ok {
			return m.HTTPStatus
		}
	}
	return 500
}
