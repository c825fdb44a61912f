package capability

import (
	"errors"
	"fmt"
)

var (
	ErrDisabled    = errors.New("capability disabled by configuration")
	ErrUnknown     = errors.New("unknown capability")
	ErrLoadFailed  = errors.New("provider load failed")
	ErrLoadTimeout = errors.New("provider load timed out")
	ErrClosed      = errors.New("resource manager is shut down")
)

// LoadError is returned by Acquire. Kind is one of the sentinel errors
// above; Err carries the underlying cause, if any.
type LoadError struct {
	ID   ID
	Kind error
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.ID, e.Kind)
}

func (e *LoadError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}
