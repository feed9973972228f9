package localstore

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidReading = errors.New("reading has no identity or kind")
	ErrClosed         = errors.New("store is closed")
)

// StoreError is a storage-layer fault. It is never shown to the user; the
// sync controller logs it and treats the result as a cache miss.
type StoreError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("localstore %s (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, b Backend, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Backend: b.Name(), Err: err}
}
