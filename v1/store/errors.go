package store

import (
	"errors"
	"fmt"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store: closed")

// OperationError wraps a failed store operation with the key it targeted.
type OperationError struct {
	Op  string
	Key string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
