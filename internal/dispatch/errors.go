package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("dispatcher already started")
	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("dispatcher is shut down")
	// ErrInvalidWorkerCount is returned by Start for n <= 0.
	ErrInvalidWorkerCount = errors.New("worker count must be positive")
)

// PanicError is the failure recorded for a handler that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}
