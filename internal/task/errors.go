package task

import "errors"

var (
	// ErrTaskPanic is returned when a supervised task panics.
	ErrTaskPanic = errors.New("task panicked")

	// ErrSupervisorClosed is the error of a handle spawned after Shutdown.
	ErrSupervisorClosed = errors.New("task: supervisor shut down")
)
