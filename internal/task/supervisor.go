package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Supervisor.
// This allows the supervisor to work with any logging implementation.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handle refers to one supervised task.
//
// The only control operations are Cancel and the completion signals. Whether
// the task is cancelled at shutdown depends on supervisor membership, not on
// the handle.
type Handle struct {
	id     string
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ID returns the unique handle ID.
func (h *Handle) ID() string { return h.id }

// Name returns the label given at spawn time.
func (h *Handle) Name() string { return h.name }

// Cancel cancels the task's context and everything nested under it.
// Sibling tasks are not affected. Cancel does not wait for the task to exit.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the task has exited and left its supervisor.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Completed reports whether the task has exited.
func (h *Handle) Completed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the task's exit error. It is only meaningful after Done is
// closed. Cancellation of the task's own context is reported as nil.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Supervisor spawns tasks into a Scope and tracks a Handle for each one
// until it exits.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Supervisor struct {
	scope *Scope

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool

	logger Logger
}

// NewSupervisor creates a supervisor that spawns into scope.
func NewSupervisor(scope *Scope) *Supervisor {
	return &Supervisor{
		scope:   scope,
		handles: make(map[string]*Handle),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Spawn starts fn as a supervised task and returns its handle immediately.
// After Shutdown, fn is not run and the returned handle is already done
// with ErrSupervisorClosed.
//
// The handle is registered before fn starts running, and is removed on every
// exit path before Done is closed. A non-nil error from fn (other than the
// task's own cancellation) is returned to the scope, which cancels sibling
// tasks.
func (s *Supervisor) Spawn(name string, fn func(ctx context.Context) error) *Handle {
	ctx, cancel := context.WithCancel(s.scope.Context())
	h := &Handle{
		id:     "tsk-" + uuid.NewString()[:8],
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		h.err = ErrSupervisorClosed
		close(h.done)
		s.logger.Warn("task rejected after shutdown", "task", name, "task_id", h.id)
		return h
	}
	s.handles[h.id] = h
	s.mu.Unlock()

	s.logger.Debug("task spawned", "task", name, "task_id", h.id)

	s.scope.Go(func(context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s: %v", ErrTaskPanic, name, r)
			}
			if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
				err = nil
			}

			s.remove(h)
			cancel()
			h.err = err
			close(h.done)

			if err != nil {
				s.logger.Error("task failed", "task", name, "task_id", h.id, "error", err)
			} else {
				s.logger.Debug("task finished", "task", name, "task_id", h.id)
			}
		}()
		return fn(ctx)
	})

	return h
}

// remove drops h from the set. Removing an absent handle is a no-op.
func (s *Supervisor) remove(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h.id)
	s.mu.Unlock()
}

// Contains reports whether h is still supervised.
func (s *Supervisor) Contains(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[h.id]
	return ok
}

// Len returns the number of running supervised tasks.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Handles returns a snapshot of the running tasks.
func (s *Supervisor) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// CancelAll cancels every task still in the set and returns how many were
// cancelled. It does not wait for them to exit.
func (s *Supervisor) CancelAll() int {
	handles := s.Handles()
	for _, h := range handles {
		h.Cancel()
	}
	if len(handles) > 0 {
		s.logger.Debug("cancelled supervised tasks", "count", len(handles))
	}
	return len(handles)
}

// Shutdown stops accepting new tasks and cancels every task still in the
// set. It returns how many were cancelled and does not wait for them.
func (s *Supervisor) Shutdown() int {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.CancelAll()
}
