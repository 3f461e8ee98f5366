package task

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Scope is a cancellable group of goroutines with fail-fast error semantics.
//
// The zero value is not usable; create scopes with NewScope.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewScope creates a scope whose context is derived from parent.
// Cancelling parent cancels every goroutine in the scope.
func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)
	return &Scope{
		ctx:    gctx,
		cancel: cancel,
		group:  group,
	}
}

// Context returns the scope context. It is done once the scope is cancelled,
// a child fails, or the parent is done.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Go starts fn in the scope. A non-nil error from fn cancels the scope and is
// reported by Wait. Panics are recovered and reported as ErrTaskPanic.
func (s *Scope) Go(fn func(ctx context.Context) error) {
	s.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
			}
		}()
		return fn(s.ctx)
	})
}

// Cancel cancels the scope context. It does not wait for children.
func (s *Scope) Cancel() {
	s.cancel()
}

// Wait blocks until every child has returned and reports the first error.
// The scope context is released afterwards.
func (s *Scope) Wait() error {
	err := s.group.Wait()
	s.cancel()
	return err
}

// Sub creates a nested scope. Cancelling s cancels the nested scope, but a
// failure in the nested scope only reaches s if the caller returns it.
func (s *Scope) Sub() *Scope {
	return NewScope(s.ctx)
}
