// Package task provides structured supervision of background goroutines.
//
// A Scope owns a group of goroutines. It never returns from Wait while a child
// is still running, and the first child error cancels every sibling. This is
// the fail-fast behaviour of golang.org/x/sync/errgroup with an explicit
// cancel hook added.
//
// A Supervisor sits on top of a Scope and tracks a Handle for every task it
// spawns, so the owner can cancel a single task or all surviving tasks at
// shutdown:
//
//	scope := task.NewScope(ctx)
//	sup := task.NewSupervisor(scope)
//
//	h := sup.Spawn("poller", func(ctx context.Context) error {
//	    <-ctx.Done()
//	    return nil
//	})
//
//	h.Cancel()
//	<-h.Done()   // h is no longer in sup
//
//	sup.CancelAll()
//	err := scope.Wait()
//
// A task leaves the supervisor on every exit path (return, error, panic,
// cancellation) before its Done channel is closed.
package task
