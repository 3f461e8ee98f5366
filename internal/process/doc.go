// Package process supervises a local owserver daemon on behalf of owfsd.
//
// When owserver.managed is set, the daemon launches owserver in the
// foreground before registering it, waits until it answers a NOP, and keeps
// it alive for the life of the orchestrator.
//
// Features:
//   - SIGTERM to the process group on stop, SIGKILL after a grace period
//   - Restart on unexpected exit with exponential backoff
//   - Readiness check after every launch and an optional health watchdog
//   - stdout/stderr forwarded to the logger line by line
//
// Example usage:
//
//	mgr := process.NewManager(process.ConfigFor(cfg.OWServer))
//	mgr.SetLogger(logger)
//	scope.Go("owserver", mgr.Run)
package process
