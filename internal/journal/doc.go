// Package journal records orchestrator events in the SQLite event_journal
// table so operators can inspect bus history after the fact.
//
// The journal is write-mostly history. It is never read back to rebuild the
// server or device registries on startup.
package journal
