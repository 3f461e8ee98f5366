// Package onewire connects the orchestrator to owserver, the OWFS network
// daemon that exposes a 1-Wire bus over TCP (default port 4304).
//
// # Protocol
//
// Every owserver message starts with a 24-byte header of six big-endian
// int32 fields. Requests carry version, payload length, message type, flags,
// requested size and offset, followed by a NUL-terminated path (and the data
// for writes). Replies carry version, payload length, return code, flags,
// size and offset. A reply with payload length -1 is a keepalive sent while
// owserver is still reading the bus; a negative return code is an errno.
//
// # Components
//
//   - Client: a serialised request/response connection with persistence,
//     per-request deadlines and statistics.
//   - Server: a service.Server that scans /uncached/ for devices, loads
//     family structure from /structure/<family>, and polls each class's
//     poll attribute as supervised tasks of the service.
//
// # Failure handling
//
//	Start error           → returned to RegisterServer (no retry)
//	connection lost       → the Server drops and deregisters itself
//	owserver errno reply  → ServerError (errors.Is(err, ErrNotFound) for ENOENT)
//	unexpected task error → returned to the service, which shuts down
package onewire
