// Package api implements the HTTP status API and WebSocket event stream for
// the owfs orchestrator daemon.
//
// This package provides:
//   - REST endpoints listing registered servers and discovered devices
//   - Live attribute reads and writes routed to the server a device is on
//   - An on-demand scan of every registered server
//   - Paged access to the event journal
//   - Stored reading history from InfluxDB
//   - A WebSocket hub that pushes every bus event to connected clients
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The server reads orchestrator state through the Orchestrator interface
// rather than the concrete *service.Service, so handlers can be exercised
// against fakes. Events reach WebSocket clients through the relay: the hub
// implements relay.Broadcaster and is registered as a sink.
//
// # Graceful Degradation
//
// The journal, reading history, MQTT client and relay are optional. Endpoints backed by a
// missing dependency answer 503; everything else keeps working.
package api
