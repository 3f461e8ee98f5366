package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Orchestrator  OrchMetrics     `json:"orchestrator"`
	Relay         *RelayMetrics   `json:"relay,omitempty"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// OrchMetrics summarises the registries and the task supervisor.
type OrchMetrics struct {
	Servers  int            `json:"servers"`
	Devices  int            `json:"devices"`
	Located  int            `json:"located"`
	Tasks    int            `json:"tasks"`
	ByFamily map[string]int `json:"by_family"`
}

// RelayMetrics counts events delivered to sinks.
type RelayMetrics struct {
	Events   uint64 `json:"events"`
	Failures uint64 `json:"failures"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Orchestrator: OrchMetrics{
			Servers:  len(s.orch.Servers()),
			Tasks:    s.orch.TaskCount(),
			ByFamily: make(map[string]int),
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
	}

	for _, dev := range s.orch.Devices() {
		metrics.Orchestrator.Devices++
		metrics.Orchestrator.ByFamily[dev.Family()]++
		if dev.Location() != "" {
			metrics.Orchestrator.Located++
		}
	}

	if s.relay != nil {
		st := s.relay.Stats()
		metrics.Relay = &RelayMetrics{Events: st.Events, Failures: st.Failures}
	}
	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Connected: s.mqtt.IsConnected()}
	}
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
