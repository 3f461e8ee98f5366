package service

import (
	"context"
	"net"
	"strconv"

	"github.com/nerrad567/owfs-core/internal/device"
)

// DefaultPort is the standard owserver TCP port.
const DefaultPort = 4304

// ServerAddr identifies a bus server.
type ServerAddr struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a ServerAddr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Server is a connection to one bus server, as seen by the orchestrator.
//
// Implementations add and remove registry entries only through the Service
// hooks (GetOrCreateDevice, DeregisterDevice, DeregisterServer).
type Server interface {
	device.StructureSource

	// Addr returns the server identity.
	Addr() ServerAddr

	// Start connects to the server. Errors are reported to the caller of
	// RegisterServer unmodified.
	Start(ctx context.Context) error

	// StartScan begins background scanning according to interval.
	StartScan(ctx context.Context, interval ScanInterval, polling bool)

	// ScanNow performs one directory scan and returns when it is complete.
	ScanNow(ctx context.Context, polling bool) error

	// Drop disconnects the server. It is idempotent and must not fail.
	Drop(ctx context.Context)
}

// ServerFactory constructs a Server for addr. The server keeps svc to call
// back into the orchestrator.
type ServerFactory func(svc *Service, addr ServerAddr) Server

// ServerSpec describes a server to register.
type ServerSpec struct {
	Host string
	Port int // 0 selects DefaultPort

	// NoPolling disables periodic attribute polling of discovered devices.
	NoPolling bool

	// Scan overrides the service-wide scan interval when non-nil.
	Scan *ScanInterval
}

// Addr returns the server identity with defaults applied.
func (s ServerSpec) Addr() ServerAddr {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return ServerAddr{Host: s.Host, Port: port}
}
