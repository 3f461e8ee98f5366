// Package servicetest provides helpers for testing consumers of the
// service package.
package servicetest

import (
	"context"

	"github.com/nerrad567/owfs-core/internal/device"
	"github.com/nerrad567/owfs-core/internal/service"
)

// StubServer is a service.Server that never touches the network. It is
// useful for building events and registry entries in tests.
type StubServer struct {
	Address service.ServerAddr
}

var _ service.Server = (*StubServer)(nil)

// NewStubServer returns a stub identified by host:port.
func NewStubServer(host string, port int) *StubServer {
	return &StubServer{Address: service.ServerAddr{Host: host, Port: port}}
}

func (s *StubServer) Addr() service.ServerAddr { return s.Address }

func (s *StubServer) Start(context.Context) error { return nil }

func (s *StubServer) StartScan(context.Context, service.ScanInterval, bool) {}

func (s *StubServer) ScanNow(context.Context, bool) error { return nil }

func (s *StubServer) Drop(context.Context) {}

func (s *StubServer) ReadStructure(context.Context, string) ([]device.Attribute, error) {
	return nil, nil
}
