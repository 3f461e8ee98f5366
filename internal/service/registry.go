package service

import (
	"slices"
	"strings"
	"sync"

	"github.com/nerrad567/owfs-core/internal/device"
)

// ServerSet is the set of live servers, kept in registration order.
// Each method is atomic.
type ServerSet struct {
	mu      sync.RWMutex
	servers []Server
}

// Insert adds srv. It returns false if srv is already present.
func (s *ServerSet) Insert(srv Server) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.servers, srv) {
		return false
	}
	s.servers = append(s.servers, srv)
	return true
}

// Remove deletes srv. It returns false if srv was not present.
func (s *ServerSet) Remove(srv Server) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.servers, srv)
	if i < 0 {
		return false
	}
	s.servers = slices.Delete(s.servers, i, i+1)
	return true
}

// Contains reports whether srv is live.
func (s *ServerSet) Contains(srv Server) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.servers, srv)
}

// Values returns a snapshot of the live servers. The caller may range over
// it while the set changes.
func (s *ServerSet) Values() []Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.servers)
}

// First returns the earliest registered live server.
func (s *ServerSet) First() (Server, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.servers) == 0 {
		return nil, false
	}
	return s.servers[0], true
}

// Len returns the number of live servers.
func (s *ServerSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.servers)
}

// DeviceMap maps device IDs to devices. Each method is atomic.
type DeviceMap struct {
	mu      sync.RWMutex
	devices map[string]*device.Device
}

// NewDeviceMap creates an empty map.
func NewDeviceMap() *DeviceMap {
	return &DeviceMap{devices: make(map[string]*device.Device)}
}

// GetOrInsert returns the device for id, calling create to build it if
// absent. created is true only for the call that inserted it.
func (m *DeviceMap) GetOrInsert(id string, create func(id string) *device.Device) (dev *device.Device, created bool) {
	m.mu.RLock()
	dev, ok := m.devices[id]
	m.mu.RUnlock()
	if ok {
		return dev, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if dev, ok := m.devices[id]; ok {
		return dev, false
	}
	dev = create(id)
	m.devices[id] = dev
	return dev, true
}

// Get returns the device for id.
func (m *DeviceMap) Get(id string) (*device.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.devices[id]
	return dev, ok
}

// Remove deletes dev if it is the instance registered under its ID.
func (m *DeviceMap) Remove(dev *device.Device) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.devices[dev.ID()]; !ok || cur != dev {
		return false
	}
	delete(m.devices, dev.ID())
	return true
}

// Values returns the devices sorted by ID.
func (m *DeviceMap) Values() []*device.Device {
	m.mu.RLock()
	out := make([]*device.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *device.Device) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// Len returns the number of known devices.
func (m *DeviceMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}
