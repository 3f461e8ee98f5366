package onewire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
)

// MockOwserver simulates an owserver holding a small virtual tree.
type MockOwserver struct {
	listener net.Listener

	mu         sync.Mutex
	dirs       map[string][]string // directory path (no trailing slash) → entries
	values     map[string]string
	written    map[string]string
	requests   []MessageType
	conns      []net.Conn
	persistent bool
	keepalives int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMockOwserver starts a mock owserver on a random local port.
func NewMockOwserver(t *testing.T) *MockOwserver {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	m := &MockOwserver{
		listener:   listener,
		dirs:       make(map[string][]string),
		values:     make(map[string]string),
		written:    make(map[string]string),
		persistent: true,
		done:       make(chan struct{}),
	}

	m.wg.Add(1)
	go m.acceptLoop()
	t.Cleanup(m.Close)
	return m
}

// Address returns host:port of the listener.
func (m *MockOwserver) Address() string {
	return m.listener.Addr().String()
}

// Host and Port split Address for service.ServerSpec.
func (m *MockOwserver) Host() string {
	host, _, _ := net.SplitHostPort(m.Address())
	return host
}

func (m *MockOwserver) Port() int {
	return m.listener.Addr().(*net.TCPAddr).Port
}

// AddDevice places a device on the bus with the given attribute values.
func (m *MockOwserver) AddDevice(id string, attrs map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dirs["/uncached"] = append(m.dirs["/uncached"], "/uncached/"+id+"/")
	for name, v := range attrs {
		m.dirs["/"+id] = append(m.dirs["/"+id], "/"+id+"/"+name)
		m.values["/"+id+"/"+name] = v
		m.values["/uncached/"+id+"/"+name] = v
	}
}

// RemoveDevices clears the bus listing.
func (m *MockOwserver) RemoveDevices() {
	m.mu.Lock()
	m.dirs["/uncached"] = nil
	m.mu.Unlock()
}

// SetStructure registers structure entries for a family.
func (m *MockOwserver) SetStructure(family string, entries map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root := "/structure/" + family
	for name, raw := range entries {
		full := root + "/" + name
		dir := full[:strings.LastIndex(full, "/")]
		for dir != root {
			parent := dir[:strings.LastIndex(dir, "/")]
			if !containsString(m.dirs[parent], dir+"/") {
				m.dirs[parent] = append(m.dirs[parent], dir+"/")
			}
			dir = parent
		}
		m.dirs[full[:strings.LastIndex(full, "/")]] = append(m.dirs[full[:strings.LastIndex(full, "/")]], full)
		m.values[full] = raw
	}
}

// SetPersistent controls whether replies grant persistence.
func (m *MockOwserver) SetPersistent(v bool) {
	m.mu.Lock()
	m.persistent = v
	m.mu.Unlock()
}

// SetKeepalives makes every reply be preceded by n keepalive frames.
func (m *MockOwserver) SetKeepalives(n int) {
	m.mu.Lock()
	m.keepalives = n
	m.mu.Unlock()
}

// Written returns the value written to path.
func (m *MockOwserver) Written(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.written[path]
	return v, ok
}

// Requests returns the message types received so far.
func (m *MockOwserver) Requests() []MessageType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MessageType(nil), m.requests...)
}

// Kill closes every open connection and stops accepting new ones.
func (m *MockOwserver) Kill() {
	m.listener.Close()

	m.mu.Lock()
	conns := m.conns
	m.conns = nil
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Close shuts the mock down and waits for its goroutines.
func (m *MockOwserver) Close() {
	select {
	case <-m.done:
		return
	default:
	}
	close(m.done)
	m.Kill()
	m.wg.Wait()
}

func (m *MockOwserver) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conns = append(m.conns, conn)
		m.mu.Unlock()

		m.wg.Add(1)
		go m.serve(conn)
	}
}

func (m *MockOwserver) serve(conn net.Conn) {
	defer m.wg.Done()
	defer conn.Close()

	hdr := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		payloadLen := binary.BigEndian.Uint32(hdr[4:8])
		typ := MessageType(binary.BigEndian.Uint32(hdr[8:12]))
		size := int32(binary.BigEndian.Uint32(hdr[16:20]))

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		path, data, _ := bytes.Cut(payload, []byte{0})

		m.mu.Lock()
		m.requests = append(m.requests, typ)
		keepalives := m.keepalives
		persistent := m.persistent
		m.mu.Unlock()

		var flags uint32
		if persistent {
			flags = FlagPersistence
		}
		for range keepalives {
			if _, err := conn.Write(encodeResponse(responseHeader{Payload: -1, Flags: flags}, nil)); err != nil {
				return
			}
		}

		ret, body := m.handle(typ, string(path), data[:min(len(data), max(int(size), 0))])
		resp := responseHeader{
			Payload: int32(len(body)),
			Ret:     ret,
			Flags:   flags,
			Size:    int32(len(body)),
		}
		if _, err := conn.Write(encodeResponse(resp, body)); err != nil {
			return
		}
		if !persistent {
			return
		}
	}
}

func (m *MockOwserver) handle(typ MessageType, path string, data []byte) (int32, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	enoent := -int32(syscall.ENOENT)
	key := path
	if len(key) > 1 {
		key = strings.TrimSuffix(key, "/")
	}

	switch typ {
	case MsgNop:
		return 0, nil
	case MsgDirAllSlash, MsgDirAll:
		entries, ok := m.dirs[key]
		if !ok {
			return enoent, nil
		}
		return 0, []byte(strings.Join(entries, ","))
	case MsgRead:
		v, ok := m.values[key]
		if !ok {
			return enoent, nil
		}
		return 0, []byte(v)
	case MsgWrite:
		if _, ok := m.values[key]; !ok {
			return enoent, nil
		}
		m.written[key] = string(data)
		m.values[key] = string(data)
		return 0, nil
	case MsgPresence:
		if _, ok := m.values[key]; ok {
			return 0, nil
		}
		if _, ok := m.dirs[key]; ok {
			return 0, nil
		}
		for dir := range m.dirs {
			for _, e := range m.dirs[dir] {
				if strings.TrimSuffix(e, "/") == key {
					return 0, nil
				}
			}
		}
		return enoent, nil
	default:
		return -int32(syscall.EINVAL), nil
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// isConnLost is a small helper for assertions.
func isConnLost(err error) bool {
	return errors.Is(err, ErrConnectionLost)
}
