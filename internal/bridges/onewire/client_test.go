package onewire

import (
	"context"
	"errors"
	"testing"
	"time"
)

func dialMock(t *testing.T, m *MockOwserver) *Client {
	t.Helper()
	client, err := Dial(context.Background(), Config{
		Address:        m.Address(),
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRequestEncode(t *testing.T) {
	req := request{Type: MsgWrite, Flags: FlagPersistence, Path: "/10.67C6697351FF/alias", Data: []byte("hall"), Size: 4}
	buf := req.encode()

	wantLen := headerSize + len(req.Path) + 1 + len(req.Data)
	if len(buf) != wantLen {
		t.Fatalf("len(encode()) = %d, want %d", len(buf), wantLen)
	}

	h, err := parseResponseHeader(buf[:headerSize])
	if err != nil {
		t.Fatalf("parseResponseHeader() error: %v", err)
	}
	// The request layout shares field positions with the response header.
	if int(h.Payload) != len(req.Path)+1+len(req.Data) {
		t.Errorf("payload field = %d", h.Payload)
	}
	if MessageType(h.Ret) != MsgWrite {
		t.Errorf("type field = %d, want %d", h.Ret, MsgWrite)
	}
	if h.Flags != FlagPersistence {
		t.Errorf("flags = 0x%x, want 0x%x", h.Flags, FlagPersistence)
	}
	if h.Size != 4 {
		t.Errorf("size = %d, want 4", h.Size)
	}
	if buf[headerSize+len(req.Path)] != 0 {
		t.Error("path is not NUL-terminated")
	}
	if got := string(buf[headerSize+len(req.Path)+1:]); got != "hall" {
		t.Errorf("data = %q, want hall", got)
	}
}

func TestParseResponseHeader(t *testing.T) {
	tests := []struct {
		name      string
		hdr       responseHeader
		keepalive bool
		wantErr   bool
	}{
		{name: "ok", hdr: responseHeader{Payload: 12, Size: 12, Flags: FlagPersistence}},
		{name: "error return", hdr: responseHeader{Ret: -2}},
		{name: "keepalive", hdr: responseHeader{Payload: -1}, keepalive: true},
		{name: "oversized", hdr: responseHeader{Payload: maxPayload + 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResponseHeader(encodeResponse(tt.hdr, nil))
			if tt.wantErr {
				if !errors.Is(err, ErrProtocolDesync) {
					t.Errorf("error = %v, want ErrProtocolDesync", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.hdr {
				t.Errorf("header = %+v, want %+v", got, tt.hdr)
			}
			if got.keepalive() != tt.keepalive {
				t.Errorf("keepalive() = %v, want %v", got.keepalive(), tt.keepalive)
			}
		})
	}

	if _, err := parseResponseHeader(make([]byte, 10)); !errors.Is(err, ErrProtocolDesync) {
		t.Errorf("short header error = %v, want ErrProtocolDesync", err)
	}
}

func TestMessageTypeString(t *testing.T) {
	if MsgDirAllSlash.String() != "DIRALLSLASH" {
		t.Errorf("String() = %q", MsgDirAllSlash.String())
	}
	if MessageType(99).String() != "MessageType(99)" {
		t.Errorf("String() = %q", MessageType(99).String())
	}
}

func TestClientOperations(t *testing.T) {
	m := NewMockOwserver(t)
	m.AddDevice("10.67C6697351FF", map[string]string{"temperature": "     21.5", "alias": "hall"})
	client := dialMock(t, m)
	ctx := context.Background()

	entries, err := client.Dir(ctx, "/uncached/")
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if len(entries) != 1 || entries[0] != "/uncached/10.67C6697351FF/" {
		t.Errorf("Dir() = %v", entries)
	}

	raw, err := client.Read(ctx, "/10.67C6697351FF/temperature")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(raw) != "     21.5" {
		t.Errorf("Read() = %q", raw)
	}

	if err := client.Write(ctx, "/10.67C6697351FF/alias", []byte("kitchen")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if v, _ := m.Written("/10.67C6697351FF/alias"); v != "kitchen" {
		t.Errorf("written value = %q, want kitchen", v)
	}

	present, err := client.Present(ctx, "/10.67C6697351FF")
	if err != nil || !present {
		t.Errorf("Present(existing) = %v, %v", present, err)
	}
	present, err = client.Present(ctx, "/28.000000000000")
	if err != nil || present {
		t.Errorf("Present(missing) = %v, %v", present, err)
	}

	_, err = client.Read(ctx, "/10.67C6697351FF/nonexistent")
	var se *ServerError
	if !errors.As(err, &se) || !errors.Is(err, ErrNotFound) {
		t.Errorf("Read(missing) error = %v, want ServerError ENOENT", err)
	}

	stats := client.Stats()
	if stats.Requests < 6 {
		t.Errorf("Requests = %d, want >= 6", stats.Requests)
	}
	if !stats.Connected {
		t.Error("Connected = false")
	}
	if stats.Redials != 0 {
		t.Errorf("Redials = %d on a persistent server", stats.Redials)
	}
}

func TestClientSkipsKeepalives(t *testing.T) {
	m := NewMockOwserver(t)
	m.AddDevice("28.0000063B3E31", map[string]string{"temperature": "19.0"})
	m.SetKeepalives(3)
	client := dialMock(t, m)

	raw, err := client.Read(context.Background(), "/28.0000063B3E31/temperature")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(raw) != "19.0" {
		t.Errorf("Read() = %q, want 19.0", raw)
	}
}

func TestClientNonPersistentRedials(t *testing.T) {
	m := NewMockOwserver(t)
	m.AddDevice("28.0000063B3E31", map[string]string{"temperature": "19.0"})
	m.SetPersistent(false)
	client := dialMock(t, m)

	for i := range 3 {
		if _, err := client.Read(context.Background(), "/28.0000063B3E31/temperature"); err != nil {
			t.Fatalf("Read() #%d error: %v", i, err)
		}
	}
	if got := client.Stats().Redials; got != 3 {
		t.Errorf("Redials = %d, want 3", got)
	}
}

func TestClientConnectionLost(t *testing.T) {
	m := NewMockOwserver(t)
	m.AddDevice("28.0000063B3E31", map[string]string{"temperature": "19.0"})
	client := dialMock(t, m)

	m.Kill()

	_, err := client.Read(context.Background(), "/28.0000063B3E31/temperature")
	if !isConnLost(err) {
		t.Fatalf("Read() after kill error = %v, want ErrConnectionLost", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after connection loss")
	}

	_, err = client.Dir(context.Background(), "/")
	if !isConnLost(err) {
		t.Errorf("Dir() after loss error = %v, want ErrConnectionLost", err)
	}
}

func TestClientDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), Config{
		Address:        "127.0.0.1:1",
		ConnectTimeout: 500 * time.Millisecond,
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Dial() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClientCancelledContext(t *testing.T) {
	m := NewMockOwserver(t)
	client := dialMock(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Ping() error = %v, want context.Canceled", err)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping() after cancelled call error = %v", err)
	}
}

func TestClientClose(t *testing.T) {
	m := NewMockOwserver(t)
	client := dialMock(t, m)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := client.Ping(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping() after Close error = %v, want ErrNotConnected", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
