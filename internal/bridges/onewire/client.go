package onewire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts for owserver communication.
const (
	// defaultConnectTimeout is the maximum time to wait for a TCP connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultRequestTimeout bounds one request/response exchange, including
	// keepalive frames sent while owserver reads a slow bus.
	defaultRequestTimeout = 30 * time.Second
)

// Config holds owserver connection configuration.
type Config struct {
	// Address is host:port of the owserver.
	Address string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds each request.
	// Default: 30 seconds.
	RequestTimeout time.Duration

	// Flags are added to every request (e.g. temperature scale, FlagAlias).
	// FlagPersistence is always requested.
	Flags uint32
}

// Stats holds operational statistics.
type Stats struct {
	Requests     uint64
	Errors       uint64
	Redials      uint64 // new connections after owserver declined persistence
	LastActivity time.Time
	Connected    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Conn is the owserver operations a Server needs.
// This allows mocking the client in tests.
type Conn interface {
	Ping(ctx context.Context) error
	Dir(ctx context.Context, path string) ([]string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Stats() Stats
	Close() error
}

// Ensure Client implements Conn.
var _ Conn = (*Client)(nil)

// Client speaks the owserver protocol over one TCP connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Requests are serialised; owserver answers one request at a time per
//     connection.
//
// Connection handling:
//   - Persistence is requested on every call. If owserver declines it, the
//     connection is closed after the reply and redialled on the next call.
//   - If a persistent connection breaks, every later call fails with
//     ErrConnectionLost. There is no reconnect; the owner decides.
type Client struct {
	cfg Config

	// reqMu serialises request/response exchanges.
	reqMu sync.Mutex

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool
	lost      bool

	done *closeOnce

	logger Logger

	// Statistics (atomic for performance)
	requests     atomic.Uint64
	errorsTotal  atomic.Uint64
	redials      atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp
}

// Dial connects to owserver and verifies it answers a NOP.
//
// Parameters:
//   - ctx: Context for cancellation (used for the initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if the dial or the NOP fails
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	c := &Client{
		cfg:    cfg,
		done:   newCloseOnce(),
		logger: noopLogger{},
	}
	c.lastActivity.Store(time.Now().Unix())

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.setConn(conn)

	if err := c.Ping(ctx); err != nil {
		c.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Address, err)
	}
	return c, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.cfg.Address, err)
	}
	return conn, nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Ping sends a NOP.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, request{Type: MsgNop})
	return err
}

// Dir lists path. Directory entries carry a trailing slash.
func (c *Client) Dir(ctx context.Context, path string) ([]string, error) {
	data, err := c.roundTrip(ctx, request{Type: MsgDirAllSlash, Path: path})
	if err != nil {
		return nil, err
	}

	data = bytes.TrimRight(data, "\x00")
	if len(data) == 0 {
		return nil, nil
	}
	parts := strings.Split(string(data), ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Read returns the raw value at path.
func (c *Client) Read(ctx context.Context, path string) ([]byte, error) {
	return c.roundTrip(ctx, request{Type: MsgRead, Path: path, Size: maxPayload})
}

// Write stores data at path.
func (c *Client) Write(ctx context.Context, path string, data []byte) error {
	_, err := c.roundTrip(ctx, request{Type: MsgWrite, Path: path, Data: data, Size: int32(len(data))}) //nolint:gosec // attribute values are small
	return err
}

// Present reports whether path exists on the bus.
func (c *Client) Present(ctx context.Context, path string) (bool, error) {
	_, err := c.roundTrip(ctx, request{Type: MsgPresence, Path: path})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// roundTrip sends req and returns the reply payload.
func (c *Client) roundTrip(ctx context.Context, req request) ([]byte, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	select {
	case <-c.done.Done():
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	conn, err := c.connection(ctx)
	if err != nil {
		c.errorsTotal.Add(1)
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, c.broken(conn, fmt.Errorf("set deadline: %w", err))
	}

	// Unblock the exchange as soon as ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0)) //nolint:errcheck // Interrupt only
	})
	defer stop()

	req.Flags |= c.cfg.Flags | FlagPersistence
	c.requests.Add(1)

	if _, err := conn.Write(req.encode()); err != nil {
		return nil, c.exchangeError(ctx, conn, fmt.Errorf("write %s: %w", req.Type, err))
	}

	hdr, payload, err := readResponse(conn)
	if err != nil {
		return nil, c.exchangeError(ctx, conn, fmt.Errorf("read %s: %w", req.Type, err))
	}
	c.lastActivity.Store(time.Now().Unix())

	if hdr.Flags&FlagPersistence == 0 {
		// owserver will close its end; forget the connection and redial lazily.
		c.release(conn)
	}

	if hdr.Ret < 0 {
		c.errorsTotal.Add(1)
		return nil, &ServerError{Code: -hdr.Ret, Op: req.Type, Path: req.Path}
	}

	if req.Type == MsgRead && hdr.Size >= 0 && int(hdr.Size) < len(payload) {
		payload = payload[:hdr.Size]
	}
	return payload, nil
}

// readResponse reads one reply, skipping keepalive frames.
func readResponse(r io.Reader) (responseHeader, []byte, error) {
	buf := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return responseHeader{}, nil, err
		}
		hdr, err := parseResponseHeader(buf)
		if err != nil {
			return hdr, nil, err
		}
		if hdr.keepalive() {
			continue
		}

		payload := make([]byte, hdr.Payload)
		if _, err := io.ReadFull(r, payload); err != nil {
			return hdr, nil, err
		}
		return hdr, payload, nil
	}
}

// connection returns the live connection, redialling if owserver declined
// persistence on the previous reply.
func (c *Client) connection(ctx context.Context) (net.Conn, error) {
	c.connMu.RLock()
	conn, lost := c.conn, c.lost
	c.connMu.RUnlock()

	if lost {
		return nil, ErrConnectionLost
	}
	if conn != nil {
		return conn, nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.markLost()
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	c.redials.Add(1)
	c.setConn(conn)
	return conn, nil
}

func (c *Client) setConn(conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()
}

// release closes conn after a non-persistent reply. The client stays usable.
func (c *Client) release(conn net.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	conn.Close() //nolint:errcheck // owserver closes its side anyway
}

func (c *Client) markLost() {
	c.connMu.Lock()
	c.lost = true
	c.connected = false
	c.connMu.Unlock()
}

// exchangeError classifies a failed exchange. A cancelled ctx is reported as
// such; anything else means the connection can no longer be trusted.
func (c *Client) exchangeError(ctx context.Context, conn net.Conn, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		// The stream position is unknown after an interrupted exchange.
		c.release(conn)
		c.errorsTotal.Add(1)
		return ctxErr
	}
	if errors.Is(err, ErrProtocolDesync) {
		return c.broken(conn, err)
	}
	return c.broken(conn, fmt.Errorf("%w: %w", ErrConnectionLost, err))
}

func (c *Client) broken(conn net.Conn, err error) error {
	c.errorsTotal.Add(1)
	c.markLost()
	c.release(conn)
	c.logger.Warn("owserver connection broken", "address", c.cfg.Address, "error", err)
	if !errors.Is(err, ErrConnectionLost) {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return err
}

// Close closes the connection. Later calls fail with ErrNotConnected.
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.connMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected returns true while the client holds or can open a connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:     c.requests.Load(),
		Errors:       c.errorsTotal.Load(),
		Redials:      c.redials.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Connected:    c.IsConnected(),
	}
}
