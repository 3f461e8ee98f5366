package onewire

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/owfs-core/internal/device"
	"github.com/nerrad567/owfs-core/internal/service"
	"github.com/nerrad567/owfs-core/internal/task"
)

// defaultPollInterval is the time between poll cycles of one device class.
const defaultPollInterval = 30 * time.Second

// maxStructureDepth limits recursion into nested structure directories.
const maxStructureDepth = 3

// ServerConfig holds settings shared by every owserver connection.
type ServerConfig struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// PollInterval is the time between reads of each class's poll
	// attribute. Default: 30 seconds.
	PollInterval time.Duration

	// Flags are added to every request.
	Flags uint32
}

// DialFunc opens a connection to owserver.
type DialFunc func(ctx context.Context, cfg Config) (Conn, error)

func dialClient(logger Logger) DialFunc {
	return func(ctx context.Context, cfg Config) (Conn, error) {
		c, err := Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.SetLogger(logger)
		return c, nil
	}
}

// NewFactory returns a service.ServerFactory that builds owserver-backed
// servers.
func NewFactory(cfg ServerConfig, logger Logger) service.ServerFactory {
	if logger == nil {
		logger = noopLogger{}
	}
	return newFactory(cfg, logger, dialClient(logger))
}

func newFactory(cfg ServerConfig, logger Logger, dial DialFunc) service.ServerFactory {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return func(svc *service.Service, addr service.ServerAddr) service.Server {
		return &Server{
			svc:     svc,
			addr:    addr,
			cfg:     cfg,
			dial:    dial,
			logger:  logger,
			located: make(map[string]*device.Device),
			pollers: make(map[string]*task.Handle),
		}
	}
}

// Ensure Server implements service.Server.
var _ service.Server = (*Server)(nil)

// Server is one owserver connection managed by a service.Service.
//
// Background work (scan loop, per-class pollers) runs as supervised tasks of
// the service. A broken connection makes the server deregister itself; the
// service is not brought down by it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Server struct {
	svc    *service.Service
	addr   service.ServerAddr
	cfg    ServerConfig
	dial   DialFunc
	logger Logger

	mu       sync.Mutex
	conn     Conn
	located  map[string]*device.Device
	pollers  map[string]*task.Handle // by family
	handles  []*task.Handle
	stopped  bool
	stopOnce sync.Once

	// scanMu serialises directory scans.
	scanMu sync.Mutex
}

// Addr returns the server identity.
func (s *Server) Addr() service.ServerAddr { return s.addr }

func (s *Server) String() string { return "owserver(" + s.addr.String() + ")" }

// Start connects to owserver.
func (s *Server) Start(ctx context.Context) error {
	conn, err := s.dial(ctx, Config{
		Address:        s.addr.String(),
		ConnectTimeout: s.cfg.ConnectTimeout,
		RequestTimeout: s.cfg.RequestTimeout,
		Flags:          s.cfg.Flags,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("connected to owserver", "server", s.addr.String())
	return nil
}

// StartScan spawns the scan loop. ScanNever disables it, ScanOnce scans a
// single time, a periodic interval rescans until the server is dropped.
func (s *Server) StartScan(_ context.Context, interval service.ScanInterval, polling bool) {
	if interval.Disabled() {
		return
	}

	s.spawn("scan "+s.addr.String(), func(ctx context.Context) error {
		for {
			if err := s.scan(ctx, polling); err != nil {
				return s.background(ctx, err)
			}
			if !interval.Periodic() {
				return nil
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval.Duration()):
			}
		}
	})
}

// ScanNow performs one directory scan.
func (s *Server) ScanNow(ctx context.Context, polling bool) error {
	err := s.scan(ctx, polling)
	if errors.Is(err, ErrConnectionLost) {
		s.lost(err)
	}
	return err
}

// scan lists the bus and reconciles the located devices with the result.
func (s *Server) scan(ctx context.Context, polling bool) error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	conn, err := s.connection()
	if err != nil {
		return err
	}

	entries, err := conn.Dir(ctx, "/uncached/")
	if err != nil {
		return fmt.Errorf("scan %s: %w", s.addr, err)
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := path.Base(strings.TrimSuffix(entry, "/"))
		if !device.IsDeviceID(name) {
			continue
		}

		dev := s.svc.GetOrCreateDevice(name)
		seen[dev.ID()] = true

		if s.locate(dev) {
			s.svc.Emit(service.DeviceLocated{Device: dev, Server: s})
		}

		if err := s.svc.EnsureStructure(ctx, dev, s, true); err != nil {
			if errors.Is(err, ErrConnectionLost) || ctx.Err() != nil {
				return err
			}
			s.logger.Warn("could not load device structure", "server", s.addr.String(), "device", dev.ID(), "error", err)
		}
	}

	for _, dev := range s.forgetMissing(seen) {
		s.svc.Emit(service.DeviceNotFound{Device: dev})
	}

	s.logger.Debug("scan complete", "server", s.addr.String(), "devices", len(seen))

	if polling {
		s.startPollers()
	}
	return nil
}

// locate records dev as present here. It returns true if it was not before.
func (s *Server) locate(dev *device.Device) bool {
	s.mu.Lock()
	_, known := s.located[dev.ID()]
	s.located[dev.ID()] = dev
	s.mu.Unlock()

	dev.SetLocation(s.addr.String())
	return !known
}

// forgetMissing drops located devices that are not in seen and returns them.
func (s *Server) forgetMissing(seen map[string]bool) []*device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gone []*device.Device
	for id, dev := range s.located {
		if seen[id] {
			continue
		}
		delete(s.located, id)
		if dev.Location() == s.addr.String() {
			dev.SetLocation("")
		}
		gone = append(gone, dev)
	}
	return gone
}

// Located returns the devices found by the last scan.
func (s *Server) Located() []*device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*device.Device, 0, len(s.located))
	for _, dev := range s.located {
		out = append(out, dev)
	}
	return out
}

// startPollers spawns one poller per located class with a poll attribute.
func (s *Server) startPollers() {
	s.mu.Lock()
	var families []*device.Class
	for _, dev := range s.located {
		cls := dev.Class()
		if cls.PollAttribute == "" {
			continue
		}
		if _, running := s.pollers[cls.Family]; running {
			continue
		}
		s.pollers[cls.Family] = nil
		families = append(families, cls)
	}
	s.mu.Unlock()

	for _, cls := range families {
		h := s.spawn(fmt.Sprintf("poll %s %s", s.addr, cls.Name), func(ctx context.Context) error {
			return s.poll(ctx, cls)
		})
		s.mu.Lock()
		s.pollers[cls.Family] = h
		s.mu.Unlock()
	}
}

// poll reads the class's poll attribute from every located device of the
// class, once per PollInterval.
func (s *Server) poll(ctx context.Context, cls *device.Class) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for _, dev := range s.Located() {
			if dev.Class() != cls {
				continue
			}
			if _, err := s.readAttribute(ctx, dev, cls.PollAttribute, true); err != nil {
				if errors.Is(err, ErrConnectionLost) || ctx.Err() != nil {
					return s.background(ctx, err)
				}
				s.logger.Debug("poll read failed", "server", s.addr.String(), "device", dev.ID(), "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ReadAttribute reads attr of dev from the bus, records it on the device and
// emits DeviceValue.
func (s *Server) ReadAttribute(ctx context.Context, dev *device.Device, attr string) (string, error) {
	return s.readAttribute(ctx, dev, attr, false)
}

func (s *Server) readAttribute(ctx context.Context, dev *device.Device, attr string, uncached bool) (string, error) {
	conn, err := s.connection()
	if err != nil {
		return "", err
	}

	p := "/" + dev.ID() + "/" + attr
	if uncached {
		p = "/uncached" + p
	}
	raw, err := conn.Read(ctx, p)
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(string(raw))
	now := time.Now().UTC()
	dev.SetValue(attr, value, now)
	s.svc.Emit(service.DeviceValue{Device: dev, Attribute: attr, Value: value, At: now})
	return value, nil
}

// WriteAttribute writes value to attr of dev.
func (s *Server) WriteAttribute(ctx context.Context, dev *device.Device, attr, value string) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	return conn.Write(ctx, "/"+dev.ID()+"/"+attr, []byte(value))
}

// ReadStructure implements device.StructureSource by walking
// /structure/<family>.
func (s *Server) ReadStructure(ctx context.Context, family string) ([]device.Attribute, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	root := "/structure/" + family
	return s.readStructureDir(ctx, conn, root, root, 0)
}

func (s *Server) readStructureDir(ctx context.Context, conn Conn, root, dir string, depth int) ([]device.Attribute, error) {
	entries, err := conn.Dir(ctx, dir)
	if err != nil {
		return nil, err
	}

	var attrs []device.Attribute
	for _, entry := range entries {
		if strings.HasSuffix(entry, "/") {
			if depth >= maxStructureDepth {
				continue
			}
			sub, err := s.readStructureDir(ctx, conn, root, strings.TrimSuffix(entry, "/"), depth+1)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, sub...)
			continue
		}

		raw, err := conn.Read(ctx, entry)
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(strings.TrimPrefix(entry, root), "/")
		attr, err := device.ParseAttribute(name, string(raw))
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// Stats returns connection statistics.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return Stats{}
	}
	return conn.Stats()
}

// Connected reports whether the server holds a usable connection.
func (s *Server) Connected() bool {
	return s.Stats().Connected
}

// Drop stops every task of the server, waits for them, closes the
// connection and deregisters the server. It is idempotent.
func (s *Server) Drop(ctx context.Context) {
	handles := s.stop()
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return
		}
	}
}

// lost handles a broken connection from background work: the server stops
// itself without waiting for its own tasks.
func (s *Server) lost(err error) {
	s.logger.Warn("owserver connection lost, dropping server", "server", s.addr.String(), "error", err)
	s.stop()
}

// background maps an error from a scan or poll task to the task result.
// Cancellation and connection loss end the task quietly; other errors are
// returned to the service.
func (s *Server) background(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrNotConnected) {
		s.lost(err)
		return nil
	}
	return err
}

// stop runs the teardown once and returns the handles that were cancelled.
func (s *Server) stop() []*task.Handle {
	var handles []*task.Handle
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		handles = s.handles
		s.handles = nil
		conn := s.conn
		s.conn = nil
		located := s.located
		s.located = make(map[string]*device.Device)
		s.mu.Unlock()

		for _, h := range handles {
			h.Cancel()
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				s.logger.Debug("closing owserver connection", "server", s.addr.String(), "error", err)
			}
		}
		for _, dev := range located {
			if dev.Location() == s.addr.String() {
				dev.SetLocation("")
			}
		}

		s.svc.DeregisterServer(s)
	})
	return handles
}

// spawn runs fn as a supervised task owned by this server. After the server
// stopped, the task is cancelled immediately.
func (s *Server) spawn(name string, fn func(ctx context.Context) error) *task.Handle {
	h := s.svc.SpawnTask(name, fn)

	s.mu.Lock()
	stopped := s.stopped
	if !stopped {
		s.handles = slices.DeleteFunc(s.handles, (*task.Handle).Completed)
		s.handles = append(s.handles, h)
	}
	s.mu.Unlock()

	if stopped {
		h.Cancel()
	}
	return h
}

func (s *Server) connection() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}
