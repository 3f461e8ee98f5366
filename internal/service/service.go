package service

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/owfs-core/internal/device"
	"github.com/nerrad567/owfs-core/internal/eventbus"
	"github.com/nerrad567/owfs-core/internal/task"
)

// Default configuration values.
const (
	DefaultDrainTimeout = 5 * time.Second
	drainPollInterval   = 5 * time.Millisecond
)

// Logger defines the logging interface used by the Service.
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

// Options configures a Service.
type Options struct {
	// Scan is the default scan interval for registered servers.
	Scan ScanInterval

	// LoadStructures enables best-effort structure loading while scanning.
	// The zero value leaves it off; owfsd turns it on unless configured
	// otherwise.
	LoadStructures bool

	// EventCapacity bounds the event stream (default eventbus.DefaultCapacity).
	EventCapacity int

	// DrainTimeout bounds the wait for the consumer to empty the event
	// stream on a clean shutdown. Zero selects DefaultDrainTimeout; a
	// negative value skips the drain.
	DrainTimeout time.Duration

	// Factory builds bus servers for RegisterServer.
	Factory ServerFactory

	// Catalog holds device classes (default device.DefaultCatalog()).
	Catalog *device.Catalog

	Logger Logger
}

// Service is the orchestrator: it owns the live servers, the known devices,
// the event bus and every supervised background task.
//
// A Service only exists inside Run. All methods are safe for concurrent use.
type Service struct {
	opts    Options
	scope   *task.Scope
	tasks   *task.Supervisor
	bus     *eventbus.Bus[Event]
	servers ServerSet
	devices *DeviceMap
	catalog *device.Catalog
	logger  Logger
}

// Run creates a Service, calls body with it, then shuts it down.
//
// Shutdown drops every live server, drains pending events if body returned
// nil, cancels every supervised task that is still running, and waits for
// all of them to exit. Run never returns while a task is still running.
//
// Cancelling ctx only tells the body to return. Supervised tasks run on a
// context detached from ctx, so the consumer keeps reading while servers
// are dropped and the stream drains, and tasks are cancelled last.
//
// The body's error is returned in preference to a task failure, unless the
// body only reports cancellation caused by that failure.
func Run(ctx context.Context, opts Options, body func(ctx context.Context, svc *Service) error) error {
	scope := task.NewScope(context.WithoutCancel(ctx))
	svc := newService(scope, opts)

	bodyCtx, stop := context.WithCancel(scope.Context())
	defer stop()
	unwatch := context.AfterFunc(ctx, stop)
	defer unwatch()

	err := body(bodyCtx, svc)

	svc.shutdown(err)
	scope.Cancel()
	waitErr := scope.Wait()

	if waitErr != nil && (err == nil || errors.Is(err, context.Canceled)) {
		return waitErr
	}
	return err
}

func newService(scope *task.Scope, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Catalog == nil {
		opts.Catalog = device.DefaultCatalog()
	}
	if opts.DrainTimeout == 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	sup := task.NewSupervisor(scope)
	sup.SetLogger(opts.Logger)

	return &Service{
		opts:    opts,
		scope:   scope,
		tasks:   sup,
		bus:     eventbus.New[Event](opts.EventCapacity),
		devices: NewDeviceMap(),
		catalog: opts.Catalog,
		logger:  opts.Logger,
	}
}

// RegisterServer connects to a bus server and adds it to the live set.
//
// ServerRegistered is emitted before the connection is attempted. If Start
// fails, ServerDeregistered follows, the server is not added, and Start's
// error is returned unchanged. There is no retry.
//
// On success the server starts scanning with spec.Scan, or the service
// default when spec.Scan is nil.
func (s *Service) RegisterServer(ctx context.Context, spec ServerSpec) (Server, error) {
	if s.opts.Factory == nil {
		return nil, ErrNoServerFactory
	}

	addr := spec.Addr()
	srv := s.opts.Factory(s, addr)
	s.Emit(ServerRegistered{Server: srv})

	if err := srv.Start(ctx); err != nil {
		s.logger.Error("could not start server", "server", addr.String(), "error", err)
		s.Emit(ServerDeregistered{Server: srv})
		return nil, err
	}

	s.servers.Insert(srv)

	interval := s.opts.Scan
	if spec.Scan != nil {
		interval = *spec.Scan
	}
	s.logger.Info("server registered", "server", addr.String(), "scan", interval.String(), "polling", !spec.NoPolling)
	srv.StartScan(ctx, interval, !spec.NoPolling)

	return srv, nil
}

// GetOrCreateDevice returns the device for id, creating and announcing it
// with DeviceAdded on first use. It never fails.
func (s *Service) GetOrCreateDevice(id string) *device.Device {
	id = device.NormalizeID(id)
	dev, created := s.devices.GetOrInsert(id, s.catalog.NewDevice)
	if created {
		s.logger.Debug("device added", "device", id, "class", dev.Class().Name)
		s.Emit(DeviceAdded{Device: dev})
	}
	return dev
}

// EnsureStructure loads the structure of dev's class from srv, or from the
// first live server when srv is nil. It is a no-op once any device of the
// class has been set up, when no server is available, and, if bestEffort is
// set, when structure loading is switched off. Errors from the server are
// returned unchanged.
func (s *Service) EnsureStructure(ctx context.Context, dev *device.Device, srv Server, bestEffort bool) error {
	if bestEffort && !s.opts.LoadStructures {
		return nil
	}
	if s.catalog.Loaded(dev.Class().Family) {
		return nil
	}
	if srv == nil {
		first, ok := s.servers.First()
		if !ok {
			return nil
		}
		srv = first
	}
	return s.catalog.EnsureStructure(ctx, dev.Class(), srv)
}

// RequestScanAll scans every live server concurrently and waits for all
// scans. Every scan is started before any result is inspected; the first
// failure cancels the others and is returned.
func (s *Service) RequestScanAll(ctx context.Context, polling bool) error {
	scope := task.NewScope(ctx)
	for _, srv := range s.servers.Values() {
		scope.Go(func(ctx context.Context) error {
			return srv.ScanNow(ctx, polling)
		})
	}
	return scope.Wait()
}

// SpawnTask runs fn as a supervised task. The returned handle is registered
// before fn starts and leaves the supervisor when fn returns for any reason.
// A failure other than the task's own cancellation brings down the service.
// Once shutdown has cancelled the remaining tasks, fn is never started and
// the handle is already done with task.ErrSupervisorClosed.
func (s *Service) SpawnTask(name string, fn func(ctx context.Context) error) *task.Handle {
	return s.tasks.Spawn(name, fn)
}

// Emit delivers ev to the armed event stream. Without a consumer the event
// is dropped. Emit never fails; with a full stream it waits for space.
func (s *Service) Emit(ev Event) {
	if !s.bus.Emit(ev) {
		s.logger.Debug("event dropped", "event", ev.String())
	}
}

// Events arms the event stream. Only one stream may be armed at a time;
// a second call before the first stream is closed returns
// ErrInvariantViolation. Close the stream with the consumer's exit error:
// a clean close with pending events also returns ErrInvariantViolation.
func (s *Service) Events() (*eventbus.Stream[Event], error) {
	return s.bus.Arm()
}

// DeregisterServer removes srv from the live set and emits
// ServerDeregistered. It is a no-op if srv is not live.
func (s *Service) DeregisterServer(srv Server) {
	if !s.servers.Remove(srv) {
		return
	}
	s.logger.Info("server deregistered", "server", srv.Addr().String())
	s.Emit(ServerDeregistered{Server: srv})
}

// DeregisterDevice removes dev from the registry and emits DeviceDeleted.
// It is a no-op if dev is not registered.
func (s *Service) DeregisterDevice(dev *device.Device) {
	if !s.devices.Remove(dev) {
		return
	}
	s.logger.Debug("device deleted", "device", dev.ID())
	s.Emit(DeviceDeleted{Device: dev})
}

// Servers returns the live servers in registration order.
func (s *Service) Servers() []Server { return s.servers.Values() }

// Devices returns the known devices sorted by ID.
func (s *Service) Devices() []*device.Device { return s.devices.Values() }

// Device looks up a known device without creating it.
func (s *Service) Device(id string) (*device.Device, bool) {
	return s.devices.Get(device.NormalizeID(id))
}

// Catalog returns the device class catalog.
func (s *Service) Catalog() *device.Catalog { return s.catalog }

// TaskCount returns the number of running supervised tasks.
func (s *Service) TaskCount() int { return s.tasks.Len() }

// LoadStructures reports whether best-effort structure loading is on.
func (s *Service) LoadStructures() bool { return s.opts.LoadStructures }

// shutdown runs the fixed teardown order: drop servers, drain events,
// cancel tasks.
func (s *Service) shutdown(exitErr error) {
	ctx := context.WithoutCancel(s.scope.Context())

	for _, srv := range s.servers.Values() {
		srv.Drop(ctx)
		s.DeregisterServer(srv)
	}

	if exitErr == nil {
		s.drain()
	}

	if n := s.tasks.Shutdown(); n > 0 {
		s.logger.Debug("cancelling remaining tasks", "count", n)
	}
}

// drain waits for the armed consumer to empty the event stream, up to
// DrainTimeout.
func (s *Service) drain() {
	if s.opts.DrainTimeout < 0 || s.bus.Len() == 0 {
		return
	}

	deadline := time.NewTimer(s.opts.DrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for s.bus.Len() > 0 {
		select {
		case <-deadline.C:
			s.logger.Warn("event stream not drained before shutdown", "pending", s.bus.Len())
			return
		case <-ticker.C:
		}
	}
}
