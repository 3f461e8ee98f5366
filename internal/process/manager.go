package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/owfs-core/internal/infrastructure/config"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ErrAlreadyRunning is returned by Start when the process is running.
var ErrAlreadyRunning = errors.New("process: already running")

// ErrNotReady is returned by Start when the readiness check does not pass
// within ReadyTimeout.
var ErrNotReady = errors.New("process: not ready")

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name identifies the process in logs.
	Name   string
	Binary string
	Args   []string

	// Env is appended to the parent environment when non-nil.
	Env []string

	RestartOnFailure bool

	// RestartDelay is the first restart delay. Each consecutive failure
	// doubles it up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a process must run before its restart
	// count is reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// ReadyFunc, if set, is polled after each launch until it succeeds or
	// ReadyTimeout elapses. For owserver it opens a connection and sends NOP.
	ReadyFunc    func(ctx context.Context) error
	ReadyTimeout time.Duration

	// HealthCheckFunc, if set, is called every HealthCheckInterval while the
	// process runs. Three consecutive failures kill the process, which then
	// counts as a crash.
	HealthCheckFunc     func(ctx context.Context) error
	HealthCheckInterval time.Duration

	OnStart func(pid int)
	OnStop  func(err error)
}

// ConfigFor builds the manager configuration for a local owserver.
func ConfigFor(o config.OWServerConfig) Config {
	return Config{
		Name:               "owserver",
		Binary:             o.Binary,
		Args:               o.Args(),
		RestartOnFailure:   o.RestartOnFailure,
		RestartDelay:       o.RestartDelay,
		MaxRestartAttempts: o.MaxRestartAttempts,
		GracefulTimeout:    o.GracefulTimeout,
	}
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

const maxHealthFailures = 3

// Manager supervises one subprocess.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	restarts  int
	lastError error
	startTime time.Time
	stopping  bool
	stop      chan struct{}
	done      chan struct{}
}

// NewManager creates a manager, filling zero durations with defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	return &Manager{cfg: cfg, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the process, waits for it to become ready and then
// supervises it in the background until Stop is called or ctx ends.
//
// Returns:
//   - error: ErrAlreadyRunning, a launch failure, or ErrNotReady
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting || m.supervising() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.cfg.Name)
	}
	m.status = StatusStarting
	m.stopping = false
	m.restarts = 0
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.fail(err)
		close(m.done)
		return err
	}

	go m.supervise(ctx)
	return nil
}

// supervising reports whether a supervisor goroutine is still active.
// Callers hold m.mu.
func (m *Manager) supervising() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Run starts the process and blocks until ctx is cancelled, then stops it.
// It suits task.Scope.Go.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return m.Stop()
}

// launch starts one instance and waits for readiness.
func (m *Manager) launch(ctx context.Context) error {
	m.logger.Info("starting process", "name", m.cfg.Name, "binary", m.cfg.Binary, "args", m.cfg.Args)

	// Not CommandContext: cancellation goes through Stop so the whole
	// process group gets SIGTERM first.
	cmd := exec.Command(m.cfg.Binary, m.cfg.Args...) //nolint:gosec // binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.cfg.Env != nil {
		cmd.Env = append(os.Environ(), m.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.cfg.Name, err)
	}
	go m.logOutput("stdout", stdout)
	go m.logOutput("stderr", stderr)

	m.mu.Lock()
	m.cmd = cmd
	m.startTime = time.Now()
	stopping := m.stopping
	m.mu.Unlock()
	if stopping {
		signalGroup(cmd, syscall.SIGTERM)
	}

	if err := m.waitReady(ctx); err != nil {
		signalGroup(cmd, syscall.SIGKILL)
		cmd.Wait() //nolint:errcheck // reaping a process we just killed
		return err
	}

	m.mu.Lock()
	m.status = StatusRunning
	m.mu.Unlock()

	pid := cmd.Process.Pid
	m.logger.Info("process started", "name", m.cfg.Name, "pid", pid)
	if m.cfg.OnStart != nil {
		m.cfg.OnStart(pid)
	}
	return nil
}

func (m *Manager) waitReady(ctx context.Context) error {
	if m.cfg.ReadyFunc == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		err := m.cfg.ReadyFunc(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s after %v: %w", ErrNotReady, m.cfg.Name, m.cfg.ReadyTimeout, err)
		case <-ticker.C:
		}
	}
}

func (m *Manager) logOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m.logger.Debug("process output", "name", m.cfg.Name, "stream", stream, "line", sc.Text())
	}
}

// supervise waits for each instance to exit and restarts it with backoff.
func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		started := m.startTime
		m.mu.RUnlock()

		err := m.wait(ctx, cmd)

		m.mu.Lock()
		stopping := m.stopping
		if time.Since(started) >= m.cfg.StableThreshold {
			m.restarts = 0
		}
		m.mu.Unlock()

		if stopping {
			m.setStatus(StatusStopped)
			m.logger.Info("process stopped", "name", m.cfg.Name)
			if m.cfg.OnStop != nil {
				m.cfg.OnStop(nil)
			}
			return
		}

		m.logger.Warn("process exited unexpectedly", "name", m.cfg.Name, "error", err)
		m.fail(err)
		if m.cfg.OnStop != nil {
			m.cfg.OnStop(err)
		}

		if !m.restartAllowed() {
			return
		}

		for {
			m.mu.Lock()
			m.restarts++
			attempt := m.restarts
			m.mu.Unlock()

			delay := m.backoffDelay(attempt)
			m.logger.Info("restarting process", "name", m.cfg.Name, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				m.setStatus(StatusStopped)
				return
			case <-time.After(delay):
			}

			launchErr := m.launch(ctx)
			if launchErr == nil {
				break
			}
			m.logger.Error("failed to restart process", "name", m.cfg.Name, "error", launchErr)
			m.fail(launchErr)
			if !m.restartAllowed() {
				return
			}
		}
	}
}

// wait blocks until cmd exits. With a health check configured, repeated
// failures kill the process group and wait returns the reason.
func (m *Manager) wait(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if m.cfg.HealthCheckFunc == nil {
		return <-exited
	}

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := m.cfg.HealthCheckFunc(checkCtx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			m.logger.Warn("health check failed", "name", m.cfg.Name, "error", err, "consecutive_failures", failures)
			if failures >= maxHealthFailures && !m.isStopping() {
				m.logger.Error("health check failed repeatedly, killing process", "name", m.cfg.Name)
				signalGroup(cmd, syscall.SIGKILL)
				<-exited
				return fmt.Errorf("killed after %d failed health checks: %w", failures, err)
			}
		}
	}
}

func (m *Manager) restartAllowed() bool {
	if !m.cfg.RestartOnFailure {
		m.logger.Info("restart disabled, not restarting", "name", m.cfg.Name)
		return false
	}
	m.mu.RLock()
	attempts := m.restarts
	m.mu.RUnlock()
	if m.cfg.MaxRestartAttempts > 0 && attempts >= m.cfg.MaxRestartAttempts {
		m.logger.Error("max restart attempts reached", "name", m.cfg.Name, "attempts", attempts)
		return false
	}
	return true
}

// backoffDelay doubles RestartDelay per attempt, capped at MaxRestartDelay.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.cfg.RestartDelay
	for range attempt - 1 {
		delay *= 2
		if delay >= m.cfg.MaxRestartDelay {
			return m.cfg.MaxRestartDelay
		}
	}
	return min(delay, m.cfg.MaxRestartDelay)
}

// Stop sends SIGTERM to the process group, waits GracefulTimeout, then
// sends SIGKILL. It returns once supervision has ended.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status == StatusStopped || m.done == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.stopping {
		m.stopping = true
		close(m.stop)
	}
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	m.logger.Info("stopping process", "name", m.cfg.Name, "pid", cmd.Process.Pid)
	signalGroup(cmd, syscall.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(m.cfg.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", m.cfg.Name, "timeout", m.cfg.GracefulTimeout)
	}

	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.cfg.Name, err)
	}
	<-done
	return nil
}

// signalGroup signals the process group created with Setpgid. Missing
// processes are ignored.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, sig) //nolint:errcheck // ESRCH when the group already exited
}

func (m *Manager) isStopping() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopping
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.status = StatusFailed
	m.lastError = err
	m.mu.Unlock()
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats describes the managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{Name: m.cfg.Name, Status: m.status, RestartCount: m.restarts}
	if m.status == StatusRunning {
		st.Uptime = time.Since(m.startTime)
		if m.cmd != nil && m.cmd.Process != nil {
			st.PID = m.cmd.Process.Pid
		}
	}
	if m.lastError != nil {
		st.LastError = m.lastError.Error()
	}
	return st
}
