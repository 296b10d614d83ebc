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
)

// Status is the state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay        = 5 * time.Second
	defaultMaxRestartDelay     = 5 * time.Minute
	defaultStableThreshold     = 2 * time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second

	healthCheckTimeout     = 5 * time.Second
	maxConsecutiveFailures = 3
	killWait               = 5 * time.Second

	// maxLineLength bounds one captured output line.
	maxLineLength = 64 * 1024
)

// Config describes a managed subprocess.
type Config struct {
	// Name identifies the process in logs.
	Name   string
	Binary string
	Args   []string

	// Env is appended to the parent environment. Nil inherits it unchanged.
	Env []string

	RestartOnFailure bool

	// RestartDelay is the first backoff step; each further attempt doubles
	// it up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a process must run before its restart
	// count resets.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is the wait between SIGTERM and SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckFunc, if set, is polled every HealthCheckInterval. Three
	// consecutive failures kill the process.
	HealthCheckFunc     func(ctx context.Context) error
	HealthCheckInterval time.Duration

	OnStart   func()
	OnStop    func(err error)
	OnRestart func(attempt int)
}

// DefaultConfig returns a Config that restarts up to 10 times.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        defaultRestartDelay,
		MaxRestartDelay:     defaultMaxRestartDelay,
		StableThreshold:     defaultStableThreshold,
		MaxRestartAttempts:  10,
		GracefulTimeout:     defaultGracefulTimeout,
		HealthCheckInterval: defaultHealthCheckInterval,
	}
}

// RecoverableError is implemented by errors that say whether a restart can help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err allows a restart. Errors that do not
// implement RecoverableError are treated as recoverable.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// processError marks a failure as (non-)recoverable.
type processError struct {
	err         error
	recoverable bool
}

func (e *processError) Error() string       { return e.err.Error() }
func (e *processError) Unwrap() error       { return e.err }
func (e *processError) IsRecoverable() bool { return e.recoverable }

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

// Manager runs one subprocess and restarts it on failure.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	output        *sync.WaitGroup
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}
}

// NewManager creates a manager. Zero durations take their defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	return &Manager{config: cfg, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger sets the logger. Call before Start.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the process and supervises it until Stop or ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)
	return nil
}

func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process", "name", m.config.Name, "binary", m.config.Binary, "args", m.config.Args)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // Binary comes from operator config
	// Own process group so shutdown signals reach the children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
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
		// A missing or non-executable binary will not fix itself.
		recoverable := !errors.Is(err, exec.ErrNotFound) && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, os.ErrPermission)
		return &processError{err: fmt.Errorf("starting %s: %w", m.config.Name, err), recoverable: recoverable}
	}

	output := &sync.WaitGroup{}
	output.Add(2)
	go m.captureOutput(output, "stdout", stdout)
	go m.captureOutput(output, "stderr", stderr)

	m.mu.Lock()
	m.cmd = cmd
	m.output = output
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	if m.config.OnStart != nil {
		m.config.OnStart()
	}
	return nil
}

// captureOutput logs the stream line by line; stderr at Warn.
func (m *Manager) captureOutput(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		if stream == "stderr" {
			m.logger.Warn("process output", "name", m.config.Name, "stream", stream, "line", scanner.Text())
		} else {
			m.logger.Debug("process output", "name", m.config.Name, "stream", stream, "line", scanner.Text())
		}
	}
	// Keep the pipe flowing after an overlong line.
	_, _ = io.Copy(io.Discard, r) //nolint:errcheck // best effort
}

// wait blocks until the process exits, ctx ends, or health checks fail
// maxConsecutiveFailures times in a row (the process is then killed).
// Output is drained before cmd.Wait closes the pipes.
func (m *Manager) wait(ctx context.Context, cmd *exec.Cmd, output *sync.WaitGroup) error {
	exitCh := make(chan error, 1)
	go func() {
		output.Wait()
		exitCh <- cmd.Wait()
	}()

	if m.config.HealthCheckFunc == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err
		case <-ctx.Done():
			return <-exitCh
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := m.config.HealthCheckFunc(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("health check recovered", "name", m.config.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("health check failed", "name", m.config.Name, "error", err, "consecutive_failures", failures)
			if failures < maxConsecutiveFailures {
				continue
			}

			m.logger.Error("health check failed repeatedly, killing process", "name", m.config.Name)
			if cmd.Process != nil {
				_ = cmd.Process.Kill() //nolint:errcheck // exit is observed below
			}
			select {
			case <-exitCh:
			case <-time.After(killWait):
			}
			return fmt.Errorf("killed after %d failed health checks: %w", failures, err)
		}
	}
}

func (m *Manager) monitor(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.RLock()
		cmd, output := m.cmd, m.output
		m.mu.RUnlock()

		err := m.wait(ctx, cmd, output)

		m.mu.Lock()
		stopRequested := m.stopRequested
		uptime := time.Since(m.startTime)
		if stopRequested {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastError = err
			if uptime >= m.config.StableThreshold {
				m.restartCount = 0
			}
		}
		m.mu.Unlock()

		if m.config.OnStop != nil {
			if stopRequested {
				m.config.OnStop(nil)
			} else {
				m.config.OnStop(err)
			}
		}
		if stopRequested {
			m.logger.Info("process stopped as requested", "name", m.config.Name)
			return
		}

		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err, "uptime", uptime)
		if !m.restart(ctx) {
			return
		}
	}
}

// restart waits out the backoff and relaunches. It returns false when
// supervision should end.
func (m *Manager) restart(ctx context.Context) bool {
	if !m.config.RestartOnFailure || ctx.Err() != nil {
		return false
	}

	for {
		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
			return false
		}

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		select {
		case <-ctx.Done():
			return false
		case <-m.stopCh:
			m.mu.Lock()
			m.status = StatusStopped
			m.mu.Unlock()
			return false
		case <-time.After(delay):
		}

		err := m.startProcess(ctx)
		if err == nil {
			return true
		}
		m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
		m.mu.Lock()
		m.lastError = err
		m.mu.Unlock()
		if !IsRecoverable(err) {
			return false
		}
	}
}

// calculateBackoffDelay returns RestartDelay * 2^(attempt-1), capped at MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return min(delay, m.config.MaxRestartDelay)
}

// Stop sends SIGTERM to the process group, then SIGKILL after
// GracefulTimeout, and waits for the monitor to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.stopRequested && m.stopCh != nil {
		close(m.stopCh)
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the process is running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error from the last unexpected exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns restarts since the last stable run.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the current run has lasted, or 0.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the process id of the current run, or 0.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a snapshot of a managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the process state.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Name: m.config.Name, Status: m.status, RestartCount: m.restartCount}
	if m.status == StatusRunning {
		s.Uptime = time.Since(m.startTime)
		if m.cmd != nil && m.cmd.Process != nil {
			s.PID = m.cmd.Process.Pid
		}
	}
	if m.lastError != nil {
		s.LastError = m.lastError.Error()
	}
	return s
}
