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

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/pulse-core/internal/infrastructure/config"
)

// Status represents the current state of the supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay      = 2 * time.Second
	defaultMaxRestartDelay   = time.Minute
	defaultGracefulTimeout   = 10 * time.Second
	defaultMaxHealthFailures = 3
	healthCheckTimeout       = 5 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Start while a process is supervised.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrUnhealthy wraps the health check error that caused a kill.
	ErrUnhealthy = errors.New("process: health check failed")
)

// Config holds configuration for a supervised process.
type Config struct {
	// Name identifies the process in logs and stats.
	Name string

	// Binary is the absolute path to the executable.
	Binary string

	Args []string

	// Env entries (key=value) are appended to the parent environment.
	Env []string

	// WorkDir defaults to the parent's working directory.
	WorkDir string

	// RestartOnFailure restarts the process whenever it exits without
	// Stop having been called.
	RestartOnFailure bool

	// RestartDelay is the first backoff interval. Delays grow
	// exponentially up to MaxRestartDelay, and a process that stayed up
	// for at least MaxRestartDelay resets the backoff.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestartAttempts caps consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long SIGTERM is given before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckInterval enables the watchdog when positive and a health
	// check is set.
	HealthCheckInterval time.Duration

	// MaxHealthFailures is how many consecutive failed checks kill the
	// process.
	MaxHealthFailures int
}

// ConfigFromBridge converts the bridge process section of the service config.
func ConfigFromBridge(cfg config.BridgeProcessConfig) Config {
	return Config{
		Name:                "bridge",
		Binary:              cfg.Binary,
		Args:                cfg.Args,
		Env:                 cfg.Env,
		WorkDir:             cfg.WorkDir,
		RestartOnFailure:    true,
		RestartDelay:        seconds(cfg.RestartDelay),
		MaxRestartDelay:     seconds(cfg.MaxRestartDelay),
		MaxRestartAttempts:  cfg.MaxRestartAttempts,
		GracefulTimeout:     seconds(cfg.GracefulTimeout),
		HealthCheckInterval: seconds(cfg.HealthCheckInterval),
	}
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// Logger defines the logging interface for the supervisor.
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

// Supervisor starts a child process and keeps it running.
type Supervisor struct {
	config Config
	logger Logger
	health func(ctx context.Context) error

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	restarts  int
	lastErr   error
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSupervisor creates a supervisor. Zero durations take defaults.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Name == "" {
		cfg.Name = "process"
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = max(defaultMaxRestartDelay, cfg.RestartDelay)
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.MaxHealthFailures <= 0 {
		cfg.MaxHealthFailures = defaultMaxHealthFailures
	}

	return &Supervisor{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetHealthCheck installs the watchdog probe. Call before Start.
func (s *Supervisor) SetHealthCheck(fn func(ctx context.Context) error) {
	s.health = fn
}

// Start launches the process and supervises it until ctx is cancelled or
// Stop is called. Only the first launch error is returned; later failures
// are retried according to the restart policy.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil || s.status == StatusStarting || s.status == StatusRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.config.Name)
	}
	s.status = StatusStarting
	s.restarts = 0
	s.mu.Unlock()

	cmd, exitCh, err := s.launch()
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.supervise(runCtx, cmd, exitCh, done)
	return nil
}

// Stop terminates the process and waits for supervision to end.
func (s *Supervisor) Stop() {
	s.mu.RLock()
	cancel, done := s.cancel, s.done
	s.mu.RUnlock()

	if cancel == nil {
		return
	}

	s.logger.Info("stopping process", "name", s.config.Name)
	cancel()
	<-done
}

// launch starts one instance of the process. The returned channel yields
// the Wait result once output has been drained.
func (s *Supervisor) launch() (*exec.Cmd, <-chan error, error) {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting process",
		"name", s.config.Name,
		"binary", s.config.Binary,
		"args", s.config.Args,
	)

	cmd := exec.Command(s.config.Binary, s.config.Args...) //nolint:gosec // Binary path is validated as absolute in config

	// Own process group so shutdown reaches any children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.config.Env) > 0 {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}
	cmd.Dir = s.config.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting %s: %w", s.config.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go s.captureOutput(&wg, "stdout", stdout)
	go s.captureOutput(&wg, "stderr", stderr)

	exitCh := make(chan error, 1)
	go func() {
		wg.Wait()
		exitCh <- cmd.Wait()
	}()

	s.logger.Info("process started",
		"name", s.config.Name,
		"pid", cmd.Process.Pid,
	)
	return cmd, exitCh, nil
}

// captureOutput logs the stream line by line.
func (s *Supervisor) captureOutput(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Debug("process output",
			"name", s.config.Name,
			"stream", stream,
			"line", scanner.Text(),
		)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("output stream closed",
			"name", s.config.Name,
			"stream", stream,
			"error", err,
		)
		//nolint:errcheck // Drain so the child never blocks on a full pipe
		io.Copy(io.Discard, r)
	}
}

// supervise restarts the process until ctx ends or the policy gives up.
func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd, exitCh <-chan error, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.done = nil
		s.mu.Unlock()
		close(done)
	}()

	policy := s.restartPolicy()

	for {
		err := s.watch(ctx, cmd, exitCh)

		s.mu.Lock()
		ranFor := time.Since(s.startedAt)
		s.cmd = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			s.setStatus(StatusStopped)
			s.logger.Info("process stopped", "name", s.config.Name)
			return
		}

		s.logger.Warn("process exited unexpectedly",
			"name", s.config.Name,
			"error", err,
			"ran_for", ranFor,
		)
		s.mu.Lock()
		s.status = StatusFailed
		s.lastErr = err
		s.mu.Unlock()

		if !s.config.RestartOnFailure {
			return
		}

		if ranFor >= s.config.MaxRestartDelay {
			policy.Reset()
		}
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			s.logger.Error("restart attempts exhausted",
				"name", s.config.Name,
				"attempts", s.RestartCount(),
			)
			return
		}

		s.mu.Lock()
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		s.logger.Info("restarting process",
			"name", s.config.Name,
			"attempt", attempt,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setStatus(StatusStopped)
			return
		case <-timer.C:
		}

		var launchErr error
		cmd, exitCh, launchErr = s.launch()
		if launchErr != nil {
			failed := make(chan error, 1)
			failed <- launchErr
			cmd, exitCh = nil, failed
		}
	}
}

// watch blocks until the process exits, ctx ends, or the health check
// fails MaxHealthFailures times in a row. In the latter two cases the
// process is terminated before returning.
func (s *Supervisor) watch(ctx context.Context, cmd *exec.Cmd, exitCh <-chan error) error {
	if cmd == nil {
		return <-exitCh
	}

	var tick <-chan time.Time
	if s.health != nil && s.config.HealthCheckInterval > 0 {
		ticker := time.NewTicker(s.config.HealthCheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			s.terminate(cmd, exitCh)
			return ctx.Err()

		case <-tick:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := s.health(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					s.logger.Info("health check recovered",
						"name", s.config.Name,
						"previous_failures", failures,
					)
				}
				failures = 0
				continue
			}

			failures++
			s.logger.Warn("health check failed",
				"name", s.config.Name,
				"error", err,
				"consecutive_failures", failures,
			)
			if failures >= s.config.MaxHealthFailures {
				s.logger.Error("health check failed repeatedly, killing process",
					"name", s.config.Name,
					"failures", failures,
				)
				s.terminate(cmd, exitCh)
				return fmt.Errorf("%w after %d attempts: %w", ErrUnhealthy, failures, err)
			}
		}
	}
}

// terminate sends SIGTERM to the process group, escalating to SIGKILL
// after GracefulTimeout. It consumes exitCh.
func (s *Supervisor) terminate(cmd *exec.Cmd, exitCh <-chan error) {
	pid := cmd.Process.Pid

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to send SIGTERM to process group", "name", s.config.Name, "error", err)
	}

	timer := time.NewTimer(s.config.GracefulTimeout)
	defer timer.Stop()

	select {
	case <-exitCh:
		return
	case <-timer.C:
		s.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", s.config.Name,
			"timeout", s.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Error("failed to kill process group", "name", s.config.Name, "error", err)
	}
	<-exitCh
}

func (s *Supervisor) restartPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RestartDelay
	b.MaxInterval = s.config.MaxRestartDelay
	b.MaxElapsedTime = 0
	b.Reset()
	if s.config.MaxRestartAttempts > 0 {
		return backoff.WithMaxRetries(b, uint64(s.config.MaxRestartAttempts))
	}
	return b
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning reports whether the process is currently up.
func (s *Supervisor) IsRunning() bool {
	return s.Status() == StatusRunning
}

// LastError returns the error from the most recent unexpected exit.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// RestartCount returns restarts since the last Start.
func (s *Supervisor) RestartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// PID returns the process ID, or 0 if not running.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// Stats is a point-in-time view of the supervised process.
type Stats struct {
	Name          string  `json:"name"`
	Status        Status  `json:"status"`
	PID           int     `json:"pid,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds,omitempty"`
	RestartCount  int     `json:"restart_count"`
	LastError     string  `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Name:         s.config.Name,
		Status:       s.status,
		RestartCount: s.restarts,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		stats.PID = s.cmd.Process.Pid
	}
	if s.status == StatusRunning {
		stats.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	return stats
}
