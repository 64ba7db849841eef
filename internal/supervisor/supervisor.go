// Package supervisor keeps exactly one backend UI process alive.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"resume-gateway/internal/config"
	"resume-gateway/internal/metrics"
	"resume-gateway/internal/model"
)

var (
	// ErrInterpreterNotFound is returned when the backend interpreter cannot be resolved.
	ErrInterpreterNotFound = errors.New("backend interpreter not found")

	// ErrStopped is returned by Start after Stop has been called.
	ErrStopped = errors.New("supervisor stopped")
)

const (
	defaultProbeInterval = 250 * time.Millisecond

	// waitDelay bounds how long Wait keeps reading output after the child
	// exits, in case a grandchild still holds the pipes open.
	waitDelay = 2 * time.Second
)

// Supervisor launches the backend, forwards its output to the log and
// respawns it after a fixed delay when it exits with a non-zero code.
type Supervisor struct {
	cfg     *config.Config
	logger  *slog.Logger
	output  *slog.Logger // backend stdout/stderr
	metrics *metrics.Metrics

	delay         time.Duration
	probeInterval time.Duration

	mu       sync.Mutex
	cmd      *exec.Cmd
	done     chan struct{} // closed when cmd has exited
	handle   model.BackendHandle
	pending  *time.Timer // at most one scheduled respawn
	stopping bool
	restarts int
}

// New creates a Supervisor. The metrics parameter is optional; pass nil to
// disable backend metrics recording.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		cfg:           cfg,
		logger:        logger.With("component", "supervisor"),
		output:        logger.With("component", "backend"),
		metrics:       m,
		delay:         cfg.Backend.RestartDelay(),
		probeInterval: defaultProbeInterval,
		handle: model.BackendHandle{
			Port:    cfg.Backend.Port,
			Variant: string(SelectVariant(cfg)),
			State:   model.BackendExited,
		},
	}
}

// Start spawns the backend if none is running. Failing to resolve or start
// the interpreter is returned to the caller and is not retried.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return ErrStopped
	}
	if s.cmd != nil {
		return nil
	}
	return s.spawnLocked()
}

// Stop marks the supervisor as stopping, cancels any pending respawn and
// sends sig to the current child. It does not wait for the child to exit.
// Calls after the first are no-ops.
func (s *Supervisor) Stop(sig os.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	if s.stopping {
		return
	}
	s.stopping = true

	if s.cmd == nil {
		return
	}
	s.logger.Info("signalling backend", "signal", sig.String(), "pid", s.cmd.Process.Pid)
	if err := s.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("signal backend", "err", err, "pid", s.cmd.Process.Pid)
	}
}

// Wait blocks until the most recently spawned child has exited or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current backend handle.
func (s *Supervisor) Snapshot() model.BackendHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.handle
	if h.ExitCode != nil {
		code := *h.ExitCode
		h.ExitCode = &code
	}
	return h
}

func (s *Supervisor) spawnLocked() error {
	b := &s.cfg.Backend
	variant := SelectVariant(s.cfg)
	entry := Entry(b, variant)

	bin, err := exec.LookPath(b.Interpreter)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInterpreterNotFound, b.Interpreter, err)
	}

	logger := s.output.With("variant", string(variant))
	stdout := newLineWriter(logger, "stdout")
	stderr := newLineWriter(logger, "stderr")

	cmd := exec.Command(bin, entry)
	cmd.Dir = b.AppRoot
	cmd.Env = s.environ()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start backend %s %s: %w", bin, entry, err)
	}

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.handle = model.BackendHandle{
		PID:       cmd.Process.Pid,
		Port:      b.Port,
		Variant:   string(variant),
		State:     model.BackendStarting,
		StartedAt: time.Now(),
		Restarts:  s.restarts,
	}

	s.logger.Info("backend started",
		"pid", cmd.Process.Pid,
		"variant", string(variant),
		"entry", entry,
		"addr", b.Addr(),
	)

	go s.probe(cmd, done)
	go s.monitor(cmd, done, stdout, stderr)
	return nil
}

// environ returns the child environment: the gateway's own plus the bind
// address of the internal UI server. Later entries win in exec.Cmd.
func (s *Supervisor) environ() []string {
	b := s.cfg.Backend
	env := append(os.Environ(),
		"GRADIO_SERVER_NAME="+b.Host,
		"GRADIO_SERVER_PORT="+strconv.Itoa(b.Port),
	)
	if !b.StripPrefix {
		env = append(env, "GRADIO_ROOT_PATH="+b.UIPrefix)
	}
	if s.cfg.Features.DatabaseConfigured() {
		env = append(env, "DATABASE_URL="+s.cfg.Features.DatabaseURL)
	}
	if s.cfg.Features.Premium {
		env = append(env, "PREMIUM_MODE=true")
	}
	return env
}

// monitor waits for cmd to exit and hands the exit code to onExit.
func (s *Supervisor) monitor(cmd *exec.Cmd, done chan struct{}, outputs ...*lineWriter) {
	err := cmd.Wait()
	for _, w := range outputs {
		w.Flush()
	}

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	close(done)

	s.onExit(cmd, code, err)
}

func (s *Supervisor) onExit(cmd *exec.Cmd, code int, waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != cmd {
		return
	}
	s.cmd = nil
	s.handle.State = model.BackendExited
	s.handle.ExitCode = &code

	if s.metrics != nil {
		s.metrics.BackendUp.Set(0)
		s.metrics.BackendExits.WithLabelValues(strconv.Itoa(code)).Inc()
	}

	switch {
	case s.stopping:
		s.logger.Info("backend stopped", "pid", cmd.Process.Pid, "code", code)
	case code == 0:
		s.logger.Info("backend exited cleanly; not restarting", "pid", cmd.Process.Pid)
	default:
		s.logger.Warn("backend exited; scheduling restart",
			"pid", cmd.Process.Pid,
			"code", code,
			"err", waitErr,
			"delay", s.delay,
		)
		s.scheduleLocked()
	}
}

// scheduleLocked arms the respawn timer unless one is already pending.
func (s *Supervisor) scheduleLocked() {
	if s.pending != nil {
		return
	}
	s.pending = time.AfterFunc(s.delay, s.respawn)
}

func (s *Supervisor) respawn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
	if s.stopping || s.cmd != nil {
		return
	}

	s.restarts++
	if s.metrics != nil {
		s.metrics.BackendRestarts.Inc()
	}
	if err := s.spawnLocked(); err != nil {
		s.logger.Error("respawn backend", "err", err, "delay", s.delay)
		s.scheduleLocked()
	}
}

// probe dials the internal port until the backend accepts a connection or exits.
func (s *Supervisor) probe(cmd *exec.Cmd, done <-chan struct{}) {
	addr := s.cfg.Backend.Addr()
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, s.probeInterval)
		if err == nil {
			_ = conn.Close()
			s.markRunning(cmd)
			return
		}
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) markRunning(cmd *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != cmd || s.handle.State != model.BackendStarting {
		return
	}
	s.handle.State = model.BackendRunning
	if s.metrics != nil {
		s.metrics.BackendUp.Set(1)
	}
	s.logger.Info("backend ready",
		"pid", cmd.Process.Pid,
		"startup", time.Since(s.handle.StartedAt).Round(time.Millisecond),
	)
}
