// Package supervisor keeps the application's long-lived tasks (the
// stream collector's connection loop and the retention scheduler)
// running: a task that panics or returns an error is restarted with
// exponential backoff instead of taking the process down.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one supervised long-lived task. Run is expected to block
// until its context is cancelled; returning earlier (or panicking)
// counts as a failure and triggers a restart after backoff.
type Task struct {
	Name           string
	Run            func(ctx context.Context) error
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

const (
	StatusRunning = "running"
	StatusBackoff = "backoff"
	StatusStopped = "stopped"
)

// Supervisor owns a fixed set of tasks registered before Start.
type Supervisor struct {
	logger *zap.Logger

	mu       sync.Mutex
	tasks    []Task
	statuses map[string]string
	started  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(logger *zap.Logger) *Supervisor {
	return &Supervisor{
		logger:   logger,
		statuses: make(map[string]string),
	}
}

// Add registers a task. Tasks cannot be added after Start.
func (s *Supervisor) Add(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor: cannot add %q after start", t.Name)
	}
	if t.InitialBackoff <= 0 {
		t.InitialBackoff = time.Second
	}
	if t.MaxBackoff <= 0 {
		t.MaxBackoff = time.Minute
	}
	s.tasks = append(s.tasks, t)
	s.statuses[t.Name] = StatusStopped
	return nil
}

// Start launches every registered task in its own goroutine.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor: already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.supervise(ctx, t)
	}
	s.logger.Info("supervisor started", zap.Int("tasks", len(s.tasks)))
	return nil
}

// Stop cancels every task and waits up to timeout for them to exit.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("supervisor: timed out after %s waiting for tasks", timeout)
	}
}

// Statuses returns a snapshot of each task's current state.
func (s *Supervisor) Statuses() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.statuses))
	for name, st := range s.statuses {
		out[name] = st
	}
	return out
}

func (s *Supervisor) setStatus(name, status string) {
	s.mu.Lock()
	s.statuses[name] = status
	s.mu.Unlock()
}

func (s *Supervisor) supervise(ctx context.Context, t Task) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("task", t.Name))

	backoff := t.InitialBackoff
	for {
		s.setStatus(t.Name, StatusRunning)
		started := time.Now()
		err := s.runOnce(ctx, t, logger)

		if ctx.Err() != nil {
			s.setStatus(t.Name, StatusStopped)
			logger.Info("task stopped")
			return
		}

		// A task that ran for a while before failing gets its
		// backoff reset; repeated fast failures keep doubling it.
		if time.Since(started) > t.MaxBackoff {
			backoff = t.InitialBackoff
		}

		s.setStatus(t.Name, StatusBackoff)
		logger.Warn("task exited, restarting",
			zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			s.setStatus(t.Name, StatusStopped)
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > t.MaxBackoff {
			backoff = t.MaxBackoff
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, t Task, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	return t.Run(ctx)
}
