// Package lifecycle runs the client's long-lived jobs and drives an
// orderly shutdown on signal or first failure.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

const defaultShutdownTimeout = 10 * time.Second

type job struct {
	name string
	run  func(context.Context) error
}

type Manager struct {
	logger          *slog.Logger
	shutdownTimeout time.Duration

	mu           sync.Mutex
	runJobs      []job
	shutdownJobs []job
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, shutdownTimeout: defaultShutdownTimeout}
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// AddShutdown registers a cleanup step. Shutdown jobs run after every
// run job has returned, in registration order, each under its own
// timeout.
func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// StartAndWait runs every registered job until one fails, the context
// is cancelled, or one of the signals arrives. It then runs the
// shutdown jobs and returns the joined errors.
func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	m.mu.Lock()
	runJobs := make([]job, len(m.runJobs))
	copy(runJobs, m.runJobs)
	shutdownJobs := make([]job, len(m.shutdownJobs))
	copy(shutdownJobs, m.shutdownJobs)
	m.mu.Unlock()

	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.logger.Debug("job started", "job", j.name)
			if err := j.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("job failed", "job", j.name, "error", err)
				errCh <- err
				cancelRuns()
			}
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		cancelRuns()
	case err := <-errCh:
		runErr = err
		cancelRuns()
	case <-doneCh:
	}

	<-doneCh

	var shutdownErr error
	for _, j := range shutdownJobs {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
		if err := j.run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("shutdown step failed", "job", j.name, "error", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}
		cancel()
	}
	return errors.Join(runErr, shutdownErr)
}
