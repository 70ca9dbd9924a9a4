// Package lifecycle coordinates graceful shutdown for long-running
// processes: signal interception, root-context cancellation, and ordered
// shutdown hooks with a deadline.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownConfig bounds how long shutdown may take.
type ShutdownConfig struct {
	// GracePeriod is the deadline for the main function to wind down and
	// for hooks to run after a signal.
	GracePeriod time.Duration
	// QuickPeriod is the hook deadline on a normal exit.
	QuickPeriod time.Duration
}

// DefaultShutdownConfig returns sensible defaults.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		GracePeriod: 10 * time.Second,
		QuickPeriod: 5 * time.Second,
	}
}

// Manager runs a main function under signal handling and drives registered
// shutdown hooks exactly once on the way out.
type Manager struct {
	config  ShutdownConfig
	logger  *slog.Logger
	cancel  context.CancelFunc
	started time.Time

	mu       sync.Mutex
	hooks    []ShutdownHook
	shutdown bool
}

// ShutdownHook is called during shutdown. Name is for logging.
type ShutdownHook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// NewManager creates a lifecycle manager.
func NewManager(config ShutdownConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:  config,
		logger:  logger,
		started: time.Now(),
	}
}

// OnShutdown registers a hook. Hooks run in registration order.
func (m *Manager) OnShutdown(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, ShutdownHook{Name: name, Fn: fn})
}

// Run installs SIGINT/SIGTERM handlers, runs the main function with a
// cancellable root context, and returns the process exit code.
func (m *Manager) Run(mainFn func(ctx context.Context) error) int {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- mainFn(ctx)
	}()

	select {
	case sig := <-sigCh:
		m.logger.Info("received signal, starting graceful shutdown",
			"signal", sig.String(),
			"uptime", m.Uptime().Round(time.Millisecond).String(),
		)
		cancel()
		// Let the main function wind down before hooks tear state out
		// from under it.
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("main function failed during shutdown", "error", err)
			}
		case <-time.After(m.config.GracePeriod):
			m.logger.Warn("main function did not stop within the grace period")
		}
		return m.shutdownOnce(m.config.GracePeriod)

	case err := <-errCh:
		if err != nil {
			m.logger.Error("main function error", "error", err)
			m.shutdownOnce(m.config.QuickPeriod)
			return 1
		}
		return m.shutdownOnce(m.config.QuickPeriod)
	}
}

// shutdownOnce cancels the root context and runs hooks with a deadline.
// Subsequent calls are no-ops.
func (m *Manager) shutdownOnce(deadline time.Duration) int {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return 1
	}
	m.shutdown = true
	hooks := make([]ShutdownHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	for _, hook := range hooks {
		m.logger.Info("running shutdown hook", "name", hook.Name)
		if err := hook.Fn(ctx); err != nil {
			m.logger.Error("shutdown hook failed", "name", hook.Name, "error", err)
		}
	}

	m.logger.Info("shutdown complete", "uptime", m.Uptime().Round(time.Millisecond).String())
	return 0
}

// Uptime returns how long the process has been running.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.started)
}
