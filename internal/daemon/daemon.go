// Package daemon runs serve mode: a long-lived HTTP service exposing the
// consultation façade, status and usage endpoints, and a live log dashboard
// streamed over SSE.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/consult"
	"github.com/leandrotocalini/SecondOpinion/internal/ledger"
)

const (
	portScanFrom  = 4400
	portScanTo    = 4500
	shutdownGrace = 10 * time.Second
)

// Daemon exposes an assembled consultant over HTTP.
type Daemon struct {
	consultant *consult.Consultant
	handler    *LogHandler
	logger     *slog.Logger
	usage      *ledger.Store
	configPath string
	version    string
	startTime  time.Time

	mu   sync.Mutex
	cfg  *config.Config
	port int
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithUsageStore enables the /api/usage endpoint.
func WithUsageStore(store *ledger.Store) Option {
	return func(d *Daemon) {
		d.usage = store
	}
}

// WithConfigPath enables hot reload of the given config file while serving.
func WithConfigPath(path string) Option {
	return func(d *Daemon) {
		d.configPath = path
	}
}

// WithVersion sets the version reported by /api/status.
func WithVersion(v string) Option {
	return func(d *Daemon) {
		d.version = v
	}
}

// New creates a daemon. The handler feeds stderr, the ring buffer, and the
// SSE stream; nil creates a default one on stderr.
func New(cfg *config.Config, consultant *consult.Consultant, handler *LogHandler, opts ...Option) *Daemon {
	if cfg == nil {
		cfg = config.Default()
	}
	if handler == nil {
		handler = NewLogHandler(os.Stderr, slog.LevelInfo, defaultRingSize)
	}
	d := &Daemon{
		consultant: consultant,
		handler:    handler,
		logger:     slog.New(handler),
		cfg:        cfg,
		version:    "dev",
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Port returns the bound port; zero before Run has bound a listener.
func (d *Daemon) Port() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port
}

func (d *Daemon) snapshot() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	ln, port, err := d.listen()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.port = port
	d.mu.Unlock()

	stopWatch := d.watchConfig()
	defer stopWatch()

	srv := &http.Server{Handler: d.routes()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	d.logger.Info("daemon listening", "url", fmt.Sprintf("http://localhost:%d", port))

	select {
	case <-ctx.Done():
		d.logger.Info("shutting down", "uptime", time.Since(d.startTime).Round(time.Second).String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// listen binds the configured port, or scans the default range when the
// config leaves it at zero.
func (d *Daemon) listen() (net.Listener, int, error) {
	cfg := d.snapshot()
	if cfg.Daemon.Port > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Daemon.Port))
		if err != nil {
			return nil, 0, fmt.Errorf("listen on port %d: %w", cfg.Daemon.Port, err)
		}
		return ln, cfg.Daemon.Port, nil
	}
	for port := portScanFrom; port < portScanTo; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free port between %d and %d", portScanFrom, portScanTo-1)
}

// watchConfig hot-reloads the config file, swapping the consultant's
// snapshot on change. Returns a stop func; a noop when watching is off or
// unavailable.
func (d *Daemon) watchConfig() func() {
	if d.configPath == "" {
		return func() {}
	}
	stop, err := config.Watch(d.configPath, d.logger, func(cfg *config.Config) {
		d.consultant.SetConfig(cfg)
		d.mu.Lock()
		d.cfg = cfg
		d.mu.Unlock()
	})
	if err != nil {
		d.logger.Warn("config watching unavailable", "error", err)
		return func() {}
	}
	return stop
}
