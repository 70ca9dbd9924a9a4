package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/audit"
	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/consult"
	"github.com/leandrotocalini/SecondOpinion/internal/daemon"
	"github.com/leandrotocalini/SecondOpinion/internal/ledger"
	"github.com/leandrotocalini/SecondOpinion/internal/provider"
	"github.com/leandrotocalini/SecondOpinion/internal/tools"
	"github.com/leandrotocalini/SecondOpinion/internal/transport"
)

// newLogHandler builds the stderr handler shared by all commands.
func newLogHandler(level slog.Level) *daemon.LogHandler {
	return daemon.NewLogHandler(os.Stderr, level, 500)
}

// newFactory wires credentials, transport limits, and proxy slugs into a
// provider factory.
func newFactory(cfg *config.Config, logger *slog.Logger) *provider.Factory {
	tr := transport.New(
		transport.WithLogger(logger),
		transport.WithCallDefaults(cfg.Limits.MaxRetries, time.Duration(cfg.Limits.RequestTimeoutSeconds)*time.Second),
	)

	opts := []provider.Option{
		provider.WithTransport(tr),
		provider.WithLogger(logger),
	}
	if len(cfg.Proxy.Slugs) > 0 {
		opts = append(opts, provider.WithProxySlugs(cfg.Proxy.Slugs))
	}
	return provider.NewFactory(cfg.Credentials(), opts...)
}

// buildConsultant assembles a consultant with tools, ledger, and audit log.
// Storage failures degrade to warnings so a consultation can still run. The
// returned cleanup closes whatever was opened; the store may be nil.
func buildConsultant(cfg *config.Config, logger *slog.Logger, withTools bool) (*consult.Consultant, *ledger.Store, func(), error) {
	noop := func() {}

	opts := []consult.Option{consult.WithLogger(logger)}

	if withTools {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, nil, noop, fmt.Errorf("resolve working directory: %w", err)
		}
		registry, err := tools.NewDefault(cwd, tools.WithLogger(logger))
		if err != nil {
			return nil, nil, noop, fmt.Errorf("build tool registry: %w", err)
		}
		opts = append(opts, consult.WithToolExecutor(registry))
	}

	var cleanups []func()

	store, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		logger.Warn("usage ledger unavailable", "path", cfg.Storage.LedgerPath, "error", err)
		store = nil
	} else {
		opts = append(opts, consult.WithLedger(store))
		cleanups = append(cleanups, func() { store.Close() })
	}

	auditLog, err := audit.NewFileLogger(cfg.Storage.AuditPath)
	if err != nil {
		logger.Warn("audit log unavailable", "path", cfg.Storage.AuditPath, "error", err)
	} else {
		opts = append(opts, consult.WithAuditLog(auditLog))
		cleanups = append(cleanups, func() { auditLog.Close() })
	}

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return consult.New(cfg, newFactory(cfg, logger), opts...), store, cleanup, nil
}
