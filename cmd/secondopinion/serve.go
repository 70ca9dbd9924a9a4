package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/daemon"
	"github.com/leandrotocalini/SecondOpinion/internal/lifecycle"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default ~/.secondopinion/config.json)")
	port := fs.Int("port", 0, "pin the listen port (default: scan the local range)")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.Daemon.Port = *port
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	handler := newLogHandler(level)
	logger := slog.New(handler)

	consultant, store, cleanup, err := buildConsultant(cfg, logger, true)
	if err != nil {
		return err
	}

	d := daemon.New(cfg, consultant, handler,
		daemon.WithUsageStore(store),
		daemon.WithConfigPath(path),
		daemon.WithVersion(version),
	)

	manager := lifecycle.NewManager(lifecycle.DefaultShutdownConfig(), logger)
	manager.OnShutdown("storage", func(ctx context.Context) error {
		cleanup()
		return nil
	})

	if code := manager.Run(d.Run); code != 0 {
		return fmt.Errorf("daemon exited uncleanly")
	}
	return nil
}
