package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/doctor"
	"github.com/leandrotocalini/SecondOpinion/internal/initwiz"
	"github.com/leandrotocalini/SecondOpinion/internal/provider"
	"github.com/leandrotocalini/SecondOpinion/internal/transport"
)

// probeTimeout bounds one doctor probe. Probes don't retry; a slow provider
// should fail fast here.
const probeTimeout = 15 * time.Second

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default ~/.secondopinion/config.json)")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir, err := config.Dir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := slog.New(newLogHandler(slog.LevelWarn))

	tr := transport.New(
		transport.WithLogger(logger),
		transport.WithCallDefaults(1, probeTimeout),
	)
	factoryOpts := []provider.Option{
		provider.WithTransport(tr),
		provider.WithLogger(logger),
	}
	if len(cfg.Proxy.Slugs) > 0 {
		factoryOpts = append(factoryOpts, provider.WithProxySlugs(cfg.Proxy.Slugs))
	}
	factory := provider.NewFactory(cfg.Credentials(), factoryOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	problems := initwiz.Validate(dir)
	report := doctor.Run(ctx, cfg, factory, logger)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"problems": problems, "report": report}); err != nil {
			return err
		}
	} else {
		for _, p := range problems {
			fmt.Printf("problem: %s\n", p)
		}
		for _, r := range report.Results {
			status := fmt.Sprintf("ok (%dms)", r.DurationMs)
			if !r.OK {
				status = "FAIL " + r.Error
			}
			fmt.Printf("  %-34s %-10s %-36s %s\n", r.Tiers, r.Provider, r.Model, status)
		}
		fmt.Printf("%d model(s) checked, %d ok, %d failed\n",
			len(report.Results), report.Succeeded, report.Failed)
	}

	if len(problems) > 0 || !report.Healthy() {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}
