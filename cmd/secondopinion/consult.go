package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/consult"
	"github.com/leandrotocalini/SecondOpinion/internal/trigger"
)

func runConsult(args []string) error {
	fs := flag.NewFlagSet("consult", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default ~/.secondopinion/config.json)")
	tier := fs.String("tier", "", "pin the tier: quick, standard, or deliberate")
	system := fs.String("system", "", "extra system prompt")
	noTools := fs.Bool("no-tools", false, "disable workspace tools")
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	question, err := readQuestion(fs.Args())
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(newLogHandler(level))

	consultant, _, cleanup, err := buildConsultant(cfg, logger, !*noTools)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := consultant.Consult(ctx, consult.Request{
		Question:     question,
		System:       *system,
		Tier:         trigger.Tier(*tier),
		DisableTools: *noTools,
	})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Println(res.FinalContent)
	fmt.Fprintf(os.Stderr, "\n[%s] model=%s tokens=%d cost=$%.2f elapsed=%.1fs\n",
		res.Tier, res.Primary.Model, res.TotalTokens,
		float64(res.TotalCostCents)/100, float64(res.DurationMs)/1000)
	if res.Degraded {
		fmt.Fprintf(os.Stderr, "note: %s\n", res.Reason)
	}
	return nil
}

// readQuestion joins the positional arguments, falling back to stdin when the
// question is piped in.
func readQuestion(args []string) (string, error) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question != "" {
		return question, nil
	}

	if isatty.IsTerminal(os.Stdin.Fd()) {
		return "", fmt.Errorf("no question given (pass it as arguments or pipe it on stdin)")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	question = strings.TrimSpace(string(data))
	if question == "" {
		return "", fmt.Errorf("no question given")
	}
	return question, nil
}
