package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/ledger"
)

func runUsage(args []string) error {
	fs := flag.NewFlagSet("usage", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default ~/.secondopinion/config.json)")
	days := fs.Int("days", 30, "summary window in days")
	recentN := fs.Int("n", 10, "recent consultations to list")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days <= 0 {
		return fmt.Errorf("days must be positive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	store, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.SummarySince(time.Now().AddDate(0, 0, -*days))
	if err != nil {
		return err
	}
	recent, err := store.Recent(*recentN)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"days": *days, "summary": summary, "recent": recent})
	}

	fmt.Printf("Last %d days: %d consultation(s), %d in / %d out tokens, $%.2f\n",
		*days, summary.Consultations, summary.InputTokens, summary.OutputTokens,
		float64(summary.CostCents)/100)

	tiers := make([]string, 0, len(summary.ByTier))
	for tier := range summary.ByTier {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		totals := summary.ByTier[tier]
		fmt.Printf("  %-12s %3d consultation(s)  $%.2f\n",
			tier, totals.Consultations, float64(totals.CostCents)/100)
	}

	if len(recent) > 0 {
		fmt.Println("\nRecent:")
		for _, e := range recent {
			fmt.Printf("  %s  %-10s  $%.2f  %s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04"),
				e.Tier, float64(e.CostCents)/100, e.Question)
		}
	}
	return nil
}
