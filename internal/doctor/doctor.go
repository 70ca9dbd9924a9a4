// Package doctor probes every configured model with a minimal live call so
// misconfigured keys and unreachable providers surface before a real
// consultation does.
package doctor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/llm"
)

// CallerResolver returns the caller for a model configuration. The provider
// factory satisfies this interface.
type CallerResolver interface {
	ForModel(cfg llm.ModelConfig) (llm.Caller, error)
}

// CheckResult is the outcome of probing one configured model.
type CheckResult struct {
	Tiers      string       `json:"tiers"`
	Provider   llm.Provider `json:"provider"`
	Model      string       `json:"model"`
	OK         bool         `json:"ok"`
	Error      string       `json:"error,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// Report aggregates all check results.
type Report struct {
	Results   []CheckResult `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// Healthy reports whether every probe passed.
func (r *Report) Healthy() bool {
	return r.Failed == 0
}

type target struct {
	tiers []string
	model llm.ModelConfig
}

// targets lists the distinct models in the config. A model serving several
// tiers is probed once, labeled with all of them.
func targets(cfg *config.Config) []target {
	entries := []struct {
		tier  string
		model llm.ModelConfig
	}{
		{"quick", cfg.Models.Quick},
		{"standard", cfg.Models.Standard},
		{"deliberate primary", cfg.Models.Deliberation.Primary},
		{"deliberate review", cfg.Models.Deliberation.Review},
		{"deliberate synthesis", cfg.Models.Deliberation.Synthesizer},
	}

	var out []target
	index := make(map[llm.ModelConfig]int)
	for _, e := range entries {
		if i, ok := index[e.model]; ok {
			out[i].tiers = append(out[i].tiers, e.tier)
			continue
		}
		index[e.model] = len(out)
		out = append(out, target{tiers: []string{e.tier}, model: e.model})
	}
	return out
}

// Run probes each configured model once in parallel. A failing probe does not
// cancel its siblings; every model gets a verdict.
func Run(ctx context.Context, cfg *config.Config, resolver CallerResolver, logger *slog.Logger) *Report {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	tgts := targets(cfg)
	results := make([]CheckResult, len(tgts))
	g, gctx := errgroup.WithContext(ctx)

	for i, t := range tgts {
		i, t := i, t
		g.Go(func() error {
			start := time.Now()
			res := CheckResult{
				Tiers:    strings.Join(t.tiers, ", "),
				Provider: t.model.Provider,
				Model:    t.model.Model,
			}

			caller, err := resolver.ForModel(t.model)
			if err == nil {
				_, err = caller.Call(gctx, llm.CallRequest{
					Model:     t.model.Model,
					Messages:  []llm.Message{{Role: "user", Content: "ping"}},
					MaxTokens: llm.Int(1),
				})
			}
			res.DurationMs = time.Since(start).Milliseconds()

			if err != nil {
				logger.Warn("model probe failed",
					"tiers", res.Tiers,
					"model", t.model.Model,
					"error", err,
				)
				res.Error = err.Error()
			} else {
				res.OK = true
				logger.Info("model probe passed",
					"tiers", res.Tiers,
					"model", t.model.Model,
					"duration_ms", res.DurationMs,
				)
			}

			results[i] = res
			return nil
		})
	}

	g.Wait()

	report := &Report{Results: results}
	for _, r := range results {
		if r.OK {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report
}
