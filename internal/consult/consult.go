// Package consult is the orchestrator entry point. A Consultant classifies
// each question into an execution tier, drives the matching strategy
// (single tool-loop call or three-stage deliberation), and returns one
// immutable result with full usage accounting.
package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/leandrotocalini/SecondOpinion/internal/audit"
	"github.com/leandrotocalini/SecondOpinion/internal/budget"
	"github.com/leandrotocalini/SecondOpinion/internal/config"
	"github.com/leandrotocalini/SecondOpinion/internal/deliberate"
	"github.com/leandrotocalini/SecondOpinion/internal/ledger"
	"github.com/leandrotocalini/SecondOpinion/internal/llm"
	"github.com/leandrotocalini/SecondOpinion/internal/prompt"
	"github.com/leandrotocalini/SecondOpinion/internal/redact"
	"github.com/leandrotocalini/SecondOpinion/internal/toolloop"
	"github.com/leandrotocalini/SecondOpinion/internal/trigger"
)

// singleTierMaxTokens caps output for the quick and standard tiers.
const singleTierMaxTokens = 4096

// Request is one consultation ask.
type Request struct {
	// Question is the user message to answer.
	Question string `json:"question"`

	// System optionally replaces the default consultant system prompt.
	System string `json:"system,omitempty"`

	// Tier pins the execution tier and skips classification entirely.
	Tier trigger.Tier `json:"tier,omitempty"`

	// UserHistory and AssistantHistory are prior conversation turns,
	// oldest first. They feed escalation analysis only.
	UserHistory      []string `json:"user_history,omitempty"`
	AssistantHistory []string `json:"assistant_history,omitempty"`

	// DisableTools runs the consultation without tool access.
	DisableTools bool `json:"disable_tools,omitempty"`
}

// Result is the unit of work returned to the caller. It is created once per
// question and never mutated after being returned.
type Result struct {
	ID             string                  `json:"id"`
	Tier           trigger.Tier            `json:"tier"`
	Reason         string                  `json:"reason"`
	Triggers       []string                `json:"triggers,omitempty"`
	Primary        deliberate.StageResult  `json:"primary"`
	Review         *deliberate.StageResult `json:"review,omitempty"`
	Synthesis      *deliberate.StageResult `json:"synthesis,omitempty"`
	FinalContent   string                  `json:"final_content"`
	FinalToolCalls []llm.ToolInvocation    `json:"final_tool_calls,omitempty"`
	Degraded       bool                    `json:"degraded,omitempty"`
	InputTokens    int                     `json:"input_tokens"`
	OutputTokens   int                     `json:"output_tokens"`
	TotalTokens    int                     `json:"total_tokens"`
	TotalCostCents int                     `json:"total_cost_cents"`
	DurationMs     int64                   `json:"duration_ms"`
}

// Consultant routes questions through the tiered execution strategies.
// Safe for concurrent use; each consultation takes a config snapshot.
type Consultant struct {
	cfg      atomic.Pointer[config.Config]
	resolver deliberate.CallerResolver
	executor llm.ToolExecutor
	usage    *ledger.Store
	auditLog *audit.Logger
	logger   *slog.Logger
	loopOpts []toolloop.Option
}

// Option configures a Consultant.
type Option func(*Consultant)

// WithToolExecutor provides the tool registry models may call into.
func WithToolExecutor(executor llm.ToolExecutor) Option {
	return func(c *Consultant) {
		c.executor = executor
	}
}

// WithLedger enables usage recording. Write failures are logged, never
// surfaced.
func WithLedger(store *ledger.Store) Option {
	return func(c *Consultant) {
		c.usage = store
	}
}

// WithAuditLog enables routing-decision audit records. Write failures are
// logged, never surfaced.
func WithAuditLog(logger *audit.Logger) Option {
	return func(c *Consultant) {
		c.auditLog = logger
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consultant) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLoopOptions appends options for every tool loop the consultant runs.
func WithLoopOptions(opts ...toolloop.Option) Option {
	return func(c *Consultant) {
		c.loopOpts = append(c.loopOpts, opts...)
	}
}

// New creates a consultant over the given config and caller resolver.
func New(cfg *config.Config, resolver deliberate.CallerResolver, opts ...Option) *Consultant {
	if cfg == nil {
		cfg = config.Default()
	}
	c := &Consultant{
		resolver: resolver,
		logger:   slog.Default(),
	}
	c.cfg.Store(cfg)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetConfig swaps the configuration snapshot used by subsequent
// consultations. In-flight consultations keep the snapshot they started
// with.
func (c *Consultant) SetConfig(cfg *config.Config) {
	if cfg != nil {
		c.cfg.Store(cfg)
	}
}

// Consult answers one question. Quick and standard tiers run a single
// model through the tool loop; the deliberate tier runs the three-stage
// pipeline. Provider failures on the primary path propagate unmodified.
func (c *Consultant) Consult(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("consultation question is empty")
	}
	if req.Tier != "" && !req.Tier.Valid() {
		return nil, fmt.Errorf("invalid tier %q", req.Tier)
	}

	cfg := c.cfg.Load()
	if err := c.checkBudget(cfg); err != nil {
		return nil, err
	}

	res := &Result{ID: uuid.NewString()}
	start := time.Now()

	cls := c.classify(res.ID, req, cfg)
	res.Tier = cls.Tier
	res.Reason = cls.Reason
	res.Triggers = cls.Triggers

	executor := c.executor
	if req.DisableTools {
		executor = nil
	}

	c.logger.Info("consultation started",
		"consultation_id", res.ID,
		"tier", res.Tier,
		"reason", res.Reason,
	)

	var err error
	if cls.Tier == trigger.TierDeliberate {
		err = c.runDeliberate(ctx, cfg, req, executor, res)
	} else {
		err = c.runSingle(ctx, cfg, req, executor, res)
	}
	if err != nil {
		return nil, err
	}

	res.TotalTokens = res.InputTokens + res.OutputTokens
	res.DurationMs = time.Since(start).Milliseconds()

	c.logger.Info("consultation finished",
		"consultation_id", res.ID,
		"tier", res.Tier,
		"cost_cents", res.TotalCostCents,
		"tokens", res.TotalTokens,
		"degraded", res.Degraded,
	)

	c.recordUsage(req, res)
	return res, nil
}

// checkBudget denies the consultation once the daily spend ceiling is
// reached. Ledger read failures fail open with a warning so a broken
// database cannot block consultations.
func (c *Consultant) checkBudget(cfg *config.Config) error {
	if cfg.Limits.DailyBudgetCents <= 0 || c.usage == nil {
		return nil
	}

	err := budget.NewGuard(cfg.Limits.DailyBudgetCents, c.usage).Check()
	if err == nil {
		return nil
	}
	var exceeded *budget.Exceeded
	if errors.As(err, &exceeded) {
		return err
	}
	c.logger.Warn("budget check unavailable", "error", err)
	return nil
}

// classify picks the execution tier: the caller's pin wins, otherwise the
// message classifier runs followed by conversation-escalation analysis.
func (c *Consultant) classify(id string, req Request, cfg *config.Config) trigger.Result {
	if req.Tier != "" {
		cls := trigger.Result{
			Tier:     req.Tier,
			Reason:   "tier pinned by caller",
			Triggers: []string{"pinned"},
		}
		c.auditRecord(audit.Record{
			ConsultationID: id,
			Kind:           audit.TierSelection,
			Tier:           string(cls.Tier),
			Reason:         cls.Reason,
			Triggers:       cls.Triggers,
		})
		return cls
	}

	cls := trigger.DetectTier(req.Question, cfg.Triggers)
	c.auditRecord(audit.Record{
		ConsultationID: id,
		Kind:           audit.TierSelection,
		Tier:           string(cls.Tier),
		Reason:         cls.Reason,
		Triggers:       cls.Triggers,
	})

	escalated := trigger.AnalyzeConversationForEscalation(cls, req.UserHistory, req.AssistantHistory, cfg.Triggers)
	if escalated.Tier != cls.Tier {
		c.logger.Info("tier escalated",
			"consultation_id", id,
			"from", cls.Tier,
			"to", escalated.Tier,
			"reason", escalated.Reason,
		)
		c.auditRecord(audit.Record{
			ConsultationID: id,
			Kind:           audit.Escalation,
			Tier:           string(escalated.Tier),
			Reason:         escalated.Reason,
			Triggers:       escalated.Triggers,
		})
		cls = escalated
	}
	return cls
}

// runSingle drives the quick and standard tiers: one model, one tool loop.
func (c *Consultant) runSingle(ctx context.Context, cfg *config.Config, req Request, executor llm.ToolExecutor, res *Result) error {
	model := cfg.Models.ModelFor(res.Tier)
	caller, err := c.resolver.ForModel(model)
	if err != nil {
		return err
	}

	system := req.System
	if system == "" {
		system = prompt.ConsultantSystem()
	}

	runner := toolloop.New(caller, executor, c.loopOptions(cfg)...)
	stageStart := time.Now()
	loopRes, err := runner.Run(ctx, toolloop.Request{
		Model:     model.Model,
		System:    system,
		Messages:  []llm.Message{{Role: "user", Content: req.Question}},
		MaxTokens: llm.Int(singleTierMaxTokens),
	})
	if err != nil {
		return err
	}

	res.Primary = deliberate.StageResult{
		Stage:        deliberate.StagePrimary,
		Model:        model,
		Content:      loopRes.Content,
		Iterations:   loopRes.Iterations,
		ForcedFinal:  loopRes.ForcedFinal,
		ToolCalls:    loopRes.ToolCalls,
		InputTokens:  loopRes.InputTokens,
		OutputTokens: loopRes.OutputTokens,
		CostCents:    loopRes.CostCents,
		DurationMs:   time.Since(stageStart).Milliseconds(),
	}
	res.FinalContent = loopRes.Content
	res.FinalToolCalls = loopRes.ToolCalls
	res.InputTokens = loopRes.InputTokens
	res.OutputTokens = loopRes.OutputTokens
	res.TotalCostCents = loopRes.CostCents

	if loopRes.ForcedFinal {
		c.auditRecord(audit.Record{
			ConsultationID: res.ID,
			Kind:           audit.ForcedFinal,
			Tier:           string(res.Tier),
			Detail:         map[string]any{"iterations": loopRes.Iterations},
		})
	}
	return nil
}

// runDeliberate drives the three-stage pipeline and folds its result into
// the consultation result, annotating the reason when a stage degraded.
func (c *Consultant) runDeliberate(ctx context.Context, cfg *config.Config, req Request, executor llm.ToolExecutor, res *Result) error {
	pipeline := deliberate.New(c.resolver, executor,
		deliberate.WithLogger(c.logger),
		deliberate.WithLoopOptions(c.loopOptions(cfg)...),
	)

	dres, err := pipeline.Run(ctx, cfg.Models.Deliberation, deliberate.Request{
		Question: req.Question,
		System:   req.System,
	})
	if err != nil {
		return err
	}

	res.Primary = dres.Primary
	res.Review = dres.Review
	res.Synthesis = dres.Synthesis
	res.FinalContent = dres.FinalContent
	res.FinalToolCalls = dres.FinalToolCalls
	res.InputTokens = dres.TotalInputTokens
	res.OutputTokens = dres.TotalOutputTokens
	res.TotalCostCents = dres.TotalCostCents

	if dres.Degraded {
		res.Degraded = true
		res.Reason = prompt.DegradedNote(res.Reason, dres.DegradedCause)
		c.auditRecord(audit.Record{
			ConsultationID: res.ID,
			Kind:           audit.DegradedDeliberation,
			Tier:           string(res.Tier),
			Reason:         dres.DegradedCause,
		})
	}
	if dres.Primary.ForcedFinal {
		c.auditRecord(audit.Record{
			ConsultationID: res.ID,
			Kind:           audit.ForcedFinal,
			Tier:           string(res.Tier),
			Detail:         map[string]any{"iterations": dres.Primary.Iterations},
		})
	}
	return nil
}

// loopOptions builds the tool-loop options from the config snapshot, with
// consultant-level options appended so they win.
func (c *Consultant) loopOptions(cfg *config.Config) []toolloop.Option {
	opts := []toolloop.Option{
		toolloop.WithLogger(c.logger),
		toolloop.WithMaxIterations(cfg.Limits.MaxIterations),
		toolloop.WithWallClock(time.Duration(cfg.Limits.WallClockSeconds) * time.Second),
	}
	return append(opts, c.loopOpts...)
}

// recordUsage writes the ledger row. The stored question is scrubbed of
// secret-shaped text first. Failures are logged, never fatal.
func (c *Consultant) recordUsage(req Request, res *Result) {
	if c.usage == nil {
		return
	}
	entry := ledger.Entry{
		ID:           res.ID,
		Question:     redact.String(req.Question),
		Tier:         string(res.Tier),
		Model:        res.Primary.Model.Model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CostCents:    res.TotalCostCents,
		DurationMs:   res.DurationMs,
		Degraded:     res.Degraded,
	}
	if err := c.usage.Record(entry); err != nil {
		c.logger.Warn("usage ledger write failed", "consultation_id", res.ID, "error", err)
	}
}

// auditRecord writes one audit record. Failures are logged, never fatal.
func (c *Consultant) auditRecord(r audit.Record) {
	if c.auditLog == nil {
		return
	}
	if err := c.auditLog.Log(r); err != nil {
		c.logger.Warn("audit write failed", "kind", r.Kind, "error", err)
	}
}
