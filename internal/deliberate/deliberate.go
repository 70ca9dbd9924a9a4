// Package deliberate runs the three-stage consultation pipeline: a primary
// model drafts the answer with tools, a second model critiques it, and a
// third folds draft and critique into a unified final answer.
//
// Failure handling differs per stage. Primary failures are fatal and
// propagate. Review failures degrade: the consultation falls back to the
// primary answer alone with an annotated reason. Synthesis runs only after
// a successful review and degrades the same way when it fails.
package deliberate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
	"github.com/leandrotocalini/SecondOpinion/internal/prompt"
	"github.com/leandrotocalini/SecondOpinion/internal/toolloop"
)

// Stage temperatures and token budgets. The primary stage gets room to
// explore; review and synthesis stay conservative.
const (
	primaryTemperature   = 0.4
	reviewTemperature    = 0.3
	synthesisTemperature = 0.3

	primaryMaxTokens = 8192
	stageMaxTokens   = 4096
)

// Stage names as they appear in results and logs.
const (
	StagePrimary   = "primary"
	StageReview    = "review"
	StageSynthesis = "synthesis"
)

// CallerResolver turns a model configuration into a caller. The provider
// factory satisfies this.
type CallerResolver interface {
	ForModel(cfg llm.ModelConfig) (llm.Caller, error)
}

// StageResult records one executed pipeline stage.
type StageResult struct {
	Stage        string               `json:"stage"`
	Model        llm.ModelConfig      `json:"model"`
	Content      string               `json:"content"`
	Iterations   int                  `json:"iterations"`
	ForcedFinal  bool                 `json:"forced_final,omitempty"`
	ToolCalls    []llm.ToolInvocation `json:"tool_calls,omitempty"`
	InputTokens  int                  `json:"input_tokens"`
	OutputTokens int                  `json:"output_tokens"`
	CostCents    int                  `json:"cost_cents"`
	DurationMs   int64                `json:"duration_ms"`
}

// Result is the outcome of one deliberation. Review and Synthesis are nil
// when the pipeline degraded; totals sum every provider round that
// actually executed, degraded or not.
type Result struct {
	Primary   StageResult  `json:"primary"`
	Review    *StageResult `json:"review,omitempty"`
	Synthesis *StageResult `json:"synthesis,omitempty"`

	FinalContent   string               `json:"final_content"`
	FinalToolCalls []llm.ToolInvocation `json:"final_tool_calls,omitempty"`

	Degraded      bool   `json:"degraded,omitempty"`
	DegradedCause string `json:"degraded_cause,omitempty"`

	TotalInputTokens  int `json:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens"`
	TotalCostCents    int `json:"total_cost_cents"`
}

func (r *Result) addStage(s StageResult) {
	r.TotalInputTokens += s.InputTokens
	r.TotalOutputTokens += s.OutputTokens
	r.TotalCostCents += s.CostCents
}

// Request carries the consultation input into the pipeline.
type Request struct {
	// Question is the user's message, used verbatim in the review and
	// synthesis prompts.
	Question string

	// Messages is the conversation to date. When empty, a single user
	// message is built from Question.
	Messages []llm.Message

	// System overrides the default consultant system prompt for the
	// primary stage.
	System string
}

// Pipeline executes deliberations.
type Pipeline struct {
	resolver CallerResolver
	executor llm.ToolExecutor
	logger   *slog.Logger
	loopOpts []toolloop.Option
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a structured logger for the pipeline.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithLoopOptions passes options through to every stage's tool loop.
func WithLoopOptions(opts ...toolloop.Option) Option {
	return func(p *Pipeline) {
		p.loopOpts = opts
	}
}

// New creates a Pipeline. executor may be nil to run all stages without
// tools.
func New(resolver CallerResolver, executor llm.ToolExecutor, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		executor: executor,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline for one consultation.
func (p *Pipeline) Run(ctx context.Context, cfg llm.DeliberationConfig, req Request) (*Result, error) {
	log := p.logger.With("primary", cfg.Primary.Model, "review", cfg.Review.Model, "synthesizer", cfg.Synthesizer.Model)

	messages := req.Messages
	if len(messages) == 0 {
		messages = []llm.Message{{Role: "user", Content: req.Question}}
	}
	system := req.System
	if system == "" {
		system = prompt.ConsultantSystem()
	}

	result := &Result{}

	primary, err := p.runStage(ctx, StagePrimary, cfg.Primary, p.executor, toolloop.Request{
		System:      system,
		Messages:    messages,
		Temperature: llm.Float64(primaryTemperature),
		MaxTokens:   llm.Int(primaryMaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("primary stage (%s): %w", cfg.Primary.Model, err)
	}
	result.Primary = *primary
	result.addStage(*primary)
	log.Info("primary stage complete", "iterations", primary.Iterations, "cost_cents", primary.CostCents)

	review, err := p.runStage(ctx, StageReview, cfg.Review, nil, toolloop.Request{
		System:      prompt.ReviewerSystem(),
		Messages:    []llm.Message{{Role: "user", Content: prompt.ReviewRequest(req.Question, primary.Content)}},
		Temperature: llm.Float64(reviewTemperature),
		MaxTokens:   llm.Int(stageMaxTokens),
	})
	if err != nil {
		log.Warn("review stage failed, degrading to primary answer", "err", err)
		result.Degraded = true
		result.DegradedCause = fmt.Sprintf("review stage failed: %v", err)
		result.FinalContent = primary.Content
		result.FinalToolCalls = nil
		return result, nil
	}
	result.Review = review
	result.addStage(*review)
	log.Info("review stage complete", "cost_cents", review.CostCents)

	synthesis, err := p.runStage(ctx, StageSynthesis, cfg.Synthesizer, p.executor, toolloop.Request{
		System:      prompt.SynthesizerSystem(),
		Messages:    []llm.Message{{Role: "user", Content: prompt.SynthesisRequest(req.Question, primary.Content, review.Content)}},
		Temperature: llm.Float64(synthesisTemperature),
		MaxTokens:   llm.Int(stageMaxTokens),
	})
	if err != nil {
		// The review round executed and stays in the totals, but the
		// result presents the primary answer alone.
		log.Warn("synthesis stage failed, degrading to primary answer", "err", err)
		result.Degraded = true
		result.DegradedCause = fmt.Sprintf("synthesis stage failed: %v", err)
		result.Review = nil
		result.FinalContent = primary.Content
		result.FinalToolCalls = nil
		return result, nil
	}
	result.Synthesis = synthesis
	result.addStage(*synthesis)
	log.Info("synthesis stage complete", "cost_cents", synthesis.CostCents)

	result.FinalContent = synthesis.Content
	result.FinalToolCalls = synthesis.ToolCalls
	return result, nil
}

// runStage resolves the stage's caller and drives its tool loop. A nil
// executor disables tools for the stage.
func (p *Pipeline) runStage(ctx context.Context, stage string, model llm.ModelConfig, executor llm.ToolExecutor, req toolloop.Request) (*StageResult, error) {
	caller, err := p.resolver.ForModel(model)
	if err != nil {
		return nil, err
	}

	req.Model = model.Model

	runner := toolloop.New(caller, executor, append([]toolloop.Option{toolloop.WithLogger(p.logger)}, p.loopOpts...)...)

	start := time.Now()
	loopRes, err := runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	return &StageResult{
		Stage:        stage,
		Model:        model,
		Content:      loopRes.Content,
		Iterations:   loopRes.Iterations,
		ForcedFinal:  loopRes.ForcedFinal,
		ToolCalls:    loopRes.ToolCalls,
		InputTokens:  loopRes.InputTokens,
		OutputTokens: loopRes.OutputTokens,
		CostCents:    loopRes.CostCents,
		DurationMs:   time.Since(start).Milliseconds(),
	}, nil
}
