// Package toolloop drives one model through repeated request/response
// cycles while the model invokes tools. The loop is a bounded state
// machine: call the model, inspect the response, execute any tool calls
// sequentially, feed the results back, repeat. It exits when the model
// answers without tool calls or when the iteration or wall-clock budget
// runs out.
package toolloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
	"github.com/leandrotocalini/SecondOpinion/internal/prompt"
)

const (
	// DefaultMaxIterations limits tool-calling round-trips per run.
	DefaultMaxIterations = 5

	// DefaultWallClock limits total run time, measured from the first
	// request. Checked only at iteration boundaries; an in-flight call
	// always completes.
	DefaultWallClock = 90 * time.Second

	interIterationDelay = 1 * time.Second
	maxToolResultChars  = 8000
	truncationMarker    = "\n... (truncated)"

	// minFinalChars is the accumulated-text threshold below which an
	// exhausted run gets one extra tool-free call to force an answer.
	minFinalChars = 2000
)

// Request describes one loop run. Tools come from the runner's executor,
// not from the request; a runner without an executor advertises none.
type Request struct {
	Model       string
	System      string
	Messages    []llm.Message
	Temperature *float64
	MaxTokens   *int
}

// Result is the outcome of a loop run. Tokens and cost accumulate across
// every request made, the forced final call included.
type Result struct {
	// Content is all model text produced during the run, in order,
	// joined with blank lines.
	Content string

	// ToolCalls holds the invocations from the last response when the
	// run stopped on an exhausted budget (they were already executed).
	// Empty when the model finished on its own.
	ToolCalls []llm.ToolInvocation

	// Iterations counts model calls made in the main loop.
	Iterations int

	// ForcedFinal reports whether the extra tool-free call was made.
	ForcedFinal bool

	InputTokens  int
	OutputTokens int
	CostCents    int
}

func (r *Result) addUsage(call *llm.CallResult) {
	r.InputTokens += call.InputTokens
	r.OutputTokens += call.OutputTokens
	r.CostCents += call.CostCents
}

// SleepFunc pauses between iterations. Injectable so tests never wait.
type SleepFunc func(ctx context.Context, d time.Duration)

func defaultSleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Runner executes tool-use loops against one caller. A nil executor
// disables tools entirely: the model is called once with no tool list and
// the loop exits on its first response.
type Runner struct {
	caller        llm.Caller
	executor      llm.ToolExecutor
	logger        *slog.Logger
	sleepFn       SleepFunc
	now           func() time.Time
	maxIterations int
	wallClock     time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets a structured logger for the runner.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithSleepFunc replaces the inter-iteration sleep.
func WithSleepFunc(fn SleepFunc) Option {
	return func(r *Runner) {
		r.sleepFn = fn
	}
}

// WithClock replaces the wall-clock source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// WithWallClock overrides the wall-clock budget.
func WithWallClock(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.wallClock = d
		}
	}
}

// New creates a Runner for the given caller and executor. executor may be
// nil to disable tools.
func New(caller llm.Caller, executor llm.ToolExecutor, opts ...Option) *Runner {
	r := &Runner{
		caller:        caller,
		executor:      executor,
		logger:        slog.Default(),
		sleepFn:       defaultSleep,
		now:           time.Now,
		maxIterations: DefaultMaxIterations,
		wallClock:     DefaultWallClock,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the loop until the model answers without tool calls or a
// budget runs out. A model-call error aborts the run and propagates; the
// returned Result still carries the usage accumulated before the failure.
// Tool execution failures never abort: they are serialized into the tool
// result and handed back to the model.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	log := r.logger.With("caller", r.caller.Name(), "model", req.Model)

	var tools []llm.ToolSpec
	if r.executor != nil {
		tools = r.executor.ListTools()
	}

	messages := make([]llm.Message, len(req.Messages))
	copy(messages, req.Messages)

	res := &Result{}
	var text strings.Builder
	var lastCalls []llm.ToolInvocation
	var deadline time.Time

	for iter := 1; iter <= r.maxIterations; iter++ {
		// Budgets are consulted only here, never mid-round. The first
		// request always goes out; the clock starts with it.
		if iter > 1 && !r.now().Before(deadline) {
			log.Warn("wall clock budget reached", "iterations", iter-1)
			break
		}
		if err := ctx.Err(); err != nil {
			res.Content = text.String()
			return res, err
		}
		if iter == 1 {
			deadline = r.now().Add(r.wallClock)
		}

		log.Info("model call", "iteration", iter, "messages", len(messages))
		call, err := r.caller.Call(ctx, llm.CallRequest{
			Model:       req.Model,
			System:      req.System,
			Messages:    messages,
			Tools:       tools,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			res.Content = text.String()
			return res, fmt.Errorf("model call failed on iteration %d: %w", iter, err)
		}

		res.Iterations = iter
		res.addUsage(call)
		appendText(&text, call.Content)

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   call.Content,
			ToolCalls: call.ToolCalls,
		})

		// The only exit condition. Text alongside tool calls still
		// continues the loop; the provider's stop reason is not
		// consulted.
		if !call.HasToolCalls() {
			res.Content = text.String()
			return res, nil
		}

		lastCalls = call.ToolCalls
		log.Info("executing tools", "count", len(call.ToolCalls))
		for _, tc := range call.ToolCalls {
			messages = append(messages, r.runTool(ctx, tc))
		}

		r.sleepFn(ctx, interIterationDelay)
	}

	res.ToolCalls = lastCalls

	if text.Len() >= minFinalChars {
		res.Content = text.String()
		return res, nil
	}

	// Not enough text to stand as an answer: one extra request with the
	// tool list omitted. Its failure is swallowed; whatever text we
	// accumulated is the answer.
	res.ForcedFinal = true
	messages = append(messages, llm.Message{Role: "user", Content: prompt.ForcedFinalInstruction()})

	log.Info("forcing final answer", "accumulated_chars", text.Len())
	call, err := r.caller.Call(ctx, llm.CallRequest{
		Model:       req.Model,
		System:      req.System,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		log.Warn("forced final call failed, keeping accumulated content", "err", err)
		res.Content = text.String()
		return res, nil
	}

	res.addUsage(call)
	appendText(&text, call.Content)
	res.Content = text.String()
	return res, nil
}

// runTool executes one invocation and shapes the outcome into a tool
// message. Oversized results are truncated so one verbose tool cannot blow
// up the conversation.
func (r *Runner) runTool(ctx context.Context, call llm.ToolInvocation) llm.Message {
	log := r.logger.With("tool", call.Name, "call_id", call.ID)

	var outcome llm.ToolOutcome
	if r.executor == nil {
		outcome = llm.ToolOutcome{Success: false, Error: "no tool executor configured"}
	} else {
		outcome = r.executor.Execute(ctx, call)
	}

	content := outcome.Payload()
	if !outcome.Success {
		log.Warn("tool execution failed", "err", outcome.Error)
		content = "ERROR: " + content
	}
	if len(content) > maxToolResultChars {
		content = content[:maxToolResultChars] + truncationMarker
	}

	return llm.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Content:    content,
		IsError:    !outcome.Success,
	}
}

func appendText(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(s)
}
