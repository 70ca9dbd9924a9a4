package deliberate

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
	"github.com/leandrotocalini/SecondOpinion/internal/toolloop"
)

// scriptedCaller returns pre-configured responses in order and records
// every request.
type scriptedCaller struct {
	name      string
	responses []*llm.CallResult
	calls     int
	requests  []llm.CallRequest
}

func (c *scriptedCaller) Call(_ context.Context, req llm.CallRequest) (*llm.CallResult, error) {
	c.requests = append(c.requests, req)
	if c.calls >= len(c.responses) {
		return nil, fmt.Errorf("no more responses configured")
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedCaller) Name() string { return c.name }

type erroringCaller struct {
	err error
}

func (c *erroringCaller) Call(_ context.Context, _ llm.CallRequest) (*llm.CallResult, error) {
	return nil, c.err
}

func (c *erroringCaller) Name() string { return "erroring" }

type fakeResolver struct {
	callers map[string]llm.Caller
}

func (r *fakeResolver) ForModel(cfg llm.ModelConfig) (llm.Caller, error) {
	c, ok := r.callers[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("no caller configured for %s", cfg.Model)
	}
	return c, nil
}

type fakeExecutor struct {
	executed []string
}

func (e *fakeExecutor) Execute(_ context.Context, call llm.ToolInvocation) llm.ToolOutcome {
	e.executed = append(e.executed, call.Name)
	return llm.ToolOutcome{Success: true, Result: "tool output"}
}

func (e *fakeExecutor) ListTools() []llm.ToolSpec {
	return []llm.ToolSpec{{Name: "read_file", Description: "Read a file"}}
}

func textResponse(content string) *llm.CallResult {
	return &llm.CallResult{Content: content, InputTokens: 10, OutputTokens: 5, CostCents: 1}
}

func noSleep(_ context.Context, _ time.Duration) {}

func testConfig() llm.DeliberationConfig {
	return llm.DeliberationConfig{
		Primary:     llm.ModelConfig{Provider: llm.ProviderAnthropic, Model: "model-a"},
		Review:      llm.ModelConfig{Provider: llm.ProviderOpenAI, Model: "model-b"},
		Synthesizer: llm.ModelConfig{Provider: llm.ProviderProxy, Model: "model-c"},
	}
}

func newPipeline(resolver CallerResolver, executor llm.ToolExecutor) *Pipeline {
	return New(resolver, executor, WithLoopOptions(toolloop.WithSleepFunc(noSleep)))
}

func TestRun_FullPipeline(t *testing.T) {
	primary := &scriptedCaller{name: "a", responses: []*llm.CallResult{textResponse("Draft answer.")}}
	review := &scriptedCaller{name: "b", responses: []*llm.CallResult{textResponse("Critique of the draft.")}}
	synthesis := &scriptedCaller{name: "c", responses: []*llm.CallResult{textResponse("Final unified answer.")}}

	resolver := &fakeResolver{callers: map[string]llm.Caller{
		"model-a": primary, "model-b": review, "model-c": synthesis,
	}}
	executor := &fakeExecutor{}
	p := newPipeline(resolver, executor)

	result, err := p.Run(context.Background(), testConfig(), Request{
		Question: "Should we shard the users table?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Primary.Stage != StagePrimary || result.Primary.Content != "Draft answer." {
		t.Errorf("primary stage malformed: %+v", result.Primary)
	}
	if result.Review == nil || result.Review.Content != "Critique of the draft." {
		t.Fatalf("review stage malformed: %+v", result.Review)
	}
	if result.Synthesis == nil || result.Synthesis.Content != "Final unified answer." {
		t.Fatalf("synthesis stage malformed: %+v", result.Synthesis)
	}
	if result.FinalContent != "Final unified answer." {
		t.Errorf("final content should come from synthesis, got %q", result.FinalContent)
	}
	if result.Degraded {
		t.Error("pipeline should not be degraded")
	}
	if result.TotalInputTokens != 30 || result.TotalOutputTokens != 15 || result.TotalCostCents != 3 {
		t.Errorf("totals should sum all three stages: %+v", result)
	}

	// The review stage sees the question and the draft, with no tools.
	reviewReq := review.requests[0]
	if len(reviewReq.Tools) != 0 {
		t.Error("review stage must not receive tools")
	}
	if !strings.Contains(reviewReq.Messages[0].Content, "Draft answer.") {
		t.Error("review prompt missing the primary answer")
	}
	if !strings.Contains(reviewReq.Messages[0].Content, "Should we shard the users table?") {
		t.Error("review prompt missing the question")
	}
	if reviewReq.Temperature == nil || *reviewReq.Temperature != reviewTemperature {
		t.Errorf("review temperature wrong: %v", reviewReq.Temperature)
	}

	// The synthesis stage sees draft plus critique, with tools re-enabled.
	synthReq := synthesis.requests[0]
	if len(synthReq.Tools) != 1 {
		t.Error("synthesis stage should have tools re-enabled")
	}
	if !strings.Contains(synthReq.Messages[0].Content, "Critique of the draft.") {
		t.Error("synthesis prompt missing the critique")
	}

	// Primary runs with tools, exploratory temperature, and the larger
	// token budget.
	primReq := primary.requests[0]
	if len(primReq.Tools) != 1 {
		t.Error("primary stage should receive tools")
	}
	if primReq.Temperature == nil || *primReq.Temperature != primaryTemperature {
		t.Errorf("primary temperature wrong: %v", primReq.Temperature)
	}
	if primReq.MaxTokens == nil || *primReq.MaxTokens != primaryMaxTokens {
		t.Errorf("primary max tokens wrong: %v", primReq.MaxTokens)
	}
}

func TestRun_PrimaryFailurePropagates(t *testing.T) {
	resolver := &fakeResolver{callers: map[string]llm.Caller{
		"model-a": &erroringCaller{err: fmt.Errorf("boom")},
		"model-b": &scriptedCaller{name: "b"},
		"model-c": &scriptedCaller{name: "c"},
	}}
	p := newPipeline(resolver, nil)

	result, err := p.Run(context.Background(), testConfig(), Request{Question: "q"})

	if err == nil {
		t.Fatal("primary failure must propagate")
	}
	if !strings.Contains(err.Error(), "primary stage") {
		t.Errorf("error should name the stage: %v", err)
	}
	if result != nil {
		t.Errorf("no result expected on primary failure, got %+v", result)
	}
}

func TestRun_ReviewFailureDegrades(t *testing.T) {
	primary := &scriptedCaller{name: "a", responses: []*llm.CallResult{textResponse("Draft answer.")}}
	synthesis := &scriptedCaller{name: "c", responses: []*llm.CallResult{textResponse("never called")}}

	resolver := &fakeResolver{callers: map[string]llm.Caller{
		"model-a": primary,
		"model-b": &erroringCaller{err: fmt.Errorf("rate limit exceeded for openai/model-b after 2 attempts")},
		"model-c": synthesis,
	}}
	p := newPipeline(resolver, nil)

	result, err := p.Run(context.Background(), testConfig(), Request{Question: "q"})

	if err != nil {
		t.Fatalf("review failure must degrade, not propagate: %v", err)
	}
	if !result.Degraded {
		t.Fatal("result should be marked degraded")
	}
	if !strings.Contains(result.DegradedCause, "review stage failed") {
		t.Errorf("cause should name the review stage: %q", result.DegradedCause)
	}
	if result.Review != nil || result.Synthesis != nil {
		t.Error("degraded result must not carry review or synthesis stages")
	}
	if result.FinalContent != "Draft answer." {
		t.Errorf("final content should fall back to primary, got %q", result.FinalContent)
	}
	if result.TotalCostCents != 1 {
		t.Errorf("only the primary stage should be billed, got %d", result.TotalCostCents)
	}
	if synthesis.calls != 0 {
		t.Error("synthesis must not run after a failed review")
	}
}

func TestRun_SynthesisFailureDegrades(t *testing.T) {
	primary := &scriptedCaller{name: "a", responses: []*llm.CallResult{textResponse("Draft answer.")}}
	review := &scriptedCaller{name: "b", responses: []*llm.CallResult{textResponse("Critique.")}}

	resolver := &fakeResolver{callers: map[string]llm.Caller{
		"model-a": primary,
		"model-b": review,
		"model-c": &erroringCaller{err: fmt.Errorf("provider error 503")},
	}}
	p := newPipeline(resolver, nil)

	result, err := p.Run(context.Background(), testConfig(), Request{Question: "q"})

	if err != nil {
		t.Fatalf("synthesis failure must degrade, not propagate: %v", err)
	}
	if !result.Degraded || !strings.Contains(result.DegradedCause, "synthesis stage failed") {
		t.Errorf("degradation should name synthesis: %+v", result)
	}
	if result.Review != nil || result.Synthesis != nil {
		t.Error("degraded result must not carry review or synthesis stages")
	}
	if result.FinalContent != "Draft answer." {
		t.Errorf("final content should fall back to primary, got %q", result.FinalContent)
	}
	// primary and review both executed, so both are billed
	if result.TotalCostCents != 2 {
		t.Errorf("executed rounds stay billed: got %d", result.TotalCostCents)
	}
}

func TestRun_ResolverErrorIsFatal(t *testing.T) {
	resolver := &fakeResolver{callers: map[string]llm.Caller{}}
	p := newPipeline(resolver, nil)

	_, err := p.Run(context.Background(), testConfig(), Request{Question: "q"})

	if err == nil || !strings.Contains(err.Error(), "model-a") {
		t.Fatalf("resolver failure should surface the model: %v", err)
	}
}

func TestRun_PrimaryToolLoopAccumulates(t *testing.T) {
	toolRound := &llm.CallResult{
		ToolCalls:   []llm.ToolInvocation{{ID: "c1", Name: "read_file", Params: []byte(`{}`)}},
		InputTokens: 10, OutputTokens: 5, CostCents: 1,
	}
	primary := &scriptedCaller{name: "a", responses: []*llm.CallResult{toolRound, textResponse("Draft after reading.")}}
	review := &scriptedCaller{name: "b", responses: []*llm.CallResult{textResponse("Critique.")}}
	synthesis := &scriptedCaller{name: "c", responses: []*llm.CallResult{textResponse("Final.")}}

	resolver := &fakeResolver{callers: map[string]llm.Caller{
		"model-a": primary, "model-b": review, "model-c": synthesis,
	}}
	executor := &fakeExecutor{}
	p := newPipeline(resolver, executor)

	result, err := p.Run(context.Background(), testConfig(), Request{Question: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(executor.executed) != 1 || executor.executed[0] != "read_file" {
		t.Errorf("primary tool call not executed: %v", executor.executed)
	}
	if result.Primary.Iterations != 2 {
		t.Errorf("expected 2 primary iterations, got %d", result.Primary.Iterations)
	}
	// 2 primary rounds + review + synthesis = 4 billed calls.
	if result.TotalCostCents != 4 {
		t.Errorf("expected 4 cents across 4 rounds, got %d", result.TotalCostCents)
	}
	if !strings.Contains(result.Primary.Content, "Draft after reading.") {
		t.Errorf("primary content lost: %q", result.Primary.Content)
	}
}

func TestRun_DefaultMessagesFromQuestion(t *testing.T) {
	primary := &scriptedCaller{name: "a", responses: []*llm.CallResult{textResponse("ok")}}
	review := &scriptedCaller{name: "b", responses: []*llm.CallResult{textResponse("fine")}}
	synthesis := &scriptedCaller{name: "c", responses: []*llm.CallResult{textResponse("done")}}

	resolver := &fakeResolver{callers: map[string]llm.Caller{
		"model-a": primary, "model-b": review, "model-c": synthesis,
	}}
	p := newPipeline(resolver, nil)

	_, err := p.Run(context.Background(), testConfig(), Request{Question: "What changed?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := primary.requests[0]
	if len(first.Messages) != 1 || first.Messages[0].Role != "user" || first.Messages[0].Content != "What changed?" {
		t.Errorf("question should become the sole user message: %+v", first.Messages)
	}
	if first.System == "" {
		t.Error("default system prompt should be applied")
	}
}
