// Package llm defines the provider-agnostic call contract shared by every
// provider adapter, the tool-use loop, and the deliberation pipeline.
//
// Adapters translate CallRequest into their provider's wire format and
// normalize the response into CallResult; nothing outside the adapter ever
// branches on provider identity.
package llm

import (
	"context"
	"encoding/json"
)

// Provider identifies a provider family.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderProxy     Provider = "proxy"
)

// ModelConfig identifies one callable endpoint. Immutable, supplied by
// configuration.
type ModelConfig struct {
	Provider Provider `json:"provider"`
	Model    string   `json:"model"`
}

// DeliberationConfig names the three models used by the deliberate tier.
type DeliberationConfig struct {
	Primary     ModelConfig `json:"primary"`
	Review      ModelConfig `json:"review"`
	Synthesizer ModelConfig `json:"synthesizer"`
}

// Message represents a conversation message in a consultation.
// Tool results are messages with Role "tool" carrying the ToolCallID they
// answer; adapters re-shape them for their wire format.
type Message struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []ToolInvocation `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	IsError    bool             `json:"is_error,omitempty"`
}

// ToolSpec describes a tool's calling contract. The parameter schema is
// opaque to this package; it is owned by the tool registry.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolInvocation is one request from the model to call a tool, normalized
// from the provider's wire shape immediately on parse. Params always holds a
// valid JSON object.
type ToolInvocation struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
}

// ToolOutcome is the result of executing one tool invocation. This package
// treats it as an opaque payload to feed back to the model.
type ToolOutcome struct {
	Success         bool   `json:"success"`
	Result          string `json:"result,omitempty"`
	FormattedResult string `json:"formatted_result,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Payload returns the string to send back to the model: the formatted result
// when present, otherwise the raw result, otherwise the error.
func (o ToolOutcome) Payload() string {
	if !o.Success && o.Error != "" {
		return o.Error
	}
	if o.FormattedResult != "" {
		return o.FormattedResult
	}
	return o.Result
}

// CallRequest is one provider-agnostic chat call.
type CallRequest struct {
	Model       string     `json:"model"`
	System      string     `json:"system,omitempty"`
	Messages    []Message  `json:"messages"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	MaxTokens   *int       `json:"max_tokens,omitempty"`
}

// CallResult is the normalized output of one provider round.
type CallResult struct {
	Content      string           `json:"content"`
	ToolCalls    []ToolInvocation `json:"tool_calls,omitempty"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	CostCents    int              `json:"cost_cents"`
}

// HasToolCalls returns true if the model requested any tool invocations.
func (r *CallResult) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Caller makes one chat call to a language model. Each provider adapter
// implements it; the tool-use loop and the deliberation pipeline consume it.
type Caller interface {
	Call(ctx context.Context, req CallRequest) (*CallResult, error)

	// Name returns the provider:model identifier for logging.
	Name() string
}

// ToolExecutor executes tool invocations and lists available tools. The
// tools.Registry satisfies this interface.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolInvocation) ToolOutcome
	ListTools() []ToolSpec
}

// Float64 returns a pointer to v, for optional request fields.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional request fields.
func Int(v int) *int { return &v }
