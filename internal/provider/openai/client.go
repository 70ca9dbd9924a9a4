package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
	"github.com/leandrotocalini/SecondOpinion/internal/pricing"
	"github.com/leandrotocalini/SecondOpinion/internal/transport"
)

const defaultBaseURL = "https://api.openai.com"

// Client calls the OpenAI chat completions API.
type Client struct {
	apiKey    string
	baseURL   string
	transport *transport.Client
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTransport sets the resilient transport used for outbound calls.
func WithTransport(t *transport.Client) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates an OpenAI client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = transport.New(transport.WithLogger(c.logger))
	}
	return c
}

// Name returns the provider identifier for logging.
func (c *Client) Name() string {
	return string(llm.ProviderOpenAI)
}

// Call sends one chat completion request and normalizes the response.
func (c *Client) Call(ctx context.Context, req llm.CallRequest) (*llm.CallResult, error) {
	if c.apiKey == "" {
		return nil, &llm.ConfigurationError{Provider: llm.ProviderOpenAI}
	}

	if est := pricing.EstimateCallTokens(req); est > pricing.MaxRequestTokens {
		return nil, &llm.RequestTooLargeError{
			EstimatedTokens: est,
			MaxTokens:       pricing.MaxRequestTokens,
		}
	}

	body, err := BuildBody(req)
	if err != nil {
		return nil, err
	}

	respBody, err := c.transport.Send(ctx, transport.Request{
		URL:      c.baseURL + "/v1/chat/completions",
		Headers:  map[string]string{"Authorization": "Bearer " + c.apiKey},
		Body:     body,
		Provider: llm.ProviderOpenAI,
		Model:    req.Model,
	})
	if err != nil {
		return nil, err
	}

	return ParseResponse(llm.ProviderOpenAI, req.Model, respBody)
}

// BuildBody marshals a call request into the chat completions wire format.
// The proxy adapter speaks the same format and reuses this.
func BuildBody(req llm.CallRequest) ([]byte, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal chat completions request: %w", err)
	}
	return body, nil
}

// buildRequest translates the provider-agnostic request into the chat
// completions shape. The system prompt becomes the leading system message.
func buildRequest(req llm.CallRequest) chatRequest {
	cr := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if req.System != "" {
		cr.Messages = append(cr.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		cr.Messages = append(cr.Messages, convertMessage(m))
	}

	for _, t := range req.Tools {
		cr.Tools = append(cr.Tools, toolDef{
			Type: "function",
			Function: toolDefFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(cr.Tools) > 0 {
		cr.ToolChoice = "auto"
	}

	return cr
}

func convertMessage(m llm.Message) chatMessage {
	cm := chatMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		cm.ToolCalls = append(cm.ToolCalls, toolCall{
			ID:   tc.ID,
			Type: "function",
			Function: toolCallFunc{
				Name:      tc.Name,
				Arguments: string(tc.Params),
			},
		})
	}
	return cm
}

// ParseResponse normalizes an OpenAI-format response body into the common
// result shape.
func ParseResponse(provider llm.Provider, model string, body []byte) (*llm.CallResult, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s response contains no choices (model %s)", provider, model)
	}

	msg := resp.Choices[0].Message

	var calls []llm.ToolInvocation
	for _, tc := range msg.ToolCalls {
		params, err := parseArguments(tc.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("parse tool call arguments for %s: %w", tc.Function.Name, err)
		}
		calls = append(calls, llm.ToolInvocation{
			ID:     tc.ID,
			Name:   tc.Function.Name,
			Params: params,
		})
	}

	return &llm.CallResult{
		Content:      msg.Content,
		ToolCalls:    calls,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostCents:    pricing.Cents(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

// parseArguments validates the JSON-encoded argument string. An empty string
// becomes an empty object so tools without parameters still execute.
func parseArguments(s string) (json.RawMessage, error) {
	if s == "" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("invalid JSON: %q", s)
	}
	return json.RawMessage(s), nil
}
