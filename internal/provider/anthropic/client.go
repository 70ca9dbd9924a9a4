package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
	"github.com/leandrotocalini/SecondOpinion/internal/pricing"
	"github.com/leandrotocalini/SecondOpinion/internal/transport"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	defaultMaxTokens = 4096
)

// Client calls the Anthropic Messages API.
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

// New creates an Anthropic client. An empty API key is allowed here; Call
// reports the ConfigurationError so callers see it per consultation.
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
	return string(llm.ProviderAnthropic)
}

// Call sends one Messages API request and normalizes the response.
func (c *Client) Call(ctx context.Context, req llm.CallRequest) (*llm.CallResult, error) {
	if c.apiKey == "" {
		return nil, &llm.ConfigurationError{Provider: llm.ProviderAnthropic}
	}

	if est := pricing.EstimateCallTokens(req); est > pricing.MaxRequestTokens {
		return nil, &llm.RequestTooLargeError{
			EstimatedTokens: est,
			MaxTokens:       pricing.MaxRequestTokens,
		}
	}

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	respBody, err := c.transport.Send(ctx, transport.Request{
		URL: c.baseURL + "/v1/messages",
		Headers: map[string]string{
			"x-api-key":         c.apiKey,
			"anthropic-version": apiVersion,
		},
		Body:     body,
		Provider: llm.ProviderAnthropic,
		Model:    req.Model,
	})
	if err != nil {
		return nil, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	return normalize(req.Model, &resp), nil
}

// buildRequest translates the provider-agnostic request into the Messages
// API shape.
func buildRequest(req llm.CallRequest) messagesRequest {
	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	mr := messagesRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
	}

	for _, t := range req.Tools {
		mr.Tools = append(mr.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	return mr
}

// convertMessages maps conversation messages onto Anthropic content blocks.
// Tool results become tool_result blocks on a user-role message, and
// consecutive same-role messages are merged to keep roles alternating.
func convertMessages(msgs []llm.Message) []wireMessage {
	var out []wireMessage

	push := func(role string, blocks ...contentBlock) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, wireMessage{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			var blocks []contentBlock
			if m.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Params,
				})
			}
			if len(blocks) > 0 {
				push("assistant", blocks...)
			}

		case "tool":
			push("user", contentBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
				IsError:   m.IsError,
			})

		default:
			push("user", contentBlock{Type: "text", Text: m.Content})
		}
	}

	return out
}

// normalize flattens the response content blocks into the common result
// shape and prices the reported usage.
func normalize(model string, resp *messagesResponse) *llm.CallResult {
	var text strings.Builder
	var calls []llm.ToolInvocation

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			calls = append(calls, llm.ToolInvocation{
				ID:     block.ID,
				Name:   block.Name,
				Params: block.Input,
			})
		}
	}

	return &llm.CallResult{
		Content:      text.String(),
		ToolCalls:    calls,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostCents:    pricing.Cents(model, resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}
}
