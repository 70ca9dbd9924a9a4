// Package proxy adapts the call contract to OpenAI-compatible proxy
// gateways. These authenticate with an x-api-key header and route requests
// through per-model URL slugs. Per-model circuit breakers isolate failures
// so one dead upstream model does not take the whole gateway down.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
	"github.com/leandrotocalini/SecondOpinion/internal/pricing"
	"github.com/leandrotocalini/SecondOpinion/internal/provider/openai"
	"github.com/leandrotocalini/SecondOpinion/internal/transport"
)

// defaultSlugs maps model IDs to the gateway's URL path slugs. Data-driven:
// a new model is a mapping entry, not a code change. Models missing from the
// table use their own ID as the slug.
var defaultSlugs = map[string]string{
	"gemini-2.5-pro":   "gemini-pro",
	"gemini-2.0-flash": "gemini-flash",
	"deepseek-chat":    "deepseek",
	"kimi-k2":          "kimi",
}

// Client calls an OpenAI-compatible proxy gateway.
type Client struct {
	apiKey    string
	baseURL   string
	slugs     map[string]string
	transport *transport.Client
	logger    *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*llm.CallResult]
}

// Option configures a Client.
type Option func(*Client)

// WithSlugs replaces the model-to-slug mapping.
func WithSlugs(slugs map[string]string) Option {
	return func(c *Client) {
		c.slugs = slugs
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

// New creates a proxy client for the gateway at baseURL.
func New(apiKey, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		baseURL:  baseURL,
		slugs:    defaultSlugs,
		logger:   slog.Default(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*llm.CallResult]),
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
	return string(llm.ProviderProxy)
}

// Call sends one request through the gateway, guarded by the model's
// circuit breaker.
func (c *Client) Call(ctx context.Context, req llm.CallRequest) (*llm.CallResult, error) {
	if c.apiKey == "" {
		return nil, &llm.ConfigurationError{Provider: llm.ProviderProxy}
	}
	if c.baseURL == "" {
		return nil, &llm.ConfigurationError{Provider: llm.ProviderProxy, Detail: "missing gateway base URL"}
	}

	cb := c.getOrCreateBreaker(req.Model)

	result, err := cb.Execute(func() (*llm.CallResult, error) {
		return c.doCall(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("proxy gateway unavailable for model %s: %w", req.Model, err)
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) doCall(ctx context.Context, req llm.CallRequest) (*llm.CallResult, error) {
	if est := pricing.EstimateCallTokens(req); est > pricing.MaxRequestTokens {
		return nil, &llm.RequestTooLargeError{
			EstimatedTokens: est,
			MaxTokens:       pricing.MaxRequestTokens,
		}
	}

	body, err := openai.BuildBody(req)
	if err != nil {
		return nil, err
	}

	respBody, err := c.transport.Send(ctx, transport.Request{
		URL:      c.endpointFor(req.Model),
		Headers:  map[string]string{"x-api-key": c.apiKey},
		Body:     body,
		Provider: llm.ProviderProxy,
		Model:    req.Model,
	})
	if err != nil {
		return nil, err
	}

	return openai.ParseResponse(llm.ProviderProxy, req.Model, respBody)
}

// endpointFor resolves the gateway URL for a model via the slug table.
func (c *Client) endpointFor(model string) string {
	slug, ok := c.slugs[model]
	if !ok {
		slug = model
	}
	return c.baseURL + "/" + slug + "/chat/completions"
}

// getOrCreateBreaker returns the circuit breaker for the given model,
// creating one if it doesn't exist. Per-model breakers isolate failures.
func (c *Client) getOrCreateBreaker(model string) *gobreaker.CircuitBreaker[*llm.CallResult] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[model]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[*llm.CallResult](gobreaker.Settings{
		Name:        "proxy-" + model,
		MaxRequests: 1,                // Allow 1 probe request in half-open state
		Interval:    0,                // Don't clear counts in closed state
		Timeout:     30 * time.Second, // Time to wait before probing after open
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Client-side rejections say nothing about gateway health.
			var tooLarge *llm.RequestTooLargeError
			var misconfigured *llm.ConfigurationError
			if errors.As(err, &tooLarge) || errors.As(err, &misconfigured) {
				return true
			}
			var pe *llm.ProviderError
			if errors.As(err, &pe) {
				// 4xx means our request was bad, not that the gateway is down.
				return pe.StatusCode < 500
			}
			return false
		},
	})

	c.breakers[model] = cb
	return cb
}
