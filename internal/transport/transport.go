// Package transport wraps outbound provider HTTP calls with per-call timeout
// cancellation and rate-limit retry. Successful response bodies pass through
// untouched; deserialization belongs to the caller.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
)

const (
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the total attempt budget for rate-limited calls.
	DefaultMaxRetries = 2

	baseDelay = 3 * time.Second
	maxDelay  = 10 * time.Second
)

// Request describes one outbound provider call. Provider and Model are
// diagnostic labels carried into any error raised for the call.
type Request struct {
	URL     string
	Headers map[string]string
	Body    []byte

	// MaxRetries is the total attempt budget, counted 1..MaxRetries.
	// Zero means DefaultMaxRetries.
	MaxRetries int

	// Timeout is the per-attempt deadline. Zero means DefaultTimeout.
	Timeout time.Duration

	Provider llm.Provider
	Model    string
}

// Client issues provider HTTP requests with retry on HTTP 429.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	sleepFn    func(context.Context, time.Duration)
	maxRetries int
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithSleepFunc overrides the backoff sleep function (for testing).
func WithSleepFunc(fn func(context.Context, time.Duration)) Option {
	return func(cl *Client) {
		cl.sleepFn = fn
	}
}

// WithCallDefaults overrides the retry and timeout defaults applied when a
// request leaves them zero.
func WithCallDefaults(maxRetries int, timeout time.Duration) Option {
	return func(cl *Client) {
		if maxRetries > 0 {
			cl.maxRetries = maxRetries
		}
		if timeout > 0 {
			cl.timeout = timeout
		}
	}
}

// defaultSleep respects context cancellation while waiting.
func defaultSleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// New creates a transport client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		logger:     slog.Default(),
		sleepFn:    defaultSleep,
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rateLimited signals a single 429 attempt; Send converts it into
// llm.RateLimitExceeded once the attempt budget is spent.
type rateLimited struct {
	cause      string
	retryAfter time.Duration
}

func (e *rateLimited) Error() string {
	return "rate limited: " + e.cause
}

// Send posts the request. HTTP 429 responses are retried after a bounded
// wait; any other non-2xx response fails immediately. On success the
// response body is returned as-is.
func (c *Client) Send(ctx context.Context, req Request) ([]byte, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.maxRetries
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	var lastCause string
	for attempt := 1; attempt <= maxRetries; attempt++ {
		body, err := c.doAttempt(ctx, req, timeout)
		if err == nil {
			return body, nil
		}

		var rl *rateLimited
		if !errors.As(err, &rl) {
			return nil, err
		}
		lastCause = rl.cause

		if attempt == maxRetries {
			break
		}

		delay := retryDelay(rl.retryAfter, attempt)
		c.logger.Warn("provider rate limited, retrying",
			"provider", req.Provider,
			"model", req.Model,
			"attempt", attempt,
			"delay", delay,
		)

		c.sleepFn(ctx, delay)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &llm.RateLimitExceeded{
		Provider:  req.Provider,
		Model:     req.Model,
		Attempts:  maxRetries,
		LastCause: lastCause,
	}
}

// doAttempt performs a single HTTP request under its own deadline.
func (c *Client) doAttempt(ctx context.Context, req Request, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", req.Provider, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, &llm.TimeoutError{
				Provider: req.Provider,
				Model:    req.Model,
				Elapsed:  time.Since(start),
			}
		}
		return nil, fmt.Errorf("%s request: %w", req.Provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, &llm.TimeoutError{
				Provider: req.Provider,
				Model:    req.Model,
				Elapsed:  time.Since(start),
			}
		}
		return nil, fmt.Errorf("read %s response: %w", req.Provider, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		cause := string(body)
		if cause == "" {
			cause = http.StatusText(resp.StatusCode)
		}
		return nil, &rateLimited{
			cause:      cause,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &llm.ProviderError{
			Provider:   req.Provider,
			Model:      req.Model,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return body, nil
}

// retryDelay computes the wait before the next attempt. A server-supplied
// Retry-After wins when positive; otherwise the delay grows with the attempt
// number. Either way the wait never exceeds maxDelay.
func retryDelay(retryAfter time.Duration, attempt int) time.Duration {
	if retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}

	d := baseDelay * time.Duration(attempt)
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// parseRetryAfter parses the Retry-After header value as seconds.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
