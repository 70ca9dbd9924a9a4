package llm

import (
	"fmt"
	"time"
)

// ConfigurationError means a provider cannot be used at all (missing API
// key). Fatal, never retried.
type ConfigurationError struct {
	Provider Provider
	Detail   string
}

func (e *ConfigurationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("provider %s not configured: %s", e.Provider, e.Detail)
	}
	return fmt.Sprintf("provider %s not configured: missing API key", e.Provider)
}

// RateLimitExceeded is raised only after retries are exhausted.
type RateLimitExceeded struct {
	Provider  Provider
	Model     string
	Attempts  int
	LastCause string
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("%s rate limit persisted after %d attempts (model %s): %s",
		e.Provider, e.Attempts, e.Model, e.LastCause)
}

// ProviderError is a non-429 HTTP failure. Fatal for that call, not retried.
type ProviderError struct {
	Provider   Provider
	Model      string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (model %s, HTTP %d): %s",
		e.Provider, e.Model, e.StatusCode, e.Body)
}

// TimeoutError means a single HTTP call exceeded its deadline.
type TimeoutError struct {
	Provider Provider
	Model    string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s call timed out after %s (model %s)",
		e.Provider, e.Elapsed.Round(time.Millisecond), e.Model)
}

// RequestTooLargeError is raised before sending when the estimated request
// size exceeds the safety ceiling, avoiding a guaranteed provider rejection.
type RequestTooLargeError struct {
	EstimatedTokens int
	MaxTokens       int
}

func (e *RequestTooLargeError) Error() string {
	return fmt.Sprintf("request too large: ~%d tokens estimated, ceiling is %d",
		e.EstimatedTokens, e.MaxTokens)
}

// ToolExecutionFailure records a failed tool invocation. It never aborts the
// tool-use loop; the loop serializes it into the tool result instead.
type ToolExecutionFailure struct {
	Tool  string
	Cause string
}

func (e *ToolExecutionFailure) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Cause)
}
