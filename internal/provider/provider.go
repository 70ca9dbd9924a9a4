// Package provider selects the adapter for a model configuration. Adapters
// are created once per provider family and reused, so per-model circuit
// breaker state survives across consultations.
package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
	"github.com/leandrotocalini/SecondOpinion/internal/provider/anthropic"
	"github.com/leandrotocalini/SecondOpinion/internal/provider/openai"
	"github.com/leandrotocalini/SecondOpinion/internal/provider/proxy"
	"github.com/leandrotocalini/SecondOpinion/internal/transport"
)

// Credentials holds the per-provider authentication material. Empty keys are
// allowed; the adapter reports a ConfigurationError when first called.
type Credentials struct {
	AnthropicKey string
	OpenAIKey    string
	ProxyKey     string
	ProxyBaseURL string
}

// Factory hands out callers per provider family.
type Factory struct {
	creds      Credentials
	transport  *transport.Client
	logger     *slog.Logger
	proxySlugs map[string]string

	mu      sync.Mutex
	callers map[llm.Provider]llm.Caller
}

// Option configures a Factory.
type Option func(*Factory)

// WithTransport sets the resilient transport shared by all adapters.
func WithTransport(t *transport.Client) Option {
	return func(f *Factory) {
		f.transport = t
	}
}

// WithLogger sets a structured logger passed to every adapter.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = l
	}
}

// WithProxySlugs overrides the proxy gateway's model-to-slug mapping.
func WithProxySlugs(slugs map[string]string) Option {
	return func(f *Factory) {
		f.proxySlugs = slugs
	}
}

// NewFactory creates a caller factory for the given credentials.
func NewFactory(creds Credentials, opts ...Option) *Factory {
	f := &Factory{
		creds:   creds,
		logger:  slog.Default(),
		callers: make(map[llm.Provider]llm.Caller),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = transport.New(transport.WithLogger(f.logger))
	}
	return f
}

// ForModel returns the caller for the model's provider family.
func (f *Factory) ForModel(cfg llm.ModelConfig) (llm.Caller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.callers[cfg.Provider]; ok {
		return c, nil
	}

	var c llm.Caller
	switch cfg.Provider {
	case llm.ProviderAnthropic:
		c = anthropic.New(f.creds.AnthropicKey,
			anthropic.WithTransport(f.transport),
			anthropic.WithLogger(f.logger),
		)
	case llm.ProviderOpenAI:
		c = openai.New(f.creds.OpenAIKey,
			openai.WithTransport(f.transport),
			openai.WithLogger(f.logger),
		)
	case llm.ProviderProxy:
		opts := []proxy.Option{
			proxy.WithTransport(f.transport),
			proxy.WithLogger(f.logger),
		}
		if f.proxySlugs != nil {
			opts = append(opts, proxy.WithSlugs(f.proxySlugs))
		}
		c = proxy.New(f.creds.ProxyKey, f.creds.ProxyBaseURL, opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q (model %s)", cfg.Provider, cfg.Model)
	}

	f.callers[cfg.Provider] = c
	return c, nil
}
