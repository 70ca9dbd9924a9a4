// Package config handles loading, defaulting, and persisting SecondOpinion
// configuration, plus hot reload of the file while the daemon runs.
package config

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
	"github.com/leandrotocalini/SecondOpinion/internal/provider"
	"github.com/leandrotocalini/SecondOpinion/internal/trigger"
)

// Config is the persisted configuration from ~/.secondopinion/config.json.
// A partial file is valid: absent fields keep their defaults.
type Config struct {
	Models   ModelsConfig  `json:"models"`
	Triggers trigger.Flags `json:"triggers"`
	Limits   LimitsConfig  `json:"limits"`
	Proxy    ProxyConfig   `json:"proxy"`
	Storage  StorageConfig `json:"storage"`
	Daemon   DaemonConfig  `json:"daemon"`
}

// ModelsConfig names the model each tier runs on.
type ModelsConfig struct {
	Quick        llm.ModelConfig        `json:"quick"`
	Standard     llm.ModelConfig        `json:"standard"`
	Deliberation llm.DeliberationConfig `json:"deliberation"`
}

// ModelFor returns the single-call model for a tier. The deliberate tier
// uses the full Deliberation config instead.
func (m ModelsConfig) ModelFor(tier trigger.Tier) llm.ModelConfig {
	if tier == trigger.TierQuick {
		return m.Quick
	}
	return m.Standard
}

// LimitsConfig bounds outbound calls and the tool-use loop.
type LimitsConfig struct {
	MaxRetries            int `json:"maxRetries,omitempty"`
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds,omitempty"`
	MaxIterations         int `json:"maxIterations,omitempty"`
	WallClockSeconds      int `json:"wallClockSeconds,omitempty"`

	// DailyBudgetCents caps recorded spend per local calendar day.
	// Zero means unlimited.
	DailyBudgetCents int `json:"dailyBudgetCents,omitempty"`
}

// ProxyConfig points at the OpenAI-compatible gateway.
type ProxyConfig struct {
	BaseURL string `json:"baseURL,omitempty"`
	// Slugs overrides the built-in model-to-path mapping. Models missing
	// here keep the adapter's defaults.
	Slugs map[string]string `json:"slugs,omitempty"`
}

// StorageConfig locates the usage ledger and the audit log. Empty paths
// resolve next to the config file.
type StorageConfig struct {
	LedgerPath string `json:"ledgerPath,omitempty"`
	AuditPath  string `json:"auditPath,omitempty"`
}

// DaemonConfig controls serve mode. Port 0 scans the default range.
type DaemonConfig struct {
	Port int `json:"port,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Quick:    llm.ModelConfig{Provider: llm.ProviderAnthropic, Model: "claude-3-5-haiku-20241022"},
			Standard: llm.ModelConfig{Provider: llm.ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
			Deliberation: llm.DeliberationConfig{
				Primary:     llm.ModelConfig{Provider: llm.ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
				Review:      llm.ModelConfig{Provider: llm.ProviderOpenAI, Model: "gpt-4o"},
				Synthesizer: llm.ModelConfig{Provider: llm.ProviderProxy, Model: "gemini-2.5-pro"},
			},
		},
		Triggers: trigger.DefaultFlags(),
		Limits: LimitsConfig{
			MaxRetries:            2,
			RequestTimeoutSeconds: 60,
			MaxIterations:         5,
			WallClockSeconds:      90,
		},
	}
}

// applyDefaults re-fills fields a hand-edited file may have zeroed out.
func (c *Config) applyDefaults(baseDir string) {
	def := Default()

	if c.Models.Quick.Model == "" {
		c.Models.Quick = def.Models.Quick
	}
	if c.Models.Standard.Model == "" {
		c.Models.Standard = def.Models.Standard
	}
	if c.Models.Deliberation.Primary.Model == "" {
		c.Models.Deliberation.Primary = def.Models.Deliberation.Primary
	}
	if c.Models.Deliberation.Review.Model == "" {
		c.Models.Deliberation.Review = def.Models.Deliberation.Review
	}
	if c.Models.Deliberation.Synthesizer.Model == "" {
		c.Models.Deliberation.Synthesizer = def.Models.Deliberation.Synthesizer
	}

	if c.Limits.MaxRetries <= 0 {
		c.Limits.MaxRetries = def.Limits.MaxRetries
	}
	if c.Limits.RequestTimeoutSeconds <= 0 {
		c.Limits.RequestTimeoutSeconds = def.Limits.RequestTimeoutSeconds
	}
	if c.Limits.MaxIterations <= 0 {
		c.Limits.MaxIterations = def.Limits.MaxIterations
	}
	if c.Limits.WallClockSeconds <= 0 {
		c.Limits.WallClockSeconds = def.Limits.WallClockSeconds
	}

	if c.Storage.LedgerPath == "" {
		c.Storage.LedgerPath = join(baseDir, "usage.db")
	}
	if c.Storage.AuditPath == "" {
		c.Storage.AuditPath = join(baseDir, "audit.jsonl")
	}
}

// LoadEnv pulls variables from a .env file in the working directory and from
// the app directory when either exists. Variables already set in the real
// environment win.
func LoadEnv() {
	_ = godotenv.Load()
	if path, err := EnvPath(); err == nil {
		_ = godotenv.Load(path)
	}
}

// Credentials assembles provider credentials from the environment. The
// config file supplies the proxy base URL when the environment does not.
func (c *Config) Credentials() provider.Credentials {
	creds := provider.Credentials{
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		ProxyKey:     os.Getenv("PROXY_API_KEY"),
		ProxyBaseURL: os.Getenv("PROXY_BASE_URL"),
	}
	if creds.ProxyBaseURL == "" {
		creds.ProxyBaseURL = c.Proxy.BaseURL
	}
	return creds
}
