// Package pricing maps token usage to integer cents using a static per-model
// price table. The table is read-only configuration data, never mutated at
// runtime.
package pricing

import (
	"math"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
)

// modelPricing maps model IDs to per-million-token prices (input, output).
// Approximate rates, used for estimation rather than billing.
var modelPricing = map[string][2]float64{
	// Anthropic
	"claude-opus-4-6":            {15.0, 75.0},
	"claude-sonnet-4-5-20250929": {3.0, 15.0},
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-3-5-haiku-20241022":  {0.8, 4.0},
	// OpenAI
	"o3":          {10.0, 40.0},
	"gpt-4o":      {2.5, 10.0},
	"gpt-4o-mini": {0.15, 0.6},
	// Proxy-routed
	"gemini-2.5-pro":   {1.25, 10.0},
	"gemini-2.0-flash": {0.1, 0.4},
	"deepseek-chat":    {0.14, 0.28},
	"kimi-k2":          {0.6, 2.0},
}

// Default prices for models missing from the table, assuming a mid-tier model.
const (
	defaultInputPrice  = 3.0
	defaultOutputPrice = 15.0
)

// MaxRequestTokens is the pre-flight ceiling on estimated request size.
// Requests above it are rejected before sending.
const MaxRequestTokens = 25_000

// Price returns the per-million-token input and output price for a model.
func Price(model string) (inputPrice, outputPrice float64) {
	if prices, ok := modelPricing[model]; ok {
		return prices[0], prices[1]
	}
	return defaultInputPrice, defaultOutputPrice
}

// Cents converts real token usage into integer cents, rounding up.
func Cents(model string, inputTokens, outputTokens int) int {
	inputPrice, outputPrice := Price(model)

	usd := float64(inputTokens)/1_000_000*inputPrice +
		float64(outputTokens)/1_000_000*outputPrice

	return int(math.Ceil(usd * 100))
}

// EstimateTokens estimates the token count of a text. Rough rule: 1 token ≈ 4
// characters, rounded up.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateCallTokens estimates the token footprint of an outbound call: the
// system prompt plus every message's text and tool payloads. Used for the
// pre-flight size check before a request is sent.
func EstimateCallTokens(req llm.CallRequest) int {
	n := EstimateTokens(req.System)
	for _, m := range req.Messages {
		n += EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			n += EstimateTokens(string(tc.Params))
		}
	}
	return n
}
