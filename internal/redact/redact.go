// Package redact scrubs secret-shaped substrings from consultation text
// before it is persisted. Questions routinely carry pasted API keys,
// tokens, and connection strings; the usage ledger and audit log keep
// their copies on disk indefinitely, so stored text gets the scrubbed
// form while the model still sees the original.
package redact

import (
	"regexp"
	"slices"
)

const placeholder = "[REDACTED]"

// defaultPatterns match the secret shapes most likely to appear in
// pasted questions: provider API keys, platform tokens, JWTs, PEM
// blocks, credentialed connection URLs, and RFC 1918 addresses.
var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36,}`),
	regexp.MustCompile(`\bxox[abps]-[A-Za-z0-9-]+`),
	regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`),
	regexp.MustCompile(`\bAIza[A-Za-z0-9_-]{35}\b`),

	// JWTs: three dot-separated base64url segments.
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),

	// PEM private key blocks, including multi-line bodies.
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),

	// Connection URLs whose userinfo section embeds credentials.
	regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqps?)://[^\s"']+`),

	// Private address ranges.
	regexp.MustCompile(`\b10\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
	regexp.MustCompile(`\b172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}\b`),
	regexp.MustCompile(`\b192\.168\.\d{1,3}\.\d{1,3}\b`),
}

// Redactor replaces secret-shaped substrings with a placeholder.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New returns a redactor loaded with the built-in patterns.
func New() *Redactor {
	return &Redactor{patterns: slices.Clone(defaultPatterns)}
}

// Add compiles extra patterns into the redactor. On a compile error the
// redactor keeps the patterns added so far.
func (r *Redactor) Add(patterns ...string) error {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return err
		}
		r.patterns = append(r.patterns, re)
	}
	return nil
}

// Redact returns text with every match replaced by [REDACTED].
func (r *Redactor) Redact(text string) string {
	for _, p := range r.patterns {
		text = p.ReplaceAllString(text, placeholder)
	}
	return text
}

// ContainsSensitive reports whether text matches any pattern.
func (r *Redactor) ContainsSensitive(text string) bool {
	for _, p := range r.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

var std = New()

// String scrubs text with the built-in patterns.
func String(text string) string {
	return std.Redact(text)
}
