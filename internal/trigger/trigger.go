// Package trigger decides which consultation tier a message deserves.
// Classification is a pure function of the message text and the admin
// trigger flags: no model calls, no state. A companion analyzer may
// escalate a tier based on conversation history, never de-escalate.
package trigger

import (
	"fmt"
	"regexp"
	"strings"
)

// Tier is a consultation depth level.
type Tier string

const (
	// TierQuick answers short factual questions with a single cheap call.
	TierQuick Tier = "quick"
	// TierStandard is the default single-model consultation.
	TierStandard Tier = "standard"
	// TierDeliberate runs the full primary/review/synthesis pipeline.
	TierDeliberate Tier = "deliberate"
)

// rank orders tiers for escalation comparisons.
func (t Tier) rank() int {
	switch t {
	case TierQuick:
		return 0
	case TierStandard:
		return 1
	case TierDeliberate:
		return 2
	default:
		return 1
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierQuick, TierStandard, TierDeliberate:
		return true
	}
	return false
}

// Flags are the admin switches controlling which pattern sets may promote
// a message to the deliberate tier.
type Flags struct {
	OnExplicitRequest  bool `json:"triggerOnExplicitRequest"`
	OnADRCreation      bool `json:"triggerOnADRCreation"`
	OnPromptGeneration bool `json:"triggerOnPromptGeneration"`
	OnSchemaDesign     bool `json:"triggerOnSchemaDesign"`
}

// DefaultFlags enables every trigger.
func DefaultFlags() Flags {
	return Flags{
		OnExplicitRequest:  true,
		OnADRCreation:      true,
		OnPromptGeneration: true,
		OnSchemaDesign:     true,
	}
}

// Result is a classification outcome. Reason and Triggers exist for audit
// trails; nothing downstream branches on them.
type Result struct {
	Tier     Tier     `json:"tier"`
	Reason   string   `json:"reason"`
	Triggers []string `json:"triggers"`
}

// Pattern sets. Matching is case-insensitive and word-bounded so ordinary
// prose does not promote by accident.
var (
	explicitPatterns = compileAll(
		`second opinion`,
		`multi[- ]?model`,
		`think (deeply|harder|carefully)`,
		`deliberate (on|about|over)`,
		`consult (other|multiple|several) models`,
	)

	adrPatterns = compileAll(
		`\badr\b`,
		`architecture decision record`,
		`\bdecision record\b`,
		`document (this|the|that) decision`,
	)

	promptPatterns = compileAll(
		`(write|generate|create|craft|improve|design|draft) (a |an |the )?(better |new )?(system )?prompt`,
		`prompt template`,
		`prompt engineering`,
	)

	schemaPatterns = compileAll(
		`foreign key`,
		`primary key`,
		`\bschema\b`,
		`data model`,
		`database (design|layout|structure)`,
		`(de)?normali[sz]`,
		`unique constraint`,
		`composite index`,
		`\btable (design|structure)\b`,
	)

	quickPatterns = compileAll(
		`quick question`,
		`\bbriefly\b`,
		`\bin short\b`,
		`\btl;?dr\b`,
		`one[- ]liner`,
	)

	complexityPatterns = compileAll(
		`trade[- ]?offs?`,
		`architectur`,
		`scalab`,
		`securit`,
		`reliab`,
		`migrat`,
		`refactor`,
		`integrat`,
		`breaking[- ]change`,
		`backwards? compat`,
	)

	decisionPatterns = compileAll(
		`recommend`,
		`trade[- ]?offs?`,
		`\balternatives?\b`,
		`\boptions?\b`,
		`\bdecision\b`,
		`\bapproach(es)?\b`,
		`pros and cons`,
	)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// countMatches returns how many distinct patterns match the text.
func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			n++
		}
	}
	return n
}

// shortInterrogativeWords is the word ceiling for treating a question as a
// quick one on shape alone.
const shortInterrogativeWords = 12

// lowComplexityWords is the word ceiling for the low-complexity fallback.
const lowComplexityWords = 30

// DetectTier classifies one message. First match wins:
//
//  1. explicit deliberation request (when that flag is on)
//  2. any enabled category pattern set (ADR, prompt generation, schema
//     design); all matched categories are reported
//  3. quick-question shape with zero complexity indicators
//  4. under 30 words with zero complexity indicators
//  5. standard
func DetectTier(message string, flags Flags) Result {
	if flags.OnExplicitRequest && matchAny(explicitPatterns, message) {
		return Result{
			Tier:     TierDeliberate,
			Reason:   "message explicitly requests deliberation",
			Triggers: []string{"explicit_deliberation_request"},
		}
	}

	var categories []string
	if flags.OnADRCreation && matchAny(adrPatterns, message) {
		categories = append(categories, "adr_creation")
	}
	if flags.OnPromptGeneration && matchAny(promptPatterns, message) {
		categories = append(categories, "prompt_generation")
	}
	if flags.OnSchemaDesign && matchAny(schemaPatterns, message) {
		categories = append(categories, "schema_design")
	}
	if len(categories) > 0 {
		return Result{
			Tier:     TierDeliberate,
			Reason:   "matched deliberation categories: " + strings.Join(categories, ", "),
			Triggers: categories,
		}
	}

	hasComplexity := matchAny(complexityPatterns, message)

	if !hasComplexity && isQuickQuestion(message) {
		return Result{
			Tier:     TierQuick,
			Reason:   "quick question with no complexity signals",
			Triggers: []string{"quick_question"},
		}
	}

	if !hasComplexity && wordCount(message) < lowComplexityWords {
		return Result{
			Tier:     TierQuick,
			Reason:   fmt.Sprintf("short message (%d words) with no complexity signals", wordCount(message)),
			Triggers: []string{"low_complexity"},
		}
	}

	return Result{
		Tier:     TierStandard,
		Reason:   "no tier trigger matched",
		Triggers: []string{"default"},
	}
}

// isQuickQuestion reports whether the message either uses quick-question
// vocabulary or is a short interrogative.
func isQuickQuestion(message string) bool {
	if matchAny(quickPatterns, message) {
		return true
	}
	trimmed := strings.TrimSpace(message)
	return strings.HasSuffix(trimmed, "?") && wordCount(trimmed) <= shortInterrogativeWords
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// decisionIndicatorThreshold is how many distinct decision-indicator
// patterns must appear in recent assistant messages before a quick
// conversation escalates to standard.
const decisionIndicatorThreshold = 2

// assistantWindow is how many trailing assistant messages the escalation
// scan considers.
const assistantWindow = 3

// AnalyzeConversationForEscalation re-evaluates a tier against conversation
// history. It moves tiers upward only: re-running the classifier over the
// aggregate user history can lift any tier to deliberate, and
// decision-heavy recent answers lift quick to standard. The current result
// is returned unchanged when no rule fires.
func AnalyzeConversationForEscalation(current Result, userHistory, assistantHistory []string, flags Flags) Result {
	aggregate := DetectTier(strings.Join(userHistory, "\n"), flags)
	if aggregate.Tier == TierDeliberate && TierDeliberate.rank() > current.Tier.rank() {
		return Result{
			Tier:     TierDeliberate,
			Reason:   "conversation history: " + aggregate.Reason,
			Triggers: aggregate.Triggers,
		}
	}

	if current.Tier == TierQuick {
		recent := strings.Join(lastN(assistantHistory, assistantWindow), "\n")
		if countMatches(decisionPatterns, recent) >= decisionIndicatorThreshold {
			return Result{
				Tier:     TierStandard,
				Reason:   "recent answers carry decision-making context",
				Triggers: []string{"conversation_decision_context"},
			}
		}
	}

	return current
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
