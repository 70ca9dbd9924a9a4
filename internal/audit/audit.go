// Package audit records consultation routing decisions to an append-only
// JSONL file, so tier choices and degradations stay explainable after the
// fact.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the audited events.
type Kind string

const (
	// TierSelection records the classifier picking an execution tier.
	TierSelection Kind = "tier_selection"
	// Escalation records conversation context raising the tier after the
	// per-message classification.
	Escalation Kind = "escalation"
	// DegradedDeliberation records a deliberation stage failing and the
	// result falling back to the primary answer.
	DegradedDeliberation Kind = "degraded_deliberation"
	// ForcedFinal records loop budgets running out and a final tool-free
	// call being forced.
	ForcedFinal Kind = "forced_final"
)

// Record is one audit entry. ID and Timestamp are filled on write.
type Record struct {
	Timestamp      time.Time      `json:"ts"`
	ID             string         `json:"id"`
	ConsultationID string         `json:"consultation_id"`
	Kind           Kind           `json:"kind"`
	Tier           string         `json:"tier,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Triggers       []string       `json:"triggers,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
}

func newID() string {
	return uuid.NewString()
}

// FilterByKind returns only records of the given kind.
func FilterByKind(records []Record, kind Kind) []Record {
	var filtered []Record
	for _, r := range records {
		if r.Kind == kind {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Summary returns a count of records by kind.
func Summary(records []Record) map[Kind]int {
	counts := make(map[Kind]int)
	for _, r := range records {
		counts[r.Kind]++
	}
	return counts
}
