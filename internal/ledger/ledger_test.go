package ledger

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{ID: "a", Question: "first", Tier: "quick", Model: "claude-3-5-haiku-20241022", InputTokens: 100, OutputTokens: 40, CostCents: 1, CreatedAt: base},
		{ID: "b", Question: "second", Tier: "standard", Model: "claude-sonnet-4-20250514", InputTokens: 900, OutputTokens: 300, CostCents: 2, CreatedAt: base.Add(time.Minute)},
		{ID: "c", Question: "third", Tier: "deliberate", Model: "claude-sonnet-4-20250514", InputTokens: 4000, OutputTokens: 1500, CostCents: 9, Degraded: true, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := s.Record(e); err != nil {
			t.Fatalf("Record(%s) error = %v", e.ID, err)
		}
	}

	recent, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(recent))
	}
	if recent[0].ID != "c" || recent[1].ID != "b" {
		t.Errorf("order = %s, %s; want c, b", recent[0].ID, recent[1].ID)
	}
	if !recent[0].Degraded {
		t.Error("degraded flag lost on round trip")
	}
	if !recent[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("created_at = %v", recent[0].CreatedAt)
	}
}

func TestRecord_TruncatesLongQuestions(t *testing.T) {
	s := openTestStore(t)

	long := strings.Repeat("q", 1000)
	if err := s.Record(Entry{ID: "x", Question: long, Tier: "quick", Model: "m"}); err != nil {
		t.Fatal(err)
	}

	recent, err := s.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent[0].Question) != maxQuestionLen+len("...") {
		t.Errorf("stored question length = %d", len(recent[0].Question))
	}
	if !strings.HasSuffix(recent[0].Question, "...") {
		t.Errorf("question should end with ellipsis: %q", recent[0].Question[len(recent[0].Question)-10:])
	}
}

func TestSummarySince(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := Entry{ID: "old", Question: "q", Tier: "quick", Model: "m", InputTokens: 10, OutputTokens: 5, CostCents: 1, CreatedAt: base.Add(-48 * time.Hour)}
	q1 := Entry{ID: "q1", Question: "q", Tier: "quick", Model: "m", InputTokens: 100, OutputTokens: 50, CostCents: 1, CreatedAt: base}
	q2 := Entry{ID: "q2", Question: "q", Tier: "quick", Model: "m", InputTokens: 200, OutputTokens: 80, CostCents: 2, CreatedAt: base.Add(time.Hour)}
	d1 := Entry{ID: "d1", Question: "q", Tier: "deliberate", Model: "m", InputTokens: 5000, OutputTokens: 2000, CostCents: 12, CreatedAt: base.Add(2 * time.Hour)}
	for _, e := range []Entry{old, q1, q2, d1} {
		if err := s.Record(e); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.SummarySince(base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("SummarySince() error = %v", err)
	}

	if sum.Consultations != 3 {
		t.Errorf("consultations = %d, want 3", sum.Consultations)
	}
	if sum.InputTokens != 5300 || sum.OutputTokens != 2130 {
		t.Errorf("token totals = %d/%d", sum.InputTokens, sum.OutputTokens)
	}
	if sum.CostCents != 15 {
		t.Errorf("cost = %d, want 15", sum.CostCents)
	}
	if sum.ByTier["quick"].Consultations != 2 || sum.ByTier["quick"].CostCents != 3 {
		t.Errorf("quick totals = %+v", sum.ByTier["quick"])
	}
	if sum.ByTier["deliberate"].CostCents != 12 {
		t.Errorf("deliberate totals = %+v", sum.ByTier["deliberate"])
	}
	if _, ok := sum.ByTier["standard"]; ok {
		t.Error("standard tier should be absent from the summary")
	}
}

func TestOpen_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(Entry{ID: "persist", Question: "q", Tier: "quick", Model: "m"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()

	recent, err := s2.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].ID != "persist" {
		t.Errorf("rows lost across reopen: %+v", recent)
	}
}

func TestSummarySince_EmptyLedger(t *testing.T) {
	s := openTestStore(t)

	sum, err := s.SummarySince(time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Consultations != 0 || sum.CostCents != 0 || len(sum.ByTier) != 0 {
		t.Errorf("empty ledger summary = %+v", sum)
	}
}
