// Package ledger persists per-consultation usage to SQLite so spend stays
// inspectable across sessions.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// maxQuestionLen bounds the stored question summary.
const maxQuestionLen = 240

// timeFormat is RFC3339 at second precision. Fixed width keeps string
// comparison in SQL chronological.
const timeFormat = "2006-01-02T15:04:05Z07:00"

// Entry is one recorded consultation.
type Entry struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	Tier         string    `json:"tier"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostCents    int       `json:"cost_cents"`
	DurationMs   int64     `json:"duration_ms"`
	Degraded     bool      `json:"degraded,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TierTotals aggregates one tier's share of a Summary.
type TierTotals struct {
	Consultations int `json:"consultations"`
	CostCents     int `json:"cost_cents"`
}

// Summary aggregates usage over a time window.
type Summary struct {
	Consultations int                   `json:"consultations"`
	InputTokens   int                   `json:"input_tokens"`
	OutputTokens  int                   `json:"output_tokens"`
	CostCents     int                   `json:"cost_cents"`
	ByTier        map[string]TierTotals `json:"by_tier"`
}

// Store is a SQLite-backed usage ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS consultations (
			id            TEXT PRIMARY KEY,
			question      TEXT NOT NULL,
			tier          TEXT NOT NULL,
			model         TEXT NOT NULL,
			input_tokens  INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost_cents    INTEGER NOT NULL,
			duration_ms   INTEGER NOT NULL DEFAULT 0,
			degraded      INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create consultations table: %w", err)
	}

	// Migrate: add degraded for existing databases
	db.Exec(`ALTER TABLE consultations ADD COLUMN degraded INTEGER NOT NULL DEFAULT 0`)

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_consultations_created_at ON consultations(created_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger index: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts one consultation. A zero CreatedAt becomes now; long
// questions are truncated.
func (s *Store) Record(e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	question := e.Question
	if len(question) > maxQuestionLen {
		question = question[:maxQuestionLen] + "..."
	}

	_, err := s.db.Exec(
		`INSERT INTO consultations (id, question, tier, model, input_tokens, output_tokens, cost_cents, duration_ms, degraded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, question, e.Tier, e.Model, e.InputTokens, e.OutputTokens, e.CostCents, e.DurationMs,
		boolToInt(e.Degraded), e.CreatedAt.UTC().Format(timeFormat),
	)
	return err
}

// Recent returns the n most recent entries, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, question, tier, model, input_tokens, output_tokens, cost_cents, duration_ms, degraded, created_at
		 FROM consultations ORDER BY created_at DESC, rowid DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var degraded int
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Question, &e.Tier, &e.Model, &e.InputTokens, &e.OutputTokens,
			&e.CostCents, &e.DurationMs, &degraded, &createdAt); err != nil {
			return nil, err
		}
		e.Degraded = degraded != 0
		e.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SummarySince aggregates usage recorded at or after the given time.
func (s *Store) SummarySince(since time.Time) (Summary, error) {
	summary := Summary{ByTier: make(map[string]TierTotals)}

	rows, err := s.db.Query(
		`SELECT tier, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_cents), 0)
		 FROM consultations WHERE created_at >= ? GROUP BY tier`,
		since.UTC().Format(timeFormat),
	)
	if err != nil {
		return summary, err
	}
	defer rows.Close()

	for rows.Next() {
		var tier string
		var count, in, out, cents int
		if err := rows.Scan(&tier, &count, &in, &out, &cents); err != nil {
			return summary, err
		}
		summary.Consultations += count
		summary.InputTokens += in
		summary.OutputTokens += out
		summary.CostCents += cents
		summary.ByTier[tier] = TierTotals{Consultations: count, CostCents: cents}
	}
	return summary, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
