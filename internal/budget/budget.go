// Package budget enforces a daily spend ceiling over the usage ledger.
// The guard reads recorded cost back instead of keeping its own counter,
// so restarts and concurrent daemon processes all see the same total.
package budget

import (
	"fmt"
	"time"

	"github.com/leandrotocalini/SecondOpinion/internal/ledger"
)

// Exceeded is the denial returned when today's recorded spend has
// reached the configured ceiling.
type Exceeded struct {
	LimitCents int
	SpentCents int
}

func (e *Exceeded) Error() string {
	return fmt.Sprintf("daily budget exhausted: spent %d of %d cents today", e.SpentCents, e.LimitCents)
}

// SpendReader reports aggregate usage since a point in time.
// *ledger.Store satisfies it.
type SpendReader interface {
	SummarySince(since time.Time) (ledger.Summary, error)
}

// Guard checks recorded spend against a daily ceiling.
type Guard struct {
	limitCents int
	reader     SpendReader
	now        func() time.Time
}

// NewGuard creates a guard with the given ceiling in cents.
func NewGuard(limitCents int, reader SpendReader) *Guard {
	return &Guard{
		limitCents: limitCents,
		reader:     reader,
		now:        time.Now,
	}
}

// Check returns *Exceeded once spend since local midnight has reached
// the ceiling. Reader errors propagate unwrapped so callers can apply
// their own fail-open policy.
func (g *Guard) Check() error {
	now := g.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	summary, err := g.reader.SummarySince(midnight)
	if err != nil {
		return err
	}
	if summary.CostCents >= g.limitCents {
		return &Exceeded{LimitCents: g.limitCents, SpentCents: summary.CostCents}
	}
	return nil
}
