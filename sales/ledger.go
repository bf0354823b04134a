/*
ledger.go - Append-only sales ledger

PURPOSE:
  The Ledger is the source every KPI is derived from. It is written by
  ingestion (outside this module; here the demo dataset and tests) and read
  by both engines. KPI results can always be rebuilt from it, so it is the
  one thing that must never be edited in place.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. ATOMIC BATCHES: a load either lands completely or not at all.
  3. LOAD DATE: every row carries the time it was loaded, distinct from the
     transaction date; the batch quality check is scoped by it.

SEE ALSO:
  - store.go: LedgerStore interface
  - validation/engine.go: batch quality check reads rows by load date
*/
package sales

import (
	"context"
	"time"
)

// Ledger wraps a LedgerStore and stamps load dates.
type Ledger struct {
	Store LedgerStore
	Now   func() time.Time
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{Store: store, Now: time.Now}
}

// Append loads facts as one batch. Rows without a load date get the
// current time.
func (l *Ledger) Append(ctx context.Context, facts ...SalesFact) error {
	if len(facts) == 0 {
		return nil
	}
	now := l.Now().UTC()
	batch := make([]SalesFact, len(facts))
	for i, f := range facts {
		if f.LoadDate.IsZero() {
			f.LoadDate = now
		}
		batch[i] = f
	}
	return l.Store.AppendFacts(ctx, batch)
}

// InRange returns the facts whose transaction day lies in r.
func (l *Ledger) InRange(ctx context.Context, r DateRange) ([]SalesFact, error) {
	return l.Store.FactsInRange(ctx, r)
}
