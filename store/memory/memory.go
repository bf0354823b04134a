// Package memory provides an in-process store for the ledger, KPI results
// and error log.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/sales-kpi-engine/sales"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory satisfies sales.LedgerStore, sales.TxKpiStore and
// sales.ErrorLogStore. WithTx stages result writes on a copy and swaps it
// in on success, so a failed unit leaves no trace.
type Memory struct {
	mu      sync.RWMutex
	facts   []sales.SalesFact // ordered by transaction date, then append order
	results resultTable
	errors  []sales.ErrorLogEntry
	nextRow int64
	now     func() time.Time
}

type resultTable struct {
	rows   []sales.KpiResult
	nextID int64
}

func (t resultTable) clone() resultTable {
	return resultTable{rows: slices.Clone(t.rows), nextID: t.nextID}
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// WithClock overrides the clock used for default timestamps.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// =============================================================================
// LEDGER (sales.LedgerStore interface)
// =============================================================================

// AppendFacts adds facts atomically. Append-only.
func (m *Memory) AppendFacts(_ context.Context, facts []sales.SalesFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range facts {
		if f.LoadDate.IsZero() {
			return fmt.Errorf("fact %d: missing load date", len(m.facts))
		}
	}
	for _, f := range facts {
		m.appendLocked(f)
	}
	return nil
}

func (m *Memory) appendLocked(f sales.SalesFact) {
	m.nextRow++
	f.RowID = m.nextRow

	// Binary search for insertion point; undated facts sort first.
	at := sortKey(f)
	i := sort.Search(len(m.facts), func(i int) bool {
		return sortKey(m.facts[i]).After(at)
	})
	m.facts = slices.Insert(m.facts, i, f)
}

func sortKey(f sales.SalesFact) time.Time {
	if f.TransactionDate == nil {
		return time.Time{}
	}
	return *f.TransactionDate
}

func (m *Memory) FactsInRange(_ context.Context, r sales.DateRange) ([]sales.SalesFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.factsInRangeLocked(r), nil
}

func (m *Memory) factsInRangeLocked(r sales.DateRange) []sales.SalesFact {
	var out []sales.SalesFact
	for _, f := range m.facts {
		if f.TransactionDate != nil && r.Contains(*f.TransactionDate) {
			out = append(out, f)
		}
	}
	return out
}

func (m *Memory) FactsLoadedOn(_ context.Context, day time.Time) ([]sales.SalesFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d := sales.DayOf(day)
	var out []sales.SalesFact
	for _, f := range m.facts {
		if sales.DayOf(f.LoadDate).Equal(d) {
			out = append(out, f)
		}
	}
	return out, nil
}

// =============================================================================
// RESULTS (sales.TxKpiStore interface)
// =============================================================================

func (m *Memory) DeleteResults(_ context.Context, metric string, r sales.DateRange) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results.delete(metric, r), nil
}

func (m *Memory) InsertResults(_ context.Context, rows []sales.KpiResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results.insert(rows, m.now())
	return nil
}

func (m *Memory) Results(_ context.Context, q sales.ResultQuery) ([]sales.KpiResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.results.query(q), nil
}

// WithTx runs fn against a staged copy of the results table. Nothing is
// visible to readers until fn returns nil.
func (m *Memory) WithTx(ctx context.Context, fn func(sales.KpiStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m, results: m.results.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.results = tx.results
	return nil
}

// memTx is the store view handed to WithTx callbacks. The parent lock is
// already held.
type memTx struct {
	m       *Memory
	results resultTable
}

func (tx *memTx) FactsInRange(_ context.Context, r sales.DateRange) ([]sales.SalesFact, error) {
	return tx.m.factsInRangeLocked(r), nil
}

func (tx *memTx) DeleteResults(_ context.Context, metric string, r sales.DateRange) (int64, error) {
	return tx.results.delete(metric, r), nil
}

func (tx *memTx) InsertResults(_ context.Context, rows []sales.KpiResult) error {
	tx.results.insert(rows, tx.m.now())
	return nil
}

func (tx *memTx) Results(_ context.Context, q sales.ResultQuery) ([]sales.KpiResult, error) {
	return tx.results.query(q), nil
}

func (t *resultTable) delete(metric string, r sales.DateRange) int64 {
	kept := t.rows[:0]
	var n int64
	for _, row := range t.rows {
		if row.Metric == metric && r.Contains(row.Date) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return n
}

func (t *resultTable) insert(rows []sales.KpiResult, now time.Time) {
	for _, r := range rows {
		t.nextID++
		r.ID = t.nextID
		r.Date = sales.DayOf(r.Date)
		if r.CalculatedAt.IsZero() {
			r.CalculatedAt = now.UTC()
		}
		t.rows = append(t.rows, r)
	}
}

func (t resultTable) query(q sales.ResultQuery) []sales.KpiResult {
	var out []sales.KpiResult
	for _, r := range t.rows {
		if r.Metric != q.Metric {
			continue
		}
		if q.From != nil && r.Date.Before(sales.DayOf(*q.From)) {
			continue
		}
		if q.To != nil && r.Date.After(sales.DayOf(*q.To)) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.ID < b.ID
	})
	return out
}

// =============================================================================
// ERROR LOG (sales.ErrorLogStore interface)
// =============================================================================

func (m *Memory) AppendError(_ context.Context, e sales.ErrorLogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = int64(len(m.errors) + 1)
	if e.Status == "" {
		e.Status = sales.ResolutionPending
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now().UTC()
	}
	m.errors = append(m.errors, e)
	return e.ID, nil
}

func (m *Memory) UpdateErrorStatus(_ context.Context, id int64, status sales.ResolutionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", sales.ErrInvalidStatus, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id < 1 || id > int64(len(m.errors)) {
		return fmt.Errorf("error log entry %d: %w", id, sales.ErrNotFound)
	}
	m.errors[id-1].Status = status
	return nil
}

// Errors returns entries newest first.
func (m *Memory) Errors(_ context.Context, filter sales.ErrorLogFilter) ([]sales.ErrorLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []sales.ErrorLogEntry
	for i := len(m.errors) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.errors[i]
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
