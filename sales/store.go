/*
store.go - Persistence interfaces for the ledger and engine outputs

PURPOSE:
  Defines the boundary between the engines and the database. Each engine
  depends on the narrowest interface that covers its reads and writes, so
  tests can substitute fakes and the SQLite store can satisfy all of them.

KEY INTERFACES:
  LedgerStore:   Append-only ledger writes and range reads
  ResultStore:   KPI results (delete range, insert, query)
  TxKpiStore:    Transactional wrapper for replace-range recomputation
  QualityStore:  Counts and scans used by the validation checks
  ErrorLogStore: Append-only error log with status workflow
  RegistryStore: Region / customer / product master data

REPLACE-RANGE CONTRACT:
  Recomputation deletes results in a range and inserts fresh ones. Both
  happen inside WithTx: if fn returns an error nothing is committed, so a
  reader never sees a range that was deleted but not yet refilled.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (all interfaces)
  - store/memory/memory.go: in-process ledger, results and error log

SEE ALSO:
  - kpi/engine.go: uses TxKpiStore
  - validation/engine.go: uses QualityStore
  - errorlog/sink.go: uses ErrorLogStore
*/
package sales

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE - Append-only sales facts
// =============================================================================

// LedgerStore persists sales facts. There is no update or delete.
type LedgerStore interface {
	// AppendFacts writes facts atomically. Either all rows land or none do.
	AppendFacts(ctx context.Context, facts []SalesFact) error

	// FactsInRange returns facts whose transaction day lies in r.
	// Facts with no transaction date are never returned.
	FactsInRange(ctx context.Context, r DateRange) ([]SalesFact, error)

	// FactsLoadedOn returns facts whose load date falls on day.
	FactsLoadedOn(ctx context.Context, day time.Time) ([]SalesFact, error)
}

// =============================================================================
// RESULT STORE - Materialized KPI values
// =============================================================================

type ResultStore interface {
	// DeleteResults removes rows of metric whose attributed date is in r.
	DeleteResults(ctx context.Context, metric string, r DateRange) (int64, error)

	// InsertResults appends rows. Ids are assigned by the store.
	InsertResults(ctx context.Context, rows []KpiResult) error

	// Results returns rows for q.Metric ordered by attributed date descending.
	Results(ctx context.Context, q ResultQuery) ([]KpiResult, error)
}

// KpiStore is everything one recomputation unit reads and writes.
type KpiStore interface {
	FactsInRange(ctx context.Context, r DateRange) ([]SalesFact, error)
	ResultStore
}

// TxKpiStore runs a recomputation unit atomically.
type TxKpiStore interface {
	KpiStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(KpiStore) error) error
}

// =============================================================================
// QUALITY STORE - Reads behind the validation checks
// =============================================================================

// OrphanCounts holds rows whose reference points at a missing registry row.
type OrphanCounts struct {
	Checked   int64
	Customers int64
	Products  int64
	Regions   int64
}

func (o OrphanCounts) Total() int64 { return o.Customers + o.Products + o.Regions }

type QualityStore interface {
	FactsLoadedOn(ctx context.Context, day time.Time) ([]SalesFact, error)

	// CountOrphanReferences counts ledger rows with a non-null customer,
	// product or region reference that does not resolve.
	CountOrphanReferences(ctx context.Context) (OrphanCounts, error)

	// CountIncomplete returns the row count of entity and how many of those
	// rows lack a descriptive field.
	CountIncomplete(ctx context.Context, entity Entity) (checked, incomplete int64, err error)

	// CountDuplicateTransactionIDs returns how many distinct transaction
	// ids occur more than once, and the total rows scanned.
	CountDuplicateTransactionIDs(ctx context.Context) (duplicates, checked int64, err error)

	AppendValidationLog(ctx context.Context, entry ValidationLogEntry) (int64, error)
	ValidationLog(ctx context.Context, filter ValidationLogFilter) ([]ValidationLogEntry, error)
}

// =============================================================================
// ERROR LOG STORE - Append-only, status mutable by triage only
// =============================================================================

type ErrorLogStore interface {
	AppendError(ctx context.Context, entry ErrorLogEntry) (int64, error)

	// UpdateErrorStatus changes the resolution state. Returns ErrNotFound
	// for an unknown id.
	UpdateErrorStatus(ctx context.Context, id int64, status ResolutionStatus) error

	Errors(ctx context.Context, filter ErrorLogFilter) ([]ErrorLogEntry, error)
}

// =============================================================================
// REGISTRY STORE - Master data
// =============================================================================

type RegistryStore interface {
	SaveRegion(ctx context.Context, r Region) error
	SaveCustomer(ctx context.Context, c Customer) error
	SaveProduct(ctx context.Context, p Product) error
	Regions(ctx context.Context) ([]Region, error)
	Customers(ctx context.Context) ([]Customer, error)
	Products(ctx context.Context) ([]Product, error)
}
