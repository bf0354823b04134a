/*
Package sales provides the core data model shared by the KPI and validation engines.

PURPOSE:
  Defines the ledger record (SalesFact), the reference registries
  (Region, Customer, Product) and the three persisted outputs: KPI results,
  validation log entries and error log entries. Engines depend on these
  types and on the store interfaces in store.go, never on a database.

KEY CONCEPTS IN THIS FILE (types.go):
  - SalesFact: one ledger row, read-only to both engines
  - KpiResult: one materialized metric value
  - ValidationLogEntry: one audit row per check invocation
  - ErrorLogEntry: one recorded execution failure
  - Classification: PASS / WARN / FAIL outcome of a quality check

NULLABILITY:
  Required ledger fields are pointers or decimal.NullDecimal. Ingestion is
  supposed to fill them, but the batch quality check exists precisely to
  catch rows where it did not, so the model must be able to carry nulls.

MONEY:
  Amounts use decimal.Decimal to avoid floating-point drift in sums.

SEE ALSO:
  - period.go: DateRange and day/month helpers
  - store.go: persistence interfaces
  - errors.go: sentinel and structured errors
*/
package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Sales facts (append-only, never mutated by the engines)
// =============================================================================

// SalesFact is one sales transaction as loaded into the ledger.
type SalesFact struct {
	RowID              int64
	TransactionID      *string // business identifier; may repeat, see Duplicates check
	TransactionDate    *time.Time
	CustomerID         *int64
	ProductID          *int64
	Quantity           decimal.NullDecimal
	UnitPrice          decimal.NullDecimal
	TotalAmount        decimal.NullDecimal
	RegionID           *int64
	DiscountPercentage decimal.NullDecimal
	LoadDate           time.Time
}

// Day returns the transaction date truncated to its UTC day.
// ok is false when the transaction date is missing.
func (f SalesFact) Day() (day time.Time, ok bool) {
	if f.TransactionDate == nil {
		return time.Time{}, false
	}
	return DayOf(*f.TransactionDate), true
}

// MissingRequired reports whether any field the ingestion contract
// requires is null.
func (f SalesFact) MissingRequired() bool {
	return f.TransactionDate == nil ||
		f.CustomerID == nil ||
		f.ProductID == nil ||
		!f.Quantity.Valid ||
		!f.UnitPrice.Valid ||
		!f.TotalAmount.Valid
}

// HasInvalidNumerics reports non-positive quantity or unit price, or a
// negative total. Null values never match, as with SQL comparisons.
func (f SalesFact) HasInvalidNumerics() bool {
	if f.Quantity.Valid && !f.Quantity.Decimal.IsPositive() {
		return true
	}
	if f.UnitPrice.Valid && !f.UnitPrice.Decimal.IsPositive() {
		return true
	}
	return f.TotalAmount.Valid && f.TotalAmount.Decimal.IsNegative()
}

// IsFutureDated reports a transaction date strictly after now.
func (f SalesFact) IsFutureDated(now time.Time) bool {
	return f.TransactionDate != nil && f.TransactionDate.After(now)
}

// =============================================================================
// REFERENCE REGISTRIES - Master data, read-only to the engines
// =============================================================================

type Region struct {
	ID   int64
	Code string
	Name string
}

type Customer struct {
	ID       int64
	Code     string
	Name     *string
	Email    *string
	RegionID *int64
}

type Product struct {
	ID        int64
	Code      string
	Name      string
	Category  string
	ListPrice decimal.Decimal
}

// =============================================================================
// KPI RESULTS - Materialized metric values
// =============================================================================

// KpiResult is one stored metric value.
//
// INVARIANT: at most one row per (Metric, Date, RegionID, CustomerID).
// Enforced by delete-before-insert in the recomputation engine, not by
// the schema.
type KpiResult struct {
	ID           int64
	Metric       string
	Value        decimal.Decimal
	Date         time.Time // attributed date: a day, or first of month
	RegionID     *int64    // nil for global metrics
	CustomerID   *int64    // set for ranked customer rows only
	Rank         int       // 1-based rank for ranked rows, 0 otherwise
	CalculatedAt time.Time
}

// ResultQuery selects stored results for one metric.
// A nil bound adds no constraint.
type ResultQuery struct {
	Metric string
	From   *time.Time
	To     *time.Time
}

// =============================================================================
// VALIDATION LOG - Audit trail of quality checks
// =============================================================================

// Classification is the outcome of a quality check.
type Classification string

const (
	StatusPass Classification = "PASS"
	StatusWarn Classification = "WARN"
	StatusFail Classification = "FAIL"
)

// Severity orders classifications so the worst of several can be picked.
func (c Classification) Severity() int {
	switch c {
	case StatusPass:
		return 0
	case StatusWarn:
		return 1
	default:
		return 2
	}
}

// Worst returns the more severe of two classifications.
func Worst(a, b Classification) Classification {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// ValidationLogEntry is one append-only audit row.
//
// INVARIANT: RecordsPassed + RecordsFailed == RecordsChecked.
type ValidationLogEntry struct {
	ID             int64
	RunID          string
	RunAt          time.Time
	TableName      string
	CheckType      string
	RecordsChecked int64
	RecordsPassed  int64
	RecordsFailed  int64
	Status         Classification
	ErrorDetails   string
}

// ValidationLogFilter narrows a validation log query.
type ValidationLogFilter struct {
	RunID string
	Limit int
}

// Entity is a checkable table for the completeness check.
type Entity string

const (
	EntitySalesTransactions Entity = "SALES_TRANSACTIONS"
	EntityCustomers         Entity = "CUSTOMERS"
)

// ParseEntity maps a table name onto the closed set of checkable entities.
func ParseEntity(name string) (Entity, error) {
	switch Entity(name) {
	case EntitySalesTransactions, EntityCustomers:
		return Entity(name), nil
	}
	return "", &UnsupportedTargetError{Target: name}
}

// =============================================================================
// ERROR LOG - Execution failures reported by either engine
// =============================================================================

// ResolutionStatus tracks an error log entry through external triage.
type ResolutionStatus string

const (
	ResolutionPending  ResolutionStatus = "PENDING"
	ResolutionResolved ResolutionStatus = "RESOLVED"
	ResolutionIgnored  ResolutionStatus = "IGNORED"
)

func (s ResolutionStatus) Valid() bool {
	return s == ResolutionPending || s == ResolutionResolved || s == ResolutionIgnored
}

// CategoryException is the category engines use for unexpected failures.
const CategoryException = "EXCEPTION"

type ErrorLogEntry struct {
	ID        int64
	Timestamp time.Time
	Component string
	Category  string
	Message   string
	Detail    string
	Status    ResolutionStatus
}

type ErrorLogFilter struct {
	Status *ResolutionStatus
	Limit  int
}
