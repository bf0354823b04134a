/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of package sales (LedgerStore,
  TxKpiStore, QualityStore, ErrorLogStore, RegistryStore) on one SQLite
  database. The same SQL runs on PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  sales.LedgerStore:   Append-only sales facts
  sales.TxKpiStore:    KPI results with transactional replace-range
  sales.QualityStore:  Validation counts and the validation log
  sales.ErrorLogStore: Error log with status workflow
  sales.RegistryStore: Regions, customers, products

KEY TABLES:
  sales_transactions:  Ledger (append-only, nullable required columns)
  regions/customers/products: Reference registries
  kpi_results:         Materialized KPIs (delete-before-insert)
  data_validation_log: Quality audit trail
  error_log:           Execution failures

CONCURRENCY:
  One connection and a sync.RWMutex. WithTx holds the write lock for the
  whole unit, so readers observe either the state before a recomputation
  or after it, never the deleted-but-not-reinserted middle.

MIGRATION:
  Schema lives in migrations/*.sql, embedded and applied with
  golang-migrate on New().

USAGE:
  store, err := sqlite.New("./data/sales.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - sales/store.go: Interface definitions
  - migrate.go: Migration runner
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/sales-kpi-engine/sales"
	"go.uber.org/zap"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migration and store diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the clock used for calculation and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and matches
	// SQLite's single-writer model.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (sales.TxKpiStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// The deferred Rollback is a no-op once Commit has succeeded.
func (s *Store) WithTx(ctx context.Context, fn func(store sales.KpiStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore routes every call through the open transaction. It must not
// touch parent.mu or parent.db: WithTx already holds the lock and the
// only connection.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) FactsInRange(ctx context.Context, r sales.DateRange) ([]sales.SalesFact, error) {
	return factsInRange(ctx, ts.tx, r)
}

func (ts *txStore) DeleteResults(ctx context.Context, metric string, r sales.DateRange) (int64, error) {
	return deleteResults(ctx, ts.tx, metric, r)
}

func (ts *txStore) InsertResults(ctx context.Context, rows []sales.KpiResult) error {
	return insertResults(ctx, ts.tx, rows, ts.parent.now())
}

func (ts *txStore) Results(ctx context.Context, q sales.ResultQuery) ([]sales.KpiResult, error) {
	return queryResults(ctx, ts.tx, q)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"sales_transactions", "kpi_results", "data_validation_log", "error_log",
		"customers", "products", "regions",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatDay(t time.Time) string {
	return t.UTC().Format(sales.DateLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored decimal %q: %w", s, err)
	}
	return d, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
