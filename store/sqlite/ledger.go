package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/sales-kpi-engine/sales"
)

// =============================================================================
// LEDGER STORE (sales.LedgerStore interface)
// =============================================================================

const factColumns = `
	row_id, transaction_id, transaction_date, customer_id, product_id,
	quantity, unit_price, total_amount, region_id, discount_percentage, load_date`

// AppendFacts adds sales facts atomically.
func (s *Store) AppendFacts(ctx context.Context, facts []sales.SalesFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, f := range facts {
		if err := appendFact(ctx, sqlTx, f); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

func appendFact(ctx context.Context, db queryer, f sales.SalesFact) error {
	query := `
		INSERT INTO sales_transactions
		(transaction_id, transaction_date, customer_id, product_id, quantity, unit_price,
		 total_amount, region_id, discount_percentage, load_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		f.TransactionID,
		nullTime(f.TransactionDate),
		f.CustomerID,
		f.ProductID,
		f.Quantity,
		f.UnitPrice,
		f.TotalAmount,
		f.RegionID,
		f.DiscountPercentage,
		formatTime(f.LoadDate),
	)
	if err != nil {
		return fmt.Errorf("failed to append sales fact: %w", err)
	}
	return nil
}

// FactsInRange returns facts whose transaction day lies in r.
func (s *Store) FactsInRange(ctx context.Context, r sales.DateRange) ([]sales.SalesFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return factsInRange(ctx, s.db, r)
}

func factsInRange(ctx context.Context, db queryer, r sales.DateRange) ([]sales.SalesFact, error) {
	query := `SELECT ` + factColumns + `
		FROM sales_transactions
		WHERE transaction_date >= ? AND transaction_date < ?
		ORDER BY transaction_date ASC, row_id ASC
	`
	return queryFacts(ctx, db, query, formatTime(r.Start), formatTime(r.UpperExclusive()))
}

// FactsLoadedOn returns facts loaded during the UTC day of day.
func (s *Store) FactsLoadedOn(ctx context.Context, day time.Time) ([]sales.SalesFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sales.DayOf(day)
	query := `SELECT ` + factColumns + `
		FROM sales_transactions
		WHERE load_date >= ? AND load_date < ?
		ORDER BY row_id ASC
	`
	return queryFacts(ctx, s.db, query, formatTime(start), formatTime(start.AddDate(0, 0, 1)))
}

func queryFacts(ctx context.Context, db queryer, query string, args ...any) ([]sales.SalesFact, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales facts: %w", err)
	}
	defer rows.Close()

	var facts []sales.SalesFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func scanFact(rows *sql.Rows) (sales.SalesFact, error) {
	var (
		f               sales.SalesFact
		transactionID   sql.NullString
		transactionDate sql.NullString
		customerID      sql.NullInt64
		productID       sql.NullInt64
		regionID        sql.NullInt64
		loadDate        string
	)

	err := rows.Scan(
		&f.RowID, &transactionID, &transactionDate, &customerID, &productID,
		&f.Quantity, &f.UnitPrice, &f.TotalAmount, &regionID, &f.DiscountPercentage, &loadDate,
	)
	if err != nil {
		return f, fmt.Errorf("failed to scan sales fact: %w", err)
	}

	f.TransactionID = stringPtr(transactionID)
	f.CustomerID = int64Ptr(customerID)
	f.ProductID = int64Ptr(productID)
	f.RegionID = int64Ptr(regionID)

	if transactionDate.Valid {
		t, err := parseTime(transactionDate.String)
		if err != nil {
			return f, err
		}
		f.TransactionDate = &t
	}
	if f.LoadDate, err = parseTime(loadDate); err != nil {
		return f, err
	}
	return f, nil
}

// CountFacts returns the number of ledger rows.
func (s *Store) CountFacts(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sales_transactions").Scan(&n)
	return n, err
}
