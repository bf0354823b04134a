package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/sales-kpi-engine/sales"
)

// =============================================================================
// QUALITY STORE (sales.QualityStore interface)
// =============================================================================

// CountOrphanReferences counts ledger rows whose non-null reference has no
// registry row. A row with two bad references counts once in each tally.
func (s *Store) CountOrphanReferences(ctx context.Context) (sales.OrphanCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN s.customer_id IS NOT NULL AND NOT EXISTS
				(SELECT 1 FROM customers c WHERE c.id = s.customer_id) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN s.product_id IS NOT NULL AND NOT EXISTS
				(SELECT 1 FROM products p WHERE p.id = s.product_id) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN s.region_id IS NOT NULL AND NOT EXISTS
				(SELECT 1 FROM regions r WHERE r.id = s.region_id) THEN 1 ELSE 0 END), 0)
		FROM sales_transactions s
	`

	var c sales.OrphanCounts
	err := s.db.QueryRowContext(ctx, query).Scan(&c.Checked, &c.Customers, &c.Products, &c.Regions)
	if err != nil {
		return sales.OrphanCounts{}, fmt.Errorf("failed to count orphan references: %w", err)
	}
	return c, nil
}

// incompleteQueries holds the per-entity completeness rule. Each query
// returns (row count, rows missing a descriptive field).
var incompleteQueries = map[sales.Entity]string{
	sales.EntitySalesTransactions: `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN region_id IS NULL OR discount_percentage IS NULL
		                    THEN 1 ELSE 0 END), 0)
		FROM sales_transactions
	`,
	sales.EntityCustomers: `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN name IS NULL OR TRIM(name) = ''
		                          OR email IS NULL OR TRIM(email) = ''
		                          OR region_id IS NULL
		                    THEN 1 ELSE 0 END), 0)
		FROM customers
	`,
}

// CountIncomplete applies the completeness rule of entity.
func (s *Store) CountIncomplete(ctx context.Context, entity sales.Entity) (checked, incomplete int64, err error) {
	query, ok := incompleteQueries[entity]
	if !ok {
		return 0, 0, &sales.UnsupportedTargetError{Target: string(entity)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.db.QueryRowContext(ctx, query).Scan(&checked, &incomplete); err != nil {
		return 0, 0, fmt.Errorf("failed to count incomplete %s rows: %w", entity, err)
	}
	return checked, incomplete, nil
}

// CountDuplicateTransactionIDs counts distinct transaction ids that occur
// more than once. Rows without a transaction id are ignored.
func (s *Store) CountDuplicateTransactionIDs(ctx context.Context) (duplicates, checked int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT
			(SELECT COUNT(*) FROM (
				SELECT transaction_id
				FROM sales_transactions
				WHERE transaction_id IS NOT NULL
				GROUP BY transaction_id
				HAVING COUNT(*) > 1
			)),
			(SELECT COUNT(*) FROM sales_transactions)
	`
	if err := s.db.QueryRowContext(ctx, query).Scan(&duplicates, &checked); err != nil {
		return 0, 0, fmt.Errorf("failed to count duplicate transactions: %w", err)
	}
	return duplicates, checked, nil
}

// =============================================================================
// VALIDATION LOG
// =============================================================================

// AppendValidationLog writes one audit row and returns its id.
func (s *Store) AppendValidationLog(ctx context.Context, e sales.ValidationLogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runAt := e.RunAt
	if runAt.IsZero() {
		runAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO data_validation_log
		(run_id, validation_date, table_name, check_type, records_checked, records_passed,
		 records_failed, validation_status, error_details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.RunID, formatTime(runAt), e.TableName, e.CheckType,
		e.RecordsChecked, e.RecordsPassed, e.RecordsFailed,
		string(e.Status), nullString(e.ErrorDetails),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append validation log: %w", err)
	}
	return res.LastInsertId()
}

// ValidationLog returns audit rows, newest first.
func (s *Store) ValidationLog(ctx context.Context, filter sales.ValidationLogFilter) ([]sales.ValidationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, run_id, validation_date, table_name, check_type, records_checked,
		       records_passed, records_failed, validation_status, error_details
		FROM data_validation_log
		WHERE run_id = COALESCE(?, run_id)
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, nullString(filter.RunID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query validation log: %w", err)
	}
	defer rows.Close()

	var entries []sales.ValidationLogEntry
	for rows.Next() {
		var (
			e       sales.ValidationLogEntry
			runAt   string
			status  string
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &runAt, &e.TableName, &e.CheckType,
			&e.RecordsChecked, &e.RecordsPassed, &e.RecordsFailed, &status, &details); err != nil {
			return nil, fmt.Errorf("failed to scan validation log: %w", err)
		}
		if e.RunAt, err = parseTime(runAt); err != nil {
			return nil, err
		}
		e.Status = sales.Classification(status)
		e.ErrorDetails = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
