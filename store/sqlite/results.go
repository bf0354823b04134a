package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/sales-kpi-engine/sales"
)

// =============================================================================
// RESULT STORE (sales.ResultStore interface)
// =============================================================================

// DeleteResults removes rows of metric attributed to a day in r.
func (s *Store) DeleteResults(ctx context.Context, metric string, r sales.DateRange) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deleteResults(ctx, s.db, metric, r)
}

func deleteResults(ctx context.Context, db queryer, metric string, r sales.DateRange) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM kpi_results WHERE kpi_name = ? AND kpi_date >= ? AND kpi_date <= ?`,
		metric, formatDay(r.Start), formatDay(r.End),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s results: %w", metric, err)
	}
	return res.RowsAffected()
}

// InsertResults appends KPI rows. CalculatedAt defaults to now.
func (s *Store) InsertResults(ctx context.Context, rows []sales.KpiResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := insertResults(ctx, sqlTx, rows, s.now()); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func insertResults(ctx context.Context, db queryer, rows []sales.KpiResult, now time.Time) error {
	query := `
		INSERT INTO kpi_results
		(kpi_name, kpi_value, kpi_date, region_id, customer_id, kpi_rank, calculation_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range rows {
		calculatedAt := r.CalculatedAt
		if calculatedAt.IsZero() {
			calculatedAt = now
		}
		_, err := db.ExecContext(ctx, query,
			r.Metric,
			r.Value.String(),
			formatDay(r.Date),
			r.RegionID,
			r.CustomerID,
			r.Rank,
			formatTime(calculatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s result: %w", r.Metric, err)
		}
	}
	return nil
}

// Results returns stored rows for one metric, newest attributed date first.
func (s *Store) Results(ctx context.Context, q sales.ResultQuery) ([]sales.KpiResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryResults(ctx, s.db, q)
}

func queryResults(ctx context.Context, db queryer, q sales.ResultQuery) ([]sales.KpiResult, error) {
	// A missing bound falls back to the row's own date, so it filters nothing.
	query := `
		SELECT id, kpi_name, kpi_value, kpi_date, region_id, customer_id, kpi_rank, calculation_date
		FROM kpi_results
		WHERE kpi_name = ?
		  AND kpi_date >= COALESCE(?, kpi_date)
		  AND kpi_date <= COALESCE(?, kpi_date)
		ORDER BY kpi_date DESC, kpi_rank ASC, id ASC
	`

	var from, to sql.NullString
	if q.From != nil {
		from = nullString(formatDay(*q.From))
	}
	if q.To != nil {
		to = nullString(formatDay(*q.To))
	}

	rows, err := db.QueryContext(ctx, query, q.Metric, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []sales.KpiResult
	for rows.Next() {
		var (
			r            sales.KpiResult
			value        string
			day          string
			regionID     sql.NullInt64
			customerID   sql.NullInt64
			calculatedAt string
		)
		if err := rows.Scan(&r.ID, &r.Metric, &value, &day, &regionID, &customerID, &r.Rank, &calculatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if r.Value, err = parseDecimal(value); err != nil {
			return nil, err
		}
		if r.Date, err = sales.ParseDay(day); err != nil {
			return nil, err
		}
		if r.CalculatedAt, err = parseTime(calculatedAt); err != nil {
			return nil, err
		}
		r.RegionID = int64Ptr(regionID)
		r.CustomerID = int64Ptr(customerID)
		results = append(results, r)
	}
	return results, rows.Err()
}
