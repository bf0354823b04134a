package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/sales-kpi-engine/sales"
)

// =============================================================================
// ERROR LOG STORE (sales.ErrorLogStore interface)
// =============================================================================

// AppendError records an execution failure. Status defaults to PENDING.
func (s *Store) AppendError(ctx context.Context, e sales.ErrorLogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	status := e.Status
	if status == "" {
		status = sales.ResolutionPending
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO error_log
		(error_timestamp, component, error_type, error_message, error_details, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, formatTime(ts), e.Component, e.Category, e.Message, nullString(e.Detail), string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to append error log: %w", err)
	}
	return res.LastInsertId()
}

// UpdateErrorStatus changes the resolution status of one entry.
func (s *Store) UpdateErrorStatus(ctx context.Context, id int64, status sales.ResolutionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", sales.ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE error_log SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update error status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("error log entry %d: %w", id, sales.ErrNotFound)
	}
	return nil
}

// Errors returns error log entries, newest first.
func (s *Store) Errors(ctx context.Context, filter sales.ErrorLogFilter) ([]sales.ErrorLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var status sql.NullString
	if filter.Status != nil {
		status = nullString(string(*filter.Status))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, error_timestamp, component, error_type, error_message, error_details, status
		FROM error_log
		WHERE status = COALESCE(?, status)
		ORDER BY id DESC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query error log: %w", err)
	}
	defer rows.Close()

	var entries []sales.ErrorLogEntry
	for rows.Next() {
		var (
			e       sales.ErrorLogEntry
			ts      string
			details sql.NullString
			st      string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Component, &e.Category, &e.Message, &details, &st); err != nil {
			return nil, fmt.Errorf("failed to scan error log: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.Detail = details.String
		e.Status = sales.ResolutionStatus(st)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
