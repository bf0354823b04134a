/*
Package kpi recomputes the derived sales metrics into the results store.

PURPOSE:
  Every metric is a pure function of the ledger over a date range. The
  engine materializes it by replacing the stored rows for that range:
  delete what is there, aggregate the facts, insert the fresh rows.

REPLACE-RANGE UNIT:
  Delete and insert run inside one store transaction (WithTx). A failure
  anywhere rolls both back, so readers see either the old rows or the new
  ones, never an emptied range. Re-running with the same inputs yields
  the same rows: recomputation is idempotent.

RANGE SCOPING:
  Only rows attributed to a day inside the range are deleted. The monthly
  metric first widens the range to whole months (Metric.Scope), so both
  the delete and the aggregation cover complete months.

LOCKING:
  Each recomputation holds the per-metric lock "kpi:<METRIC>" so that
  overlapping ranges of the same metric never interleave. Failing to get
  the lock (lock.ErrNotAcquired) is returned but not reported: nothing ran.

FAILURES:
  Unexpected failures are reported to the error log with the operation
  name as component and returned wrapped in *RecomputeError. A failure to
  write the error log is joined onto the returned error.

SEE ALSO:
  - metric.go: closed metric set and per-metric settings
  - rules.go: aggregation rules
  - sales/store.go: TxKpiStore
*/
package kpi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/sales-kpi-engine/errorlog"
	"github.com/warp/sales-kpi-engine/lock"
	"github.com/warp/sales-kpi-engine/metrics"
	"github.com/warp/sales-kpi-engine/sales"
	"go.uber.org/zap"
)

// RecomputeError wraps a failed recomputation with the metric and range.
type RecomputeError struct {
	Metric Metric
	Range  sales.DateRange
	Err    error
}

func (e *RecomputeError) Error() string {
	return fmt.Sprintf("recompute %s over %s: %v", e.Metric, e.Range, e.Err)
}

func (e *RecomputeError) Unwrap() error {
	return e.Err
}

// Recomputation summarizes one committed replace-range unit.
type Recomputation struct {
	Metric   Metric
	Range    sales.DateRange // effective range, after month alignment
	Deleted  int64
	Inserted int
	Rows     []sales.KpiResult
}

// Engine recomputes metrics against a transactional store.
type Engine struct {
	store  sales.TxKpiStore
	sink   errorlog.Reporter
	locker lock.Locker
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithClock overrides the clock used for default ranges and calculation
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store sales.TxKpiStore, sink errorlog.Reporter, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		sink:   sink,
		locker: lock.NewLocal(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// PER-METRIC OPERATIONS
// =============================================================================

func (e *Engine) RevenueByRegion(ctx context.Context, start, end time.Time) (Recomputation, error) {
	return e.recomputeDates(ctx, MetricRevenueByRegion, start, end, Params{})
}

func (e *Engine) MonthlyRevenueTrend(ctx context.Context, start, end time.Time) (Recomputation, error) {
	return e.recomputeDates(ctx, MetricMonthlyRevenueTrend, start, end, Params{})
}

// TopCustomers ranks customers by revenue over [start, end]. topN <= 0
// means DefaultTopN.
func (e *Engine) TopCustomers(ctx context.Context, start, end time.Time, topN int) (Recomputation, error) {
	return e.recomputeDates(ctx, MetricTopCustomers, start, end, Params{TopN: topN})
}

func (e *Engine) ProductPerformance(ctx context.Context, start, end time.Time) (Recomputation, error) {
	return e.recomputeDates(ctx, MetricProductPerformance, start, end, Params{})
}

func (e *Engine) AvgTransactionValue(ctx context.Context, start, end time.Time) (Recomputation, error) {
	return e.recomputeDates(ctx, MetricAvgTransactionValue, start, end, Params{})
}

func (e *Engine) recomputeDates(ctx context.Context, m Metric, start, end time.Time, p Params) (Recomputation, error) {
	r, err := sales.NewDateRange(start, end)
	if err != nil {
		return Recomputation{}, err
	}
	return e.Recompute(ctx, m, r, p)
}

// =============================================================================
// RECOMPUTE - Generic replace-range unit
// =============================================================================

// Recompute replaces the stored rows of m over r. Input errors (unknown
// metric) are returned as is; execution failures are reported and
// wrapped in *RecomputeError.
func (e *Engine) Recompute(ctx context.Context, m Metric, r sales.DateRange, p Params) (Recomputation, error) {
	aggregate, err := ruleFor(m)
	if err != nil {
		return Recomputation{}, err
	}
	scope := m.Scope(r)
	started := time.Now()

	logger := e.logger.With(
		zap.String("metric", string(m)),
		zap.String("range", scope.String()))

	out, err := e.replaceRange(ctx, m, scope, p, aggregate)
	metrics.RecomputeDuration.WithLabelValues(string(m)).Observe(float64(time.Since(started).Milliseconds()))
	if errors.Is(err, lock.ErrNotAcquired) {
		metrics.RecomputeRuns.WithLabelValues(string(m), "contended").Inc()
		logger.Warn("KPI recomputation skipped, metric is locked by another run", zap.Error(err))
		return Recomputation{}, &RecomputeError{Metric: m, Range: scope, Err: err}
	}
	if err != nil {
		metrics.RecomputeRuns.WithLabelValues(string(m), "failed").Inc()
		logger.Error("KPI recomputation failed", zap.Error(err))

		reportErr := e.sink.Report(ctx, m.Operation(), sales.CategoryException, err, "range "+scope.String())
		return Recomputation{}, errorlog.Escalate(&RecomputeError{Metric: m, Range: scope, Err: err}, reportErr)
	}

	metrics.RecomputeRuns.WithLabelValues(string(m), "ok").Inc()
	metrics.ResultRowsReplaced.WithLabelValues(string(m)).Add(float64(out.Deleted))
	metrics.ResultRowsWritten.WithLabelValues(string(m)).Add(float64(out.Inserted))
	logger.Info("KPI recomputed",
		zap.Int64("deleted", out.Deleted),
		zap.Int("inserted", out.Inserted))
	return out, nil
}

func (e *Engine) replaceRange(ctx context.Context, m Metric, scope sales.DateRange, p Params, aggregate rule) (Recomputation, error) {
	release, err := e.locker.Acquire(ctx, "kpi:"+string(m))
	if err != nil {
		return Recomputation{}, err
	}
	defer release()

	out := Recomputation{Metric: m, Range: scope}
	calculatedAt := e.now().UTC()

	err = e.store.WithTx(ctx, func(tx sales.KpiStore) error {
		deleted, err := tx.DeleteResults(ctx, string(m), scope)
		if err != nil {
			return err
		}

		facts, err := tx.FactsInRange(ctx, scope)
		if err != nil {
			return err
		}

		rows := aggregate(facts, scope, p)
		for i := range rows {
			rows[i].CalculatedAt = calculatedAt
		}
		if len(rows) > 0 {
			if err := tx.InsertResults(ctx, rows); err != nil {
				return err
			}
		}

		out.Deleted = deleted
		out.Inserted = len(rows)
		out.Rows = rows
		return nil
	})
	if err != nil {
		return Recomputation{}, err
	}
	return out, nil
}

// =============================================================================
// RECOMPUTE ALL
// =============================================================================

// DefaultRange is the window used when a caller gives none: the last days
// days ending today.
func DefaultRange(now time.Time, days int) sales.DateRange {
	if days <= 0 {
		days = 30
	}
	end := sales.DayOf(now)
	return sales.DateRange{Start: end.AddDate(0, 0, -days), End: end}
}

// RecomputeAll runs every metric over r in AllMetrics order. Each metric
// commits on its own; the first failure stops the run and earlier metrics
// stay committed.
func (e *Engine) RecomputeAll(ctx context.Context, r sales.DateRange, topN int) ([]Recomputation, error) {
	done := make([]Recomputation, 0, len(AllMetrics))
	for _, m := range AllMetrics {
		out, err := e.Recompute(ctx, m, r, Params{TopN: topN})
		if err != nil {
			return done, err
		}
		done = append(done, out)
	}
	e.logger.Info("All KPIs recomputed", zap.String("range", r.String()), zap.Int("metrics", len(done)))
	return done, nil
}

// =============================================================================
// READ ACCESSOR
// =============================================================================

// Results returns stored rows of m, newest attributed date first. A nil
// bound adds no constraint.
func (e *Engine) Results(ctx context.Context, m Metric, start, end *time.Time) ([]sales.KpiResult, error) {
	if _, err := ruleFor(m); err != nil {
		return nil, err
	}
	if start != nil && end != nil && sales.DayOf(*end).Before(sales.DayOf(*start)) {
		return nil, fmt.Errorf("%w: %s > %s", sales.ErrInvalidRange,
			start.Format(sales.DateLayout), end.Format(sales.DateLayout))
	}
	return e.store.Results(ctx, sales.ResultQuery{Metric: string(m), From: start, To: end})
}

// IsRecomputeError reports whether err came from a failed replace-range unit.
func IsRecomputeError(err error) bool {
	var re *RecomputeError
	return errors.As(err, &re)
}
