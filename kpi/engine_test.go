package kpi_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-kpi-engine/errorlog"
	"github.com/warp/sales-kpi-engine/kpi"
	"github.com/warp/sales-kpi-engine/lock"
	"github.com/warp/sales-kpi-engine/sales"
	"github.com/warp/sales-kpi-engine/store/sqlite"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*kpi.Engine, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zaptest.NewLogger(t)
	engine := kpi.NewEngine(store, errorlog.NewSink(store, logger), logger,
		kpi.WithClock(func() time.Time { return fixedNow }))
	return engine, store
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func sale(at time.Time, customer, product, region int64, total string) sales.SalesFact {
	t := decimal.RequireFromString(total)
	return sales.SalesFact{
		TransactionID:      ptr(at.Format(time.RFC3339Nano) + total),
		TransactionDate:    ptr(at),
		CustomerID:         ptr(customer),
		ProductID:          ptr(product),
		Quantity:           decimal.NewNullDecimal(decimal.NewFromInt(1)),
		UnitPrice:          decimal.NewNullDecimal(t),
		TotalAmount:        decimal.NewNullDecimal(t),
		RegionID:           ptr(region),
		DiscountPercentage: decimal.NewNullDecimal(decimal.Zero),
		LoadDate:           fixedNow,
	}
}

func load(t *testing.T, store *sqlite.Store, facts ...sales.SalesFact) {
	t.Helper()
	require.NoError(t, store.AppendFacts(context.Background(), facts))
}

func results(t *testing.T, store *sqlite.Store, m kpi.Metric) []sales.KpiResult {
	t.Helper()
	rows, err := store.Results(context.Background(), sales.ResultQuery{Metric: string(m)})
	require.NoError(t, err)
	return rows
}

func requireValue(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// SCENARIO & IDEMPOTENCY
// =============================================================================

func TestRevenueByRegion_Scenario(t *testing.T) {
	// GIVEN: Three January 2024 sales in region 1 on one day, totaling 1500
	// WHEN: Recomputing revenue by region for January twice
	// THEN: Exactly one row (region 1, Jan 15, 1500) exists after each run

	engine, store := newTestEngine(t)
	ctx := context.Background()
	jan15 := day(2024, time.January, 15)

	load(t, store,
		sale(jan15.Add(9*time.Hour), 1, 1, 1, "500"),
		sale(jan15.Add(10*time.Hour), 2, 1, 1, "400"),
		sale(jan15.Add(11*time.Hour), 3, 2, 1, "600"),
	)

	for i := 0; i < 2; i++ {
		out, err := engine.RevenueByRegion(ctx, day(2024, 1, 1), day(2024, 1, 31))
		require.NoError(t, err)
		assert.Equal(t, 1, out.Inserted)

		rows := results(t, store, kpi.MetricRevenueByRegion)
		require.Len(t, rows, 1, "run %d", i+1)
		assert.Equal(t, jan15, rows[0].Date)
		assert.Equal(t, int64(1), *rows[0].RegionID)
		requireValue(t, "1500", rows[0].Value)
		assert.True(t, rows[0].CalculatedAt.Equal(fixedNow))
	}
}

func TestRecompute_IdempotentForEveryMetric(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	load(t, store,
		sale(day(2025, 3, 1), 1, 1, 1, "100"),
		sale(day(2025, 3, 2), 2, 2, 2, "250.50"),
		sale(day(2025, 3, 2), 3, 1, 1, "75"),
	)
	r := sales.MustDateRange(day(2025, 3, 1), day(2025, 3, 31))

	for _, m := range kpi.AllMetrics {
		t.Run(string(m), func(t *testing.T) {
			_, err := engine.Recompute(ctx, m, r, kpi.Params{TopN: 5})
			require.NoError(t, err)
			first := results(t, store, m)

			second, err := engine.Recompute(ctx, m, r, kpi.Params{TopN: 5})
			require.NoError(t, err)
			assert.Equal(t, int64(len(first)), second.Deleted)

			again := results(t, store, m)
			require.Len(t, again, len(first))
			for i := range first {
				assert.Equal(t, first[i].Date, again[i].Date)
				assert.True(t, first[i].Value.Equal(again[i].Value))
			}
		})
	}
}

// =============================================================================
// RANGE SCOPING
// =============================================================================

func TestRecompute_SubRangeLeavesOtherDaysAlone(t *testing.T) {
	// GIVEN: Revenue computed for Mar 1-10
	// WHEN: New sales land on Mar 5 and Mar 8, and only Mar 5-6 is recomputed
	// THEN: Mar 5 reflects the new sale; Mar 8 keeps its old value

	engine, store := newTestEngine(t)
	ctx := context.Background()

	for d := 1; d <= 10; d++ {
		load(t, store, sale(day(2025, 3, d), 1, 1, 1, "10"))
	}
	_, err := engine.RevenueByRegion(ctx, day(2025, 3, 1), day(2025, 3, 10))
	require.NoError(t, err)

	load(t, store,
		sale(day(2025, 3, 5).Add(time.Hour), 2, 1, 1, "5"),
		sale(day(2025, 3, 8).Add(time.Hour), 2, 1, 1, "5"),
	)

	out, err := engine.RevenueByRegion(ctx, day(2025, 3, 5), day(2025, 3, 6))
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Deleted)

	rows := results(t, store, kpi.MetricRevenueByRegion)
	require.Len(t, rows, 10)
	byDay := make(map[int]decimal.Decimal)
	for _, r := range rows {
		byDay[r.Date.Day()] = r.Value
	}
	requireValue(t, "15", byDay[5])
	requireValue(t, "10", byDay[6])
	requireValue(t, "10", byDay[8])
}

func TestMonthlyRevenueTrend_AlignsToWholeMonths(t *testing.T) {
	// GIVEN: Sales on Feb 20, Mar 3 and Mar 28
	// WHEN: Recomputing the monthly trend for Mar 10-15
	// THEN: The range widens to March; one row for Mar 1 holds both March sales

	engine, store := newTestEngine(t)
	ctx := context.Background()

	load(t, store,
		sale(day(2025, 2, 20), 1, 1, 1, "100"),
		sale(day(2025, 3, 3), 1, 1, 1, "200"),
		sale(day(2025, 3, 28), 1, 1, 1, "300"),
	)

	_, err := engine.MonthlyRevenueTrend(ctx, day(2025, 2, 1), day(2025, 2, 28))
	require.NoError(t, err)

	out, err := engine.MonthlyRevenueTrend(ctx, day(2025, 3, 10), day(2025, 3, 15))
	require.NoError(t, err)
	assert.Equal(t, day(2025, 3, 1), out.Range.Start)
	assert.Equal(t, day(2025, 3, 31), out.Range.End)

	rows := results(t, store, kpi.MetricMonthlyRevenueTrend)
	require.Len(t, rows, 2)
	assert.Equal(t, day(2025, 3, 1), rows[0].Date)
	requireValue(t, "500", rows[0].Value)
	assert.Equal(t, day(2025, 2, 1), rows[1].Date)
	requireValue(t, "100", rows[1].Value)
}

// =============================================================================
// TOP CUSTOMERS
// =============================================================================

func TestTopCustomers_KeepsTopN(t *testing.T) {
	// GIVEN: Customer revenue A=500, B=300, C=900, D=100
	// WHEN: Ranking with top_n=2
	// THEN: Exactly C (900, rank 1) and A (500, rank 2), both at the end date

	engine, store := newTestEngine(t)
	ctx := context.Background()
	const a, b, c, d = 1, 2, 3, 4

	load(t, store,
		sale(day(2025, 3, 1), a, 1, 1, "200"),
		sale(day(2025, 3, 9), a, 1, 1, "300"),
		sale(day(2025, 3, 2), b, 1, 1, "300"),
		sale(day(2025, 3, 3), c, 1, 1, "900"),
		sale(day(2025, 3, 4), d, 1, 1, "100"),
	)

	_, err := engine.TopCustomers(ctx, day(2025, 3, 1), day(2025, 3, 31), 2)
	require.NoError(t, err)

	rows := results(t, store, kpi.MetricTopCustomers)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(c), *rows[0].CustomerID)
	assert.Equal(t, 1, rows[0].Rank)
	requireValue(t, "900", rows[0].Value)

	assert.Equal(t, int64(a), *rows[1].CustomerID)
	assert.Equal(t, 2, rows[1].Rank)
	requireValue(t, "500", rows[1].Value)

	for _, r := range rows {
		assert.Equal(t, day(2025, 3, 31), r.Date)
	}
}

func TestTopCustomers_TieBreaksByCustomerID(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	load(t, store,
		sale(day(2025, 3, 1), 7, 1, 1, "100"),
		sale(day(2025, 3, 1), 2, 1, 1, "100"),
		sale(day(2025, 3, 1), 5, 1, 1, "100"),
	)

	_, err := engine.TopCustomers(ctx, day(2025, 3, 1), day(2025, 3, 1), 2)
	require.NoError(t, err)

	rows := results(t, store, kpi.MetricTopCustomers)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), *rows[0].CustomerID)
	assert.Equal(t, int64(5), *rows[1].CustomerID)
}

func TestTopCustomers_DefaultsToTen(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	for c := int64(1); c <= 12; c++ {
		load(t, store, sale(day(2025, 3, 1), c, 1, 1, "10"))
	}

	out, err := engine.TopCustomers(ctx, day(2025, 3, 1), day(2025, 3, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, kpi.DefaultTopN, out.Inserted)
}

// =============================================================================
// OTHER RULES
// =============================================================================

func TestAvgTransactionValue_IgnoresNullTotals(t *testing.T) {
	// GIVEN: Mar 1 with totals 100, 200 and a null; Mar 2 with only a null
	// WHEN: Recomputing the daily average
	// THEN: Mar 1 averages to 150; Mar 2 produces no row

	engine, store := newTestEngine(t)
	ctx := context.Background()

	nullTotal := sale(day(2025, 3, 1), 1, 1, 1, "0")
	nullTotal.TotalAmount = decimal.NullDecimal{}
	nullOnly := sale(day(2025, 3, 2), 1, 1, 1, "0")
	nullOnly.TotalAmount = decimal.NullDecimal{}

	load(t, store,
		sale(day(2025, 3, 1), 1, 1, 1, "100"),
		sale(day(2025, 3, 1).Add(time.Hour), 2, 1, 1, "200"),
		nullTotal,
		nullOnly,
	)

	_, err := engine.AvgTransactionValue(ctx, day(2025, 3, 1), day(2025, 3, 2))
	require.NoError(t, err)

	rows := results(t, store, kpi.MetricAvgTransactionValue)
	require.Len(t, rows, 1)
	assert.Equal(t, day(2025, 3, 1), rows[0].Date)
	requireValue(t, "150", rows[0].Value)
}

func TestProductPerformance_OneRowPerDay(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	load(t, store,
		sale(day(2025, 3, 1), 1, 1, 1, "100"),
		sale(day(2025, 3, 1), 1, 2, 1, "40"),
		sale(day(2025, 3, 1), 1, 2, 2, "60"),
		sale(day(2025, 3, 2), 1, 3, 1, "7"),
	)

	_, err := engine.ProductPerformance(ctx, day(2025, 3, 1), day(2025, 3, 2))
	require.NoError(t, err)

	rows := results(t, store, kpi.MetricProductPerformance)
	require.Len(t, rows, 2)
	requireValue(t, "7", rows[0].Value)
	requireValue(t, "200", rows[1].Value)
}

func TestRevenueByRegion_SkipsUnassignedRegion(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	noRegion := sale(day(2025, 3, 1), 1, 1, 1, "999")
	noRegion.RegionID = nil
	load(t, store, noRegion, sale(day(2025, 3, 1), 1, 1, 2, "10"))

	_, err := engine.RevenueByRegion(ctx, day(2025, 3, 1), day(2025, 3, 1))
	require.NoError(t, err)

	rows := results(t, store, kpi.MetricRevenueByRegion)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), *rows[0].RegionID)
}

// =============================================================================
// FAILURES
// =============================================================================

// failingInsertStore runs the real transaction but fails every insert.
type failingInsertStore struct {
	*sqlite.Store
	err error
}

func (f failingInsertStore) WithTx(ctx context.Context, fn func(sales.KpiStore) error) error {
	return f.Store.WithTx(ctx, func(tx sales.KpiStore) error {
		return fn(failingTx{KpiStore: tx, err: f.err})
	})
}

type failingTx struct {
	sales.KpiStore
	err error
}

func (f failingTx) InsertResults(context.Context, []sales.KpiResult) error { return f.err }

// brokenErrorLog cannot record anything.
type brokenErrorLog struct {
	sales.ErrorLogStore
}

func (brokenErrorLog) AppendError(context.Context, sales.ErrorLogEntry) (int64, error) {
	return 0, errors.New("error log offline")
}

func TestRecompute_FailureRollsBackAndReports(t *testing.T) {
	// GIVEN: Stored revenue for Mar 1 and a store whose inserts fail
	// WHEN: Recomputing Mar 1
	// THEN: The delete is rolled back, the failure is logged and returned

	_, store := newTestEngine(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	load(t, store, sale(day(2025, 3, 1), 1, 1, 1, "10"))
	good := kpi.NewEngine(store, errorlog.NewSink(store, logger), logger)
	_, err := good.RevenueByRegion(ctx, day(2025, 3, 1), day(2025, 3, 1))
	require.NoError(t, err)

	insertErr := errors.New("constraint violated")
	bad := kpi.NewEngine(failingInsertStore{Store: store, err: insertErr}, errorlog.NewSink(store, logger), logger)

	_, err = bad.RevenueByRegion(ctx, day(2025, 3, 1), day(2025, 3, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, insertErr)
	assert.True(t, kpi.IsRecomputeError(err))

	var re *kpi.RecomputeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, kpi.MetricRevenueByRegion, re.Metric)

	rows := results(t, store, kpi.MetricRevenueByRegion)
	require.Len(t, rows, 1, "previous rows must survive a failed recomputation")
	requireValue(t, "10", rows[0].Value)

	logged, err := store.Errors(ctx, sales.ErrorLogFilter{})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "RevenueByRegion", logged[0].Component)
	assert.Equal(t, sales.CategoryException, logged[0].Category)
	assert.Equal(t, "constraint violated", logged[0].Message)
}

func TestRecompute_SinkFailureEscalates(t *testing.T) {
	_, store := newTestEngine(t)
	logger := zaptest.NewLogger(t)
	insertErr := errors.New("constraint violated")

	engine := kpi.NewEngine(
		failingInsertStore{Store: store, err: insertErr},
		errorlog.NewSink(brokenErrorLog{}, logger),
		logger,
	)
	load(t, store, sale(day(2025, 3, 1), 1, 1, 1, "10"))

	_, err := engine.AvgTransactionValue(context.Background(), day(2025, 3, 1), day(2025, 3, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, insertErr)
	assert.ErrorIs(t, err, errorlog.ErrSinkUnavailable)
	assert.True(t, kpi.IsRecomputeError(err))
}

func TestRecompute_LockContentionIsNotLogged(t *testing.T) {
	// GIVEN: Another run holding the revenue lock
	// WHEN: Recomputing revenue with a short deadline
	// THEN: The call fails with ErrNotAcquired, stored rows are untouched
	//       and nothing is written to the error log

	_, store := newTestEngine(t)
	logger := zaptest.NewLogger(t)
	locker := lock.NewLocal()
	engine := kpi.NewEngine(store, errorlog.NewSink(store, logger), logger, kpi.WithLocker(locker))

	load(t, store, sale(day(2025, 3, 1), 1, 1, 1, "10"))
	_, err := engine.RevenueByRegion(context.Background(), day(2025, 3, 1), day(2025, 3, 1))
	require.NoError(t, err)

	release, err := locker.Acquire(context.Background(), "kpi:"+string(kpi.MetricRevenueByRegion))
	require.NoError(t, err)
	defer release()

	load(t, store, sale(day(2025, 3, 1), 2, 1, 1, "5"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = engine.RevenueByRegion(ctx, day(2025, 3, 1), day(2025, 3, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.True(t, kpi.IsRecomputeError(err))

	rows := results(t, store, kpi.MetricRevenueByRegion)
	require.Len(t, rows, 1)
	requireValue(t, "10", rows[0].Value)

	logged, err := store.Errors(context.Background(), sales.ErrorLogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logged)
}

func TestRecompute_InputErrors(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RevenueByRegion(ctx, day(2025, 3, 2), day(2025, 3, 1))
	assert.ErrorIs(t, err, sales.ErrInvalidRange)

	_, err = engine.Recompute(ctx, kpi.Metric("GROSS_MARGIN"), sales.MustDateRange(day(2025, 3, 1), day(2025, 3, 1)), kpi.Params{})
	assert.ErrorIs(t, err, sales.ErrUnknownMetric)
	assert.False(t, kpi.IsRecomputeError(err))
}

// =============================================================================
// RECOMPUTE ALL & RESULTS
// =============================================================================

func TestRecomputeAll_RunsEveryMetricInOrder(t *testing.T) {
	engine, store := newTestEngine(t)
	load(t, store, sale(day(2025, 3, 15), 1, 1, 1, "42"))

	done, err := engine.RecomputeAll(context.Background(), kpi.DefaultRange(fixedNow, 30), 10)
	require.NoError(t, err)
	require.Len(t, done, len(kpi.AllMetrics))
	for i, m := range kpi.AllMetrics {
		assert.Equal(t, m, done[i].Metric)
		assert.NotEmpty(t, results(t, store, m), "metric %s", m)
	}
}

func TestRecomputeAll_StopsAtFirstFailure(t *testing.T) {
	_, store := newTestEngine(t)
	logger := zaptest.NewLogger(t)
	engine := kpi.NewEngine(failingInsertStore{Store: store, err: errors.New("boom")}, errorlog.NewSink(store, logger), logger)
	load(t, store, sale(day(2025, 3, 15), 1, 1, 1, "42"))

	done, err := engine.RecomputeAll(context.Background(), sales.MustDateRange(day(2025, 3, 1), day(2025, 3, 31)), 10)
	require.Error(t, err)
	assert.Empty(t, done)

	logged, err := store.Errors(context.Background(), sales.ErrorLogFilter{})
	require.NoError(t, err)
	assert.Len(t, logged, 1, "no metric after the failing one may run")
}

func TestDefaultRange(t *testing.T) {
	r := kpi.DefaultRange(fixedNow, 30)
	assert.Equal(t, day(2025, 4, 1), r.End)
	assert.Equal(t, day(2025, 3, 2), r.Start)
}

func TestResults_Bounds(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	for d := 1; d <= 5; d++ {
		load(t, store, sale(day(2025, 3, d), 1, 1, 1, "1"))
	}
	_, err := engine.AvgTransactionValue(ctx, day(2025, 3, 1), day(2025, 3, 5))
	require.NoError(t, err)

	all, err := engine.Results(ctx, kpi.MetricAvgTransactionValue, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, day(2025, 3, 5), all[0].Date)

	upTo, err := engine.Results(ctx, kpi.MetricAvgTransactionValue, nil, ptr(day(2025, 3, 2)))
	require.NoError(t, err)
	assert.Len(t, upTo, 2)

	_, err = engine.Results(ctx, kpi.MetricAvgTransactionValue, ptr(day(2025, 3, 3)), ptr(day(2025, 3, 2)))
	assert.ErrorIs(t, err, sales.ErrInvalidRange)

	_, err = engine.Results(ctx, kpi.Metric("NOPE"), nil, nil)
	assert.ErrorIs(t, err, sales.ErrUnknownMetric)
}

func TestParseMetric(t *testing.T) {
	m, err := kpi.ParseMetric("top-customers")
	require.NoError(t, err)
	assert.Equal(t, kpi.MetricTopCustomers, m)
	assert.Equal(t, "TopCustomers", m.Operation())

	_, err = kpi.ParseMetric("margin")
	assert.ErrorIs(t, err, sales.ErrUnknownMetric)
}
