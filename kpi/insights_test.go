package kpi_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-kpi-engine/config"
	"github.com/warp/sales-kpi-engine/kpi"
	"github.com/warp/sales-kpi-engine/sales"
	"github.com/warp/sales-kpi-engine/store/sqlite"
	"go.uber.org/zap/zaptest"
)

func newTestInsights(t *testing.T) (*kpi.Insights, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return kpi.NewInsights(store, config.Static(config.DefaultThresholds()), zaptest.NewLogger(t)), store
}

func storeRows(t *testing.T, store *sqlite.Store, m kpi.Metric, values map[time.Time]string) {
	t.Helper()
	var rows []sales.KpiResult
	for d, v := range values {
		rows = append(rows, sales.KpiResult{Metric: string(m), Value: decimal.RequireFromString(v), Date: d})
	}
	require.NoError(t, store.InsertResults(context.Background(), rows))
}

func TestInsights_Outliers(t *testing.T) {
	// GIVEN: Revenue rows 100, 100, 100, 200 (mean 125)
	// WHEN: Looking for values more than 20% from the mean
	// THEN: Only 200 is an outlier; 100 is exactly 20% below and is not

	insights, store := newTestInsights(t)
	storeRows(t, store, kpi.MetricRevenueByRegion, map[time.Time]string{
		day(2025, 3, 1): "100",
		day(2025, 3, 2): "100",
		day(2025, 3, 3): "100",
		day(2025, 3, 4): "200",
	})

	outliers, err := insights.Outliers(context.Background(), kpi.MetricRevenueByRegion, -1)
	require.NoError(t, err)
	require.Len(t, outliers, 1)
	requireValue(t, "200", outliers[0].Result.Value)
	requireValue(t, "125", outliers[0].Mean)

	none, err := insights.Outliers(context.Background(), kpi.MetricTopCustomers, 20)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInsights_Trend(t *testing.T) {
	insights, store := newTestInsights(t)
	ctx := context.Background()

	trend, err := insights.Trend(ctx, kpi.MetricMonthlyRevenueTrend, 3)
	require.NoError(t, err)
	assert.False(t, trend.Sufficient)
	assert.Equal(t, "Insufficient data for trend analysis", trend.String())

	storeRows(t, store, kpi.MetricMonthlyRevenueTrend, map[time.Time]string{
		day(2025, 1, 1): "999",
		day(2025, 2, 1): "1000",
		day(2025, 3, 1): "1100",
		day(2025, 4, 1): "1250",
	})

	trend, err = insights.Trend(ctx, kpi.MetricMonthlyRevenueTrend, 0)
	require.NoError(t, err)
	require.True(t, trend.Sufficient)
	assert.True(t, trend.Increasing)
	assert.Equal(t, day(2025, 2, 1), trend.From.Date)
	assert.Equal(t, day(2025, 4, 1), trend.To.Date)
	requireValue(t, "25", trend.ChangePercent)
	assert.Equal(t, "Trend: increasing (25.00% change over 3 periods)", trend.String())
}

func TestInsights_Summary(t *testing.T) {
	insights, store := newTestInsights(t)
	today := sales.DayOf(time.Now())

	require.NoError(t, store.InsertResults(context.Background(), []sales.KpiResult{
		{Metric: string(kpi.MetricTopCustomers), Value: decimal.NewFromInt(10), Date: today, Rank: 1, CustomerID: ptr(int64(1))},
	}))

	s, err := insights.Summary(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.RevenueOutliers)
	assert.False(t, s.MonthlyTrend.Sufficient)
	assert.True(t, s.RecentTopCustomers)
	assert.Contains(t, s.Lines, "Top customers analysis available for last 7 days")
}
