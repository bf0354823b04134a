package kpi

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-kpi-engine/config"
	"github.com/warp/sales-kpi-engine/sales"
	"go.uber.org/zap"
)

// =============================================================================
// INSIGHTS - Rule-based reading of stored results
// =============================================================================

// ResultReader is the read side of the results store.
type ResultReader interface {
	Results(ctx context.Context, q sales.ResultQuery) ([]sales.KpiResult, error)
}

// Insights derives outliers and trends from stored KPI rows. It never
// writes.
type Insights struct {
	results    ResultReader
	thresholds config.ThresholdSource
	logger     *zap.Logger
	now        func() time.Time
}

// InsightsOption configures Insights.
type InsightsOption func(*Insights)

// WithInsightsClock overrides the clock used for the recent-ranking window.
func WithInsightsClock(now func() time.Time) InsightsOption {
	return func(in *Insights) { in.now = now }
}

func NewInsights(results ResultReader, thresholds config.ThresholdSource, logger *zap.Logger, opts ...InsightsOption) *Insights {
	in := &Insights{results: results, thresholds: thresholds, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Outlier is a stored row whose value is far from its metric's mean.
type Outlier struct {
	Result sales.KpiResult
	Mean   decimal.Decimal
}

// Outliers returns rows of m deviating from the mean of all rows of m by
// more than thresholdPct percent of that mean. A negative thresholdPct
// uses the configured revenue anomaly percentage.
func (in *Insights) Outliers(ctx context.Context, m Metric, thresholdPct float64) ([]Outlier, error) {
	if thresholdPct < 0 {
		thresholdPct = in.thresholds.Current().Insights.RevenueAnomalyPercentage
	}
	rows, err := in.results.Results(ctx, sales.ResultQuery{Metric: string(m)})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.Value)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(rows))))
	band := mean.Mul(decimal.NewFromFloat(thresholdPct)).Div(decimal.NewFromInt(100)).Abs()
	upper, lower := mean.Add(band), mean.Sub(band)

	var outliers []Outlier
	for _, r := range rows {
		if r.Value.GreaterThan(upper) || r.Value.LessThan(lower) {
			outliers = append(outliers, Outlier{Result: r, Mean: mean})
		}
	}
	return outliers, nil
}

// Trend describes the movement across the most recent periods of a metric.
type Trend struct {
	Metric     Metric
	Periods    int
	Sufficient bool
	Increasing bool
	// ChangePercent is relative to the oldest value; zero when that value is zero.
	ChangePercent decimal.Decimal
	From          sales.KpiResult
	To            sales.KpiResult
}

func (t Trend) String() string {
	if !t.Sufficient {
		return "Insufficient data for trend analysis"
	}
	direction := "decreasing"
	if t.Increasing {
		direction = "increasing"
	}
	return fmt.Sprintf("Trend: %s (%s%% change over %d periods)",
		direction, t.ChangePercent.StringFixed(2), t.Periods)
}

// Trend compares the oldest and newest of the last periods rows of m.
// periods < 2 uses the configured trend detection periods.
func (in *Insights) Trend(ctx context.Context, m Metric, periods int) (Trend, error) {
	if periods < 2 {
		periods = in.thresholds.Current().Insights.TrendDetectionPeriods
	}
	t := Trend{Metric: m, Periods: periods}

	rows, err := in.results.Results(ctx, sales.ResultQuery{Metric: string(m)})
	if err != nil {
		return t, err
	}
	if len(rows) < periods {
		return t, nil
	}

	// Rows are newest first.
	t.To, t.From = rows[0], rows[periods-1]
	t.Sufficient = true
	t.Increasing = t.To.Value.GreaterThan(t.From.Value)
	if !t.From.Value.IsZero() {
		t.ChangePercent = t.To.Value.Sub(t.From.Value).
			Div(t.From.Value).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return t, nil
}

// Summary bundles the standard insights shown on the dashboard.
type Summary struct {
	RevenueOutliers    []Outlier
	MonthlyTrend       Trend
	RecentTopCustomers bool
	Lines              []string
}

// Summary reads revenue-by-region outliers, the monthly trend and whether
// a top-customer ranking exists for the last seven days.
func (in *Insights) Summary(ctx context.Context) (Summary, error) {
	var s Summary

	outliers, err := in.Outliers(ctx, MetricRevenueByRegion, -1)
	if err != nil {
		return s, fmt.Errorf("revenue outliers: %w", err)
	}
	s.RevenueOutliers = outliers
	if len(outliers) > 0 {
		s.Lines = append(s.Lines, fmt.Sprintf("Found %d revenue outliers by region", len(outliers)))
	}

	trend, err := in.Trend(ctx, MetricMonthlyRevenueTrend, 0)
	if err != nil {
		return s, fmt.Errorf("monthly trend: %w", err)
	}
	s.MonthlyTrend = trend
	s.Lines = append(s.Lines, "Monthly Revenue: "+trend.String())

	since := sales.DayOf(in.now()).AddDate(0, 0, -7)
	top, err := in.results.Results(ctx, sales.ResultQuery{Metric: string(MetricTopCustomers), From: &since})
	if err != nil {
		return s, fmt.Errorf("top customers: %w", err)
	}
	if len(top) > 0 {
		s.RecentTopCustomers = true
		s.Lines = append(s.Lines, "Top customers analysis available for last 7 days")
	}

	in.logger.Debug("Generated insights", zap.Strings("lines", s.Lines))
	return s, nil
}
