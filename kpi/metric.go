package kpi

import (
	"fmt"
	"strings"

	"github.com/warp/sales-kpi-engine/sales"
)

// =============================================================================
// METRICS - Closed set of recomputable KPIs
// =============================================================================

// Metric identifies one of the five derived KPIs. The string value is the
// name stored in the results table.
type Metric string

const (
	MetricRevenueByRegion     Metric = "REVENUE_BY_REGION"
	MetricMonthlyRevenueTrend Metric = "MONTHLY_REVENUE_TREND"
	MetricTopCustomers        Metric = "TOP_CUSTOMERS"
	MetricProductPerformance  Metric = "PRODUCT_PERFORMANCE"
	MetricAvgTransactionValue Metric = "AVG_TRANSACTION_VALUE"
)

// AllMetrics lists every metric in recompute-all order.
var AllMetrics = []Metric{
	MetricRevenueByRegion,
	MetricMonthlyRevenueTrend,
	MetricTopCustomers,
	MetricProductPerformance,
	MetricAvgTransactionValue,
}

// DefaultTopN is the ranking size used when none is given.
const DefaultTopN = 10

// ParseMetric accepts the stored name in any case, with dashes or
// underscores.
func ParseMetric(name string) (Metric, error) {
	m := Metric(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_")))
	if _, ok := definitions[m]; !ok {
		return "", fmt.Errorf("%w: %q", sales.ErrUnknownMetric, name)
	}
	return m, nil
}

func (m Metric) String() string { return string(m) }

// Operation is the component name used in logs and the error log.
func (m Metric) Operation() string {
	if d, ok := definitions[m]; ok {
		return d.operation
	}
	return string(m)
}

// Scope returns the range a recomputation of m over r actually covers.
// The monthly metric widens to whole months so that a partial month is
// never stored as if it were complete.
func (m Metric) Scope(r sales.DateRange) sales.DateRange {
	if d, ok := definitions[m]; ok && d.monthly {
		return r.MonthAligned()
	}
	return r
}

// Params carries metric-specific inputs.
type Params struct {
	TopN int
}

func (p Params) topN() int {
	if p.TopN <= 0 {
		return DefaultTopN
	}
	return p.TopN
}

// rule turns the facts of a (scoped) range into result rows.
type rule func(facts []sales.SalesFact, r sales.DateRange, p Params) []sales.KpiResult

type definition struct {
	operation string
	monthly   bool
	rule      rule
}

var definitions = map[Metric]definition{
	MetricRevenueByRegion:     {operation: "RevenueByRegion", rule: revenueByRegion},
	MetricMonthlyRevenueTrend: {operation: "MonthlyRevenueTrend", monthly: true, rule: monthlyRevenueTrend},
	MetricTopCustomers:        {operation: "TopCustomers", rule: topCustomers},
	MetricProductPerformance:  {operation: "ProductPerformance", rule: productPerformance},
	MetricAvgTransactionValue: {operation: "AvgTransactionValue", rule: avgTransactionValue},
}

func ruleFor(m Metric) (rule, error) {
	d, ok := definitions[m]
	if !ok {
		return nil, fmt.Errorf("%w: %q", sales.ErrUnknownMetric, m)
	}
	return d.rule, nil
}
