package kpi

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-kpi-engine/sales"
)

// =============================================================================
// AGGREGATION RULES - Pure functions over a slice of the ledger
// =============================================================================
//
// Null totals are skipped, as SQL SUM/AVG skip NULL. A group whose totals
// are all null produces no row. Facts without a transaction date never
// reach a rule: the store only returns facts inside the range.

// avgScale is the number of decimal places kept by averages.
const avgScale = 4

type dayRegion struct {
	day    time.Time
	region int64
}

func revenueByRegion(facts []sales.SalesFact, _ sales.DateRange, _ Params) []sales.KpiResult {
	sums := make(map[dayRegion]decimal.Decimal)
	for _, f := range facts {
		day, ok := f.Day()
		if !ok || f.RegionID == nil || !f.TotalAmount.Valid {
			continue
		}
		k := dayRegion{day: day, region: *f.RegionID}
		sums[k] = sums[k].Add(f.TotalAmount.Decimal)
	}

	keys := make([]dayRegion, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].day.Equal(keys[j].day) {
			return keys[i].day.Before(keys[j].day)
		}
		return keys[i].region < keys[j].region
	})

	rows := make([]sales.KpiResult, 0, len(keys))
	for _, k := range keys {
		region := k.region
		rows = append(rows, sales.KpiResult{
			Metric:   string(MetricRevenueByRegion),
			Value:    sums[k],
			Date:     k.day,
			RegionID: &region,
		})
	}
	return rows
}

func monthlyRevenueTrend(facts []sales.SalesFact, _ sales.DateRange, _ Params) []sales.KpiResult {
	sums := sumByDate(facts, sales.StartOfMonth)
	return dateSeries(MetricMonthlyRevenueTrend, sums)
}

func productPerformance(facts []sales.SalesFact, _ sales.DateRange, _ Params) []sales.KpiResult {
	type dayProduct struct {
		day     time.Time
		product int64
		known   bool
	}

	subtotals := make(map[dayProduct]decimal.Decimal)
	for _, f := range facts {
		day, ok := f.Day()
		if !ok || !f.TotalAmount.Valid {
			continue
		}
		k := dayProduct{day: day}
		if f.ProductID != nil {
			k.product, k.known = *f.ProductID, true
		}
		subtotals[k] = subtotals[k].Add(f.TotalAmount.Decimal)
	}

	// Results are keyed by (metric, date, region) only, so the per-product
	// subtotals fold into one row per day.
	sums := make(map[time.Time]decimal.Decimal)
	for k, v := range subtotals {
		sums[k.day] = sums[k.day].Add(v)
	}
	return dateSeries(MetricProductPerformance, sums)
}

func avgTransactionValue(facts []sales.SalesFact, _ sales.DateRange, _ Params) []sales.KpiResult {
	sums := make(map[time.Time]decimal.Decimal)
	counts := make(map[time.Time]int64)
	for _, f := range facts {
		day, ok := f.Day()
		if !ok || !f.TotalAmount.Valid {
			continue
		}
		sums[day] = sums[day].Add(f.TotalAmount.Decimal)
		counts[day]++
	}

	avgs := make(map[time.Time]decimal.Decimal, len(sums))
	for day, sum := range sums {
		avgs[day] = sum.DivRound(decimal.NewFromInt(counts[day]), avgScale)
	}
	return dateSeries(MetricAvgTransactionValue, avgs)
}

// topCustomers ranks customers by revenue over the whole range. Ties go to
// the lower customer id. Every row is attributed to the range end.
func topCustomers(facts []sales.SalesFact, r sales.DateRange, p Params) []sales.KpiResult {
	sums := make(map[int64]decimal.Decimal)
	for _, f := range facts {
		if f.CustomerID == nil || !f.TotalAmount.Valid {
			continue
		}
		sums[*f.CustomerID] = sums[*f.CustomerID].Add(f.TotalAmount.Decimal)
	}

	customers := make([]int64, 0, len(sums))
	for id := range sums {
		customers = append(customers, id)
	}
	sort.Slice(customers, func(i, j int) bool {
		a, b := sums[customers[i]], sums[customers[j]]
		if c := a.Cmp(b); c != 0 {
			return c > 0
		}
		return customers[i] < customers[j]
	})

	n := p.topN()
	if len(customers) > n {
		customers = customers[:n]
	}

	rows := make([]sales.KpiResult, 0, len(customers))
	for i, id := range customers {
		customer := id
		rows = append(rows, sales.KpiResult{
			Metric:     string(MetricTopCustomers),
			Value:      sums[id],
			Date:       r.End,
			CustomerID: &customer,
			Rank:       i + 1,
		})
	}
	return rows
}

// =============================================================================
// HELPERS
// =============================================================================

func sumByDate(facts []sales.SalesFact, bucket func(time.Time) time.Time) map[time.Time]decimal.Decimal {
	sums := make(map[time.Time]decimal.Decimal)
	for _, f := range facts {
		day, ok := f.Day()
		if !ok || !f.TotalAmount.Valid {
			continue
		}
		k := bucket(day)
		sums[k] = sums[k].Add(f.TotalAmount.Decimal)
	}
	return sums
}

// dateSeries turns per-date values into rows ordered by date.
func dateSeries(m Metric, values map[time.Time]decimal.Decimal) []sales.KpiResult {
	dates := make([]time.Time, 0, len(values))
	for d := range values {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	rows := make([]sales.KpiResult, 0, len(dates))
	for _, d := range dates {
		rows = append(rows, sales.KpiResult{Metric: string(m), Value: values[d], Date: d})
	}
	return rows
}
