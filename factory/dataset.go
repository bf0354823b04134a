/*
dataset.go - Demo dataset builder

PURPOSE:

	Produces a complete, deterministic sales dataset (registries plus a
	synthetic ledger) for demos, local development and integration tests.
	The same seed and clock always produce the same rows, so KPI values
	computed over a demo load are reproducible.

REGISTRIES:

	Regions:   NA, EU, APAC, ME
	Customers: ten accounts spread round-robin over the regions
	Products:  five catalogue items across Software, Cloud, Services, Hardware

LEDGER GENERATION (per day, over the N days before today):

	transactions: 5 to 19
	customer:     uniform over the registry; the row's region is the customer's
	product:      uniform over the registry
	quantity:     1 to 49
	unit price:   list price * (0.8 + r*0.4), i.e. +/-20% variance
	discount:     one of 0, 0, 0, 5, 10 percent (mostly none)
	total:        quantity * unit price * (1 - discount/100)

	Today is never generated, so a demo load has no future-dated rows and
	passes the batch quality check.

USAGE:

	ds := factory.NewDemoDataset(time.Now(), 90, factory.DefaultSeed)
	if err := ds.Load(ctx, store); err != nil { ... }

SEE ALSO:
  - api/demo.go: POST /api/demo/load
  - cmd/pipeline: -demo flag
*/
package factory

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-kpi-engine/sales"
)

// DefaultSeed keeps demo loads reproducible across runs.
const DefaultSeed int64 = 42

// DefaultDays is the demo ledger length when none is given.
const DefaultDays = 90

// DemoDataset is a full set of registries and ledger rows.
type DemoDataset struct {
	Regions   []sales.Region
	Customers []sales.Customer
	Products  []sales.Product
	Facts     []sales.SalesFact
}

// DemoStore is what Load writes to.
type DemoStore interface {
	sales.RegistryStore
	sales.LedgerStore
}

// =============================================================================
// REGISTRIES
// =============================================================================

var demoRegions = []sales.Region{
	{ID: 1, Code: "NA", Name: "North America"},
	{ID: 2, Code: "EU", Name: "Europe"},
	{ID: 3, Code: "APAC", Name: "Asia Pacific"},
	{ID: 4, Code: "ME", Name: "Middle East"},
}

var demoCustomers = []struct {
	name   string
	region int64
}{
	{"Acme Corp", 1},
	{"Tech Solutions Inc", 2},
	{"Global Enterprises", 3},
	{"Digital Services Ltd", 4},
	{"Innovation Hub", 1},
	{"Mega Corp", 2},
	{"StartupXYZ", 3},
	{"Enterprise Solutions", 4},
	{"Tech Giants", 1},
	{"Future Systems", 2},
}

var demoProducts = []struct {
	id       int64
	name     string
	category string
	price    int64
}{
	{101, "Software License", "Software", 1000},
	{102, "Cloud Service", "Cloud", 500},
	{103, "Consulting Hours", "Services", 150},
	{104, "Hardware Equipment", "Hardware", 2000},
	{105, "Support Package", "Services", 300},
}

var demoDiscounts = []int64{0, 0, 0, 5, 10}

// =============================================================================
// BUILDER
// =============================================================================

// NewDemoDataset builds the registries and `days` days of ledger rows
// ending the day before now. days <= 0 yields DefaultDays.
func NewDemoDataset(now time.Time, days int, seed int64) DemoDataset {
	if days <= 0 {
		days = DefaultDays
	}

	ds := DemoDataset{
		Regions:   append([]sales.Region(nil), demoRegions...),
		Customers: make([]sales.Customer, len(demoCustomers)),
		Products:  make([]sales.Product, len(demoProducts)),
	}
	for i, c := range demoCustomers {
		name := c.name
		email := fmt.Sprintf("contact%02d@customers.example", i+1)
		region := c.region
		ds.Customers[i] = sales.Customer{
			ID:       int64(i + 1),
			Code:     fmt.Sprintf("CUST%03d", i+1),
			Name:     &name,
			Email:    &email,
			RegionID: &region,
		}
	}
	for i, p := range demoProducts {
		ds.Products[i] = sales.Product{
			ID:        p.id,
			Code:      fmt.Sprintf("PRD%d", p.id),
			Name:      p.name,
			Category:  p.category,
			ListPrice: decimal.NewFromInt(p.price),
		}
	}

	rng := rand.New(rand.NewSource(seed))
	first := sales.DayOf(now).AddDate(0, 0, -days)
	loaded := now.UTC()

	for d := 0; d < days; d++ {
		day := first.AddDate(0, 0, d)
		n := 5 + rng.Intn(15)
		for i := 0; i < n; i++ {
			ds.Facts = append(ds.Facts, ds.fact(rng, day, i, loaded))
		}
	}
	return ds
}

func (ds DemoDataset) fact(rng *rand.Rand, day time.Time, seq int, loaded time.Time) sales.SalesFact {
	customer := ds.Customers[rng.Intn(len(ds.Customers))]
	product := ds.Products[rng.Intn(len(ds.Products))]

	qty := decimal.NewFromInt(int64(1 + rng.Intn(49)))
	variance := decimal.NewFromFloat(0.8 + rng.Float64()*0.4)
	price := product.ListPrice.Mul(variance).Round(2)
	discount := decimal.NewFromInt(demoDiscounts[rng.Intn(len(demoDiscounts))])
	keep := decimal.NewFromInt(1).Sub(discount.Div(decimal.NewFromInt(100)))
	total := qty.Mul(price).Mul(keep).Round(2)

	txID := fmt.Sprintf("TXN%s%03d", day.Format("20060102"), seq+1)
	at := day.Add(9*time.Hour + time.Duration(rng.Intn(8*60))*time.Minute)
	customerID := customer.ID
	productID := product.ID
	regionID := *customer.RegionID

	return sales.SalesFact{
		TransactionID:      &txID,
		TransactionDate:    &at,
		CustomerID:         &customerID,
		ProductID:          &productID,
		Quantity:           decimal.NewNullDecimal(qty),
		UnitPrice:          decimal.NewNullDecimal(price),
		TotalAmount:        decimal.NewNullDecimal(total),
		RegionID:           &regionID,
		DiscountPercentage: decimal.NewNullDecimal(discount),
		LoadDate:           loaded,
	}
}

// Range returns the transaction days the ledger covers.
func (ds DemoDataset) Range() (sales.DateRange, bool) {
	if len(ds.Facts) == 0 {
		return sales.DateRange{}, false
	}
	first, _ := ds.Facts[0].Day()
	last, _ := ds.Facts[len(ds.Facts)-1].Day()
	return sales.MustDateRange(first, last), true
}

// =============================================================================
// LOADER
// =============================================================================

// Load writes the registries and then the ledger as one batch.
func (ds DemoDataset) Load(ctx context.Context, store DemoStore) error {
	for _, r := range ds.Regions {
		if err := store.SaveRegion(ctx, r); err != nil {
			return fmt.Errorf("save region %s: %w", r.Code, err)
		}
	}
	for _, c := range ds.Customers {
		if err := store.SaveCustomer(ctx, c); err != nil {
			return fmt.Errorf("save customer %s: %w", c.Code, err)
		}
	}
	for _, p := range ds.Products {
		if err := store.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.Code, err)
		}
	}
	if err := sales.NewLedger(store).Append(ctx, ds.Facts...); err != nil {
		return fmt.Errorf("append %d demo facts: %w", len(ds.Facts), err)
	}
	return nil
}
