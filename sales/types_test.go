package sales_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-kpi-engine/sales"
)

func ptr[T any](v T) *T { return &v }

func num(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func completeFact() sales.SalesFact {
	return sales.SalesFact{
		TransactionID:   ptr("T1"),
		TransactionDate: ptr(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)),
		CustomerID:      ptr(int64(1)),
		ProductID:       ptr(int64(1)),
		Quantity:        num("2"),
		UnitPrice:       num("50"),
		TotalAmount:     num("100"),
	}
}

func TestSalesFact_MissingRequired(t *testing.T) {
	f := completeFact()
	assert.False(t, f.MissingRequired())

	f.ProductID = nil
	assert.True(t, f.MissingRequired())

	f = completeFact()
	f.TotalAmount = decimal.NullDecimal{}
	assert.True(t, f.MissingRequired())

	// Region and discount are descriptive, not required.
	f = completeFact()
	f.RegionID = nil
	assert.False(t, f.MissingRequired())
}

func TestSalesFact_HasInvalidNumerics(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*sales.SalesFact)
		want   bool
	}{
		{"valid", func(*sales.SalesFact) {}, false},
		{"zero quantity", func(f *sales.SalesFact) { f.Quantity = num("0") }, true},
		{"negative price", func(f *sales.SalesFact) { f.UnitPrice = num("-1") }, true},
		{"zero total allowed", func(f *sales.SalesFact) { f.TotalAmount = num("0") }, false},
		{"negative total", func(f *sales.SalesFact) { f.TotalAmount = num("-0.01") }, true},
		{"null quantity does not match", func(f *sales.SalesFact) { f.Quantity = decimal.NullDecimal{} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := completeFact()
			tt.mutate(&f)
			assert.Equal(t, tt.want, f.HasInvalidNumerics())
		})
	}
}

func TestSalesFact_IsFutureDated(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	f := completeFact()
	assert.False(t, f.IsFutureDated(now))

	f.TransactionDate = ptr(now.Add(time.Minute))
	assert.True(t, f.IsFutureDated(now))

	f.TransactionDate = nil
	assert.False(t, f.IsFutureDated(now))
}

func TestSalesFact_Day(t *testing.T) {
	f := completeFact()
	d, ok := f.Day()
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), d)

	f.TransactionDate = nil
	_, ok = f.Day()
	assert.False(t, ok)
}

func TestClassification_Worst(t *testing.T) {
	assert.Equal(t, sales.StatusWarn, sales.Worst(sales.StatusPass, sales.StatusWarn))
	assert.Equal(t, sales.StatusFail, sales.Worst(sales.StatusFail, sales.StatusWarn))
	assert.Equal(t, sales.StatusPass, sales.Worst(sales.StatusPass, sales.StatusPass))
}

func TestParseEntity(t *testing.T) {
	e, err := sales.ParseEntity("CUSTOMERS")
	require.NoError(t, err)
	assert.Equal(t, sales.EntityCustomers, e)

	_, err = sales.ParseEntity("PRODUCTS")
	assert.ErrorIs(t, err, sales.ErrUnsupportedTarget)

	var target *sales.UnsupportedTargetError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "PRODUCTS", target.Target)
}
