package sales_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-kpi-engine/sales"
)

func TestNewDateRange_NormalizesToDays(t *testing.T) {
	start := time.Date(2025, time.March, 10, 17, 45, 0, 0, time.UTC)
	end := time.Date(2025, time.March, 12, 1, 0, 0, 0, time.UTC)

	r, err := sales.NewDateRange(start, end)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC), r.End)
	assert.Equal(t, 3, r.Days())
	assert.Equal(t, "[2025-03-10, 2025-03-12]", r.String())
}

func TestNewDateRange_EndBeforeStart(t *testing.T) {
	_, err := sales.NewDateRange(
		time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC),
	)
	assert.ErrorIs(t, err, sales.ErrInvalidRange)
	assert.True(t, sales.IsClientError(err))
}

func TestDateRange_SingleDay(t *testing.T) {
	d := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	r := sales.MustDateRange(d, d)

	assert.True(t, r.Contains(d.Add(23*time.Hour)))
	assert.False(t, r.Contains(d.Add(24*time.Hour)))
	assert.False(t, r.Contains(d.Add(-time.Second)))
	assert.Equal(t, d.AddDate(0, 0, 1), r.UpperExclusive())
}

func TestDateRange_MonthAligned(t *testing.T) {
	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "within one month",
			start:     time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
			end:       time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "february of leap year",
			start:     time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC),
			end:       time.Date(2024, time.February, 2, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "across year end",
			start:     time.Date(2024, time.December, 15, 0, 0, 0, 0, time.UTC),
			end:       time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sales.MustDateRange(tt.start, tt.end).MonthAligned()
			assert.Equal(t, tt.wantStart, got.Start)
			assert.Equal(t, tt.wantEnd, got.End)
		})
	}
}

func TestParseDay(t *testing.T) {
	d, err := sales.ParseDay("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), d)

	_, err = sales.ParseDay("10/03/2025")
	assert.Error(t, err)
}
