package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-kpi-engine/sales"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions("", "", "", 0, 30)
	require.NoError(t, err)
	assert.Nil(t, opts.Range)
	assert.Nil(t, opts.ValidationDate)

	opts, err = parseOptions("2025-01-01", "2025-03-31", "2025-04-01", 5, 30)
	require.NoError(t, err)
	require.NotNil(t, opts.Range)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), opts.Range.Start)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), opts.Range.End)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), *opts.ValidationDate)
	assert.Equal(t, 5, opts.TopN)

	// A lone end date takes the window before it.
	opts, err = parseOptions("", "2025-03-31", "", 0, 7)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC), opts.Range.Start)
}

func TestParseOptions_Rejects(t *testing.T) {
	_, err := parseOptions("", "", "", -1, 30)
	assert.ErrorIs(t, err, sales.ErrInvalidTopN)

	_, err = parseOptions("2025-03-31", "2025-01-01", "", 0, 30)
	assert.ErrorIs(t, err, sales.ErrInvalidRange)

	_, err = parseOptions("31/03/2025", "2025-04-01", "", 0, 30)
	assert.ErrorContains(t, err, "-start")

	_, err = parseOptions("", "", "tomorrow", 0, 30)
	assert.ErrorContains(t, err, "-validation-date")
}
