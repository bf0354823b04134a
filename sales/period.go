package sales

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE RANGE - Inclusive day range every recomputation is scoped to
// =============================================================================

// DateRange is an inclusive range of UTC days [Start, End].
// Both bounds are normalized to midnight; a transaction belongs to the
// range when its day falls between them.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange normalizes both bounds to days and rejects end < start.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: DayOf(start), End: DayOf(end)}
	if r.End.Before(r.Start) {
		return DateRange{}, fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	return r, nil
}

// MustDateRange is NewDateRange for literals in tests and fixtures.
func MustDateRange(start, end time.Time) DateRange {
	r, err := NewDateRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

// Contains reports whether t's day lies inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := DayOf(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// UpperExclusive returns the first instant after the range, for half-open
// storage queries.
func (r DateRange) UpperExclusive() time.Time {
	return r.End.AddDate(0, 0, 1)
}

// MonthAligned widens the range to whole calendar months.
func (r DateRange) MonthAligned() DateRange {
	return DateRange{Start: StartOfMonth(r.Start), End: EndOfMonth(r.End)}
}

// Days returns the number of days covered, bounds included.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r DateRange) String() string {
	return "[" + r.Start.Format(DateLayout) + ", " + r.End.Format(DateLayout) + "]"
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DateLayout is the wire and storage format of a day.
const DateLayout = "2006-01-02"

func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func EndOfMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, -1)
}

// ParseDay parses a YYYY-MM-DD day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
