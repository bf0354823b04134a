/*
errors.go - Centralized error types for the sales analytics engines

PURPOSE:
  All shared error types in one place for consistency and discoverability.
  Engine packages wrap these with operation context.

ERROR CATEGORIES:
  1. Input errors - bad ranges, unknown metrics, unsupported check targets
  2. Lookup errors - missing error log entries
  3. Store errors - database-level failures (wrapped by the store)

USAGE:
    if errors.Is(err, sales.ErrNotFound) {
        // 404
    }

SEE ALSO:
  - kpi/engine.go: RecomputeError wraps store failures
  - validation/engine.go: CheckError wraps store failures
  - errorlog/sink.go: SinkFailure escalates error log write failures
*/
package sales

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid date range: end before start")

	// ErrUnknownMetric is returned for a metric name outside the fixed set.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrUnsupportedTarget is returned when a completeness check targets a
	// table it has no rule for.
	ErrUnsupportedTarget = errors.New("unsupported check target")

	// ErrInvalidTopN is returned for a negative ranking size.
	ErrInvalidTopN = errors.New("invalid top_n")

	// ErrInvalidStatus is returned for a resolution status outside
	// PENDING/RESOLVED/IGNORED.
	ErrInvalidStatus = errors.New("invalid resolution status")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnsupportedTargetError names the rejected completeness target.
type UnsupportedTargetError struct {
	Target string
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("unsupported check target %q (supported: %s, %s)",
		e.Target, EntitySalesTransactions, EntityCustomers)
}

func (e *UnsupportedTargetError) Unwrap() error {
	return ErrUnsupportedTarget
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrUnknownMetric) ||
		errors.Is(err, ErrUnsupportedTarget) ||
		errors.Is(err, ErrInvalidTopN) ||
		errors.Is(err, ErrInvalidStatus)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
