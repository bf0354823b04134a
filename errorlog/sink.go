/*
Package errorlog records execution failures reported by the engines.

PURPOSE:
  Both engines hand unexpected failures to a Reporter before returning
  them. Entries start PENDING and are triaged to RESOLVED or IGNORED by an
  operator; the engines never read them back.

FAILURE OF THE SINK ITSELF:
  If the entry cannot be written, Report returns a *SinkFailure. Callers
  return it alongside the original error and must not report it again:
  reporting a sink failure to the same sink would loop.

SEE ALSO:
  - sales/store.go: ErrorLogStore interface
  - kpi/engine.go, validation/engine.go: callers
*/
package errorlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/sales-kpi-engine/metrics"
	"github.com/warp/sales-kpi-engine/sales"
	"go.uber.org/zap"
)

// ErrSinkUnavailable marks a failure to persist an error log entry.
var ErrSinkUnavailable = errors.New("error log unavailable")

// SinkFailure carries both the failure being reported and the failure to
// write it down.
type SinkFailure struct {
	Component string
	Cause     error // what was being reported
	WriteErr  error // why it could not be written
}

func (e *SinkFailure) Error() string {
	return fmt.Sprintf("error log unavailable while reporting %s failure (%v): %v",
		e.Component, e.Cause, e.WriteErr)
}

func (e *SinkFailure) Unwrap() []error {
	return []error{ErrSinkUnavailable, e.WriteErr}
}

// Reporter is the engines' view of the error log.
type Reporter interface {
	Report(ctx context.Context, component, category string, err error, detail string) error
}

// Sink is the store-backed Reporter.
type Sink struct {
	store  sales.ErrorLogStore
	logger *zap.Logger
	now    func() time.Time
}

func NewSink(store sales.ErrorLogStore, logger *zap.Logger) *Sink {
	return &Sink{store: store, logger: logger, now: time.Now}
}

// Report writes one PENDING entry. It returns nil or a *SinkFailure.
func (s *Sink) Report(ctx context.Context, component, category string, err error, detail string) error {
	if category == "" {
		category = sales.CategoryException
	}
	entry := sales.ErrorLogEntry{
		Timestamp: s.now().UTC(),
		Component: component,
		Category:  category,
		Message:   err.Error(),
		Detail:    detail,
		Status:    sales.ResolutionPending,
	}

	// The engine's context may be the reason for the failure being
	// reported; the entry is still written.
	id, writeErr := s.store.AppendError(context.WithoutCancel(ctx), entry)
	if writeErr != nil {
		metrics.ErrorSinkFailures.Inc()
		s.logger.Error("Failed to write error log entry",
			zap.String("component", component),
			zap.NamedError("cause", err),
			zap.Error(writeErr))
		return &SinkFailure{Component: component, Cause: err, WriteErr: writeErr}
	}

	metrics.ErrorsReported.WithLabelValues(component).Inc()
	s.logger.Error("Execution failure recorded",
		zap.Int64("error_id", id),
		zap.String("component", component),
		zap.String("category", category),
		zap.Error(err))
	return nil
}

// UpdateStatus moves an entry through triage. Unknown ids return
// sales.ErrNotFound.
func (s *Sink) UpdateStatus(ctx context.Context, id int64, status sales.ResolutionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", sales.ErrInvalidStatus, status)
	}
	if err := s.store.UpdateErrorStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info("Error log entry triaged", zap.Int64("error_id", id), zap.String("status", string(status)))
	return nil
}

// List returns entries newest first, optionally filtered by status.
func (s *Sink) List(ctx context.Context, filter sales.ErrorLogFilter) ([]sales.ErrorLogEntry, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", sales.ErrInvalidStatus, *filter.Status)
	}
	return s.store.Errors(ctx, filter)
}

// Escalate joins an execution failure with a failure to report it. A nil
// report error leaves err unchanged.
func Escalate(err, reportErr error) error {
	if reportErr == nil {
		return err
	}
	return errors.Join(err, reportErr)
}
