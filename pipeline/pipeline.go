/*
Package pipeline runs the daily batch: validate the ledger, then rebuild
the KPI tables.

PURPOSE:
  One entry point shared by the CLI, the HTTP API and the in-process
  scheduler, so all three run the same sequence with the same defaults.

SEQUENCE:
  1. validation.Engine.RunAll (one run id, every check)
  2. if HaltOnFail and the validation report is FAIL: stop
  3. kpi.Engine.RecomputeAll over the requested window

  Validation execution errors do not stop step 3 unless HaltOnFail is
  set; they are returned alongside the report.

CONCURRENCY:
  A Runner executes one pipeline at a time. A second Run while one is in
  flight returns ErrAlreadyRunning immediately.

SEE ALSO:
  - api/scheduler.go: PipelineScheduler (ticker driven)
  - cmd/pipeline: one-shot CLI
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warp/sales-kpi-engine/kpi"
	"github.com/warp/sales-kpi-engine/metrics"
	"github.com/warp/sales-kpi-engine/sales"
	"github.com/warp/sales-kpi-engine/validation"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when a pipeline run overlaps another.
var ErrAlreadyRunning = errors.New("pipeline already running")

// Outcome labels a finished run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeHalted    Outcome = "halted"
	OutcomeFailed    Outcome = "failed"
)

// Validator is the validation step.
type Validator interface {
	RunAll(ctx context.Context, validationDate *time.Time) (validation.Report, error)
}

// Recomputer is the recomputation step.
type Recomputer interface {
	RecomputeAll(ctx context.Context, r sales.DateRange, topN int) ([]kpi.Recomputation, error)
}

// Options select the window and behaviour of one run. Zero values use
// the Runner defaults.
type Options struct {
	Range          *sales.DateRange
	TopN           int
	ValidationDate *time.Time
	HaltOnFail     bool
}

// Report is the outcome of one run.
type Report struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Range          sales.DateRange
	Validation     validation.Report
	Recomputations []kpi.Recomputation
	Outcome        Outcome
}

// Runner sequences validation and recomputation.
type Runner struct {
	validator  Validator
	recomputer Recomputer
	logger     *zap.Logger
	now        func() time.Time

	windowDays int
	topN       int

	running sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithWindow sets the default recomputation window in days.
func WithWindow(days int) Option {
	return func(r *Runner) { r.windowDays = days }
}

// WithTopN sets the default Top Customers size.
func WithTopN(n int) Option {
	return func(r *Runner) { r.topN = n }
}

// WithClock overrides the clock used for the default window.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(v Validator, rc Recomputer, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		validator:  v,
		recomputer: rc,
		logger:     logger,
		now:        time.Now,
		windowDays: 30,
		topN:       kpi.DefaultTopN,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the pipeline once.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	if !r.running.TryLock() {
		return Report{}, ErrAlreadyRunning
	}
	defer r.running.Unlock()

	if opts.TopN < 0 {
		return Report{}, fmt.Errorf("%w: %d", sales.ErrInvalidTopN, opts.TopN)
	}
	rep := Report{StartedAt: r.now().UTC()}
	if opts.Range != nil {
		rep.Range = *opts.Range
	} else {
		rep.Range = kpi.DefaultRange(r.now(), r.windowDays)
	}
	topN := opts.TopN
	if topN == 0 {
		topN = r.topN
	}

	r.logger.Info("Pipeline started",
		zap.Stringer("range", rep.Range),
		zap.Int("top_n", topN),
		zap.Bool("halt_on_fail", opts.HaltOnFail))

	vrep, verr := r.validator.RunAll(ctx, opts.ValidationDate)
	rep.Validation = vrep
	rep.RunID = vrep.RunID

	if opts.HaltOnFail && (vrep.Failed() || verr != nil) {
		rep.Outcome = OutcomeHalted
		return r.finish(rep, verr)
	}

	recs, rerr := r.recomputer.RecomputeAll(ctx, rep.Range, topN)
	rep.Recomputations = recs
	if rerr != nil {
		rep.Outcome = OutcomeFailed
	} else {
		rep.Outcome = OutcomeCompleted
	}
	return r.finish(rep, errors.Join(verr, rerr))
}

func (r *Runner) finish(rep Report, err error) (Report, error) {
	rep.FinishedAt = r.now().UTC()
	metrics.PipelineRuns.WithLabelValues(string(rep.Outcome)).Inc()

	fields := []zap.Field{
		zap.String("run_id", rep.RunID),
		zap.String("outcome", string(rep.Outcome)),
		zap.String("validation_status", string(rep.Validation.Status)),
		zap.Int("metrics_recomputed", len(rep.Recomputations)),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
	}
	if err != nil {
		r.logger.Warn("Pipeline finished with errors", append(fields, zap.Error(err))...)
	} else {
		r.logger.Info("Pipeline finished", fields...)
	}
	return rep, err
}
