/*
Package validation certifies the sales ledger before KPIs are trusted.

PURPOSE:
  Runs independent quality checks over the ledger and registries. Each
  check yields a Result: a PASS / WARN / FAIL classification plus counts.
  A poor classification is a value, not an error; errors are reserved for
  checks that could not run.

CHECKS:
  BatchQuality:         rows loaded on one day; nulls, bad numerics, future dates
  ReferentialIntegrity: ledger references missing from the registries
  Completeness:         descriptive fields missing in one entity
  Duplicates:           transaction ids occurring more than once

AUDIT TRAIL:
  BatchQuality, Completeness and Duplicates append one validation log row
  each. ReferentialIntegrity leaves persistence to the caller (Record);
  RunAll records it. All rows of one RunAll share a run id.

BATCH COUNTING:
  The three batch sub-checks are additive and not deduplicated: a row with
  a null customer and a zero quantity fails twice. Passed is reported as
  checked minus failed and can therefore be negative.

FAILURES:
  Execution failures are reported to the error log with the check name as
  component and returned as *CheckError. BatchQuality additionally returns
  a FAIL result with zero counts next to the error.

SEE ALSO:
  - sales/store.go: QualityStore
  - config/thresholds.go: warn percent
*/
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/sales-kpi-engine/config"
	"github.com/warp/sales-kpi-engine/errorlog"
	"github.com/warp/sales-kpi-engine/metrics"
	"github.com/warp/sales-kpi-engine/sales"
	"go.uber.org/zap"
)

// Check types as written to the validation log.
const (
	CheckBatchQuality         = "BATCH_QUALITY"
	CheckReferentialIntegrity = "REFERENTIAL_INTEGRITY"
	CheckCompleteness         = "COMPLETENESS"
	CheckDuplicates           = "DUPLICATE_CHECK"
)

// Result is the outcome of one check invocation.
type Result struct {
	RunID     string
	CheckType string
	Table     string
	Checked   int64
	Passed    int64
	Failed    int64
	Status    sales.Classification
	Details   string
	LogID     int64 // zero until recorded
}

func (r Result) entry(runAt time.Time) sales.ValidationLogEntry {
	return sales.ValidationLogEntry{
		RunID:          r.RunID,
		RunAt:          runAt,
		TableName:      r.Table,
		CheckType:      r.CheckType,
		RecordsChecked: r.Checked,
		RecordsPassed:  r.Passed,
		RecordsFailed:  r.Failed,
		Status:         r.Status,
		ErrorDetails:   r.Details,
	}
}

// CheckError wraps a check that could not run.
type CheckError struct {
	Check string
	Err   error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("validation %s: %v", e.Check, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// Engine runs the quality checks.
type Engine struct {
	store      sales.QualityStore
	sink       errorlog.Reporter
	thresholds config.ThresholdSource
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for "now" in the future-date check,
// the default validation date and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store sales.QualityStore, sink errorlog.Reporter, thresholds config.ThresholdSource, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		sink:       sink,
		thresholds: thresholds,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// BATCH QUALITY
// =============================================================================

// BatchQuality checks the rows loaded on the day of validationDate (nil
// means today). On failure the returned Result is FAIL with zero counts.
func (e *Engine) BatchQuality(ctx context.Context, validationDate *time.Time) (Result, error) {
	return e.batchQuality(ctx, uuid.NewString(), validationDate)
}

func (e *Engine) batchQuality(ctx context.Context, runID string, validationDate *time.Time) (Result, error) {
	now := e.now().UTC()
	day := now
	if validationDate != nil {
		day = *validationDate
	}

	res, err := e.scoreBatch(ctx, runID, day, now)
	if err == nil {
		res, err = e.record(ctx, res, now)
	}
	if err != nil {
		fallback := Result{
			RunID:     runID,
			CheckType: CheckBatchQuality,
			Table:     string(sales.EntitySalesTransactions),
			Status:    sales.StatusFail,
		}
		return fallback, e.fail(ctx, "BatchQuality", err, "validation date "+sales.DayOf(day).Format(sales.DateLayout))
	}
	return e.observe(res), nil
}

func (e *Engine) scoreBatch(ctx context.Context, runID string, day, now time.Time) (Result, error) {
	facts, err := e.store.FactsLoadedOn(ctx, day)
	if err != nil {
		return Result{}, err
	}

	var missing, invalid, future int64
	for _, f := range facts {
		if f.MissingRequired() {
			missing++
		}
		if f.HasInvalidNumerics() {
			invalid++
		}
		if f.IsFutureDated(now) {
			future++
		}
	}

	checked := int64(len(facts))
	failed := missing + invalid + future

	var details []string
	if missing > 0 {
		details = append(details, fmt.Sprintf("Null required fields: %d", missing))
	}
	if invalid > 0 {
		details = append(details, fmt.Sprintf("Invalid numeric values: %d", invalid))
	}
	if future > 0 {
		details = append(details, fmt.Sprintf("Future-dated transactions: %d", future))
	}

	return Result{
		RunID:     runID,
		CheckType: CheckBatchQuality,
		Table:     string(sales.EntitySalesTransactions),
		Checked:   checked,
		Passed:    checked - failed,
		Failed:    failed,
		Status:    Classify(checked, failed, e.thresholds.Current().Validation.WarnPercent),
		Details:   strings.Join(details, "; "),
	}, nil
}

// Classify grades a batch: PASS with no failures, WARN while failures stay
// within warnPercent of checked rows (boundary included), FAIL otherwise.
func Classify(checked, failed, warnPercent int64) sales.Classification {
	switch {
	case failed <= 0:
		return sales.StatusPass
	case failed*100 <= checked*warnPercent:
		return sales.StatusWarn
	default:
		return sales.StatusFail
	}
}

// =============================================================================
// REFERENTIAL INTEGRITY
// =============================================================================

// ReferentialIntegrity counts ledger rows whose customer, product or region
// reference does not resolve. The result is not recorded; see Record.
func (e *Engine) ReferentialIntegrity(ctx context.Context) (Result, error) {
	return e.referentialIntegrity(ctx, uuid.NewString())
}

func (e *Engine) referentialIntegrity(ctx context.Context, runID string) (Result, error) {
	counts, err := e.store.CountOrphanReferences(ctx)
	if err != nil {
		return Result{}, e.fail(ctx, "ReferentialIntegrity", err, "")
	}

	status := sales.StatusPass
	if counts.Total() > 0 {
		status = sales.StatusFail
	}
	failed := counts.Total()

	return e.observe(Result{
		RunID:     runID,
		CheckType: CheckReferentialIntegrity,
		Table:     string(sales.EntitySalesTransactions),
		Checked:   counts.Checked,
		Passed:    counts.Checked - failed,
		Failed:    failed,
		Status:    status,
		Details: fmt.Sprintf("Invalid customer references: %d; Invalid product references: %d; Invalid region references: %d",
			counts.Customers, counts.Products, counts.Regions),
	}), nil
}

// =============================================================================
// COMPLETENESS
// =============================================================================

// Completeness counts rows of target missing a descriptive field. Any
// missing field is a WARN, never a FAIL.
func (e *Engine) Completeness(ctx context.Context, target sales.Entity) (Result, error) {
	return e.completeness(ctx, uuid.NewString(), target)
}

func (e *Engine) completeness(ctx context.Context, runID string, target sales.Entity) (Result, error) {
	if _, err := sales.ParseEntity(string(target)); err != nil {
		return Result{}, err
	}

	now := e.now().UTC()
	checked, incomplete, err := e.store.CountIncomplete(ctx, target)
	if err != nil {
		return Result{}, e.fail(ctx, "Completeness", err, "target "+string(target))
	}

	status := sales.StatusPass
	details := ""
	if incomplete > 0 {
		status = sales.StatusWarn
		details = fmt.Sprintf("Incomplete %s records: %d", target, incomplete)
	}

	res, err := e.record(ctx, Result{
		RunID:     runID,
		CheckType: CheckCompleteness,
		Table:     string(target),
		Checked:   checked,
		Passed:    checked - incomplete,
		Failed:    incomplete,
		Status:    status,
		Details:   details,
	}, now)
	if err != nil {
		return Result{}, e.fail(ctx, "Completeness", err, "target "+string(target))
	}
	return e.observe(res), nil
}

// =============================================================================
// DUPLICATES
// =============================================================================

// Duplicates counts distinct transaction ids that occur more than once.
func (e *Engine) Duplicates(ctx context.Context) (Result, error) {
	return e.duplicates(ctx, uuid.NewString())
}

func (e *Engine) duplicates(ctx context.Context, runID string) (Result, error) {
	now := e.now().UTC()
	duplicates, checked, err := e.store.CountDuplicateTransactionIDs(ctx)
	if err != nil {
		return Result{}, e.fail(ctx, "Duplicates", err, "")
	}

	status := sales.StatusPass
	details := ""
	if duplicates > 0 {
		status = sales.StatusFail
		details = fmt.Sprintf("Duplicate transaction ids: %d", duplicates)
	}

	res, err := e.record(ctx, Result{
		RunID:     runID,
		CheckType: CheckDuplicates,
		Table:     string(sales.EntitySalesTransactions),
		Checked:   checked,
		Passed:    checked - duplicates,
		Failed:    duplicates,
		Status:    status,
		Details:   details,
	}, now)
	if err != nil {
		return Result{}, e.fail(ctx, "Duplicates", err, "")
	}
	return e.observe(res), nil
}

// =============================================================================
// RECORDING & REPORTING
// =============================================================================

// Record appends res to the validation log. A missing run id gets a
// fresh one.
func (e *Engine) Record(ctx context.Context, res Result) (Result, error) {
	res, err := e.record(ctx, res, e.now().UTC())
	if err != nil {
		return res, e.fail(ctx, "Record", err, res.CheckType)
	}
	return res, nil
}

func (e *Engine) record(ctx context.Context, res Result, runAt time.Time) (Result, error) {
	if res.RunID == "" {
		res.RunID = uuid.NewString()
	}
	id, err := e.store.AppendValidationLog(ctx, res.entry(runAt))
	if err != nil {
		return res, err
	}
	res.LogID = id
	return res, nil
}

// Log returns recent validation log rows, newest first.
func (e *Engine) Log(ctx context.Context, filter sales.ValidationLogFilter) ([]sales.ValidationLogEntry, error) {
	return e.store.ValidationLog(ctx, filter)
}

func (e *Engine) observe(res Result) Result {
	metrics.ValidationChecks.WithLabelValues(res.CheckType, string(res.Status)).Inc()
	metrics.ValidationRecordsFailed.WithLabelValues(res.CheckType).Add(float64(max(res.Failed, 0)))

	log := e.logger.Info
	if res.Status != sales.StatusPass {
		log = e.logger.Warn
	}
	log("Validation check completed",
		zap.String("run_id", res.RunID),
		zap.String("check", res.CheckType),
		zap.String("table", res.Table),
		zap.String("status", string(res.Status)),
		zap.Int64("checked", res.Checked),
		zap.Int64("failed", res.Failed))
	return res
}

// fail reports err and returns it as a *CheckError, joined with any
// failure to write the error log.
func (e *Engine) fail(ctx context.Context, component string, err error, detail string) error {
	e.logger.Error("Validation check failed", zap.String("check", component), zap.Error(err))
	reportErr := e.sink.Report(ctx, component, sales.CategoryException, err, detail)
	return errorlog.Escalate(&CheckError{Check: component, Err: err}, reportErr)
}

// IsCheckError reports whether err came from a check that could not run.
func IsCheckError(err error) bool {
	var ce *CheckError
	return errors.As(err, &ce)
}
