package validation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/warp/sales-kpi-engine/sales"
	"go.uber.org/zap"
)

// Report is the outcome of one RunAll.
type Report struct {
	RunID   string
	RunAt   time.Time
	Results []Result
	Status  sales.Classification // worst classification, FAIL if any check could not run
}

// RunAll runs the whole battery under one run id: batch quality,
// referential integrity (recorded), completeness of both entities and
// duplicates. A check that cannot run does not stop the others; their
// errors are joined.
func (e *Engine) RunAll(ctx context.Context, validationDate *time.Time) (Report, error) {
	report := Report{
		RunID:  uuid.NewString(),
		RunAt:  e.now().UTC(),
		Status: sales.StatusPass,
	}
	var errs []error

	collect := func(res Result, err error) {
		if err != nil {
			errs = append(errs, err)
			report.Status = sales.StatusFail
		}
		if res.CheckType != "" {
			report.Results = append(report.Results, res)
			report.Status = sales.Worst(report.Status, res.Status)
		}
	}

	collect(e.batchQuality(ctx, report.RunID, validationDate))

	ri, err := e.referentialIntegrity(ctx, report.RunID)
	if err == nil {
		ri, err = e.Record(ctx, ri)
	}
	collect(ri, err)

	for _, target := range []sales.Entity{sales.EntitySalesTransactions, sales.EntityCustomers} {
		collect(e.completeness(ctx, report.RunID, target))
	}
	collect(e.duplicates(ctx, report.RunID))

	e.logger.Info("Validation run completed",
		zap.String("run_id", report.RunID),
		zap.String("status", string(report.Status)),
		zap.Int("checks", len(report.Results)),
		zap.Int("errors", len(errs)))

	return report, errors.Join(errs...)
}

// Failed reports whether the run must block downstream recomputation.
func (r Report) Failed() bool {
	return r.Status == sales.StatusFail
}
