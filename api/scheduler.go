/*
scheduler.go - Automated pipeline scheduler

PURPOSE:
  Periodically runs the validate-then-recompute pipeline in-process, for
  deployments without an external cron.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on Start
  - A tick that lands while a run is still in progress is skipped
    (pipeline.ErrAlreadyRunning), not queued
  - Each run uses the default window ending on the tick's day

CONFIGURATION:
  - Interval: How often to run (pipeline.interval; 0 disables the scheduler)
  - HaltOnFail: Skip recomputation when validation FAILs

USAGE:
  scheduler := NewPipelineScheduler(handler.Pipeline, interval, haltOnFail, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunPipeline endpoint (manual trigger)
  - pipeline/pipeline.go: Runner
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/sales-kpi-engine/pipeline"
	"go.uber.org/zap"
)

// PipelineRunner is the part of pipeline.Runner the scheduler drives.
type PipelineRunner interface {
	Run(ctx context.Context, opts pipeline.Options) (pipeline.Report, error)
}

// PipelineScheduler runs the pipeline on a ticker.
type PipelineScheduler struct {
	Runner     PipelineRunner
	Interval   time.Duration
	HaltOnFail bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex // guards Start/Stop

	lastMu  sync.Mutex // guards lastRun/nextRun
	lastRun time.Time
	nextRun time.Time
}

// NewPipelineScheduler creates a new scheduler. An interval <= 0 leaves
// it disabled.
func NewPipelineScheduler(runner PipelineRunner, interval time.Duration, haltOnFail bool, logger *zap.Logger) *PipelineScheduler {
	return &PipelineScheduler{
		Runner:     runner,
		Interval:   interval,
		HaltOnFail: haltOnFail,
		logger:     logger,
	}
}

// Enabled reports whether Start will launch the ticker.
func (ps *PipelineScheduler) Enabled() bool {
	return ps.Interval > 0
}

// Start begins the scheduler.
func (ps *PipelineScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled() {
		ps.logger.Info("Pipeline scheduler disabled, not starting")
		return
	}
	if ps.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps.cancel = cancel
	ps.stop = make(chan struct{})
	ps.ticker = time.NewTicker(ps.Interval)
	ps.setNextRun(time.Now().Add(ps.Interval))
	ps.wg.Add(1)

	go ps.run(ctx)

	ps.logger.Info("Pipeline scheduler started", zap.Duration("interval", ps.Interval))
}

// Stop stops the scheduler and waits for an in-flight run to return.
func (ps *PipelineScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker == nil {
		return
	}
	ps.ticker.Stop()
	close(ps.stop)
	ps.cancel()
	ps.wg.Wait()
	ps.ticker = nil
	ps.setNextRun(time.Time{})
	ps.logger.Info("Pipeline scheduler stopped")
}

func (ps *PipelineScheduler) run(ctx context.Context) {
	defer ps.wg.Done()

	// Run immediately on start
	ps.RunNow(ctx)

	for {
		select {
		case tick := <-ps.ticker.C:
			ps.setNextRun(tick.Add(ps.Interval))
			ps.RunNow(ctx)
		case <-ps.stop:
			return
		}
	}
}

// RunNow triggers an immediate run (for testing/admin).
func (ps *PipelineScheduler) RunNow(ctx context.Context) {
	rep, err := ps.Runner.Run(ctx, pipeline.Options{HaltOnFail: ps.HaltOnFail})
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		ps.logger.Info("Skipping scheduled pipeline run, previous run still in progress")
		return
	case err != nil:
		ps.logger.Warn("Scheduled pipeline run finished with errors",
			zap.String("run_id", rep.RunID),
			zap.String("outcome", string(rep.Outcome)),
			zap.Error(err))
	default:
		ps.logger.Info("Scheduled pipeline run finished",
			zap.String("run_id", rep.RunID),
			zap.String("outcome", string(rep.Outcome)))
	}

	ps.lastMu.Lock()
	ps.lastRun = rep.FinishedAt
	ps.lastMu.Unlock()
}

// SchedulerStatus is the scheduler's view for the health endpoint.
type SchedulerStatus struct {
	Enabled  bool       `json:"enabled"`
	Interval string     `json:"interval,omitempty"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// Status reports when the last run finished and when the ticker fires
// next. NextRun is unset while the scheduler is stopped.
func (ps *PipelineScheduler) Status() SchedulerStatus {
	ps.lastMu.Lock()
	defer ps.lastMu.Unlock()

	st := SchedulerStatus{Enabled: ps.Enabled()}
	if st.Enabled {
		st.Interval = ps.Interval.String()
	}
	if !ps.lastRun.IsZero() {
		last := ps.lastRun
		st.LastRun = &last
	}
	if !ps.nextRun.IsZero() {
		next := ps.nextRun
		st.NextRun = &next
	}
	return st
}

func (ps *PipelineScheduler) setNextRun(t time.Time) {
	ps.lastMu.Lock()
	ps.nextRun = t
	ps.lastMu.Unlock()
}
