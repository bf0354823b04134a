/*
main.go - One-shot pipeline CLI

PURPOSE:
  Runs the validate-then-recompute pipeline once against the configured
  database and exits, for cron or manual runs.

COMMAND-LINE FLAGS:
  -config           Config file path (default: config.yaml)
  -db               SQLite database path, overrides database.path
  -start            First day to recompute, YYYY-MM-DD
  -end              Last day to recompute, YYYY-MM-DD (default: today)
  -top-n            Top Customers size (0 = config default)
  -validation-date  Load day the batch quality check inspects (default: today)
  -halt-on-fail     Skip recomputation when validation FAILs
  -demo             Reset the database and load N days of demo data first

EXIT CODES:
  0  pipeline completed
  1  invalid input, or a check or recomputation could not execute
  2  halted on a FAIL validation

EXAMPLES:
  # Nightly run over the configured window
  ./pipeline -halt-on-fail

  # Rebuild a specific quarter
  ./pipeline -start=2025-01-01 -end=2025-03-31

  # Try it out on demo data
  ./pipeline -db=":memory:" -demo=90

SEE ALSO:
  - pipeline/pipeline.go: Runner
  - api/scheduler.go: in-process alternative
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/sales-kpi-engine/config"
	"github.com/warp/sales-kpi-engine/errorlog"
	"github.com/warp/sales-kpi-engine/factory"
	"github.com/warp/sales-kpi-engine/kpi"
	"github.com/warp/sales-kpi-engine/lock"
	"github.com/warp/sales-kpi-engine/pipeline"
	"github.com/warp/sales-kpi-engine/sales"
	"github.com/warp/sales-kpi-engine/store/sqlite"
	"github.com/warp/sales-kpi-engine/validation"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "Config file path")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	startFlag := flag.String("start", "", "First day to recompute (YYYY-MM-DD)")
	endFlag := flag.String("end", "", "Last day to recompute (YYYY-MM-DD)")
	topN := flag.Int("top-n", 0, "Top Customers size (0 = config default)")
	validationDate := flag.String("validation-date", "", "Load day to validate (YYYY-MM-DD)")
	haltOnFail := flag.Bool("halt-on-fail", false, "Skip recomputation when validation FAILs")
	demoDays := flag.Int("demo", 0, "Reset and load N days of demo data first")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	halt := cfg.Pipeline.HaltOnFail
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "halt-on-fail" {
			halt = *haltOnFail
		}
	})

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Printf("Failed to build logger: %v", err)
		return 1
	}
	defer logger.Sync()

	opts, err := parseOptions(*startFlag, *endFlag, *validationDate, *topN, cfg.KPI.WindowDays)
	if err != nil {
		logger.Error("Invalid arguments", zap.Error(err))
		return 1
	}
	opts.HaltOnFail = halt

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger.Named("sqlite")))
	if err != nil {
		logger.Error("Failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
		return 1
	}
	defer store.Close()

	if *demoDays > 0 {
		if err := store.Reset(ctx); err != nil {
			logger.Error("Failed to reset database", zap.Error(err))
			return 1
		}
		ds := factory.NewDemoDataset(time.Now(), *demoDays, factory.DefaultSeed)
		if err := ds.Load(ctx, store); err != nil {
			logger.Error("Failed to load demo dataset", zap.Error(err))
			return 1
		}
		logger.Info("Demo dataset loaded", zap.Int("days", *demoDays), zap.Int("transactions", len(ds.Facts)))
	}

	thresholds, err := config.NewLoader(cfg.ThresholdsPath, logger.Named("thresholds"))
	if err != nil {
		logger.Error("Failed to load thresholds", zap.Error(err))
		return 1
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Lock.RedisAddr != "" {
		rl, err := lock.NewRedis(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisDB, cfg.Lock.TTL, cfg.Lock.Wait, logger.Named("lock"))
		if err != nil {
			logger.Error("Failed to initialize recomputation lock", zap.Error(err))
			return 1
		}
		defer rl.Close()
		locker = rl
	}

	sink := errorlog.NewSink(store, logger.Named("errorlog"))
	runner := pipeline.NewRunner(
		validation.NewEngine(store, sink, thresholds, logger.Named("validation")),
		kpi.NewEngine(store, sink, logger.Named("kpi"), kpi.WithLocker(locker)),
		logger.Named("pipeline"),
		pipeline.WithWindow(cfg.KPI.WindowDays),
		pipeline.WithTopN(cfg.KPI.TopN),
	)

	rep, err := runner.Run(ctx, opts)
	printReport(rep, err)

	switch {
	case err != nil || rep.Outcome == pipeline.OutcomeFailed:
		return 1
	case rep.Outcome == pipeline.OutcomeHalted:
		return 2
	default:
		return 0
	}
}

// parseOptions turns the CLI flags into pipeline options. A missing start
// is the configured window before end.
func parseOptions(start, end, validationDay string, topN, windowDays int) (pipeline.Options, error) {
	var opts pipeline.Options
	if topN < 0 {
		return opts, fmt.Errorf("%w: -top-n %d", sales.ErrInvalidTopN, topN)
	}
	opts.TopN = topN

	if start != "" || end != "" {
		e := sales.DayOf(time.Now())
		if end != "" {
			d, err := sales.ParseDay(end)
			if err != nil {
				return opts, fmt.Errorf("-end: %w", err)
			}
			e = d
		}
		s := e.AddDate(0, 0, -windowDays)
		if start != "" {
			d, err := sales.ParseDay(start)
			if err != nil {
				return opts, fmt.Errorf("-start: %w", err)
			}
			s = d
		}
		r, err := sales.NewDateRange(s, e)
		if err != nil {
			return opts, err
		}
		opts.Range = &r
	}

	if validationDay != "" {
		d, err := sales.ParseDay(validationDay)
		if err != nil {
			return opts, fmt.Errorf("-validation-date: %w", err)
		}
		opts.ValidationDate = &d
	}
	return opts, nil
}

func printReport(rep pipeline.Report, err error) {
	fmt.Printf("Pipeline run %s: %s\n", rep.RunID, rep.Outcome)
	fmt.Printf("  Window: %s\n", rep.Range)
	fmt.Printf("  Validation: %s\n", rep.Validation.Status)
	for _, r := range rep.Validation.Results {
		fmt.Printf("    %-22s %-20s %-4s checked=%d failed=%d %s\n",
			r.CheckType, r.Table, r.Status, r.Checked, r.Failed, r.Details)
	}
	if len(rep.Recomputations) > 0 {
		fmt.Println("  Recomputed:")
		for _, rc := range rep.Recomputations {
			fmt.Printf("    %-22s %s deleted=%d inserted=%d\n", rc.Metric, rc.Range, rc.Deleted, rc.Inserted)
		}
	}
	if err != nil {
		fmt.Printf("  Errors:\n    %v\n", err)
	}
}
