// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecomputeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesk_kpi_recompute_total",
		Help: "Total number of KPI recomputations, labelled by metric and status.",
	}, []string{"metric", "status"})

	RecomputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salesk_kpi_recompute_duration_ms",
		Help:    "KPI recomputation latency in milliseconds, including lock wait.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	}, []string{"metric"})

	ResultRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesk_kpi_result_rows_written_total",
		Help: "Total number of KPI result rows inserted, labelled by metric.",
	}, []string{"metric"})

	ResultRowsReplaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesk_kpi_result_rows_replaced_total",
		Help: "Total number of KPI result rows deleted before reinsertion, labelled by metric.",
	}, []string{"metric"})

	ValidationChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesk_validation_checks_total",
		Help: "Total number of validation checks, labelled by check type and classification.",
	}, []string{"check_type", "status"})

	ValidationRecordsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesk_validation_records_failed_total",
		Help: "Total number of records failing a validation check, labelled by check type.",
	}, []string{"check_type"})

	ErrorsReported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesk_errors_reported_total",
		Help: "Total number of execution failures written to the error log, labelled by component.",
	}, []string{"component"})

	ErrorSinkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "salesk_error_sink_failures_total",
		Help: "Total number of failures to write an error log entry.",
	})

	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesk_pipeline_runs_total",
		Help: "Total number of pipeline runs, labelled by outcome.",
	}, []string{"outcome"})

	ThresholdReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "salesk_threshold_reloads_total",
		Help: "Total number of successful thresholds file reloads.",
	})
)
