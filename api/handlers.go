/*
handlers.go - HTTP API handlers for the KPI and validation engines

PURPOSE:
  Exposes recomputation, validation, the error log and the pipeline via a
  REST API. Handles HTTP request/response, JSON serialization and request
  validation, and delegates to the engines.

ENDPOINTS:
  KPIs:
    GET    /api/kpis                     List recomputable metrics
    POST   /api/kpis/recompute           Recompute every metric
    POST   /api/kpis/{metric}/recompute  Recompute one metric
    GET    /api/kpis/{metric}            Stored results (start_date, end_date)
    GET    /api/insights                 Outliers, trend, ranking availability

  Validation:
    POST   /api/validation/run           Run every check under one run id
    POST   /api/validation/completeness  Completeness of one table
    GET    /api/validation/log           Recent log rows (limit, run_id)

  Error log:
    GET    /api/errors                   Recent entries (status, limit)
    PUT    /api/errors/{id}/status       Triage an entry

  Pipeline / demo:
    POST   /api/pipeline/run             Validate then recompute
    POST   /api/demo/load                Reset and load the demo dataset

ARCHITECTURE:
  Handler holds the store and the engines built on it. Engines are built
  once in NewHandler so the API, the scheduler and tests share them.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input (sales.IsClientError)
  - 404: Resource not found (sales.IsNotFound)
  - 409: A pipeline or recomputation lock is already held
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - demo.go: Demo dataset loader
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
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

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	KPI        *kpi.Engine
	Insights   *kpi.Insights
	Validation *validation.Engine
	Errors     *errorlog.Sink
	Pipeline   *pipeline.Runner

	// Scheduler, when set, is reported by Health.
	Scheduler *PipelineScheduler

	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
	settings Settings
}

// Settings are the request defaults.
type Settings struct {
	WindowDays int
	TopN       int
	HaltOnFail bool
	DemoDays   int
}

// SettingsFromConfig maps process configuration onto handler defaults.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		WindowDays: cfg.KPI.WindowDays,
		TopN:       cfg.KPI.TopN,
		HaltOnFail: cfg.Pipeline.HaltOnFail,
		DemoDays:   factory.DefaultDays,
	}
}

type handlerOptions struct {
	locker   lock.Locker
	now      func() time.Time
	settings Settings
}

// Option configures NewHandler.
type Option func(*handlerOptions)

// WithLocker sets the recomputation lock (default: in-process).
func WithLocker(l lock.Locker) Option {
	return func(o *handlerOptions) { o.locker = l }
}

// WithClock overrides the clock of every engine.
func WithClock(now func() time.Time) Option {
	return func(o *handlerOptions) { o.now = now }
}

func WithSettings(s Settings) Option {
	return func(o *handlerOptions) { o.settings = s }
}

// NewHandler creates a handler and the engines it serves.
func NewHandler(store *sqlite.Store, thresholds config.ThresholdSource, logger *zap.Logger, opts ...Option) *Handler {
	o := handlerOptions{
		locker: lock.NewLocal(),
		now:    time.Now,
		settings: Settings{
			WindowDays: 30,
			TopN:       kpi.DefaultTopN,
			DemoDays:   factory.DefaultDays,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	sink := errorlog.NewSink(store, logger.Named("errorlog"))
	kpiEngine := kpi.NewEngine(store, sink, logger.Named("kpi"), kpi.WithLocker(o.locker), kpi.WithClock(o.now))
	valEngine := validation.NewEngine(store, sink, thresholds, logger.Named("validation"), validation.WithClock(o.now))

	return &Handler{
		Store:      store,
		KPI:        kpiEngine,
		Insights:   kpi.NewInsights(store, thresholds, logger.Named("insights"), kpi.WithInsightsClock(o.now)),
		Validation: valEngine,
		Errors:     sink,
		Pipeline: pipeline.NewRunner(valEngine, kpiEngine, logger.Named("pipeline"),
			pipeline.WithClock(o.now),
			pipeline.WithWindow(o.settings.WindowDays),
			pipeline.WithTopN(o.settings.TopN)),
		logger:   logger,
		validate: newValidator(),
		now:      o.now,
		settings: o.settings,
	}
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// KPI HANDLERS
// =============================================================================

// ListMetrics returns the recomputable metrics in recompute-all order.
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	out := make([]MetricDTO, len(kpi.AllMetrics))
	for i, m := range kpi.AllMetrics {
		out[i] = MetricDTO{Name: m.String(), Operation: m.Operation()}
	}
	writeJSON(w, http.StatusOK, out)
}

// RecomputeAll rebuilds every metric over the requested window.
func (h *Handler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	rng, topN, err := h.recomputeInputs(req)
	if err != nil {
		writeError(w, statusFor(err), "Invalid recompute request", err)
		return
	}

	done, err := h.KPI.RecomputeAll(r.Context(), rng, topN)
	if err != nil {
		writeError(w, statusFor(err), "Recomputation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, RecomputeAllResponse{
		StartDate: formatDay(rng.Start),
		EndDate:   formatDay(rng.End),
		Metrics:   toRecomputationDTOs(done),
	})
}

// RecomputeMetric rebuilds one metric and returns the rows written.
func (h *Handler) RecomputeMetric(w http.ResponseWriter, r *http.Request) {
	m, err := kpi.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown metric", err)
		return
	}

	var req RecomputeRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	rng, topN, err := h.recomputeInputs(req)
	if err != nil {
		writeError(w, statusFor(err), "Invalid recompute request", err)
		return
	}

	out, err := h.KPI.Recompute(r.Context(), m, rng, kpi.Params{TopN: topN})
	if err != nil {
		writeError(w, statusFor(err), "Recomputation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecomputationDTO(out, true))
}

// GetResults returns stored rows of one metric, newest first.
func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	m, err := kpi.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown metric", err)
		return
	}

	start, err := optionalDay(r.URL.Query().Get("start_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	end, err := optionalDay(r.URL.Query().Get("end_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return
	}

	rows, err := h.KPI.Results(r.Context(), m, start, end)
	if err != nil {
		writeError(w, statusFor(err), "Failed to read results", err)
		return
	}

	writeJSON(w, http.StatusOK, toKpiResultDTOs(rows))
}

// GetInsights returns the rule-based summary of stored results.
func (h *Handler) GetInsights(w http.ResponseWriter, r *http.Request) {
	s, err := h.Insights.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate insights", err)
		return
	}
	writeJSON(w, http.StatusOK, toInsightsDTO(s))
}

func (h *Handler) recomputeInputs(req RecomputeRequest) (sales.DateRange, int, error) {
	rng, err := h.resolveRange(req.StartDate, req.EndDate)
	if err != nil {
		return sales.DateRange{}, 0, err
	}
	if req.TopN < 0 {
		return sales.DateRange{}, 0, sales.ErrInvalidTopN
	}
	topN := req.TopN
	if topN == 0 {
		topN = h.settings.TopN
	}
	return rng, topN, nil
}

// resolveRange fills a missing bound from the configured window.
func (h *Handler) resolveRange(start, end string) (sales.DateRange, error) {
	if start == "" && end == "" {
		return kpi.DefaultRange(h.now(), h.settings.WindowDays), nil
	}

	e := sales.DayOf(h.now())
	if end != "" {
		d, err := sales.ParseDay(end)
		if err != nil {
			return sales.DateRange{}, errors.Join(sales.ErrInvalidRange, err)
		}
		e = d
	}
	s := e.AddDate(0, 0, -h.settings.WindowDays)
	if start != "" {
		d, err := sales.ParseDay(start)
		if err != nil {
			return sales.DateRange{}, errors.Join(sales.ErrInvalidRange, err)
		}
		s = d
	}
	return sales.NewDateRange(s, e)
}

// =============================================================================
// VALIDATION HANDLERS
// =============================================================================

// RunValidation runs every check under one run id. Checks that could not
// execute are listed in the report and turn the response into a 500.
func (h *Handler) RunValidation(w http.ResponseWriter, r *http.Request) {
	var req RunValidationRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	day, err := optionalDay(req.ValidationDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid validation_date format (use YYYY-MM-DD)", err)
		return
	}

	rep, err := h.Validation.RunAll(r.Context(), day)
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, toValidationReportDTO(rep, err))
}

// RunCompleteness checks one table and records the result.
func (h *Handler) RunCompleteness(w http.ResponseWriter, r *http.Request) {
	var req CompletenessRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	target := sales.Entity(strings.ToUpper(strings.TrimSpace(req.Target)))
	res, err := h.Validation.Completeness(r.Context(), target)
	if err != nil {
		writeError(w, statusFor(err), "Completeness check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckResultDTO(res))
}

// ListValidationLog returns recent log rows, newest first.
func (h *Handler) ListValidationLog(w http.ResponseWriter, r *http.Request) {
	limit, err := optionalInt(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	rows, err := h.Validation.Log(r.Context(), sales.ValidationLogFilter{
		RunID: r.URL.Query().Get("run_id"),
		Limit: limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read validation log", err)
		return
	}

	out := make([]ValidationLogDTO, len(rows))
	for i, e := range rows {
		out[i] = toValidationLogDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// ERROR LOG HANDLERS
// =============================================================================

// ListErrors returns recent error log entries, optionally by status.
func (h *Handler) ListErrors(w http.ResponseWriter, r *http.Request) {
	limit, err := optionalInt(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	filter := sales.ErrorLogFilter{Limit: limit}
	if s := r.URL.Query().Get("status"); s != "" {
		status := sales.ResolutionStatus(strings.ToUpper(s))
		filter.Status = &status
	}

	entries, err := h.Errors.List(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), "Failed to read error log", err)
		return
	}

	out := make([]ErrorLogDTO, len(entries))
	for i, e := range entries {
		out[i] = toErrorLogDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateErrorStatus moves an entry to RESOLVED, IGNORED or back to PENDING.
func (h *Handler) UpdateErrorStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid error id", err)
		return
	}

	var req UpdateErrorStatusRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	if err := h.Errors.UpdateStatus(r.Context(), id, sales.ResolutionStatus(req.Status)); err != nil {
		writeError(w, statusFor(err), "Failed to update error status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

// =============================================================================
// PIPELINE HANDLERS
// =============================================================================

// RunPipeline validates the ledger and then recomputes every metric.
func (h *Handler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	var req RunPipelineRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	rng, _, err := h.recomputeInputs(req.RecomputeRequest)
	if err != nil {
		writeError(w, statusFor(err), "Invalid pipeline request", err)
		return
	}
	day, err := optionalDay(req.ValidationDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid validation_date format (use YYYY-MM-DD)", err)
		return
	}

	opts := pipeline.Options{
		Range:          &rng,
		TopN:           req.TopN,
		ValidationDate: day,
		HaltOnFail:     h.settings.HaltOnFail,
	}
	if req.HaltOnFail != nil {
		opts.HaltOnFail = *req.HaltOnFail
	}

	rep, err := h.Pipeline.Run(r.Context(), opts)
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "Pipeline already running", err)
		return
	}

	status := http.StatusOK
	if rep.Outcome == pipeline.OutcomeFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, toPipelineReportDTO(rep, err))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports whether the database answers, and the scheduler state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	n, err := h.Store.CountFacts(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	resp := HealthResponse{Status: "ok", Transactions: n}
	if h.Scheduler != nil {
		st := h.Scheduler.Status()
		resp.Scheduler = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case sales.IsClientError(err):
		return http.StatusBadRequest
	case sales.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrAlreadyRunning), errors.Is(err, lock.ErrNotAcquired):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeRequest reads an optional JSON body into dst and validates it.
// It writes the 400 response itself and returns false on failure.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

func optionalDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := sales.ParseDay(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}
