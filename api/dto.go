/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model (sales, kpi, validation) from the external contract.
  Amounts are rendered as decimal strings so no precision is lost in JSON.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  KPIs:
    RecomputeRequest, RecomputationDTO, RecomputeAllResponse, KpiResultDTO,
    MetricDTO, InsightsDTO

  Validation:
    RunValidationRequest, CompletenessRequest, CheckResultDTO,
    ValidationReportDTO, ValidationLogDTO

  Error log:
    ErrorLogDTO, UpdateErrorStatusRequest

  Pipeline / demo:
    RunPipelineRequest, PipelineReportDTO, LoadDemoRequest

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked by
  decodeRequest before any handler logic runs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"strings"
	"time"

	"github.com/warp/sales-kpi-engine/kpi"
	"github.com/warp/sales-kpi-engine/pipeline"
	"github.com/warp/sales-kpi-engine/sales"
	"github.com/warp/sales-kpi-engine/validation"
)

// =============================================================================
// KPI TYPES
// =============================================================================

// RecomputeRequest selects the window of a recomputation. Missing dates
// fall back to the configured window ending today.
type RecomputeRequest struct {
	StartDate string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	TopN      int    `json:"top_n" validate:"max=1000"`
}

type MetricDTO struct {
	Name      string `json:"name"`
	Operation string `json:"operation"`
}

type RecomputationDTO struct {
	Metric    string         `json:"metric"`
	StartDate string         `json:"start_date"`
	EndDate   string         `json:"end_date"`
	Deleted   int64          `json:"deleted"`
	Inserted  int            `json:"inserted"`
	Rows      []KpiResultDTO `json:"rows,omitempty"`
}

type RecomputeAllResponse struct {
	StartDate string             `json:"start_date"`
	EndDate   string             `json:"end_date"`
	Metrics   []RecomputationDTO `json:"metrics"`
}

type KpiResultDTO struct {
	ID           int64  `json:"id,omitempty"`
	Metric       string `json:"metric"`
	Value        string `json:"value"`
	Date         string `json:"date"`
	RegionID     *int64 `json:"region_id,omitempty"`
	CustomerID   *int64 `json:"customer_id,omitempty"`
	Rank         int    `json:"rank,omitempty"`
	CalculatedAt string `json:"calculated_at"`
}

type OutlierDTO struct {
	Result KpiResultDTO `json:"result"`
	Mean   string       `json:"mean"`
}

type TrendDTO struct {
	Metric        string `json:"metric"`
	Periods       int    `json:"periods"`
	Sufficient    bool   `json:"sufficient"`
	Increasing    bool   `json:"increasing"`
	ChangePercent string `json:"change_percent"`
	Summary       string `json:"summary"`
}

type InsightsDTO struct {
	RevenueOutliers    []OutlierDTO `json:"revenue_outliers"`
	MonthlyTrend       TrendDTO     `json:"monthly_trend"`
	RecentTopCustomers bool         `json:"recent_top_customers"`
	Lines              []string     `json:"lines"`
}

// =============================================================================
// VALIDATION TYPES
// =============================================================================

type RunValidationRequest struct {
	ValidationDate string `json:"validation_date" validate:"omitempty,datetime=2006-01-02"`
}

type CompletenessRequest struct {
	Target string `json:"target" validate:"required"`
}

type CheckResultDTO struct {
	RunID     string `json:"run_id"`
	CheckType string `json:"check_type"`
	Table     string `json:"table_name"`
	Checked   int64  `json:"records_checked"`
	Passed    int64  `json:"records_passed"`
	Failed    int64  `json:"records_failed"`
	Status    string `json:"status"`
	Details   string `json:"error_details,omitempty"`
	LogID     int64  `json:"log_id,omitempty"`
}

type ValidationReportDTO struct {
	RunID   string           `json:"run_id"`
	RunAt   string           `json:"run_at"`
	Status  string           `json:"status"`
	Results []CheckResultDTO `json:"results"`
	Errors  []string         `json:"errors,omitempty"`
}

type ValidationLogDTO struct {
	ID             int64  `json:"id"`
	RunID          string `json:"run_id"`
	RunAt          string `json:"run_at"`
	TableName      string `json:"table_name"`
	CheckType      string `json:"check_type"`
	RecordsChecked int64  `json:"records_checked"`
	RecordsPassed  int64  `json:"records_passed"`
	RecordsFailed  int64  `json:"records_failed"`
	Status         string `json:"status"`
	ErrorDetails   string `json:"error_details,omitempty"`
}

// =============================================================================
// ERROR LOG TYPES
// =============================================================================

type ErrorLogDTO struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	Status    string `json:"status"`
}

type UpdateErrorStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING RESOLVED IGNORED"`
}

// =============================================================================
// PIPELINE / DEMO TYPES
// =============================================================================

type RunPipelineRequest struct {
	RecomputeRequest
	ValidationDate string `json:"validation_date" validate:"omitempty,datetime=2006-01-02"`
	HaltOnFail     *bool  `json:"halt_on_fail"`
}

type PipelineReportDTO struct {
	RunID          string              `json:"run_id"`
	Outcome        string              `json:"outcome"`
	StartedAt      string              `json:"started_at"`
	FinishedAt     string              `json:"finished_at"`
	StartDate      string              `json:"start_date"`
	EndDate        string              `json:"end_date"`
	Validation     ValidationReportDTO `json:"validation"`
	Recomputations []RecomputationDTO  `json:"recomputations"`
	Errors         []string            `json:"errors,omitempty"`
}

type LoadDemoRequest struct {
	Days int    `json:"days" validate:"min=0,max=730"`
	Seed *int64 `json:"seed"`
}

type LoadDemoResponse struct {
	Status       string `json:"status"`
	Regions      int    `json:"regions"`
	Customers    int    `json:"customers"`
	Products     int    `json:"products"`
	Transactions int    `json:"transactions"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
}

type HealthResponse struct {
	Status       string           `json:"status"`
	Transactions int64            `json:"transactions"`
	Scheduler    *SchedulerStatus `json:"scheduler,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatDay(t time.Time) string {
	return t.UTC().Format(sales.DateLayout)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toKpiResultDTO(r sales.KpiResult) KpiResultDTO {
	return KpiResultDTO{
		ID:           r.ID,
		Metric:       r.Metric,
		Value:        r.Value.String(),
		Date:         formatDay(r.Date),
		RegionID:     r.RegionID,
		CustomerID:   r.CustomerID,
		Rank:         r.Rank,
		CalculatedAt: formatTime(r.CalculatedAt),
	}
}

func toKpiResultDTOs(rows []sales.KpiResult) []KpiResultDTO {
	out := make([]KpiResultDTO, len(rows))
	for i, r := range rows {
		out[i] = toKpiResultDTO(r)
	}
	return out
}

func toRecomputationDTO(rc kpi.Recomputation, withRows bool) RecomputationDTO {
	dto := RecomputationDTO{
		Metric:    rc.Metric.String(),
		StartDate: formatDay(rc.Range.Start),
		EndDate:   formatDay(rc.Range.End),
		Deleted:   rc.Deleted,
		Inserted:  rc.Inserted,
	}
	if withRows {
		dto.Rows = toKpiResultDTOs(rc.Rows)
	}
	return dto
}

func toRecomputationDTOs(rcs []kpi.Recomputation) []RecomputationDTO {
	out := make([]RecomputationDTO, len(rcs))
	for i, rc := range rcs {
		out[i] = toRecomputationDTO(rc, false)
	}
	return out
}

func toTrendDTO(t kpi.Trend) TrendDTO {
	return TrendDTO{
		Metric:        t.Metric.String(),
		Periods:       t.Periods,
		Sufficient:    t.Sufficient,
		Increasing:    t.Increasing,
		ChangePercent: t.ChangePercent.StringFixed(2),
		Summary:       t.String(),
	}
}

func toInsightsDTO(s kpi.Summary) InsightsDTO {
	dto := InsightsDTO{
		RevenueOutliers:    make([]OutlierDTO, len(s.RevenueOutliers)),
		MonthlyTrend:       toTrendDTO(s.MonthlyTrend),
		RecentTopCustomers: s.RecentTopCustomers,
		Lines:              s.Lines,
	}
	for i, o := range s.RevenueOutliers {
		dto.RevenueOutliers[i] = OutlierDTO{Result: toKpiResultDTO(o.Result), Mean: o.Mean.StringFixed(2)}
	}
	if dto.Lines == nil {
		dto.Lines = []string{}
	}
	return dto
}

func toCheckResultDTO(r validation.Result) CheckResultDTO {
	return CheckResultDTO{
		RunID:     r.RunID,
		CheckType: r.CheckType,
		Table:     r.Table,
		Checked:   r.Checked,
		Passed:    r.Passed,
		Failed:    r.Failed,
		Status:    string(r.Status),
		Details:   r.Details,
		LogID:     r.LogID,
	}
}

func toValidationReportDTO(rep validation.Report, err error) ValidationReportDTO {
	dto := ValidationReportDTO{
		RunID:   rep.RunID,
		RunAt:   formatTime(rep.RunAt),
		Status:  string(rep.Status),
		Results: make([]CheckResultDTO, len(rep.Results)),
		Errors:  errorLines(err),
	}
	for i, r := range rep.Results {
		dto.Results[i] = toCheckResultDTO(r)
	}
	return dto
}

func toValidationLogDTO(e sales.ValidationLogEntry) ValidationLogDTO {
	return ValidationLogDTO{
		ID:             e.ID,
		RunID:          e.RunID,
		RunAt:          formatTime(e.RunAt),
		TableName:      e.TableName,
		CheckType:      e.CheckType,
		RecordsChecked: e.RecordsChecked,
		RecordsPassed:  e.RecordsPassed,
		RecordsFailed:  e.RecordsFailed,
		Status:         string(e.Status),
		ErrorDetails:   e.ErrorDetails,
	}
}

func toErrorLogDTO(e sales.ErrorLogEntry) ErrorLogDTO {
	return ErrorLogDTO{
		ID:        e.ID,
		Timestamp: formatTime(e.Timestamp),
		Component: e.Component,
		Category:  e.Category,
		Message:   e.Message,
		Detail:    e.Detail,
		Status:    string(e.Status),
	}
}

func toPipelineReportDTO(rep pipeline.Report, err error) PipelineReportDTO {
	return PipelineReportDTO{
		RunID:          rep.RunID,
		Outcome:        string(rep.Outcome),
		StartedAt:      formatTime(rep.StartedAt),
		FinishedAt:     formatTime(rep.FinishedAt),
		StartDate:      formatDay(rep.Range.Start),
		EndDate:        formatDay(rep.Range.End),
		Validation:     toValidationReportDTO(rep.Validation, nil),
		Recomputations: toRecomputationDTOs(rep.Recomputations),
		Errors:         errorLines(err),
	}
}

// errorLines splits a joined error into one line per cause.
func errorLines(err error) []string {
	if err == nil {
		return nil
	}
	return strings.Split(err.Error(), "\n")
}
