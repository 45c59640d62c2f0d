package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"orderpulse/internal/aggregator"
	"orderpulse/internal/core"
	"orderpulse/internal/db"
	"orderpulse/internal/types"
)

// MetricsReader defines the read access to the analytics tables. Mirrors the
// concrete db.MetricsRepo methods used by this handler.
type MetricsReader interface {
	QueryHourlyStatusMetrics(ctx context.Context, f db.HourlyStatusMetricsFilter) ([]types.HourlyStatusMetric, error)
	QueryHourlyOrderMetrics(ctx context.Context, f db.HourlyOrderMetricsFilter) ([]types.HourlyOrderMetric, error)
	GetCustomerLifetimeMetric(ctx context.Context, customerID int64) (*types.CustomerLifetimeMetric, error)
	ListCustomerLifetimeMetrics(ctx context.Context, f db.CustomerLifetimeMetricsFilter) ([]types.CustomerLifetimeMetric, error)
}

// JobStatusReporter returns the merged job status view.
type JobStatusReporter interface {
	Report(ctx context.Context, jobName string) (*types.JobStatusReport, error)
}

// JobTrigger enqueues an on-demand aggregation task.
type JobTrigger interface {
	Enqueue(ctx context.Context, payload aggregator.AggregationPayload) (string, error)
}

// TriggerJobRequest is the request body for POST /v1/analytics/jobs/trigger.
type TriggerJobRequest struct {
	Task       string  `json:"task" validate:"required"`
	TargetHour *string `json:"target_hour,omitempty"`
	CustomerID *int64  `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
}

// TriggerJobResponse acknowledges an enqueued task.
type TriggerJobResponse struct {
	TaskID string `json:"task_id"`
	Task   string `json:"task"`
}

// AnalyticsHandler serves the analytics read side: metric queries, job status,
// and on-demand job triggering.
type AnalyticsHandler struct {
	metrics   MetricsReader
	jobStatus JobStatusReporter
	trigger   JobTrigger
	validator *core.Validator
	logger    *slog.Logger
}

// NewAnalyticsHandler creates a new AnalyticsHandler with the provided
// dependencies.
func NewAnalyticsHandler(
	metrics MetricsReader,
	jobStatus JobStatusReporter,
	trigger JobTrigger,
	v *core.Validator,
	l *slog.Logger,
) *AnalyticsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AnalyticsHandler{
		metrics:   metrics,
		jobStatus: jobStatus,
		trigger:   trigger,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts analytics routes on the provided chi.Router.
func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/status-metrics", h.StatusMetrics)
		r.Get("/order-metrics", h.OrderMetrics)
		r.Route("/customers", func(r chi.Router) {
			r.Get("/lifetime-orders", h.ListCustomerMetrics)
			r.Get("/{id}/lifetime-orders", h.GetCustomerMetrics)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/status", h.JobStatus)
			r.Post("/trigger", h.TriggerJob)
		})
	})
}

// StatusMetrics handles GET /v1/analytics/status-metrics. All validation
// happens before any store access.
func (h *AnalyticsHandler) StatusMetrics(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDateRange(r, true)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	hour, err := parseOptionalHour(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	filter := db.HourlyStatusMetricsFilter{
		StartDate: from,
		EndDate:   to,
		Hour:      hour,
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		code, convErr := strconv.Atoi(raw)
		status := types.OrderStatus(code)
		if convErr != nil || !status.Valid() {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidStatus,
				"unknown order status code",
				convErr,
				map[string]any{"status": raw},
			))
			return
		}
		filter.Status = &status
	}

	metrics, err := h.metrics.QueryHourlyStatusMetrics(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: metrics})
}

// OrderMetrics handles GET /v1/analytics/order-metrics.
func (h *AnalyticsHandler) OrderMetrics(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDateRange(r, true)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	hour, err := parseOptionalHour(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	metrics, err := h.metrics.QueryHourlyOrderMetrics(r.Context(), db.HourlyOrderMetricsFilter{
		StartDate: from,
		EndDate:   to,
		Hour:      hour,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: metrics})
}

// GetCustomerMetrics handles GET /v1/analytics/customers/{id}/lifetime-orders.
func (h *AnalyticsHandler) GetCustomerMetrics(w http.ResponseWriter, r *http.Request) {
	customerID, err := parseIDParam(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	metric, err := h.metrics.GetCustomerLifetimeMetric(r.Context(), customerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: metric})
}

// ListCustomerMetrics handles GET /v1/analytics/customers/lifetime-orders.
// The optional from_date/to_date pair filters on last_order_at.
func (h *AnalyticsHandler) ListCustomerMetrics(w http.ResponseWriter, r *http.Request) {
	var filter db.CustomerLifetimeMetricsFilter

	if raw := r.URL.Query().Get("min_order_count"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationMissingField,
				"min_order_count must be a non-negative integer",
				convErr,
				map[string]any{"min_order_count": raw},
			))
			return
		}
		filter.MinOrderCount = &n
	}

	from, to, err := parseDateRange(r, false)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !from.IsZero() {
		filter.LastOrderAfter = &from
	}
	if !to.IsZero() {
		// Inclusive upper bound on a date means the end of that day.
		end := to.Add(24*time.Hour - time.Nanosecond)
		filter.LastOrderBefore = &end
	}

	metrics, err := h.metrics.ListCustomerLifetimeMetrics(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: metrics})
}

// JobStatus handles GET /v1/analytics/jobs/status.
func (h *AnalyticsHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobStatus.Report(r.Context(), r.URL.Query().Get("job_name"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: report})
}

// TriggerJob handles POST /v1/analytics/jobs/trigger. The payload is
// validated, enqueued, and acknowledged with 202; the work itself happens in
// the aggregator worker.
func (h *AnalyticsHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	var req TriggerJobRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	task := aggregator.TaskType(req.Task)
	if task.JobName() == "" {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidTask,
			"unknown task",
			nil,
			map[string]any{"task": req.Task},
		))
		return
	}

	if req.TargetHour != nil {
		if _, parseErr := time.Parse(time.RFC3339, *req.TargetHour); parseErr != nil {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidTime,
				"target_hour must be an RFC3339 timestamp",
				parseErr,
				map[string]any{"target_hour": *req.TargetHour},
			))
			return
		}
	}

	taskID, err := h.trigger.Enqueue(r.Context(), aggregator.AggregationPayload{
		Task:       task,
		TargetHour: req.TargetHour,
		CustomerID: req.CustomerID,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "aggregation job triggered",
		"task", req.Task,
		"task_id", taskID,
	)

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: TriggerJobResponse{
		TaskID: taskID,
		Task:   req.Task,
	}})
}

// parseDateRange reads from_date/to_date query parameters in YYYY-MM-DD form.
// When required is false, either bound may be absent (returned as zero).
// A present pair with from after to is rejected before any store access.
func parseDateRange(r *http.Request, required bool) (time.Time, time.Time, error) {
	q := r.URL.Query()
	fromRaw, toRaw := q.Get("from_date"), q.Get("to_date")

	if required && (fromRaw == "" || toRaw == "") {
		return time.Time{}, time.Time{}, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"from_date and to_date are required",
			nil,
		)
	}

	var from, to time.Time
	var err error
	if fromRaw != "" {
		if from, err = time.ParseInLocation("2006-01-02", fromRaw, time.UTC); err != nil {
			return time.Time{}, time.Time{}, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidRange,
				"from_date must be a YYYY-MM-DD date",
				err,
				map[string]any{"from_date": fromRaw},
			)
		}
	}
	if toRaw != "" {
		if to, err = time.ParseInLocation("2006-01-02", toRaw, time.UTC); err != nil {
			return time.Time{}, time.Time{}, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidRange,
				"to_date must be a YYYY-MM-DD date",
				err,
				map[string]any{"to_date": toRaw},
			)
		}
	}

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidRange,
			"from_date must not be after to_date",
			nil,
			map[string]any{"from_date": fromRaw, "to_date": toRaw},
		)
	}

	return from, to, nil
}

// parseOptionalHour reads the optional hour query parameter, rejecting values
// outside 0-23.
func parseOptionalHour(r *http.Request) (*int, error) {
	raw := r.URL.Query().Get("hour")
	if raw == "" {
		return nil, nil
	}

	hour, err := strconv.Atoi(raw)
	if err != nil || hour < 0 || hour > 23 {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidHour,
			"hour must be an integer between 0 and 23",
			err,
			map[string]any{"hour": raw},
		)
	}

	return &hour, nil
}
