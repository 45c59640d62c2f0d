package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orderpulse/internal/types"
)

// HourlyAggregatorDB defines the database operations needed by the hourly
// metrics job. Using an interface allows clean testing without database
// dependencies.
//
// The flow is:
//  1. StatusCountsInWindow groups status history entries in the hour window.
//  2. CountOrdersCreated counts orders created in the same window.
//  3. UpsertHourlyStatusMetric writes one row per status present.
//  4. UpsertHourlyOrderMetric writes the throughput row.
//
// All writes are keyed upserts, so re-running the job for the same hour
// rewrites the same rows.
type HourlyAggregatorDB interface {
	StatusCountsInWindow(ctx context.Context, start, end time.Time) ([]types.StatusWindowStat, error)
	CountOrdersCreated(ctx context.Context, start, end time.Time) (int, error)
	UpsertHourlyStatusMetric(ctx context.Context, m types.HourlyStatusMetric) error
	UpsertHourlyOrderMetric(ctx context.Context, m types.HourlyOrderMetric) error
}

// HourlyAggregator recomputes the hourly status and throughput metrics for
// one hour window per run.
type HourlyAggregator struct {
	db     HourlyAggregatorDB
	status StatusPublisher
	logger *slog.Logger
}

// NewHourlyAggregator creates a new HourlyAggregator service.
func NewHourlyAggregator(db HourlyAggregatorDB, status StatusPublisher, logger *slog.Logger) *HourlyAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &HourlyAggregator{
		db:     db,
		status: status,
		logger: logger,
	}
}

// HourlyResult summarizes one completed hourly run.
type HourlyResult struct {
	WindowStart time.Time
	OrderCount  int
	StatusCount int
}

// AggregateHour processes the hour window [start, start+1h) where start is
// target truncated to the hour, in UTC. A nil target means the previous full
// hour relative to now, so the scheduled run always sees a complete window.
//
// The run state is published to the status store at every transition. A
// failed run publishes the failure and returns the error; rows upserted
// before the failure keep their new values and the next run for the same
// hour rewrites them.
func (h *HourlyAggregator) AggregateHour(ctx context.Context, target *time.Time) (*HourlyResult, error) {
	var start time.Time
	if target != nil {
		start = target.UTC().Truncate(time.Hour)
	} else {
		start = time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)
	}
	end := start.Add(time.Hour)

	hour := start.Hour()
	processedDate := start.Format("2006-01-02")

	h.publish(ctx, types.JobNameHourlyMetrics, types.JobStatus{
		Status:        types.JobStateRunning,
		ProcessedDate: processedDate,
		ProcessedHour: &hour,
	})

	result, err := h.aggregate(ctx, start, end)
	if err != nil {
		h.publish(ctx, types.JobNameHourlyMetrics, types.JobStatus{
			Status:        types.JobStateFailed,
			ProcessedDate: processedDate,
			ProcessedHour: &hour,
			Error:         err.Error(),
		})
		return nil, err
	}

	h.publish(ctx, types.JobNameHourlyMetrics, types.JobStatus{
		Status:        types.JobStateCompleted,
		ProcessedDate: processedDate,
		ProcessedHour: &hour,
		OrderCount:    &result.OrderCount,
		StatusCount:   &result.StatusCount,
	})

	h.logger.InfoContext(ctx, "hourly aggregation complete",
		"window_start", start,
		"order_count", result.OrderCount,
		"status_count", result.StatusCount,
	)

	return result, nil
}

func (h *HourlyAggregator) aggregate(ctx context.Context, start, end time.Time) (*HourlyResult, error) {
	stats, err := h.db.StatusCountsInWindow(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying status counts for window %s: %w", start.Format(time.RFC3339), err)
	}

	date := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	hour := start.Hour()

	for _, stat := range stats {
		avg := 0.0
		if stat.Count > 0 {
			avg = float64(stat.TotalDuration) / float64(stat.Count)
		}
		metric := types.HourlyStatusMetric{
			Date:          date,
			Hour:          hour,
			Status:        stat.Status,
			Count:         stat.Count,
			TotalDuration: stat.TotalDuration,
			AvgDuration:   avg,
		}
		if err := h.db.UpsertHourlyStatusMetric(ctx, metric); err != nil {
			return nil, fmt.Errorf("upserting status metric for status %d: %w", int(stat.Status), err)
		}
	}

	orderCount, err := h.db.CountOrdersCreated(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("counting created orders for window %s: %w", start.Format(time.RFC3339), err)
	}

	if err := h.db.UpsertHourlyOrderMetric(ctx, types.HourlyOrderMetric{
		Date:       date,
		Hour:       hour,
		Throughput: orderCount,
	}); err != nil {
		return nil, fmt.Errorf("upserting order metric: %w", err)
	}

	return &HourlyResult{
		WindowStart: start,
		OrderCount:  orderCount,
		StatusCount: len(stats),
	}, nil
}

// publish records a run transition. Status records are advisory, so a cache
// failure is logged and the run continues.
func (h *HourlyAggregator) publish(ctx context.Context, jobName string, status types.JobStatus) {
	if h.status == nil {
		return
	}
	if err := h.status.Publish(ctx, jobName, status); err != nil {
		h.logger.ErrorContext(ctx, "failed to publish job status",
			"job", jobName,
			"status", string(status.Status),
			"error", err,
		)
	}
}
