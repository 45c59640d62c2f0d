package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"orderpulse/internal/types"
)

// MetricsRepo is the read side of the analytics tables. It serves the query
// endpoints and never writes; all writes go through AggregationRepo.
type MetricsRepo struct {
	db DBTX
}

// NewMetricsRepo creates a new MetricsRepo backed by the given database
// connection (pool or transaction).
func NewMetricsRepo(db DBTX) *MetricsRepo {
	return &MetricsRepo{db: db}
}

// HourlyStatusMetricsFilter narrows a QueryHourlyStatusMetrics call. StartDate
// and EndDate are inclusive calendar dates; Hour and Status are optional.
type HourlyStatusMetricsFilter struct {
	StartDate time.Time
	EndDate   time.Time
	Hour      *int
	Status    *types.OrderStatus
}

// QueryHourlyStatusMetrics returns per-status hourly metrics matching the
// filter, ordered by date, hour, status.
func (r *MetricsRepo) QueryHourlyStatusMetrics(ctx context.Context, f HourlyStatusMetricsFilter) ([]types.HourlyStatusMetric, error) {
	query := `SELECT date, hour, status, count, total_duration, avg_duration
	          FROM analytics_hourly_status_metrics
	          WHERE date >= $1 AND date <= $2`
	args := []any{f.StartDate, f.EndDate}

	if f.Hour != nil {
		args = append(args, *f.Hour)
		query += fmt.Sprintf(" AND hour = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, int(*f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY date, hour, status"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query hourly status metrics", err)
	}
	defer rows.Close()

	var metrics []types.HourlyStatusMetric
	for rows.Next() {
		var m types.HourlyStatusMetric
		var status int
		if err := rows.Scan(&m.Date, &m.Hour, &status, &m.Count, &m.TotalDuration, &m.AvgDuration); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan hourly status metric", err)
		}
		m.Status = types.OrderStatus(status)
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating hourly status metrics", err)
	}

	return metrics, nil
}

// HourlyOrderMetricsFilter narrows a QueryHourlyOrderMetrics call.
type HourlyOrderMetricsFilter struct {
	StartDate time.Time
	EndDate   time.Time
	Hour      *int
}

// QueryHourlyOrderMetrics returns hourly throughput rows matching the filter,
// ordered by date, hour.
func (r *MetricsRepo) QueryHourlyOrderMetrics(ctx context.Context, f HourlyOrderMetricsFilter) ([]types.HourlyOrderMetric, error) {
	query := `SELECT date, hour, throughput
	          FROM analytics_hourly_order_metrics
	          WHERE date >= $1 AND date <= $2`
	args := []any{f.StartDate, f.EndDate}

	if f.Hour != nil {
		args = append(args, *f.Hour)
		query += fmt.Sprintf(" AND hour = $%d", len(args))
	}
	query += " ORDER BY date, hour"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query hourly order metrics", err)
	}
	defer rows.Close()

	var metrics []types.HourlyOrderMetric
	for rows.Next() {
		var m types.HourlyOrderMetric
		if err := rows.Scan(&m.Date, &m.Hour, &m.Throughput); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan hourly order metric", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating hourly order metrics", err)
	}

	return metrics, nil
}

// GetCustomerLifetimeMetric returns the rollup for one customer. A missing
// row maps to a not-found error; the customer may exist without one if no
// aggregation run has seen an order for them yet.
func (r *MetricsRepo) GetCustomerLifetimeMetric(ctx context.Context, customerID int64) (*types.CustomerLifetimeMetric, error) {
	var m types.CustomerLifetimeMetric
	err := r.db.QueryRow(ctx,
		`SELECT customer_id, order_count, first_order_at, last_order_at, avg_order_frequency_days
		 FROM analytics_customer_lifetime_metrics
		 WHERE customer_id = $1`,
		customerID,
	).Scan(&m.CustomerID, &m.OrderCount, &m.FirstOrderAt, &m.LastOrderAt, &m.AvgOrderFrequencyDays)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCustomer, "no lifetime metrics for customer", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get customer lifetime metric", err)
	}
	return &m, nil
}

// CustomerLifetimeMetricsFilter narrows a ListCustomerLifetimeMetrics call.
// All fields are optional.
type CustomerLifetimeMetricsFilter struct {
	MinOrderCount   *int
	LastOrderAfter  *time.Time
	LastOrderBefore *time.Time
}

// ListCustomerLifetimeMetrics returns per-customer rollups matching the
// filter, ordered by customer_id.
func (r *MetricsRepo) ListCustomerLifetimeMetrics(ctx context.Context, f CustomerLifetimeMetricsFilter) ([]types.CustomerLifetimeMetric, error) {
	query := `SELECT customer_id, order_count, first_order_at, last_order_at, avg_order_frequency_days
	          FROM analytics_customer_lifetime_metrics
	          WHERE 1=1`
	var args []any

	if f.MinOrderCount != nil {
		args = append(args, *f.MinOrderCount)
		query += fmt.Sprintf(" AND order_count >= $%d", len(args))
	}
	if f.LastOrderAfter != nil {
		args = append(args, *f.LastOrderAfter)
		query += fmt.Sprintf(" AND last_order_at >= $%d", len(args))
	}
	if f.LastOrderBefore != nil {
		args = append(args, *f.LastOrderBefore)
		query += fmt.Sprintf(" AND last_order_at <= $%d", len(args))
	}
	query += " ORDER BY customer_id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query customer lifetime metrics", err)
	}
	defer rows.Close()

	var metrics []types.CustomerLifetimeMetric
	for rows.Next() {
		var m types.CustomerLifetimeMetric
		if err := rows.Scan(&m.CustomerID, &m.OrderCount, &m.FirstOrderAt, &m.LastOrderAt, &m.AvgOrderFrequencyDays); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan customer lifetime metric", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating customer lifetime metrics", err)
	}

	return metrics, nil
}
