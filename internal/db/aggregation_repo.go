package db

import (
	"context"
	"time"

	"orderpulse/internal/types"
)

// AggregationRepo provides the data access used by the scheduled aggregation
// jobs: source queries over the order tables and idempotent upserts into the
// analytics tables.
//
// All upserts use INSERT ... ON CONFLICT DO UPDATE against the analytics
// tables' uniqueness constraints. Re-running a job for the same key therefore
// rewrites the same row rather than duplicating it, and concurrent runs for
// the same key are serialized by the store's atomic upsert, not by
// application-level locking.
type AggregationRepo struct {
	db DBTX
}

// NewAggregationRepo creates a new AggregationRepo backed by the given
// database connection (pool or transaction).
func NewAggregationRepo(db DBTX) *AggregationRepo {
	return &AggregationRepo{db: db}
}

// StatusCountsInWindow returns, for every distinct status code with history
// entries in [start, end), the entry count and the sum of recorded durations
// (NULL durations counted as 0). The window is half-open: an entry stamped
// exactly at end belongs to the next window.
func (r *AggregationRepo) StatusCountsInWindow(ctx context.Context, start, end time.Time) ([]types.StatusWindowStat, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(duration), 0)
		 FROM order_status_history
		 WHERE timestamp >= $1 AND timestamp < $2
		 GROUP BY status
		 ORDER BY status`,
		start, end,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query status counts", err)
	}
	defer rows.Close()

	var stats []types.StatusWindowStat
	for rows.Next() {
		var s types.StatusWindowStat
		var status int
		if err := rows.Scan(&status, &s.Count, &s.TotalDuration); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan status count row", err)
		}
		s.Status = types.OrderStatus(status)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating status count rows", err)
	}

	return stats, nil
}

// CountOrdersCreated returns the number of orders created in [start, end).
func (r *AggregationRepo) CountOrdersCreated(ctx context.Context, start, end time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE created_at >= $1 AND created_at < $2`,
		start, end,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count created orders", err)
	}
	return count, nil
}

// UpsertHourlyStatusMetric writes one (date, hour, status) metric row,
// replacing any previous values for the same key.
func (r *AggregationRepo) UpsertHourlyStatusMetric(ctx context.Context, m types.HourlyStatusMetric) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO analytics_hourly_status_metrics (date, hour, status, count, total_duration, avg_duration)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (date, hour, status) DO UPDATE
		   SET count = EXCLUDED.count,
		       total_duration = EXCLUDED.total_duration,
		       avg_duration = EXCLUDED.avg_duration`,
		m.Date, m.Hour, int(m.Status), m.Count, m.TotalDuration, m.AvgDuration,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert hourly status metric", err)
	}
	return nil
}

// UpsertHourlyOrderMetric writes the (date, hour) throughput row, replacing
// any previous value for the same key.
func (r *AggregationRepo) UpsertHourlyOrderMetric(ctx context.Context, m types.HourlyOrderMetric) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO analytics_hourly_order_metrics (date, hour, throughput)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (date, hour) DO UPDATE
		   SET throughput = EXCLUDED.throughput`,
		m.Date, m.Hour, m.Throughput,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert hourly order metric", err)
	}
	return nil
}

// CustomerExists reports whether a customer row exists.
func (r *AggregationRepo) CustomerExists(ctx context.Context, customerID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`,
		customerID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check customer existence", err)
	}
	return exists, nil
}

// ListCustomerIDsPage returns one page of customer IDs ordered by id.
// Stable ordering by the primary key is what lets the caller walk the full
// set page by page without skipping or double-processing customers.
func (r *AggregationRepo) ListCustomerIDsPage(ctx context.Context, offset, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM customers ORDER BY id OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query customer page", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan customer id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating customer id rows", err)
	}

	return ids, nil
}

// OrderCreationTimes returns, for each of the given customers, the creation
// timestamps of all their orders in ascending order. Customers with no
// orders are absent from the result map.
func (r *AggregationRepo) OrderCreationTimes(ctx context.Context, customerIDs []int64) (map[int64][]time.Time, error) {
	rows, err := r.db.Query(ctx,
		`SELECT customer_id, created_at
		 FROM orders
		 WHERE customer_id = ANY($1)
		 ORDER BY customer_id, created_at`,
		customerIDs,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query order creation times", err)
	}
	defer rows.Close()

	result := make(map[int64][]time.Time)
	for rows.Next() {
		var customerID int64
		var createdAt time.Time
		if err := rows.Scan(&customerID, &createdAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan order creation time", err)
		}
		result[customerID] = append(result[customerID], createdAt)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating order creation times", err)
	}

	return result, nil
}

// UpsertCustomerLifetimeMetric writes the per-customer rollup, replacing any
// previous row for the same customer.
func (r *AggregationRepo) UpsertCustomerLifetimeMetric(ctx context.Context, m types.CustomerLifetimeMetric) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO analytics_customer_lifetime_metrics
		   (customer_id, order_count, first_order_at, last_order_at, avg_order_frequency_days)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (customer_id) DO UPDATE
		   SET order_count = EXCLUDED.order_count,
		       first_order_at = EXCLUDED.first_order_at,
		       last_order_at = EXCLUDED.last_order_at,
		       avg_order_frequency_days = EXCLUDED.avg_order_frequency_days`,
		m.CustomerID, m.OrderCount, m.FirstOrderAt, m.LastOrderAt, m.AvgOrderFrequencyDays,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert customer lifetime metric", err)
	}
	return nil
}
