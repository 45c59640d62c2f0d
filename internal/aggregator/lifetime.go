package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orderpulse/internal/types"
)

// LifetimeAggregatorDB defines the database operations needed by the customer
// metrics job. Using an interface allows clean testing without database
// dependencies.
//
// The full-run flow is:
//  1. ListCustomerIDsPage walks all customers in id order, one page at a time.
//  2. OrderCreationTimes fetches the order history for the whole page.
//  3. UpsertCustomerLifetimeMetric writes one rollup row per customer with
//     at least one order.
type LifetimeAggregatorDB interface {
	CustomerExists(ctx context.Context, customerID int64) (bool, error)
	ListCustomerIDsPage(ctx context.Context, offset, limit int) ([]int64, error)
	OrderCreationTimes(ctx context.Context, customerIDs []int64) (map[int64][]time.Time, error)
	UpsertCustomerLifetimeMetric(ctx context.Context, m types.CustomerLifetimeMetric) error
}

// Page and write batch defaults, overridable through the jobs config.
const (
	DefaultCustomerPageSize = 100
	DefaultUpsertBatchSize  = 50
)

// CustomerAggregator recomputes per-customer lifetime metrics from the full
// order history.
type CustomerAggregator struct {
	db              LifetimeAggregatorDB
	status          StatusPublisher
	logger          *slog.Logger
	pageSize        int
	upsertBatchSize int
}

// NewCustomerAggregator creates a new CustomerAggregator service. Non-positive
// pageSize or upsertBatchSize fall back to the defaults.
func NewCustomerAggregator(db LifetimeAggregatorDB, status StatusPublisher, logger *slog.Logger, pageSize, upsertBatchSize int) *CustomerAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = DefaultCustomerPageSize
	}
	if upsertBatchSize <= 0 {
		upsertBatchSize = DefaultUpsertBatchSize
	}
	return &CustomerAggregator{
		db:              db,
		status:          status,
		logger:          logger,
		pageSize:        pageSize,
		upsertBatchSize: upsertBatchSize,
	}
}

// UpdateAll recomputes lifetime metrics for every customer with at least one
// order. Customers with no orders are skipped, keeping the analytics table
// free of empty rollups.
//
// Pages already written when a later page fails keep their new values; the
// run publishes a failed status and returns the error, and the next full run
// rewrites everything.
func (c *CustomerAggregator) UpdateAll(ctx context.Context) (int, error) {
	c.publish(ctx, types.JobNameCustomerMetrics, types.JobStatus{
		Status: types.JobStateRunning,
	})

	processed := 0
	offset := 0

	for {
		ids, err := c.db.ListCustomerIDsPage(ctx, offset, c.pageSize)
		if err != nil {
			return processed, c.fail(ctx, processed, fmt.Errorf("listing customers at offset %d: %w", offset, err))
		}
		if len(ids) == 0 {
			break
		}

		n, err := c.processPage(ctx, ids)
		processed += n
		if err != nil {
			return processed, c.fail(ctx, processed, err)
		}

		if len(ids) < c.pageSize {
			break
		}
		offset += c.pageSize
	}

	c.publish(ctx, types.JobNameCustomerMetrics, types.JobStatus{
		Status:             types.JobStateCompleted,
		ProcessedCustomers: &processed,
	})

	c.logger.InfoContext(ctx, "customer metrics aggregation complete",
		"processed_customers", processed,
	)

	return processed, nil
}

// UpdateOne recomputes lifetime metrics for a single customer, publishing the
// same running/completed/failed lifecycle as UpdateAll. A missing customer is
// a benign no-op: the trigger may race a deletion, and there is nothing to
// recompute, so the run still completes with zero processed customers.
func (c *CustomerAggregator) UpdateOne(ctx context.Context, customerID int64) error {
	c.publish(ctx, types.JobNameCustomerMetrics, types.JobStatus{
		Status: types.JobStateRunning,
	})

	processed, err := c.updateOne(ctx, customerID)
	if err != nil {
		return c.fail(ctx, processed, err)
	}

	c.publish(ctx, types.JobNameCustomerMetrics, types.JobStatus{
		Status:             types.JobStateCompleted,
		ProcessedCustomers: &processed,
	})

	return nil
}

// updateOne writes the rollup for one customer, returning how many customers
// were written (0 or 1).
func (c *CustomerAggregator) updateOne(ctx context.Context, customerID int64) (int, error) {
	exists, err := c.db.CustomerExists(ctx, customerID)
	if err != nil {
		return 0, fmt.Errorf("checking customer %d: %w", customerID, err)
	}
	if !exists {
		c.logger.InfoContext(ctx, "skipping metrics update for unknown customer",
			"customer_id", customerID,
		)
		return 0, nil
	}

	times, err := c.db.OrderCreationTimes(ctx, []int64{customerID})
	if err != nil {
		return 0, fmt.Errorf("querying orders for customer %d: %w", customerID, err)
	}

	orderTimes := times[customerID]
	if len(orderTimes) == 0 {
		return 0, nil
	}

	metric := computeLifetimeMetric(customerID, orderTimes)
	if err := c.db.UpsertCustomerLifetimeMetric(ctx, metric); err != nil {
		return 0, fmt.Errorf("upserting metrics for customer %d: %w", customerID, err)
	}

	return 1, nil
}

// processPage computes and writes rollups for one page of customers,
// returning how many customers were written.
func (c *CustomerAggregator) processPage(ctx context.Context, ids []int64) (int, error) {
	times, err := c.db.OrderCreationTimes(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("querying orders for page of %d customers: %w", len(ids), err)
	}

	var metrics []types.CustomerLifetimeMetric
	for _, id := range ids {
		orderTimes := times[id]
		if len(orderTimes) == 0 {
			continue
		}
		metrics = append(metrics, computeLifetimeMetric(id, orderTimes))
	}

	written := 0
	for start := 0; start < len(metrics); start += c.upsertBatchSize {
		end := start + c.upsertBatchSize
		if end > len(metrics) {
			end = len(metrics)
		}
		for _, m := range metrics[start:end] {
			if err := c.db.UpsertCustomerLifetimeMetric(ctx, m); err != nil {
				return written, fmt.Errorf("upserting metrics for customer %d: %w", m.CustomerID, err)
			}
			written++
		}
	}

	return written, nil
}

// computeLifetimeMetric derives the rollup from a customer's order creation
// times, which must be sorted ascending and non-empty.
//
// The average frequency is the span between the first and last order in whole
// elapsed days divided by the gap count. Customers with a single order have no
// gaps, so the frequency is nil; multiple orders less than a day apart give a
// frequency of 0.
func computeLifetimeMetric(customerID int64, orderTimes []time.Time) types.CustomerLifetimeMetric {
	first := orderTimes[0]
	last := orderTimes[len(orderTimes)-1]
	count := len(orderTimes)

	metric := types.CustomerLifetimeMetric{
		CustomerID:   customerID,
		OrderCount:   count,
		FirstOrderAt: first,
		LastOrderAt:  last,
	}

	if count > 1 {
		days := wholeDaysBetween(first, last)
		freq := float64(days) / float64(count-1)
		metric.AvgOrderFrequencyDays = &freq
	}

	return metric
}

// wholeDaysBetween counts full elapsed days between a and b, truncating any
// partial day. Two orders less than 24 hours apart span 0 days even when they
// fall on different calendar dates.
func wholeDaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// fail publishes the failed status and returns err unchanged.
func (c *CustomerAggregator) fail(ctx context.Context, processed int, err error) error {
	c.publish(ctx, types.JobNameCustomerMetrics, types.JobStatus{
		Status:             types.JobStateFailed,
		ProcessedCustomers: &processed,
		Error:              err.Error(),
	})
	return err
}

// publish records a run transition. Status records are advisory, so a cache
// failure is logged and the run continues.
func (c *CustomerAggregator) publish(ctx context.Context, jobName string, status types.JobStatus) {
	if c.status == nil {
		return
	}
	if err := c.status.Publish(ctx, jobName, status); err != nil {
		c.logger.ErrorContext(ctx, "failed to publish job status",
			"job", jobName,
			"status", string(status.Status),
			"error", err,
		)
	}
}
