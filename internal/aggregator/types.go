// Package aggregator implements the scheduled metrics jobs: the hourly
// status/throughput rollup and the per-customer lifetime rollup. Jobs are
// invoked from the aggregator Lambda entrypoint and report their run state
// through the job status store after every transition.
package aggregator

import (
	"context"

	"orderpulse/internal/types"
)

// TaskType identifies which aggregation task a payload requests.
type TaskType string

const (
	// TaskAggregateHourly recomputes the hourly status and throughput
	// metrics for one hour window.
	TaskAggregateHourly TaskType = "aggregate_hourly_metrics"

	// TaskUpdateCustomerMetrics recomputes customer lifetime metrics, for
	// either all customers or a single one.
	TaskUpdateCustomerMetrics TaskType = "update_customer_metrics"
)

// JobName returns the job status key that runs of this task publish under,
// or "" for unknown task types.
func (t TaskType) JobName() string {
	switch t {
	case TaskAggregateHourly:
		return types.JobNameHourlyMetrics
	case TaskUpdateCustomerMetrics:
		return types.JobNameCustomerMetrics
	}
	return ""
}

// AggregationPayload is the message format accepted by the aggregator
// entrypoint, from both the scheduled rule and the on-demand queue.
//
// TargetHour applies only to aggregate_hourly_metrics; when absent the job
// processes the previous full hour. CustomerID applies only to
// update_customer_metrics; when absent the job processes all customers.
type AggregationPayload struct {
	// ID is set by the on-demand trigger and ties the payload to its task
	// ledger entry. Scheduled invocations leave it empty.
	ID         string   `json:"id,omitempty"`
	Task       TaskType `json:"task"`
	TargetHour *string  `json:"target_hour,omitempty"`
	CustomerID *int64   `json:"customer_id,omitempty"`
}

// StatusPublisher records job run transitions. Implementations are advisory:
// jobs log publish failures and keep running, so a down cache never blocks
// aggregation.
type StatusPublisher interface {
	Publish(ctx context.Context, jobName string, status types.JobStatus) error
}
