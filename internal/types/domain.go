// Package types defines the shared domain model for the orderpulse service:
// order entities, computed metric rows, job status payloads, and the error
// taxonomy used across repositories, services, and HTTP handlers.
package types

import "time"

// Customer is a restaurant customer. Orders reference customers by ID.
type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Address is a delivery address referenced by orders.
type Address struct {
	ID         int64     `json:"id"`
	City       string    `json:"city"`
	Street     string    `json:"street"`
	PostalCode string    `json:"postal_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrderItem is a single line item on an order.
type OrderItem struct {
	ID       int64  `json:"id"`
	OrderID  int64  `json:"order_id"`
	Name     string `json:"name"`
	PLU      string `json:"plu"`
	Quantity int    `json:"quantity"`
}

// StatusHistoryEntry is one row of the append-only order status log.
//
// Duration is the whole-second span until the next transition for the same
// order. It is nil on the most recent entry and back-filled when the next
// transition is recorded, inside the same transaction as the new insert.
type StatusHistoryEntry struct {
	ID        int64       `json:"id"`
	OrderID   int64       `json:"order_id"`
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Duration  *int64      `json:"duration"`
}

// Order is the full order aggregate returned by the order API: the order row
// plus its customer, delivery address, items, and status history.
//
// Status is derived, not stored: it is the status of the most recent history
// entry, or nil when no history exists.
type Order struct {
	ID             int64                `json:"id"`
	ChannelOrderID string               `json:"channel_order_id"`
	AccountID      string               `json:"account_id"`
	BrandID        string               `json:"brand_id"`
	PickupTime     time.Time            `json:"pickup_time"`
	Customer       Customer             `json:"customer"`
	Address        Address              `json:"delivery_address"`
	Items          []OrderItem          `json:"items"`
	StatusHistory  []StatusHistoryEntry `json:"status_history"`
	Status         *OrderStatus         `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
}

// CurrentStatus returns the status of the most recent history entry, or nil
// if the order has no history.
func (o *Order) CurrentStatus() *OrderStatus {
	if len(o.StatusHistory) == 0 {
		return nil
	}
	s := o.StatusHistory[len(o.StatusHistory)-1].Status
	return &s
}

// StatusWindowStat is one grouped result from scanning the status history
// within an hour window: the status code, the number of transitions, and the
// sum of their recorded durations (NULL durations counted as 0).
type StatusWindowStat struct {
	Status        OrderStatus
	Count         int
	TotalDuration int64
}

// HourlyStatusMetric is one aggregated row per (date, hour, status):
// the number of transitions into the status within the hour window, the sum
// of their recorded durations, and the mean duration. The (date, hour, status)
// uniqueness constraint is what makes re-runs idempotent.
type HourlyStatusMetric struct {
	Date          time.Time   `json:"date"`
	Hour          int         `json:"hour"`
	Status        OrderStatus `json:"status"`
	Count         int         `json:"count"`
	TotalDuration int64       `json:"total_duration"`
	AvgDuration   float64     `json:"average_duration"`
}

// HourlyOrderMetric is the order-creation throughput for one (date, hour).
type HourlyOrderMetric struct {
	Date       time.Time `json:"date"`
	Hour       int       `json:"hour"`
	Throughput int       `json:"throughput"`
}

// CustomerLifetimeMetric is the per-customer rollup recomputed from the
// customer's full order history on each aggregation run.
//
// AvgOrderFrequencyDays is nil for customers with zero or one orders. When
// all orders fall on the same calendar day the frequency is 0, not nil.
type CustomerLifetimeMetric struct {
	CustomerID            int64     `json:"customer_id"`
	OrderCount            int       `json:"order_count"`
	FirstOrderAt          time.Time `json:"first_order_at"`
	LastOrderAt           time.Time `json:"last_order_at"`
	AvgOrderFrequencyDays *float64  `json:"avg_order_frequency_days"`
}

// JobStatus is the payload published to the job status cache after each run
// transition. Only Status and UpdatedAt are always present; the remaining
// fields are job-specific and omitted when empty.
type JobStatus struct {
	Status    JobState  `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`

	// Hourly metrics job fields.
	ProcessedDate string `json:"processed_date,omitempty"`
	ProcessedHour *int   `json:"processed_hour,omitempty"`
	OrderCount    *int   `json:"order_count,omitempty"`
	StatusCount   *int   `json:"status_count,omitempty"`

	// Customer metrics job fields.
	ProcessedCustomers *int `json:"processed_customers,omitempty"`

	// Failure detail.
	Error string `json:"error,omitempty"`
}

// TaskInfo describes a task observed in the execution layer, as reported by
// the job status query's live introspection.
type TaskInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	QueuedAt time.Time `json:"queued_at,omitempty"`
}

// JobStatusReport is the merged view returned by the job status query:
// cached run state plus live active/scheduled task lists. The task lists are
// empty (never nil in JSON) when the execution layer is unreachable.
type JobStatusReport struct {
	Jobs           map[string]JobStatus `json:"jobs"`
	ActiveTasks    []TaskInfo           `json:"active_tasks"`
	ScheduledTasks []TaskInfo           `json:"scheduled_tasks"`
}
