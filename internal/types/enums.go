package types

// OrderStatus is the integer status code recorded in order_status_history.
// Codes are stable wire/storage values; names are for logs and display.
type OrderStatus int

const (
	OrderStatusReceived       OrderStatus = 1
	OrderStatusPreparing      OrderStatus = 2
	OrderStatusReady          OrderStatus = 3
	OrderStatusOutForDelivery OrderStatus = 4
	OrderStatusCompleted      OrderStatus = 5
	OrderStatusCancelled      OrderStatus = 6
)

// Valid reports whether the code is a known order status.
func (s OrderStatus) Valid() bool {
	return s >= OrderStatusReceived && s <= OrderStatusCancelled
}

// String returns the display name for the status code.
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusReceived:
		return "received"
	case OrderStatusPreparing:
		return "preparing"
	case OrderStatusReady:
		return "ready"
	case OrderStatusOutForDelivery:
		return "out_for_delivery"
	case OrderStatusCompleted:
		return "completed"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// JobState is the run state published to the job status cache.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Known scheduled job names. These are the keys under which run state is
// published and the only names the job status query recognizes.
const (
	JobNameHourlyMetrics   = "hourly_metrics"
	JobNameCustomerMetrics = "customer_metrics"
)

// KnownJobNames returns the job names in stable order.
func KnownJobNames() []string {
	return []string{JobNameHourlyMetrics, JobNameCustomerMetrics}
}
