package taskq

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"orderpulse/internal/types"
)

// TaskLister reads the task ledger.
type TaskLister interface {
	ListQueued(ctx context.Context) ([]types.TaskInfo, error)
	ListActive(ctx context.Context) ([]types.TaskInfo, error)
}

// TaskSnapshot is one consistent read of the execution layer's task lists.
type TaskSnapshot struct {
	Active    []types.TaskInfo
	Scheduled []types.TaskInfo
}

// Inspector reads live task lists from the ledger behind a circuit breaker.
// When the ledger is unreachable the breaker opens and Snapshot fails fast,
// letting the job status endpoint degrade to empty task lists instead of
// stalling on every request.
type Inspector struct {
	lister  TaskLister
	breaker *gobreaker.CircuitBreaker[TaskSnapshot]
	logger  *slog.Logger
}

// NewInspector creates an Inspector over the given ledger.
func NewInspector(lister TaskLister, logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[TaskSnapshot](gobreaker.Settings{
		Name:        "task-inspector",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &Inspector{
		lister:  lister,
		breaker: cb,
		logger:  logger,
	}
}

// Snapshot returns the current active and scheduled task lists. The error is
// non-nil when the ledger is unreachable or the breaker is open; callers
// treat that as "no task visibility", not as a request failure.
func (i *Inspector) Snapshot(ctx context.Context) (TaskSnapshot, error) {
	return i.breaker.Execute(func() (TaskSnapshot, error) {
		active, err := i.lister.ListActive(ctx)
		if err != nil {
			return TaskSnapshot{}, err
		}
		scheduled, err := i.lister.ListQueued(ctx)
		if err != nil {
			return TaskSnapshot{}, err
		}
		return TaskSnapshot{Active: active, Scheduled: scheduled}, nil
	})
}
