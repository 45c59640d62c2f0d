package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"orderpulse/internal/types"
)

const (
	queuedTasksKey = "queued_tasks"
	activeTasksKey = "active_tasks"
)

// ledgerClient is the subset of the Redis hash API the task ledger needs.
type ledgerClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// TaskLedger tracks on-demand aggregation tasks between enqueue and pickup.
// Entries move from the queued hash to the active hash when a worker starts
// the task, and are removed when the task finishes. Both hashes carry a TTL
// so abandoned entries age out instead of accumulating.
type TaskLedger struct {
	client ledgerClient
	ttl    time.Duration
}

// NewTaskLedger creates a ledger over the given Redis client.
func NewTaskLedger(client *redis.Client, ttl time.Duration) *TaskLedger {
	return &TaskLedger{client: client, ttl: ttl}
}

// AddQueued records a freshly enqueued task.
func (l *TaskLedger) AddQueued(ctx context.Context, task types.TaskInfo) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal task info", err)
	}

	if err := l.client.HSet(ctx, queuedTasksKey, task.ID, payload).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCache, fmt.Sprintf("failed to record queued task %s", task.ID), err)
	}
	if err := l.client.Expire(ctx, queuedTasksKey, l.ttl).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCache, "failed to set queued tasks ttl", err)
	}

	return nil
}

// MarkActive moves a task from the queued hash to the active hash. Tasks that
// were never ledgered (scheduled invocations) get a fresh entry so in-flight
// work is still visible.
func (l *TaskLedger) MarkActive(ctx context.Context, taskID, taskName string) error {
	payload, err := l.client.HGet(ctx, queuedTasksKey, taskID).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return types.NewAppError(types.ErrCodeUpstreamCache, fmt.Sprintf("failed to read queued task %s", taskID), err)
	}

	task := types.TaskInfo{ID: taskID, Name: taskName, QueuedAt: time.Now().UTC()}
	if payload != nil {
		if err := json.Unmarshal(payload, &task); err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to unmarshal task info", err)
		}
		if err := l.client.HDel(ctx, queuedTasksKey, taskID).Err(); err != nil {
			return types.NewAppError(types.ErrCodeUpstreamCache, fmt.Sprintf("failed to dequeue task %s", taskID), err)
		}
	}

	entry, err := json.Marshal(task)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal task info", err)
	}
	if err := l.client.HSet(ctx, activeTasksKey, taskID, entry).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCache, fmt.Sprintf("failed to record active task %s", taskID), err)
	}
	if err := l.client.Expire(ctx, activeTasksKey, l.ttl).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCache, "failed to set active tasks ttl", err)
	}

	return nil
}

// Remove drops a task from both hashes. Removing an unknown task is a no-op.
func (l *TaskLedger) Remove(ctx context.Context, taskID string) error {
	if err := l.client.HDel(ctx, queuedTasksKey, taskID).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCache, fmt.Sprintf("failed to remove queued task %s", taskID), err)
	}
	if err := l.client.HDel(ctx, activeTasksKey, taskID).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCache, fmt.Sprintf("failed to remove active task %s", taskID), err)
	}
	return nil
}

// ListQueued returns all tasks waiting for pickup.
func (l *TaskLedger) ListQueued(ctx context.Context) ([]types.TaskInfo, error) {
	return l.list(ctx, queuedTasksKey)
}

// ListActive returns all tasks currently being processed.
func (l *TaskLedger) ListActive(ctx context.Context) ([]types.TaskInfo, error) {
	return l.list(ctx, activeTasksKey)
}

func (l *TaskLedger) list(ctx context.Context, key string) ([]types.TaskInfo, error) {
	entries, err := l.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamCache, fmt.Sprintf("failed to list %s", key), err)
	}

	tasks := make([]types.TaskInfo, 0, len(entries))
	for id, payload := range entries {
		var task types.TaskInfo
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			// A malformed entry is dropped rather than failing the
			// whole listing.
			continue
		}
		if task.ID == "" {
			task.ID = id
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}
