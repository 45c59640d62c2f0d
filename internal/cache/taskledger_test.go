package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpulse/internal/types"
)

// fakeHashRedis is an in-memory stand-in for the hash commands the task
// ledger uses.
type fakeHashRedis struct {
	hashes map[string]map[string]string
	ttls   map[string]time.Duration

	hsetErr    error
	hgetErr    error
	hgetAllErr error
}

func newFakeHashRedis() *fakeHashRedis {
	return &fakeHashRedis{
		hashes: make(map[string]map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeHashRedis) hash(key string) map[string]string {
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	return f.hashes[key]
}

func (f *fakeHashRedis) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	if f.hsetErr != nil {
		return redis.NewIntResult(0, f.hsetErr)
	}
	h := f.hash(key)
	for i := 0; i+1 < len(values); i += 2 {
		field := values[i].(string)
		switch v := values[i+1].(type) {
		case []byte:
			h[field] = string(v)
		case string:
			h[field] = v
		}
	}
	return redis.NewIntResult(1, nil)
}

func (f *fakeHashRedis) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	if f.hgetErr != nil {
		return redis.NewStringResult("", f.hgetErr)
	}
	val, ok := f.hash(key)[field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeHashRedis) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	h := f.hash(key)
	var removed int64
	for _, field := range fields {
		if _, ok := h[field]; ok {
			delete(h, field)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeHashRedis) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	if f.hgetAllErr != nil {
		return redis.NewMapStringStringResult(nil, f.hgetAllErr)
	}
	return redis.NewMapStringStringResult(f.hash(key), nil)
}

func (f *fakeHashRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestTaskLedgerQueuedToActiveToRemoved(t *testing.T) {
	client := newFakeHashRedis()
	ledger := &TaskLedger{client: client, ttl: time.Hour}
	ctx := context.Background()

	queuedAt := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	task := types.TaskInfo{ID: "task-1", Name: "aggregate_hourly_metrics", QueuedAt: queuedAt}

	require.NoError(t, ledger.AddQueued(ctx, task))
	assert.Equal(t, time.Hour, client.ttls[queuedTasksKey])

	queued, err := ledger.ListQueued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "task-1", queued[0].ID)
	assert.True(t, queued[0].QueuedAt.Equal(queuedAt))

	require.NoError(t, ledger.MarkActive(ctx, "task-1", "aggregate_hourly_metrics"))

	queued, err = ledger.ListQueued(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)

	active, err := ledger.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "task-1", active[0].ID)
	// The original enqueue timestamp travels with the entry.
	assert.True(t, active[0].QueuedAt.Equal(queuedAt))

	require.NoError(t, ledger.Remove(ctx, "task-1"))
	active, err = ledger.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTaskLedgerMarkActiveWithoutQueuedEntry(t *testing.T) {
	// Scheduled invocations are never enqueued through the ledger but still
	// get an active entry.
	client := newFakeHashRedis()
	ledger := &TaskLedger{client: client, ttl: time.Hour}

	require.NoError(t, ledger.MarkActive(context.Background(), "sched-1", "update_customer_metrics"))

	active, err := ledger.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sched-1", active[0].ID)
	assert.Equal(t, "update_customer_metrics", active[0].Name)
	assert.False(t, active[0].QueuedAt.IsZero())
}

func TestTaskLedgerRemoveUnknownTaskIsNoOp(t *testing.T) {
	ledger := &TaskLedger{client: newFakeHashRedis(), ttl: time.Hour}
	require.NoError(t, ledger.Remove(context.Background(), "nope"))
}

func TestTaskLedgerListDropsMalformedEntries(t *testing.T) {
	client := newFakeHashRedis()
	ledger := &TaskLedger{client: client, ttl: time.Hour}

	good, _ := json.Marshal(types.TaskInfo{Name: "aggregate_hourly_metrics"})
	client.hash(queuedTasksKey)["task-1"] = string(good)
	client.hash(queuedTasksKey)["task-2"] = "{broken"

	queued, err := ledger.ListQueued(context.Background())
	require.NoError(t, err)
	require.Len(t, queued, 1)
	// An entry without its own ID inherits the hash field.
	assert.Equal(t, "task-1", queued[0].ID)
}

func TestTaskLedgerListCacheError(t *testing.T) {
	client := newFakeHashRedis()
	client.hgetAllErr = errors.New("connection refused")
	ledger := &TaskLedger{client: client, ttl: time.Hour}

	_, err := ledger.ListActive(context.Background())
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamCache, appErr.Code)
}

func TestTaskLedgerAddQueuedCacheError(t *testing.T) {
	client := newFakeHashRedis()
	client.hsetErr = errors.New("connection refused")
	ledger := &TaskLedger{client: client, ttl: time.Hour}

	err := ledger.AddQueued(context.Background(), types.TaskInfo{ID: "task-1"})
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamCache, appErr.Code)
}
