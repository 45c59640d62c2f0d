// Package cache holds the job status store: the small Redis-backed record of
// each aggregation job's most recent run, read by the job status endpoint and
// written by the jobs themselves at every state transition.
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

const jobStatusKeyPrefix = "job_status:"

// redisClient is the subset of the Redis API the store needs. *redis.Client
// satisfies it; tests substitute their own implementation.
type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// JobStatusStore persists per-job run status records with a TTL. Records are
// advisory: a missing or expired record simply means no recent run, never an
// error.
type JobStatusStore struct {
	client redisClient
	ttl    time.Duration
}

// NewJobStatusStore creates a store over the given Redis client. Entries
// expire after ttl.
func NewJobStatusStore(client *redis.Client, ttl time.Duration) *JobStatusStore {
	return &JobStatusStore{client: client, ttl: ttl}
}

func jobStatusKey(jobName string) string {
	return jobStatusKeyPrefix + jobName
}

// Publish writes the status record for a job, stamping UpdatedAt and
// resetting the TTL. Every run transition (running, completed, failed)
// overwrites the previous record whole.
func (s *JobStatusStore) Publish(ctx context.Context, jobName string, status types.JobStatus) error {
	status.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(status)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal job status", err)
	}

	if err := s.client.Set(ctx, jobStatusKey(jobName), payload, s.ttl).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCache, fmt.Sprintf("failed to publish status for job %s", jobName), err)
	}

	return nil
}

// Get returns the status record for a job, or nil when none is cached.
func (s *JobStatusStore) Get(ctx context.Context, jobName string) (*types.JobStatus, error) {
	payload, err := s.client.Get(ctx, jobStatusKey(jobName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamCache, fmt.Sprintf("failed to read status for job %s", jobName), err)
	}

	var status types.JobStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to unmarshal job status", err)
	}

	return &status, nil
}

// Delete removes the status record for a job. Deleting a missing record is a
// no-op.
func (s *JobStatusStore) Delete(ctx context.Context, jobName string) error {
	if err := s.client.Del(ctx, jobStatusKey(jobName)).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCache, fmt.Sprintf("failed to delete status for job %s", jobName), err)
	}
	return nil
}
