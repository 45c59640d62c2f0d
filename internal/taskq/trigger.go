// Package taskq provides the on-demand side of the aggregation pipeline: an
// SQS producer that enqueues aggregation payloads for the worker, and an
// inspector that reports queued and in-flight tasks for the job status
// endpoint.
package taskq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"orderpulse/internal/aggregator"
	"orderpulse/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// TaskRecorder records enqueued tasks so the inspector can list them later.
type TaskRecorder interface {
	AddQueued(ctx context.Context, task types.TaskInfo) error
}

// Trigger enqueues aggregation payloads onto the worker queue. Each enqueue
// assigns a task ID, sends the payload to SQS, and records the task in the
// ledger. The ledger write is advisory: if it fails the task still runs, it
// just won't appear in the queued list.
type Trigger struct {
	client   SQSSender
	queueURL string
	ledger   TaskRecorder
	logger   *slog.Logger
}

// NewTrigger creates a Trigger for the given queue URL.
func NewTrigger(client SQSSender, queueURL string, ledger TaskRecorder, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		client:   client,
		queueURL: queueURL,
		ledger:   ledger,
		logger:   logger,
	}
}

// Enqueue sends the payload to the worker queue and returns the assigned
// task ID.
func (t *Trigger) Enqueue(ctx context.Context, payload aggregator.AggregationPayload) (string, error) {
	if payload.ID == "" {
		payload.ID = uuid.New().String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal aggregation payload", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"task": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(payload.Task)),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to enqueue %s", payload.Task), err)
	}

	task := types.TaskInfo{
		ID:       payload.ID,
		Name:     string(payload.Task),
		QueuedAt: time.Now().UTC(),
	}
	if err := t.ledger.AddQueued(ctx, task); err != nil {
		t.logger.ErrorContext(ctx, "failed to record queued task",
			"task_id", payload.ID,
			"task", string(payload.Task),
			"error", err,
		)
	}

	t.logger.InfoContext(ctx, "aggregation task enqueued",
		"queue_url", t.queueURL,
		"task_id", payload.ID,
		"task", string(payload.Task),
	)

	return payload.ID, nil
}
