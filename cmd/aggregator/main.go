// Package main is the entrypoint for the Aggregator Lambda function.
//
// The Aggregator acts as a task multiplexer. EventBridge rules and the
// on-demand SQS queue both deliver AggregationPayload JSON; the handler
// routes execution to the hourly or customer metrics job. Consolidating both
// jobs into a single Lambda keeps cold starts and infrastructure sprawl down.
//
// Cold start (main):
//  1. Initialize structured logger.
//  2. Resolve SSM secrets and load configuration.
//  3. Initialize the pgx pool, Redis client, and the stores built on them.
//  4. Construct the job services and register the handler.
//
// Invocations are at-least-once; every write the jobs perform is a keyed
// upsert, so duplicate deliveries rewrite the same rows.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/redis/go-redis/v9"

	"orderpulse/internal/aggregator"
	"orderpulse/internal/cache"
	"orderpulse/internal/config"
	"orderpulse/internal/db"
)

// HourlyService runs the hourly metrics job.
type HourlyService interface {
	AggregateHour(ctx context.Context, target *time.Time) (*aggregator.HourlyResult, error)
}

// CustomerService runs the customer lifetime metrics job.
type CustomerService interface {
	UpdateAll(ctx context.Context) (int, error)
	UpdateOne(ctx context.Context, customerID int64) error
}

// TaskTracker moves ledger entries through their lifecycle. Both methods are
// advisory; failures are logged and never block the job.
type TaskTracker interface {
	MarkActive(ctx context.Context, taskID, taskName string) error
	Remove(ctx context.Context, taskID string) error
}

// Handler holds the dependencies for the aggregator Lambda handler function.
type Handler struct {
	Hourly    HourlyService
	Customers CustomerService
	Tracker   TaskTracker
	Logger    *slog.Logger
}

// Handle accepts either a direct AggregationPayload (EventBridge) or an SQS
// event wrapping one payload per record. Any record failure fails the
// invocation; SQS redelivery is safe because all job writes are idempotent.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (string, error) {
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(raw, &sqsEvent); err == nil && len(sqsEvent.Records) > 0 {
		for _, record := range sqsEvent.Records {
			var payload aggregator.AggregationPayload
			if err := json.Unmarshal([]byte(record.Body), &payload); err != nil {
				h.Logger.ErrorContext(ctx, "dropping malformed aggregation message",
					"message_id", record.MessageId,
					"error", err,
				)
				// Permanent parse failure, retrying cannot help.
				continue
			}
			if _, err := h.dispatch(ctx, payload); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("processed %d queue records", len(sqsEvent.Records)), nil
	}

	var payload aggregator.AggregationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("parsing aggregation payload: %w", err)
	}
	return h.dispatch(ctx, payload)
}

// dispatch routes one payload to its job, tracking the ledger entry for
// queue-triggered tasks.
func (h *Handler) dispatch(ctx context.Context, payload aggregator.AggregationPayload) (string, error) {
	if payload.Task == "" {
		return "", fmt.Errorf("empty task in aggregation payload")
	}

	h.Logger.InfoContext(ctx, "aggregator handler invoked",
		"task", string(payload.Task),
		"task_id", payload.ID,
	)

	if payload.ID != "" {
		if err := h.Tracker.MarkActive(ctx, payload.ID, string(payload.Task)); err != nil {
			h.Logger.ErrorContext(ctx, "failed to mark task active",
				"task_id", payload.ID,
				"error", err,
			)
		}
		defer func() {
			if err := h.Tracker.Remove(ctx, payload.ID); err != nil {
				h.Logger.ErrorContext(ctx, "failed to remove task ledger entry",
					"task_id", payload.ID,
					"error", err,
				)
			}
		}()
	}

	switch payload.Task {
	case aggregator.TaskAggregateHourly:
		var target *time.Time
		if payload.TargetHour != nil {
			parsed, err := time.Parse(time.RFC3339, *payload.TargetHour)
			if err != nil {
				return "", fmt.Errorf("parsing target_hour %q: %w", *payload.TargetHour, err)
			}
			target = &parsed
		}
		result, err := h.Hourly.AggregateHour(ctx, target)
		if err != nil {
			return "", fmt.Errorf("task %s failed: %w", payload.Task, err)
		}
		return fmt.Sprintf("hourly metrics complete for %s: %d orders, %d statuses",
			result.WindowStart.Format(time.RFC3339), result.OrderCount, result.StatusCount), nil

	case aggregator.TaskUpdateCustomerMetrics:
		if payload.CustomerID != nil {
			if err := h.Customers.UpdateOne(ctx, *payload.CustomerID); err != nil {
				return "", fmt.Errorf("task %s failed for customer %d: %w", payload.Task, *payload.CustomerID, err)
			}
			return fmt.Sprintf("customer metrics complete for customer %d", *payload.CustomerID), nil
		}
		processed, err := h.Customers.UpdateAll(ctx)
		if err != nil {
			return "", fmt.Errorf("task %s failed: %w", payload.Task, err)
		}
		return fmt.Sprintf("customer metrics complete: %d customers processed", processed), nil

	default:
		return "", fmt.Errorf("unknown task type: %q", payload.Task)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("aggregator lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to initialize database pool", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Cache.RedisURL.Unmask())
	if err != nil {
		logger.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)

	statusStore := cache.NewJobStatusStore(redisClient, cfg.Cache.JobStatusTTL)
	ledger := cache.NewTaskLedger(redisClient, cfg.Cache.JobStatusTTL)
	aggRepo := db.NewAggregationRepo(pool)

	handler := &Handler{
		Hourly: aggregator.NewHourlyAggregator(aggRepo, statusStore, logger),
		Customers: aggregator.NewCustomerAggregator(
			aggRepo, statusStore, logger,
			cfg.Jobs.CustomerPageSize, cfg.Jobs.UpsertBatchSize,
		),
		Tracker: ledger,
		Logger:  logger,
	}

	logger.Info("aggregator lambda initialized",
		"environment", cfg.Environment,
		"customer_page_size", cfg.Jobs.CustomerPageSize,
	)

	// Local mode: read one payload (or SQS event) from stdin instead of
	// starting the Lambda runtime.
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading payload from stdin")
		raw, err := io.ReadAll(os.Stdin)
		if err != nil || len(raw) == 0 {
			logger.Error("failed to read payload from stdin", "error", err)
			os.Exit(1)
		}
		result, err := handler.Handle(ctx, raw)
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("handler execution completed", "result", result)
		return
	}

	lambda.Start(handler.Handle)
}
