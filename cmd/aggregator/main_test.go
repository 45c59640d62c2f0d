package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"orderpulse/internal/aggregator"
)

// =============================================================================
// Mock implementations for the handler service interfaces
// =============================================================================

type mockHourly struct {
	called     bool
	lastTarget *time.Time
	result     *aggregator.HourlyResult
	returnErr  error
}

func (m *mockHourly) AggregateHour(_ context.Context, target *time.Time) (*aggregator.HourlyResult, error) {
	m.called = true
	m.lastTarget = target
	return m.result, m.returnErr
}

type mockCustomers struct {
	updateAllCalled bool
	updateOneCalled bool
	lastCustomerID  int64
	returnProcessed int
	returnErr       error
}

func (m *mockCustomers) UpdateAll(_ context.Context) (int, error) {
	m.updateAllCalled = true
	return m.returnProcessed, m.returnErr
}

func (m *mockCustomers) UpdateOne(_ context.Context, customerID int64) error {
	m.updateOneCalled = true
	m.lastCustomerID = customerID
	return m.returnErr
}

// mockTracker records ledger lifecycle calls.
type mockTracker struct {
	markedActive []string
	removed      []string
	markErr      error
	removeErr    error
}

func (m *mockTracker) MarkActive(_ context.Context, taskID, _ string) error {
	m.markedActive = append(m.markedActive, taskID)
	return m.markErr
}

func (m *mockTracker) Remove(_ context.Context, taskID string) error {
	m.removed = append(m.removed, taskID)
	return m.removeErr
}

type testServices struct {
	hourly    *mockHourly
	customers *mockCustomers
	tracker   *mockTracker
}

func newTestHandler() (*Handler, *testServices) {
	ts := &testServices{
		hourly: &mockHourly{
			result: &aggregator.HourlyResult{
				WindowStart: time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC),
				OrderCount:  12,
				StatusCount: 3,
			},
		},
		customers: &mockCustomers{returnProcessed: 40},
		tracker:   &mockTracker{},
	}

	h := &Handler{
		Hourly:    ts.hourly,
		Customers: ts.customers,
		Tracker:   ts.tracker,
		Logger:    slog.Default(),
	}

	return h, ts
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	return raw
}

// =============================================================================
// Routing Tests
// =============================================================================

func TestHandle_RoutesHourlyMetrics(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()

	result, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		Task: aggregator.TaskAggregateHourly,
	}))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ts.hourly.called {
		t.Error("expected HourlyService.AggregateHour to be called")
	}
	if ts.hourly.lastTarget != nil {
		t.Errorf("expected nil target for payload without target_hour, got %v", ts.hourly.lastTarget)
	}
	if !strings.Contains(result, "12 orders") {
		t.Errorf("result should mention order count, got: %s", result)
	}
}

func TestHandle_HourlyMetricsWithTargetHour(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()

	target := "2026-08-30T14:37:00Z"
	_, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		Task:       aggregator.TaskAggregateHourly,
		TargetHour: &target,
	}))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.hourly.lastTarget == nil {
		t.Fatal("expected parsed target to be passed through")
	}
	want := time.Date(2026, 8, 30, 14, 37, 0, 0, time.UTC)
	if !ts.hourly.lastTarget.Equal(want) {
		t.Errorf("target = %v, want %v", ts.hourly.lastTarget, want)
	}
}

func TestHandle_HourlyMetricsInvalidTargetHour(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()

	target := "yesterday around lunch"
	_, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		Task:       aggregator.TaskAggregateHourly,
		TargetHour: &target,
	}))

	if err == nil {
		t.Fatal("expected error for unparseable target_hour, got nil")
	}
	if ts.hourly.called {
		t.Error("job must not run when the target hour cannot be parsed")
	}
}

func TestHandle_RoutesCustomerMetricsAll(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()

	result, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		Task: aggregator.TaskUpdateCustomerMetrics,
	}))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ts.customers.updateAllCalled {
		t.Error("expected CustomerService.UpdateAll to be called")
	}
	if ts.customers.updateOneCalled {
		t.Error("UpdateOne must not be called without a customer_id")
	}
	if !strings.Contains(result, "40 customers") {
		t.Errorf("result should mention processed count, got: %s", result)
	}
}

func TestHandle_RoutesCustomerMetricsSingle(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()

	customerID := int64(77)
	result, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		Task:       aggregator.TaskUpdateCustomerMetrics,
		CustomerID: &customerID,
	}))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ts.customers.updateOneCalled {
		t.Error("expected CustomerService.UpdateOne to be called")
	}
	if ts.customers.lastCustomerID != 77 {
		t.Errorf("customer ID = %d, want 77", ts.customers.lastCustomerID)
	}
	if ts.customers.updateAllCalled {
		t.Error("UpdateAll must not be called when a customer_id is present")
	}
	if !strings.Contains(result, "customer 77") {
		t.Errorf("result should mention the customer, got: %s", result)
	}
}

func TestHandle_UnknownTask(t *testing.T) {
	h, _ := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		Task: aggregator.TaskType("defragment_orders"),
	}))

	if err == nil {
		t.Fatal("expected error for unknown task, got nil")
	}
	if !strings.Contains(err.Error(), "unknown task") {
		t.Errorf("error should name the failure, got: %v", err)
	}
}

func TestHandle_EmptyTask(t *testing.T) {
	h, _ := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{}))

	if err == nil {
		t.Fatal("expected error for empty task, got nil")
	}
}

func TestHandle_JobFailurePropagates(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()
	ts.hourly.returnErr = errors.New("window query timed out")

	_, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		Task: aggregator.TaskAggregateHourly,
	}))

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "window query timed out") {
		t.Errorf("error should wrap the job failure, got: %v", err)
	}
}

// =============================================================================
// SQS Event Tests
// =============================================================================

func TestHandle_SQSEventProcessesAllRecords(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()

	customerID := int64(5)
	event := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: string(mustMarshal(t, aggregator.AggregationPayload{
			Task: aggregator.TaskAggregateHourly,
		}))},
		{MessageId: "m2", Body: string(mustMarshal(t, aggregator.AggregationPayload{
			Task:       aggregator.TaskUpdateCustomerMetrics,
			CustomerID: &customerID,
		}))},
	}}

	result, err := h.Handle(ctx, mustMarshal(t, event))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ts.hourly.called {
		t.Error("expected the first record to run the hourly job")
	}
	if !ts.customers.updateOneCalled {
		t.Error("expected the second record to run the customer job")
	}
	if !strings.Contains(result, "2 queue records") {
		t.Errorf("result should mention the record count, got: %s", result)
	}
}

func TestHandle_SQSEventSkipsMalformedRecord(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()

	event := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: "{not json"},
		{MessageId: "m2", Body: string(mustMarshal(t, aggregator.AggregationPayload{
			Task: aggregator.TaskAggregateHourly,
		}))},
	}}

	_, err := h.Handle(ctx, mustMarshal(t, event))

	if err != nil {
		t.Fatalf("a malformed record must be dropped, not fail the batch: %v", err)
	}
	if !ts.hourly.called {
		t.Error("the valid record should still be processed")
	}
}

func TestHandle_SQSEventFailedRecordFailsInvocation(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()
	ts.customers.returnErr = errors.New("pool exhausted")

	event := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: string(mustMarshal(t, aggregator.AggregationPayload{
			Task: aggregator.TaskUpdateCustomerMetrics,
		}))},
	}}

	_, err := h.Handle(ctx, mustMarshal(t, event))

	if err == nil {
		t.Fatal("expected the record failure to fail the invocation for redelivery")
	}
}

func TestHandle_MalformedDirectPayload(t *testing.T) {
	h, _ := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, json.RawMessage(`"just a string"`))

	if err == nil {
		t.Fatal("expected error for non-payload input, got nil")
	}
}

// =============================================================================
// Task Ledger Tests
// =============================================================================

func TestHandle_TracksLedgerEntryForQueuedTask(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		ID:   "task-abc-123",
		Task: aggregator.TaskAggregateHourly,
	}))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.tracker.markedActive) != 1 || ts.tracker.markedActive[0] != "task-abc-123" {
		t.Errorf("markedActive = %v, want [task-abc-123]", ts.tracker.markedActive)
	}
	if len(ts.tracker.removed) != 1 || ts.tracker.removed[0] != "task-abc-123" {
		t.Errorf("removed = %v, want [task-abc-123]", ts.tracker.removed)
	}
}

func TestHandle_NoLedgerCallsForScheduledTask(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		Task: aggregator.TaskAggregateHourly,
	}))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.tracker.markedActive) != 0 || len(ts.tracker.removed) != 0 {
		t.Error("scheduled payloads without an ID must not touch the ledger")
	}
}

func TestHandle_LedgerRemovedEvenOnJobFailure(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()
	ts.hourly.returnErr = errors.New("boom")

	_, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		ID:   "task-def-456",
		Task: aggregator.TaskAggregateHourly,
	}))

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(ts.tracker.removed) != 1 {
		t.Error("the ledger entry must be removed even when the job fails")
	}
}

func TestHandle_LedgerFailureIsNonFatal(t *testing.T) {
	h, ts := newTestHandler()
	ctx := context.Background()
	ts.tracker.markErr = fmt.Errorf("redis down")
	ts.tracker.removeErr = fmt.Errorf("redis down")

	_, err := h.Handle(ctx, mustMarshal(t, aggregator.AggregationPayload{
		ID:   "task-ghi-789",
		Task: aggregator.TaskAggregateHourly,
	}))

	if err != nil {
		t.Fatalf("ledger failures are advisory and must not fail the job: %v", err)
	}
	if !ts.hourly.called {
		t.Error("expected the job to run despite ledger failures")
	}
}
