package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"SalesIntel/internal/agent"
	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/observability/alerting"
	"SalesIntel/internal/pipeline"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	failures  []error
	mu        sync.Mutex
	calls     int
}

func (f *fakeExecutor) Execute(ctx context.Context, req pipeline.RunRequest) (*pipeline.RunResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()
	if call < len(f.failures) && f.failures[call] != nil {
		return nil, f.failures[call]
	}
	f.processed.Add(1)
	return &pipeline.RunResult{
		RunID:      req.RunID,
		Target:     req.Target,
		ReportPath: "reports/" + req.RunID + ".txt",
		Stages: []agent.StageOutput{
			{Stage: pipeline.StageResearch, Output: "research"},
			{Stage: pipeline.StageReflection, Output: "final reflection"},
		},
		Notes: []string{"email skipped: no recipient provided"},
	}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func submitTask(t *testing.T, store Store, id string, maxRetries int) *Task {
	t.Helper()
	task := newTestTask(id, "Hindustan Unilever Limited")
	task.MaxRetries = maxRetries
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 5 * time.Millisecond}

	var outcomes atomic.Int32
	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithWorkerCount(8),
		WithOutcomeObserver(func(outcome string, _ time.Duration) {
			if outcome == OutcomeSucceeded {
				outcomes.Add(1)
			}
		}),
	)

	done := make(chan error, 1)
	go func() {
		done <- processor.Start(ctx)
	}()

	total := 100
	for i := 0; i < total; i++ {
		target := pipeline.Target{Name: fmt.Sprintf("company-%d", i), Industry: "FMCG"}
		if _, err := service.Submit(ctx, SubmitRequest{Target: target}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for int(outcomes.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", outcomes.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("processor exited: %v", err)
	}

	stats, err := service.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Succeeded != total {
		t.Fatalf("expected %d succeeded tasks, got %+v", total, stats)
	}
}

func TestProcessorRecordsResult(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	submitTask(t, store, "run-ok", 3)

	processor := NewProcessor(&fakeExecutor{}, store, queue, queue)
	if err := processor.handle(context.Background(), "run-ok"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	task, _ := store.Get(context.Background(), "run-ok")
	if task.Status != StatusSucceeded || task.Result == nil {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Result.ReportPath != "reports/run-ok.txt" || task.Result.Summary != "final reflection" || task.Result.Stages != 2 {
		t.Fatalf("unexpected result: %+v", task.Result)
	}
	if len(task.Result.Notes) != 1 {
		t.Fatalf("expected notes to be carried, got %v", task.Result.Notes)
	}

	if err := processor.handle(context.Background(), "run-ok"); err != nil {
		t.Fatalf("completed task should be skipped, got %v", err)
	}
}

func TestProcessorRequeuesRetryableFailure(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	submitTask(t, store, "run-retry", 3)

	stageErr := xerrors.New(xerrors.CodeStageFailed, "stage market failed", xerrors.WithMetadata("stage", "market"))
	executor := &fakeExecutor{failures: []error{stageErr}}
	alerts := &recordingDispatcher{}

	var seen []string
	processor := NewProcessor(executor, store, queue, queue,
		WithAlertDispatcher(alerts),
		WithOutcomeObserver(func(outcome string, _ time.Duration) { seen = append(seen, outcome) }),
	)

	if err := processor.handle(context.Background(), "run-retry"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, _ := store.Get(context.Background(), "run-retry")
	if task.Status != StatusPending || task.ErrorCode != string(xerrors.CodeStageFailed) {
		t.Fatalf("retryable failure should requeue as pending: %+v", task)
	}

	select {
	case id := <-queue.ch:
		if id != "run-retry" {
			t.Fatalf("unexpected requeued id %s", id)
		}
	default:
		t.Fatalf("expected task to be republished")
	}

	if err := processor.handle(context.Background(), "run-retry"); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	task, _ = store.Get(context.Background(), "run-retry")
	if task.Status != StatusSucceeded || task.Attempts != 2 {
		t.Fatalf("expected success on second attempt: %+v", task)
	}
	if len(seen) != 2 || seen[0] != OutcomeRetried || seen[1] != OutcomeSucceeded {
		t.Fatalf("unexpected outcomes: %v", seen)
	}

	if len(alerts.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.events))
	}
	event := alerts.events[0]
	if event.Metadata["stage"] != "retry" || event.Metadata["pipeline_stage"] != "market" || event.Metadata["target"] != "Hindustan Unilever Limited" {
		t.Fatalf("unexpected alert metadata: %v", event.Metadata)
	}
}

func TestProcessorRequeuesIntoFullMemoryQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1)
	transient := xerrors.New(CodeTaskProcessing, "upstream timeout")
	executor := &fakeExecutor{latency: 50 * time.Millisecond, failures: []error{transient}}
	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(1))

	done := make(chan error, 1)
	go func() {
		done <- processor.Start(ctx)
	}()

	ids := []string{"run-a", "run-b", "run-c"}
	for _, id := range ids {
		target := pipeline.Target{Name: id, Industry: "FMCG"}
		if _, err := service.Submit(ctx, SubmitRequest{ID: id, Target: target}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}

	deadline := time.After(5 * time.Second)
	for int(executor.processed.Load()) < len(ids) {
		select {
		case <-deadline:
			run, _ := store.Get(context.Background(), "run-a")
			t.Fatalf("worker stalled after requeue: processed=%d run-a=%+v", executor.processed.Load(), run)
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("processor exited: %v", err)
	}

	for _, id := range ids {
		run, _ := store.Get(context.Background(), id)
		if run.Status != StatusSucceeded {
			t.Fatalf("expected %s to succeed: %+v", id, run)
		}
	}
	first, _ := store.Get(context.Background(), "run-a")
	if first.Attempts != 2 {
		t.Fatalf("expected run-a to succeed on its second attempt, got %d", first.Attempts)
	}
}

func TestProcessorStopsAfterMaxRetries(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	submitTask(t, store, "run-exhaust", 2)

	stageErr := xerrors.New(xerrors.CodeStageFailed, "stage research failed")
	processor := NewProcessor(&fakeExecutor{failures: []error{stageErr, stageErr}}, store, queue, queue)

	for i := 0; i < 2; i++ {
		if err := processor.handle(context.Background(), "run-exhaust"); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	task, _ := store.Get(context.Background(), "run-exhaust")
	if task.Status != StatusFailed || task.Attempts != 2 {
		t.Fatalf("expected terminal failure after retries: %+v", task)
	}
	if err := processor.handle(context.Background(), "run-exhaust"); err != nil {
		t.Fatalf("exhausted task should be skipped, got %v", err)
	}
}

func TestProcessorFailsNonRetryableImmediately(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	submitTask(t, store, "run-fatal", 3)

	alerts := &recordingDispatcher{}
	processor := NewProcessor(&fakeExecutor{failures: []error{xerrors.New(xerrors.CodeInvalidTarget, "industry is required")}},
		store, queue, queue, WithAlertDispatcher(alerts))

	if err := processor.handle(context.Background(), "run-fatal"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, _ := store.Get(context.Background(), "run-fatal")
	if task.Status != StatusFailed || task.Attempts != 1 || task.ErrorCode != string(xerrors.CodeInvalidTarget) {
		t.Fatalf("unexpected task: %+v", task)
	}
	select {
	case id := <-queue.ch:
		t.Fatalf("terminal task %s should not be republished", id)
	default:
	}
	if len(alerts.events) != 0 {
		t.Fatalf("invalid targets should not alert, got %+v", alerts.events)
	}
}

func TestProcessorRecoveryDegradesResult(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	submitTask(t, store, "run-degraded", 3)

	var seen string
	recovery := RecoveryFunc(func(_ context.Context, task *Task, cause error) (*ExecutionResult, error) {
		return &ExecutionResult{Summary: "partial analysis for " + task.Target.Name}, nil
	})
	processor := NewProcessor(&fakeExecutor{failures: []error{xerrors.New(xerrors.CodeDeliveryFailed, "smtp rejected")}},
		store, queue, queue,
		WithRecoveryHandler(recovery),
		WithAlertDispatcher(&recordingDispatcher{}),
		WithOutcomeObserver(func(outcome string, _ time.Duration) { seen = outcome }),
	)

	if err := processor.handle(context.Background(), "run-degraded"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, _ := store.Get(context.Background(), "run-degraded")
	if task.Status != StatusSucceeded || task.Result == nil {
		t.Fatalf("expected degraded success: %+v", task)
	}
	if task.Result.Summary != "partial analysis for Hindustan Unilever Limited" || len(task.Result.Notes) != 1 {
		t.Fatalf("unexpected degraded result: %+v", task.Result)
	}
	if seen != OutcomeDegraded {
		t.Fatalf("unexpected outcome %s", seen)
	}
}

func TestServiceSubmitValidatesAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 0)

	_, err := service.Submit(ctx, SubmitRequest{Target: pipeline.Target{Name: "Acme"}})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidTarget {
		t.Fatalf("expected invalid target, got %v", err)
	}

	_, err = service.Submit(ctx, SubmitRequest{
		Target:     pipeline.Target{Name: "Acme", Industry: "Retail"},
		Recipients: []string{"not-an-email"},
	})
	if xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}

	req := SubmitRequest{ID: "fixed", Target: pipeline.Target{Name: "Acme", Industry: "Retail"}, Recipients: []string{"ops@acme.test"}}
	first, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.MaxRetries != 3 || first.Status != StatusPending {
		t.Fatalf("unexpected task: %+v", first)
	}
	second, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected idempotent resubmission")
	}
	if queue.Len() != 1 {
		t.Fatalf("expected a single publish, got %d", queue.Len())
	}
}

func TestServiceSubmitMarksPublishFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)

	_, err := service.Submit(ctx, SubmitRequest{ID: "lost", Target: pipeline.Target{Name: "Acme", Industry: "Retail"}})
	if xerrors.CodeOf(err) != CodeTaskPublish {
		t.Fatalf("expected publish failure, got %v", err)
	}
	task, getErr := store.Get(ctx, "lost")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if task.Status != StatusFailed || task.ErrorCode != string(CodeTaskPublish) {
		t.Fatalf("unexpected task after publish failure: %+v", task)
	}
}
