package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/models"
)

func newTestingService(store *mockTaskStore) *Service {
	return NewService(store, nil, common.NewDefaultConfig(), common.NewSilentLogger())
}

func TestSubmitCreatesPendingTask(t *testing.T) {
	store := newMockTaskStore()
	svc := newTestingService(store)

	task, err := svc.Submit(context.Background(), "u1", "600000", models.AnalysisParameters{ResearchDepth: 2})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if task.TaskID == "" {
		t.Error("expected task id to be assigned")
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if task.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", task.MaxRetries)
	}
}

func TestSubmitRefusedByConcurrentQuota(t *testing.T) {
	store := newMockTaskStore()
	store.unfinished = 3
	svc := newTestingService(store)

	_, err := svc.Submit(context.Background(), "u1", "600000", models.AnalysisParameters{})
	if common.AppErrorCode(err) != common.CodeQuotaConcurrent {
		t.Errorf("expected quota-exceeded-concurrent, got %v", err)
	}
}

func TestSubmitAllowedBelowConcurrentQuota(t *testing.T) {
	store := newMockTaskStore()
	store.unfinished = 2
	svc := newTestingService(store)

	if _, err := svc.Submit(context.Background(), "u1", "600000", models.AnalysisParameters{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestSubmitPublishesNotification(t *testing.T) {
	store := newMockTaskStore()
	notifier := &mockNotifier{}
	svc := NewService(store, notifier, common.NewDefaultConfig(), common.NewSilentLogger())

	task, err := svc.Submit(context.Background(), "u1", "600000", models.AnalysisParameters{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(notifier.published) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.published))
	}
	n := notifier.published[0]
	if n.UserID != "u1" || n.Type != models.NotificationAnalysis {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.Link != "/api/analysis/tasks/"+task.TaskID {
		t.Errorf("unexpected link %q", n.Link)
	}
}

func TestSubmitRefusedByDailyQuota(t *testing.T) {
	store := newMockTaskStore()
	store.createdToday = 50
	svc := newTestingService(store)

	_, err := svc.Submit(context.Background(), "u1", "600000", models.AnalysisParameters{})
	if common.AppErrorCode(err) != common.CodeQuotaDaily {
		t.Errorf("expected quota-exceeded-daily, got %v", err)
	}
}

func TestSubmitBatchLinksTasks(t *testing.T) {
	store := newMockTaskStore()
	svc := newTestingService(store)

	batch, tasks, err := svc.SubmitBatch(context.Background(), "u1",
		[]string{"600000", "000001"}, models.AnalysisParameters{}, "CN banks", "")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if batch.BatchID == "" || batch.TotalTasks != 2 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.BatchID != batch.BatchID {
			t.Errorf("task %s not linked to batch", task.TaskID)
		}
	}
}

func TestSubmitBatchSizeLimit(t *testing.T) {
	svc := newTestingService(newMockTaskStore())

	symbols := make([]string, models.MaxBatchSize+1)
	for i := range symbols {
		symbols[i] = "600000"
	}
	_, _, err := svc.SubmitBatch(context.Background(), "u1", symbols, models.AnalysisParameters{}, "", "")
	if common.AppErrorCode(err) != common.CodeBadRequest {
		t.Errorf("expected bad-request, got %v", err)
	}
}

func TestSubmitBatchDailyQuotaCoversWholeBatch(t *testing.T) {
	store := newMockTaskStore()
	store.createdToday = 48
	svc := newTestingService(store)

	_, _, err := svc.SubmitBatch(context.Background(), "u1",
		[]string{"a", "b", "c"}, models.AnalysisParameters{}, "", "")
	if common.AppErrorCode(err) != common.CodeQuotaDaily {
		t.Errorf("expected quota-exceeded-daily, got %v", err)
	}
}

func TestSubmitBatchConcurrentQuotaCoversWholeBatch(t *testing.T) {
	store := newMockTaskStore()
	store.unfinished = 2
	svc := newTestingService(store)

	// 2 unfinished plus a batch of 2 breaches the limit of 3 even though
	// the unfinished count alone is under it.
	_, _, err := svc.SubmitBatch(context.Background(), "u1",
		[]string{"600000", "000001"}, models.AnalysisParameters{}, "", "")
	if common.AppErrorCode(err) != common.CodeQuotaConcurrent {
		t.Errorf("expected quota-exceeded-concurrent, got %v", err)
	}
}

func TestSubmitBatchPublishesNotification(t *testing.T) {
	store := newMockTaskStore()
	notifier := &mockNotifier{}
	svc := NewService(store, notifier, common.NewDefaultConfig(), common.NewSilentLogger())

	batch, _, err := svc.SubmitBatch(context.Background(), "u1",
		[]string{"600000", "000001"}, models.AnalysisParameters{}, "CN banks", "")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if len(notifier.published) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.published))
	}
	if notifier.published[0].Link != "/api/analysis/batches/"+batch.BatchID {
		t.Errorf("unexpected link %q", notifier.published[0].Link)
	}
}

func TestDailyQuotaWindowOpensAtExchangeMidnight(t *testing.T) {
	store := newMockTaskStore()
	svc := newTestingService(store)
	// 19:00 UTC is already the next calendar day in Shanghai (UTC+8).
	svc.now = func() time.Time {
		return time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)
	}

	if _, err := svc.Submit(context.Background(), "u1", "600000", models.AnalysisParameters{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	want := time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC) // 2025-03-02 00:00 +08
	if !store.countedSince.Equal(want) {
		t.Errorf("daily window opened at %v, want %v", store.countedSince, want)
	}
}

func TestCancelPendingTask(t *testing.T) {
	store := newMockTaskStore()
	svc := newTestingService(store)

	task, err := svc.Submit(context.Background(), "u1", "600000", models.AnalysisParameters{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.Cancel(context.Background(), task.TaskID, "u1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if task.Status != models.TaskStatusCancelled {
		t.Errorf("expected cancelled, got %s", task.Status)
	}
}

func TestCancelProcessingTaskIsCooperative(t *testing.T) {
	store := newMockTaskStore()
	svc := newTestingService(store)

	task, _ := svc.Submit(context.Background(), "u1", "600000", models.AnalysisParameters{})
	if _, err := store.ClaimNext(context.Background(), "worker-1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if err := svc.Cancel(context.Background(), task.TaskID, "u1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if task.Status != models.TaskStatusProcessing {
		t.Errorf("expected task to stay processing, got %s", task.Status)
	}
	if !task.CancelRequested {
		t.Error("expected cancel_requested to be set")
	}
}

func TestCancelTerminalTaskConflicts(t *testing.T) {
	store := newMockTaskStore()
	svc := newTestingService(store)

	task, _ := svc.Submit(context.Background(), "u1", "600000", models.AnalysisParameters{})
	store.ClaimNext(context.Background(), "worker-1")
	store.CompleteTask(context.Background(), task.TaskID, &models.AnalysisResult{Summary: "done"})

	err := svc.Cancel(context.Background(), task.TaskID, "u1")
	if common.AppErrorCode(err) != common.CodeConflict {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestCancelForeignTaskNotFound(t *testing.T) {
	store := newMockTaskStore()
	svc := newTestingService(store)

	task, _ := svc.Submit(context.Background(), "u1", "600000", models.AnalysisParameters{})
	err := svc.Cancel(context.Background(), task.TaskID, "u2")
	if common.AppErrorCode(err) != common.CodeNotFound {
		t.Errorf("expected not-found, got %v", err)
	}
}
