package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/metrics"
	"github.com/loongquant/loong/internal/models"
)

func newTestPool(store *mockTaskStore, llm *mockLLM, notifier *mockNotifier) *Pool {
	config := common.NewDefaultConfig()
	config.LLM.Model = "deep"
	config.LLM.QuickModel = "quick"
	return NewPool(store, llm, notifier, metrics.NewRegistry(), config, common.NewSilentLogger())
}

func claimTask(t *testing.T, store *mockTaskStore, userID, symbol string) *models.AnalysisTask {
	t.Helper()
	task := &models.AnalysisTask{UserID: userID, Symbol: symbol}
	if err := store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	claimed, err := store.ClaimNext(context.Background(), "worker-1")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v %v", claimed, err)
	}
	return claimed
}

func TestProcessCompletesTask(t *testing.T) {
	store := newMockTaskStore()
	llm := &mockLLM{}
	notifier := &mockNotifier{}
	pool := newTestPool(store, llm, notifier)

	task := claimTask(t, store, "u1", "600000")
	pool.process(context.Background(), "worker-1", task)

	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}
	if task.Progress != 100 {
		t.Errorf("expected progress 100, got %d", task.Progress)
	}
	if task.Result == nil || task.Result.Summary == "" {
		t.Fatal("expected a summary in the result")
	}
	if len(task.Result.Sections) != 4 {
		t.Errorf("expected 4 sections, got %d", len(task.Result.Sections))
	}
	// Four quick phases plus the deep summary.
	if len(llm.calls) != 5 {
		t.Fatalf("expected 5 LLM calls, got %d", len(llm.calls))
	}
	if llm.calls[0] != "quick" || llm.calls[4] != "deep" {
		t.Errorf("unexpected model order: %v", llm.calls)
	}
	if task.Result.TokensIn != 500 || task.Result.TokensOut != 250 {
		t.Errorf("unexpected token totals: %d/%d", task.Result.TokensIn, task.Result.TokensOut)
	}
	if len(notifier.published) != 1 || notifier.published[0].Severity != models.SeverityInfo {
		t.Errorf("expected one info notification, got %+v", notifier.published)
	}
}

func TestProcessHonorsSelectedAnalysts(t *testing.T) {
	store := newMockTaskStore()
	llm := &mockLLM{}
	pool := newTestPool(store, llm, &mockNotifier{})

	task := &models.AnalysisTask{
		UserID: "u1", Symbol: "600000",
		Parameters: models.AnalysisParameters{SelectedAnalysts: []string{"market", "risk"}},
	}
	store.CreateTask(context.Background(), task)
	claimed, _ := store.ClaimNext(context.Background(), "worker-1")

	pool.process(context.Background(), "worker-1", claimed)

	if len(task.Result.Sections) != 2 {
		t.Errorf("expected 2 sections, got %d", len(task.Result.Sections))
	}
	if _, ok := task.Result.Sections["fundamentals"]; ok {
		t.Error("fundamentals should not have run")
	}
}

func TestProcessStopsAtCancelFlag(t *testing.T) {
	store := newMockTaskStore()
	llm := &mockLLM{}
	notifier := &mockNotifier{}
	pool := newTestPool(store, llm, notifier)

	task := claimTask(t, store, "u1", "600000")
	llm.onCall = func(call int) {
		if call == 2 {
			store.RequestCancel(context.Background(), task.TaskID, "u1")
		}
	}

	pool.process(context.Background(), "worker-1", task)

	if task.Status != models.TaskStatusCancelled {
		t.Fatalf("expected cancelled, got %s", task.Status)
	}
	if len(llm.calls) != 2 {
		t.Errorf("expected the run to stop after 2 calls, got %d", len(llm.calls))
	}
	if len(notifier.published) != 1 || notifier.published[0].Severity != models.SeverityWarn {
		t.Errorf("expected one warn notification, got %+v", notifier.published)
	}
}

func TestProcessRequeuesRetryableFailure(t *testing.T) {
	store := newMockTaskStore()
	llm := &mockLLM{err: errors.New("upstream hiccup")}
	pool := newTestPool(store, llm, &mockNotifier{})

	task := claimTask(t, store, "u1", "600000")
	before := time.Now()
	pool.process(context.Background(), "worker-1", task)

	if task.Status != models.TaskStatusPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", task.RetryCount)
	}
	if len(store.requeues) != 1 {
		t.Fatalf("expected 1 requeue, got %d", len(store.requeues))
	}
	delay := store.requeues[0].Sub(before)
	if delay < 59*time.Second || delay > 61*time.Second {
		t.Errorf("expected ~60s delay, got %v", delay)
	}
}

func TestProcessFailsAfterRetriesExhausted(t *testing.T) {
	store := newMockTaskStore()
	llm := &mockLLM{err: errors.New("upstream hiccup")}
	notifier := &mockNotifier{}
	pool := newTestPool(store, llm, notifier)

	task := claimTask(t, store, "u1", "600000")
	task.RetryCount = task.MaxRetries

	pool.process(context.Background(), "worker-1", task)

	if task.Status != models.TaskStatusFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	if task.LastError == "" {
		t.Error("expected last_error to be recorded")
	}
	if len(notifier.published) != 1 || notifier.published[0].Severity != models.SeverityError {
		t.Errorf("expected one error notification, got %+v", notifier.published)
	}
}

func TestRecomputeBatchCounters(t *testing.T) {
	store := newMockTaskStore()
	llm := &mockLLM{}
	pool := newTestPool(store, llm, &mockNotifier{})

	batch := &models.AnalysisBatch{UserID: "u1", TotalTasks: 2, Status: models.TaskStatusPending}
	tasks := []*models.AnalysisTask{
		{UserID: "u1", Symbol: "600000"},
		{UserID: "u1", Symbol: "000001"},
	}
	store.CreateBatch(context.Background(), batch, tasks)

	first, _ := store.ClaimNext(context.Background(), "worker-1")
	pool.process(context.Background(), "worker-1", first)

	if batch.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", batch.Completed)
	}
	if batch.Status != models.TaskStatusProcessing {
		t.Errorf("expected batch processing, got %s", batch.Status)
	}

	second, _ := store.ClaimNext(context.Background(), "worker-1")
	pool.process(context.Background(), "worker-1", second)

	if batch.Completed != 2 || batch.Status != models.TaskStatusCompleted {
		t.Errorf("expected finished batch, got %+v", batch)
	}
	if batch.Progress != 100 {
		t.Errorf("expected batch progress 100, got %d", batch.Progress)
	}
}

func TestRetryDelayBackoff(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 60 * time.Second},
		{1, 120 * time.Second},
		{2, 240 * time.Second},
		{3, 300 * time.Second},
		{10, 300 * time.Second},
	}
	for _, tc := range cases {
		if got := retryDelay(tc.retryCount); got != tc.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tc.retryCount, got, tc.want)
		}
	}
}

func TestSelectedPhasesFallsBackToAll(t *testing.T) {
	if got := selectedPhases(nil); len(got) != 4 {
		t.Errorf("expected all phases, got %v", got)
	}
	if got := selectedPhases([]string{"bogus"}); len(got) != 4 {
		t.Errorf("unknown picks should fall back to all phases, got %v", got)
	}
	got := selectedPhases([]string{"RISK", "market"})
	if len(got) != 2 || got[0] != "market" || got[1] != "risk" {
		t.Errorf("expected [market risk], got %v", got)
	}
}
