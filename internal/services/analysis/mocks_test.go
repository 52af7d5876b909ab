package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
)

// mockTaskStore is an in-memory task store mirroring the persistence
// semantics the workers rely on.
type mockTaskStore struct {
	mu      sync.Mutex
	tasks   map[string]*models.AnalysisTask
	batches map[string]*models.AnalysisBatch
	nextID  int

	unfinished   int
	createdToday int
	countedSince time.Time

	requeues []time.Time
}

func newMockTaskStore() *mockTaskStore {
	return &mockTaskStore{
		tasks:   make(map[string]*models.AnalysisTask),
		batches: make(map[string]*models.AnalysisBatch),
	}
}

func (m *mockTaskStore) newID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s%d", prefix, m.nextID)
}

func (m *mockTaskStore) prepare(task *models.AnalysisTask) {
	task.TaskID = m.newID("task")
	task.Status = models.TaskStatusPending
	task.CreatedAt = time.Now()
	if task.MaxRetries == 0 {
		task.MaxRetries = 3
	}
}

func (m *mockTaskStore) CreateTask(_ context.Context, task *models.AnalysisTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepare(task)
	m.tasks[task.TaskID] = task
	return nil
}

func (m *mockTaskStore) CreateBatch(_ context.Context, batch *models.AnalysisBatch, tasks []*models.AnalysisTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch.BatchID = m.newID("batch")
	batch.CreatedAt = time.Now()
	m.batches[batch.BatchID] = batch
	for _, task := range tasks {
		m.prepare(task)
		task.BatchID = batch.BatchID
		m.tasks[task.TaskID] = task
	}
	return nil
}

func (m *mockTaskStore) GetTask(_ context.Context, taskID string) (*models.AnalysisTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[taskID], nil
}

func (m *mockTaskStore) GetBatch(_ context.Context, batchID string) (*models.AnalysisBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[batchID], nil
}

func (m *mockTaskStore) UpdateBatch(_ context.Context, batch *models.AnalysisBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[batch.BatchID] = batch
	return nil
}

func (m *mockTaskStore) ListBatchTasks(_ context.Context, batchID string) ([]*models.AnalysisTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []*models.AnalysisTask
	for _, task := range m.tasks {
		if task.BatchID == batchID {
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })
	return tasks, nil
}

func (m *mockTaskStore) ClaimNext(_ context.Context, workerID string) (*models.AnalysisTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var oldest *models.AnalysisTask
	for _, task := range m.tasks {
		if task.Status != models.TaskStatusPending {
			continue
		}
		if task.NotBefore != nil && task.NotBefore.After(now) {
			continue
		}
		if oldest == nil || task.CreatedAt.Before(oldest.CreatedAt) {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, nil
	}
	started := time.Now()
	oldest.Status = models.TaskStatusProcessing
	oldest.WorkerID = workerID
	oldest.StartedAt = &started
	return oldest, nil
}

func (m *mockTaskStore) SetProgress(_ context.Context, taskID string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.tasks[taskID]
	if task != nil && task.Status == models.TaskStatusProcessing && progress > task.Progress {
		task.Progress = progress
	}
	return nil
}

func (m *mockTaskStore) CompleteTask(_ context.Context, taskID string, result *models.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.tasks[taskID]
	if task == nil || task.Status != models.TaskStatusProcessing {
		return fmt.Errorf("task %s is not processing", taskID)
	}
	now := time.Now()
	task.Status = models.TaskStatusCompleted
	task.Progress = 100
	task.Result = result
	task.CompletedAt = &now
	task.CancelRequested = false
	return nil
}

func (m *mockTaskStore) FailTask(_ context.Context, taskID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.tasks[taskID]
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	now := time.Now()
	task.Status = models.TaskStatusFailed
	task.LastError = lastError
	task.CompletedAt = &now
	return nil
}

func (m *mockTaskStore) RequeueForRetry(_ context.Context, taskID, lastError string, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.tasks[taskID]
	if task == nil || task.Status != models.TaskStatusProcessing {
		return fmt.Errorf("task %s is not processing", taskID)
	}
	task.Status = models.TaskStatusPending
	task.RetryCount++
	task.LastError = lastError
	task.NotBefore = &notBefore
	task.WorkerID = ""
	m.requeues = append(m.requeues, notBefore)
	return nil
}

func (m *mockTaskStore) CancelPending(_ context.Context, taskID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.tasks[taskID]
	if task == nil || task.UserID != userID || task.Status != models.TaskStatusPending {
		return false, nil
	}
	task.Status = models.TaskStatusCancelled
	return true, nil
}

func (m *mockTaskStore) MarkCancelled(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.tasks[taskID]
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	task.Status = models.TaskStatusCancelled
	return nil
}

func (m *mockTaskStore) RequestCancel(_ context.Context, taskID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.tasks[taskID]
	if task == nil || task.UserID != userID || task.Status != models.TaskStatusProcessing {
		return false, nil
	}
	task.CancelRequested = true
	return true, nil
}

func (m *mockTaskStore) CountUnfinished(context.Context, string) (int, error) {
	return m.unfinished, nil
}

func (m *mockTaskStore) CountCreatedSince(_ context.Context, _ string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countedSince = since
	return m.createdToday, nil
}

func (m *mockTaskStore) ResetProcessing(context.Context) error { return nil }

// Compile-time check
var _ interfaces.TaskStore = (*mockTaskStore)(nil)

// mockLLM serves canned completions, with an optional per-call hook.
type mockLLM struct {
	mu     sync.Mutex
	calls  []string // model
	err    error
	onCall func(call int)
}

func (m *mockLLM) Generate(_ context.Context, model, prompt string) (*interfaces.LLMResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, model)
	call := len(m.calls)
	hook := m.onCall
	err := m.err
	m.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	return &interfaces.LLMResponse{
		Text:      "report for " + model,
		TokensIn:  100,
		TokensOut: 50,
	}, nil
}

// mockNotifier records published notifications.
type mockNotifier struct {
	mu        sync.Mutex
	published []*models.Notification
}

func (n *mockNotifier) Publish(_ context.Context, notification *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, notification)
	return nil
}
