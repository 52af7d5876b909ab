package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
)

// TaskStore implements interfaces.TaskStore using SurrealDB. Task records
// are keyed by task_id, batch records by batch_id.
type TaskStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db *surrealdb.DB, logger *common.Logger) *TaskStore {
	return &TaskStore{db: db, logger: logger}
}

func taskRID(taskID string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("analysis_tasks", taskID)
}

func batchRID(batchID string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("analysis_batches", batchID)
}

func prepareTask(task *models.AnalysisTask) {
	if task.TaskID == "" {
		task.TaskID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = 3
	}
}

func (s *TaskStore) CreateTask(ctx context.Context, task *models.AnalysisTask) error {
	prepareTask(task)

	if _, err := surrealdb.Query[any](ctx, s.db, "UPSERT $rid CONTENT $task", map[string]any{
		"rid":  taskRID(task.TaskID),
		"task": task,
	}); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// CreateBatch writes the batch document and every child task in one
// transaction. A failure anywhere rolls the whole submission back.
func (s *TaskStore) CreateBatch(ctx context.Context, batch *models.AnalysisBatch, tasks []*models.AnalysisTask) error {
	if batch.BatchID == "" {
		batch.BatchID = uuid.New().String()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	batch.UpdatedAt = time.Now()
	batch.TotalTasks = len(tasks)
	if batch.Status == "" {
		batch.Status = models.TaskStatusPending
	}

	sql := "BEGIN TRANSACTION; UPSERT $batch_rid CONTENT $batch;"
	vars := map[string]any{
		"batch_rid": batchRID(batch.BatchID),
		"batch":     batch,
	}
	for i, task := range tasks {
		task.BatchID = batch.BatchID
		prepareTask(task)
		sql += fmt.Sprintf(" UPSERT $t%d_rid CONTENT $t%d;", i, i)
		vars[fmt.Sprintf("t%d_rid", i)] = taskRID(task.TaskID)
		vars[fmt.Sprintf("t%d", i)] = task
	}
	sql += " COMMIT TRANSACTION;"

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (s *TaskStore) GetTask(ctx context.Context, taskID string) (*models.AnalysisTask, error) {
	results, err := surrealdb.Query[[]models.AnalysisTask](ctx, s.db, "SELECT * FROM $rid", map[string]any{
		"rid": taskRID(taskID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *TaskStore) GetBatch(ctx context.Context, batchID string) (*models.AnalysisBatch, error) {
	results, err := surrealdb.Query[[]models.AnalysisBatch](ctx, s.db, "SELECT * FROM $rid", map[string]any{
		"rid": batchRID(batchID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *TaskStore) UpdateBatch(ctx context.Context, batch *models.AnalysisBatch) error {
	batch.UpdatedAt = time.Now()
	if _, err := surrealdb.Query[any](ctx, s.db, "UPSERT $rid CONTENT $batch", map[string]any{
		"rid":   batchRID(batch.BatchID),
		"batch": batch,
	}); err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	return nil
}

func (s *TaskStore) ListBatchTasks(ctx context.Context, batchID string) ([]*models.AnalysisTask, error) {
	sql := "SELECT * FROM analysis_tasks WHERE batch_id = $batch_id ORDER BY created_at ASC"
	results, err := surrealdb.Query[[]models.AnalysisTask](ctx, s.db, sql, map[string]any{"batch_id": batchID})
	if err != nil {
		return nil, fmt.Errorf("failed to list batch tasks: %w", err)
	}

	rows := firstResult(results)
	tasks := make([]*models.AnalysisTask, 0, len(rows))
	for i := range rows {
		tasks = append(tasks, &rows[i])
	}
	return tasks, nil
}

// ClaimNext claims the oldest dispatchable pending task for workerID.
// Two-step claim: SELECT the candidate, then UPDATE it guarded on status
// so two workers cannot claim the same task.
func (s *TaskStore) ClaimNext(ctx context.Context, workerID string) (*models.AnalysisTask, error) {
	now := time.Now()

	selectSQL := `SELECT * FROM analysis_tasks
		WHERE status = $pending AND (not_before IS NONE OR not_before <= $now)
		ORDER BY created_at ASC LIMIT 1`
	candidates, err := surrealdb.Query[[]models.AnalysisTask](ctx, s.db, selectSQL, map[string]any{
		"pending": models.TaskStatusPending,
		"now":     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select candidate task: %w", err)
	}

	rows := firstResult(candidates)
	if len(rows) == 0 {
		return nil, nil
	}
	candidate := rows[0]

	updateSQL := `UPDATE $rid SET status = $processing, worker_id = $worker, started_at = $now
		WHERE status = $pending`
	claimed, err := surrealdb.Query[[]models.AnalysisTask](ctx, s.db, updateSQL, map[string]any{
		"rid":        taskRID(candidate.TaskID),
		"processing": models.TaskStatusProcessing,
		"pending":    models.TaskStatusPending,
		"worker":     workerID,
		"now":        now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	if len(firstResult(claimed)) == 0 {
		// Lost the race; the caller polls again.
		return nil, nil
	}

	candidate.Status = models.TaskStatusProcessing
	candidate.WorkerID = workerID
	candidate.StartedAt = &now
	return &candidate, nil
}

// SetProgress advances progress, never backwards.
func (s *TaskStore) SetProgress(ctx context.Context, taskID string, progress int) error {
	sql := "UPDATE $rid SET progress = $progress WHERE status = $processing AND progress < $progress"
	if _, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{
		"rid":        taskRID(taskID),
		"progress":   progress,
		"processing": models.TaskStatusProcessing,
	}); err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}
	return nil
}

func (s *TaskStore) CompleteTask(ctx context.Context, taskID string, result *models.AnalysisResult) error {
	sql := `UPDATE $rid SET status = $completed, progress = 100, result = $result,
		completed_at = $now, cancel_requested = false WHERE status = $processing`
	if _, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{
		"rid":        taskRID(taskID),
		"completed":  models.TaskStatusCompleted,
		"processing": models.TaskStatusProcessing,
		"result":     result,
		"now":        time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

func (s *TaskStore) FailTask(ctx context.Context, taskID, lastError string) error {
	sql := `UPDATE $rid SET status = $failed, last_error = $error, completed_at = $now
		WHERE status = $processing`
	if _, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{
		"rid":        taskRID(taskID),
		"failed":     models.TaskStatusFailed,
		"processing": models.TaskStatusProcessing,
		"error":      lastError,
		"now":        time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}
	return nil
}

func (s *TaskStore) RequeueForRetry(ctx context.Context, taskID, lastError string, notBefore time.Time) error {
	sql := `UPDATE $rid SET status = $pending, retry_count = retry_count + 1,
		last_error = $error, not_before = $not_before, worker_id = NONE, started_at = NONE
		WHERE status = $processing`
	if _, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{
		"rid":        taskRID(taskID),
		"pending":    models.TaskStatusPending,
		"processing": models.TaskStatusProcessing,
		"error":      lastError,
		"not_before": notBefore,
	}); err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}
	return nil
}

// CancelPending cancels a task still in the queue. Returns false when the
// task has already left pending.
func (s *TaskStore) CancelPending(ctx context.Context, taskID, userID string) (bool, error) {
	sql := `UPDATE $rid SET status = $cancelled, completed_at = $now
		WHERE status = $pending AND user_id = $user_id`
	results, err := surrealdb.Query[[]models.AnalysisTask](ctx, s.db, sql, map[string]any{
		"rid":       taskRID(taskID),
		"cancelled": models.TaskStatusCancelled,
		"pending":   models.TaskStatusPending,
		"user_id":   userID,
		"now":       time.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to cancel pending task: %w", err)
	}
	return len(firstResult(results)) > 0, nil
}

// MarkCancelled finalizes a processing task whose worker observed the
// cancel flag.
func (s *TaskStore) MarkCancelled(ctx context.Context, taskID string) error {
	sql := `UPDATE $rid SET status = $cancelled, completed_at = $now WHERE status = $processing`
	if _, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{
		"rid":        taskRID(taskID),
		"cancelled":  models.TaskStatusCancelled,
		"processing": models.TaskStatusProcessing,
		"now":        time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to mark task cancelled: %w", err)
	}
	return nil
}

// RequestCancel flags a processing task for cooperative cancellation.
// Returns false when the task is not processing.
func (s *TaskStore) RequestCancel(ctx context.Context, taskID, userID string) (bool, error) {
	sql := `UPDATE $rid SET cancel_requested = true
		WHERE status = $processing AND user_id = $user_id`
	results, err := surrealdb.Query[[]models.AnalysisTask](ctx, s.db, sql, map[string]any{
		"rid":        taskRID(taskID),
		"processing": models.TaskStatusProcessing,
		"user_id":    userID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to request cancel: %w", err)
	}
	return len(firstResult(results)) > 0, nil
}

func (s *TaskStore) CountUnfinished(ctx context.Context, userID string) (int, error) {
	sql := `SELECT count() AS cnt FROM analysis_tasks
		WHERE user_id = $user_id AND status IN [$pending, $processing] GROUP ALL`
	return s.count(ctx, sql, map[string]any{
		"user_id":    userID,
		"pending":    models.TaskStatusPending,
		"processing": models.TaskStatusProcessing,
	})
}

func (s *TaskStore) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	sql := `SELECT count() AS cnt FROM analysis_tasks
		WHERE user_id = $user_id AND created_at >= $since GROUP ALL`
	return s.count(ctx, sql, map[string]any{
		"user_id": userID,
		"since":   since,
	})
}

// ResetProcessing returns in-flight tasks to pending. Called on startup to
// recover tasks that were claimed when the process crashed.
func (s *TaskStore) ResetProcessing(ctx context.Context) error {
	sql := `UPDATE analysis_tasks SET status = $pending, worker_id = NONE, started_at = NONE
		WHERE status = $processing`
	if _, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{
		"pending":    models.TaskStatusPending,
		"processing": models.TaskStatusProcessing,
	}); err != nil {
		return fmt.Errorf("failed to reset processing tasks: %w", err)
	}
	return nil
}

func (s *TaskStore) count(ctx context.Context, sql string, vars map[string]any) (int, error) {
	type countRow struct {
		Cnt int `json:"cnt"`
	}
	results, err := surrealdb.Query[[]countRow](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	if rows := firstResult(results); len(rows) > 0 {
		return rows[0].Cnt, nil
	}
	return 0, nil
}

// Compile-time check
var _ interfaces.TaskStore = (*TaskStore)(nil)
