// Package analysis accepts LLM analysis tasks and runs them on a worker
// pool with quota enforcement, retries and cooperative cancellation.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
)

// Service implements interfaces.AnalysisService on top of the task store.
type Service struct {
	store    interfaces.TaskStore
	notifier interfaces.Notifier
	quotas   common.QuotaConfig
	logger   *common.Logger

	now func() time.Time
}

// NewService creates the analysis submission service. notifier may be nil.
func NewService(store interfaces.TaskStore, notifier interfaces.Notifier, config *common.Config, logger *common.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		quotas:   config.Quotas,
		logger:   logger,
		now:      time.Now,
	}
}

// checkQuotas refuses a submission of n tasks that would breach the
// user's concurrent or daily limits.
func (s *Service) checkQuotas(ctx context.Context, userID string, n int) error {
	unfinished, err := s.store.CountUnfinished(ctx, userID)
	if err != nil {
		return common.WrapAppError(common.CodeStoreUnavailable, err, "failed to count unfinished tasks")
	}
	if unfinished+n > s.quotas.ConcurrentLimit {
		return common.NewAppError(common.CodeQuotaConcurrent,
			"user %s has %d unfinished tasks (limit %d)", userID, unfinished, s.quotas.ConcurrentLimit)
	}

	midnight := common.DayStart(s.now())
	created, err := s.store.CountCreatedSince(ctx, userID, midnight)
	if err != nil {
		return common.WrapAppError(common.CodeStoreUnavailable, err, "failed to count today's tasks")
	}
	if created+n > s.quotas.DailyQuota {
		return common.NewAppError(common.CodeQuotaDaily,
			"user %s submitted %d tasks today (limit %d)", userID, created, s.quotas.DailyQuota)
	}
	return nil
}

// Submit enqueues one analysis task.
func (s *Service) Submit(ctx context.Context, userID, symbol string, params models.AnalysisParameters) (*models.AnalysisTask, error) {
	if userID == "" || symbol == "" {
		return nil, common.NewAppError(common.CodeBadRequest, "user_id and symbol are required")
	}
	if err := s.checkQuotas(ctx, userID, 1); err != nil {
		return nil, err
	}

	task := &models.AnalysisTask{
		UserID:     userID,
		Symbol:     symbol,
		Parameters: params,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, common.WrapAppError(common.CodeStoreUnavailable, err, "failed to create task")
	}

	s.logger.Info().Str("task_id", task.TaskID).Str("symbol", symbol).Str("user_id", userID).Msg("Analysis task submitted")
	s.notifySubmitted(ctx, task)
	return task, nil
}

// SubmitBatch enqueues up to MaxBatchSize tasks atomically under one batch.
func (s *Service) SubmitBatch(ctx context.Context, userID string, symbols []string, params models.AnalysisParameters, title, description string) (*models.AnalysisBatch, []*models.AnalysisTask, error) {
	if userID == "" {
		return nil, nil, common.NewAppError(common.CodeBadRequest, "user_id is required")
	}
	if len(symbols) == 0 {
		return nil, nil, common.NewAppError(common.CodeBadRequest, "at least one symbol is required")
	}
	if len(symbols) > models.MaxBatchSize {
		return nil, nil, common.NewAppError(common.CodeBadRequest,
			"batch of %d exceeds the maximum of %d", len(symbols), models.MaxBatchSize)
	}
	for _, symbol := range symbols {
		if symbol == "" {
			return nil, nil, common.NewAppError(common.CodeBadRequest, "batch contains an empty symbol")
		}
	}
	if err := s.checkQuotas(ctx, userID, len(symbols)); err != nil {
		return nil, nil, err
	}

	batch := &models.AnalysisBatch{
		UserID:      userID,
		Title:       title,
		Description: description,
		TotalTasks:  len(symbols),
		Status:      models.TaskStatusPending,
	}
	tasks := make([]*models.AnalysisTask, 0, len(symbols))
	for _, symbol := range symbols {
		tasks = append(tasks, &models.AnalysisTask{
			UserID:     userID,
			Symbol:     symbol,
			Parameters: params,
		})
	}

	if err := s.store.CreateBatch(ctx, batch, tasks); err != nil {
		return nil, nil, common.WrapAppError(common.CodeStoreUnavailable, err, "failed to create batch")
	}

	s.logger.Info().Str("batch_id", batch.BatchID).Int("tasks", len(tasks)).Str("user_id", userID).Msg("Analysis batch submitted")
	s.notifyBatchSubmitted(ctx, batch)
	return batch, tasks, nil
}

// notifySubmitted publishes the task-created notification. Delivery is
// best-effort; a publish failure never fails the submission.
func (s *Service) notifySubmitted(ctx context.Context, task *models.AnalysisTask) {
	if s.notifier == nil {
		return
	}
	n := &models.Notification{
		UserID:   task.UserID,
		Type:     models.NotificationAnalysis,
		Title:    "Analysis queued for " + task.Symbol,
		Link:     "/api/analysis/tasks/" + task.TaskID,
		Source:   "analysis",
		Severity: models.SeverityInfo,
		Metadata: map[string]any{
			"event": models.TaskEvent{
				TaskID:  task.TaskID,
				BatchID: task.BatchID,
				Symbol:  task.Symbol,
				Status:  task.Status,
			},
		},
	}
	if err := s.notifier.Publish(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("Failed to publish submission notification")
	}
}

func (s *Service) notifyBatchSubmitted(ctx context.Context, batch *models.AnalysisBatch) {
	if s.notifier == nil {
		return
	}
	n := &models.Notification{
		UserID:   batch.UserID,
		Type:     models.NotificationAnalysis,
		Title:    fmt.Sprintf("Analysis batch queued (%d tasks)", batch.TotalTasks),
		Link:     "/api/analysis/batches/" + batch.BatchID,
		Source:   "analysis",
		Severity: models.SeverityInfo,
	}
	if err := s.notifier.Publish(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("batch_id", batch.BatchID).Msg("Failed to publish batch notification")
	}
}

// GetTask returns one task by id.
func (s *Service) GetTask(ctx context.Context, taskID string) (*models.AnalysisTask, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, common.WrapAppError(common.CodeStoreUnavailable, err, "failed to load task")
	}
	if task == nil {
		return nil, common.NewAppError(common.CodeNotFound, "task %s not found", taskID)
	}
	return task, nil
}

// GetBatch returns one batch and its child tasks.
func (s *Service) GetBatch(ctx context.Context, batchID string) (*models.AnalysisBatch, []*models.AnalysisTask, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, common.WrapAppError(common.CodeStoreUnavailable, err, "failed to load batch")
	}
	if batch == nil {
		return nil, nil, common.NewAppError(common.CodeNotFound, "batch %s not found", batchID)
	}
	tasks, err := s.store.ListBatchTasks(ctx, batchID)
	if err != nil {
		return nil, nil, common.WrapAppError(common.CodeStoreUnavailable, err, "failed to load batch tasks")
	}
	return batch, tasks, nil
}

// Cancel cancels a task the user owns. Pending tasks cancel immediately;
// processing tasks are flagged and stop at the next phase boundary.
func (s *Service) Cancel(ctx context.Context, taskID, userID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return common.WrapAppError(common.CodeStoreUnavailable, err, "failed to load task")
	}
	if task == nil || task.UserID != userID {
		return common.NewAppError(common.CodeNotFound, "task %s not found", taskID)
	}
	if models.TerminalTaskStatus(task.Status) {
		return common.NewAppError(common.CodeConflict, "task %s is already %s", taskID, task.Status)
	}

	if task.Status == models.TaskStatusPending {
		ok, err := s.store.CancelPending(ctx, taskID, userID)
		if err != nil {
			return common.WrapAppError(common.CodeStoreUnavailable, err, "failed to cancel task")
		}
		if ok {
			s.logger.Info().Str("task_id", taskID).Msg("Pending task cancelled")
			return nil
		}
		// Lost the race to a worker; fall through to the cooperative path.
	}

	ok, err := s.store.RequestCancel(ctx, taskID, userID)
	if err != nil {
		return common.WrapAppError(common.CodeStoreUnavailable, err, "failed to request cancellation")
	}
	if !ok {
		return common.NewAppError(common.CodeConflict, "task %s finished before it could be cancelled", taskID)
	}
	s.logger.Info().Str("task_id", taskID).Msg("Cancellation requested for processing task")
	return nil
}

// Compile-time check
var _ interfaces.AnalysisService = (*Service)(nil)
