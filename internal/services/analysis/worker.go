package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/metrics"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/providers"
)

// analystPhases run in order; each produces one report section.
var analystPhases = []string{"market", "fundamentals", "news", "risk"}

const (
	pollInterval   = 2 * time.Second
	baseRetryDelay = 60 * time.Second
	maxRetryDelay  = 300 * time.Second
)

// Pool runs analysis tasks claimed from the task store.
type Pool struct {
	store    interfaces.TaskStore
	llm      interfaces.LLMClient
	notifier interfaces.Notifier
	metrics  *metrics.Registry
	logger   *common.Logger

	workers    int
	quickModel string
	deepModel  string

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates the worker pool. notifier may be nil.
func NewPool(store interfaces.TaskStore, llm interfaces.LLMClient, notifier interfaces.Notifier, registry *metrics.Registry, config *common.Config, logger *common.Logger) *Pool {
	workers := config.WorkerPool.Workers
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		store:      store,
		llm:        llm,
		notifier:   notifier,
		metrics:    registry,
		logger:     logger,
		workers:    workers,
		quickModel: config.LLM.QuickModel,
		deepModel:  config.LLM.Model,
		stop:       make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		p.wg.Add(1)
		go p.loop(ctx, workerID)
	}
	p.logger.Info().Int("workers", p.workers).Msg("Analysis worker pool started")
}

// Stop signals the workers to exit and waits for in-flight tasks.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.store.ClaimNext(ctx, workerID)
		if err != nil {
			p.logger.Warn().Err(err).Str("worker_id", workerID).Msg("Claim failed")
			p.sleep(pollInterval)
			continue
		}
		if task == nil {
			p.sleep(pollInterval)
			continue
		}

		p.process(ctx, workerID, task)
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.stop:
	case <-time.After(d):
	}
}

// process runs one claimed task through the analyst phases.
func (p *Pool) process(ctx context.Context, workerID string, task *models.AnalysisTask) {
	p.metrics.TasksActive.Inc()
	defer p.metrics.TasksActive.Dec()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("task_id", task.TaskID).Interface("panic", r).Msg("Worker panic")
			p.handleFailure(ctx, task, fmt.Errorf("panic: %v", r))
		}
	}()

	p.logger.Info().Str("task_id", task.TaskID).Str("symbol", task.Symbol).Str("worker_id", workerID).Msg("Task started")

	result, err := p.runPhases(ctx, task)
	if err != nil {
		if err == errCancelled {
			p.finishCancelled(ctx, task)
			return
		}
		p.handleFailure(ctx, task, err)
		return
	}

	if err := p.store.CompleteTask(ctx, task.TaskID, result); err != nil {
		p.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to persist completion")
		return
	}
	task.Status = models.TaskStatusCompleted
	task.Progress = 100

	p.logger.Info().Str("task_id", task.TaskID).Str("symbol", task.Symbol).
		Int("tokens_in", result.TokensIn).Int("tokens_out", result.TokensOut).Msg("Task completed")

	p.notifyTask(ctx, task, "Analysis completed for "+task.Symbol, models.SeverityInfo, "")
	p.recomputeBatch(ctx, task.BatchID)
}

// errCancelled is the sentinel runPhases returns when the task was
// flagged for cancellation.
var errCancelled = fmt.Errorf("task cancelled")

// runPhases executes the analyst phases and the closing summary.
func (p *Pool) runPhases(ctx context.Context, task *models.AnalysisTask) (*models.AnalysisResult, error) {
	phases := selectedPhases(task.Parameters.SelectedAnalysts)
	quickModel := task.Parameters.QuickModel
	if quickModel == "" {
		quickModel = p.quickModel
	}
	deepModel := task.Parameters.DeepModel
	if deepModel == "" {
		deepModel = p.deepModel
	}

	started := time.Now()
	result := &models.AnalysisResult{Sections: make(map[string]string, len(phases))}

	for i, phase := range phases {
		cancelled, err := p.cancelRequested(ctx, task.TaskID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			return nil, errCancelled
		}

		resp, err := p.llm.Generate(ctx, quickModel, phasePrompt(phase, task))
		if err != nil {
			return nil, fmt.Errorf("%s phase: %w", phase, err)
		}
		p.metrics.RecordLLMTokens(quickModel, resp.TokensIn, resp.TokensOut)
		result.Sections[phase] = resp.Text
		result.TokensIn += resp.TokensIn
		result.TokensOut += resp.TokensOut

		// Phases cover 0..90; the summary takes the final stretch.
		progress := (i + 1) * 90 / len(phases)
		if err := p.store.SetProgress(ctx, task.TaskID, progress); err != nil {
			p.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("Progress update failed")
		}
	}

	cancelled, err := p.cancelRequested(ctx, task.TaskID)
	if err != nil {
		return nil, err
	}
	if cancelled {
		return nil, errCancelled
	}

	resp, err := p.llm.Generate(ctx, deepModel, summaryPrompt(task, result.Sections))
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	p.metrics.RecordLLMTokens(deepModel, resp.TokensIn, resp.TokensOut)
	result.Summary = resp.Text
	result.TokensIn += resp.TokensIn
	result.TokensOut += resp.TokensOut
	result.ElapsedMS = time.Since(started).Milliseconds()

	return result, nil
}

// cancelRequested re-reads the task's cancel flag at a phase boundary.
func (p *Pool) cancelRequested(ctx context.Context, taskID string) (bool, error) {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return true, nil
	}
	return task.CancelRequested, nil
}

func (p *Pool) finishCancelled(ctx context.Context, task *models.AnalysisTask) {
	if err := p.store.MarkCancelled(ctx, task.TaskID); err != nil {
		p.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to mark task cancelled")
		return
	}
	task.Status = models.TaskStatusCancelled
	p.logger.Info().Str("task_id", task.TaskID).Msg("Task cancelled")
	p.notifyTask(ctx, task, "Analysis cancelled for "+task.Symbol, models.SeverityWarn, "")
	p.recomputeBatch(ctx, task.BatchID)
}

// handleFailure requeues retryable failures with exponential backoff and
// fails the task once retries are exhausted.
func (p *Pool) handleFailure(ctx context.Context, task *models.AnalysisTask, taskErr error) {
	if providers.IsRetryable(taskErr) && task.RetryCount < task.MaxRetries {
		delay := retryDelay(task.RetryCount)
		notBefore := time.Now().Add(delay)
		if err := p.store.RequeueForRetry(ctx, task.TaskID, taskErr.Error(), notBefore); err != nil {
			p.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to requeue task")
			return
		}
		p.logger.Warn().Err(taskErr).Str("task_id", task.TaskID).
			Int("retry_count", task.RetryCount+1).Dur("delay", delay).Msg("Task requeued for retry")
		return
	}

	if err := p.store.FailTask(ctx, task.TaskID, taskErr.Error()); err != nil {
		p.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to persist failure")
		return
	}
	task.Status = models.TaskStatusFailed
	p.logger.Error().Err(taskErr).Str("task_id", task.TaskID).Str("symbol", task.Symbol).Msg("Task failed")

	p.notifyTask(ctx, task, "Analysis failed for "+task.Symbol, models.SeverityError, taskErr.Error())
	p.recomputeBatch(ctx, task.BatchID)
}

// retryDelay doubles per attempt, capped at maxRetryDelay.
func retryDelay(retryCount int) time.Duration {
	delay := baseRetryDelay << uint(retryCount)
	if delay > maxRetryDelay || delay <= 0 {
		return maxRetryDelay
	}
	return delay
}

func (p *Pool) notifyTask(ctx context.Context, task *models.AnalysisTask, title, severity, errMsg string) {
	if p.notifier == nil {
		return
	}
	n := &models.Notification{
		UserID:   task.UserID,
		Type:     models.NotificationAnalysis,
		Title:    title,
		Link:     "/api/analysis/tasks/" + task.TaskID,
		Source:   "analysis",
		Severity: severity,
		Metadata: map[string]any{
			"event": models.TaskEvent{
				TaskID:   task.TaskID,
				BatchID:  task.BatchID,
				Symbol:   task.Symbol,
				Status:   task.Status,
				Progress: task.Progress,
				Error:    errMsg,
			},
		},
	}
	if err := p.notifier.Publish(ctx, n); err != nil {
		p.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("Failed to publish task notification")
	}
}

// recomputeBatch rederives batch counters from the child tasks.
func (p *Pool) recomputeBatch(ctx context.Context, batchID string) {
	if batchID == "" {
		return
	}
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil || batch == nil {
		p.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Batch reload failed")
		return
	}
	tasks, err := p.store.ListBatchTasks(ctx, batchID)
	if err != nil || len(tasks) == 0 {
		p.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Batch task listing failed")
		return
	}

	var completed, failed, cancelled, progressSum int
	terminal := true
	for _, task := range tasks {
		progressSum += task.Progress
		switch task.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		case models.TaskStatusCancelled:
			cancelled++
		default:
			terminal = false
		}
	}

	batch.Completed = completed
	batch.Failed = failed
	batch.Cancelled = cancelled
	batch.Progress = progressSum / len(tasks)
	batch.UpdatedAt = time.Now()
	switch {
	case terminal && failed == 0 && cancelled == 0:
		batch.Status = models.TaskStatusCompleted
	case terminal && completed == 0 && failed > 0:
		batch.Status = models.TaskStatusFailed
	case terminal:
		batch.Status = models.TaskStatusCompleted
	case completed+failed+cancelled > 0:
		batch.Status = models.TaskStatusProcessing
	default:
		batch.Status = models.TaskStatusProcessing
	}

	if err := p.store.UpdateBatch(ctx, batch); err != nil {
		p.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Batch update failed")
	}
}

// selectedPhases filters the phase list by the submitter's analyst picks.
func selectedPhases(selected []string) []string {
	if len(selected) == 0 {
		return analystPhases
	}
	picked := make([]string, 0, len(analystPhases))
	for _, phase := range analystPhases {
		for _, want := range selected {
			if strings.EqualFold(want, phase) {
				picked = append(picked, phase)
				break
			}
		}
	}
	if len(picked) == 0 {
		return analystPhases
	}
	return picked
}

func phasePrompt(phase string, task *models.AnalysisTask) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the %s analyst covering %s.\n", phase, task.Symbol)
	if task.Parameters.MarketType != "" {
		fmt.Fprintf(&sb, "Market: %s.\n", task.Parameters.MarketType)
	}
	if task.Parameters.ResearchDepth > 0 {
		fmt.Fprintf(&sb, "Research depth: %d.\n", task.Parameters.ResearchDepth)
	}
	switch phase {
	case "market":
		sb.WriteString("Assess recent price action, volume and technical posture.")
	case "fundamentals":
		sb.WriteString("Assess the latest financial statements, valuation and earnings quality.")
	case "news":
		sb.WriteString("Summarize recent news flow and its likely impact.")
	case "risk":
		sb.WriteString("Identify the main downside risks and how they could materialize.")
	}
	return sb.String()
}

func summaryPrompt(task *models.AnalysisTask, sections map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Combine the analyst reports below into an investment summary for %s.\n", task.Symbol)
	for _, phase := range analystPhases {
		if text, ok := sections[phase]; ok {
			fmt.Fprintf(&sb, "\n[%s]\n%s\n", phase, text)
		}
	}
	return sb.String()
}
