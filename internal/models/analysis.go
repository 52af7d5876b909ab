package models

import "time"

// Task statuses. Transitions form a DAG: pending -> processing ->
// {completed, failed, cancelled}, with processing -> pending allowed only
// on retry (retry_count strictly increasing).
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// TerminalTaskStatus reports whether s is a terminal task status.
func TerminalTaskStatus(s string) bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// AnalysisParameters are the opaque-to-the-queue knobs a submitter attaches
// to a task. Workers pass them through to the analyst pipeline.
type AnalysisParameters struct {
	MarketType       string   `json:"market_type,omitempty"`
	ResearchDepth    int      `json:"research_depth,omitempty"`
	SelectedAnalysts []string `json:"selected_analysts,omitempty"`
	QuickModel       string   `json:"quick_model,omitempty"`
	DeepModel        string   `json:"deep_model,omitempty"`
}

// AnalysisResult is the output of a completed task.
type AnalysisResult struct {
	Summary   string            `json:"summary"`
	Sections  map[string]string `json:"sections,omitempty"`
	TokensIn  int               `json:"tokens_in,omitempty"`
	TokensOut int               `json:"tokens_out,omitempty"`
	ElapsedMS int64             `json:"elapsed_ms,omitempty"`
}

// AnalysisTask is one unit of LLM analysis work for one symbol.
type AnalysisTask struct {
	TaskID     string             `json:"task_id"`
	BatchID    string             `json:"batch_id,omitempty"`
	UserID     string             `json:"user_id"`
	Symbol     string             `json:"symbol"`
	Status     string             `json:"status"`
	Progress   int                `json:"progress"` // 0..100, monotonic
	Parameters AnalysisParameters `json:"parameters"`
	Result     *AnalysisResult    `json:"result,omitempty"`

	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	WorkerID   string `json:"worker_id,omitempty"`
	LastError  string `json:"last_error,omitempty"`

	// CancelRequested is set by the cancel endpoint for processing tasks;
	// workers observe it between analyst phases.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// NotBefore delays re-dispatch after a retryable failure.
	NotBefore *time.Time `json:"not_before,omitempty"`
}

// AnalysisBatch groups up to 10 tasks submitted atomically. Progress and
// terminal status are derived from the children.
type AnalysisBatch struct {
	BatchID     string    `json:"batch_id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	TotalTasks  int       `json:"total_tasks"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	Cancelled   int       `json:"cancelled"`
	Progress    int       `json:"progress"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MaxBatchSize is the largest number of tasks one batch may carry.
const MaxBatchSize = 10

// TaskEvent is the payload broadcast to live subscribers when a task
// changes state.
type TaskEvent struct {
	TaskID   string `json:"task_id"`
	BatchID  string `json:"batch_id,omitempty"`
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}
