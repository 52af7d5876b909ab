package interfaces

import (
	"context"
	"time"

	"github.com/loongquant/loong/internal/models"
)

// StorageManager provides access to all document stores.
type StorageManager interface {
	StockStore() StockStore
	TaskStore() TaskStore
	NotificationStore() NotificationStore
	SyncStore() SyncStore
	Ping(ctx context.Context) error
	Close() error
}

// UpsertResult reports how a batch write landed.
type UpsertResult struct {
	Inserted int
	Updated  int
	Errors   int
}

// StockStore persists stock reference data, quotes, bars and financials.
type StockStore interface {
	// UpsertBasicInfo writes records keyed by (code, source) in batches.
	UpsertBasicInfo(ctx context.Context, infos []*models.StockBasicInfo) (UpsertResult, error)
	GetBasicInfo(ctx context.Context, code string, sourceOrder []string) (*models.StockBasicInfo, error)
	ListBasicInfo(ctx context.Context, market string, page, pageSize int) ([]*models.StockBasicInfo, int, error)
	SearchBasicInfo(ctx context.Context, keyword string, limit int) ([]*models.StockBasicInfo, error)
	ListSymbols(ctx context.Context) ([]string, error)
	MarketSummaries(ctx context.Context) ([]*models.MarketSummary, error)

	// UpsertQuote writes the latest quote for a code. The write is refused
	// (returning false, nil) when the stored trade_date is strictly newer.
	UpsertQuote(ctx context.Context, quote *models.Quote) (bool, error)
	GetQuote(ctx context.Context, code string) (*models.Quote, error)
	GetQuotes(ctx context.Context, codes []string) (map[string]*models.Quote, error)

	// UpsertDailyBars writes bars keyed by (code, source, trade_date, period).
	UpsertDailyBars(ctx context.Context, bars []*models.DailyBar) (UpsertResult, error)
	GetDailyBars(ctx context.Context, code, period, start, end string, limit int) ([]*models.DailyBar, error)
	MaxTradeDate(ctx context.Context, code, source, period string) (string, error)
	LatestBar(ctx context.Context, code, period string) (*models.DailyBar, error)

	// UpsertFinancials writes records keyed by (symbol, report_period, source).
	UpsertFinancials(ctx context.Context, records []*models.FinancialRecord) (UpsertResult, error)
	GetFinancials(ctx context.Context, symbol string, limit int) ([]*models.FinancialRecord, error)
}

// TaskStore persists analysis tasks and batches.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.AnalysisTask) error
	// CreateBatch writes the batch document and all child tasks atomically.
	CreateBatch(ctx context.Context, batch *models.AnalysisBatch, tasks []*models.AnalysisTask) error
	GetTask(ctx context.Context, taskID string) (*models.AnalysisTask, error)
	GetBatch(ctx context.Context, batchID string) (*models.AnalysisBatch, error)
	UpdateBatch(ctx context.Context, batch *models.AnalysisBatch) error
	ListBatchTasks(ctx context.Context, batchID string) ([]*models.AnalysisTask, error)

	// ClaimNext atomically moves the oldest eligible pending task to
	// processing for the given worker. Returns nil when nothing is eligible.
	ClaimNext(ctx context.Context, workerID string) (*models.AnalysisTask, error)
	SetProgress(ctx context.Context, taskID string, progress int) error
	CompleteTask(ctx context.Context, taskID string, result *models.AnalysisResult) error
	FailTask(ctx context.Context, taskID, lastError string) error
	// RequeueForRetry moves a processing task back to pending with an
	// incremented retry_count and a not_before dispatch delay.
	RequeueForRetry(ctx context.Context, taskID, lastError string, notBefore time.Time) error
	// CancelPending cancels a pending task; returns false if the task was
	// not pending.
	CancelPending(ctx context.Context, taskID, userID string) (bool, error)
	MarkCancelled(ctx context.Context, taskID string) error
	// RequestCancel flags a processing task for cooperative cancellation.
	RequestCancel(ctx context.Context, taskID, userID string) (bool, error)

	CountUnfinished(ctx context.Context, userID string) (int, error)
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
	// ResetProcessing returns in-flight tasks to pending after a crash.
	ResetProcessing(ctx context.Context) error
}

// NotificationStore persists user notifications with retention pruning.
type NotificationStore interface {
	Insert(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, userID, status, ntype string, page, pageSize int) (*models.NotificationList, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Prune(ctx context.Context, userID string) error
}

// SyncStore persists sync run status plus small system key/values.
type SyncStore interface {
	GetStatus(ctx context.Context, job, dataType string) (*models.SyncStatus, error)
	ListStatus(ctx context.Context) ([]*models.SyncStatus, error)
	SaveStatus(ctx context.Context, status *models.SyncStatus) error
	GetSystemKV(ctx context.Context, key string) (string, error)
	SetSystemKV(ctx context.Context, key, value string) error
}
