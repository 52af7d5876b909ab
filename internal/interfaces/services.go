package interfaces

import (
	"context"

	"github.com/loongquant/loong/internal/models"
)

// SyncOptions controls one sync run.
type SyncOptions struct {
	Symbols     []string
	Periods     []string
	Sources     []string
	StartDate   string // YYYY-MM-DD
	EndDate     string // YYYY-MM-DD
	AllHistory  bool
	Incremental bool
	Force       bool
}

// SyncService orchestrates batched ingestion runs per data class.
type SyncService interface {
	SyncBasicInfo(ctx context.Context, opts SyncOptions) (*models.SyncStatus, error)
	SyncHistorical(ctx context.Context, opts SyncOptions) (*models.SyncStatus, error)
	SyncFinancial(ctx context.Context, opts SyncOptions) (*models.SyncStatus, error)
	SyncQuotes(ctx context.Context, opts SyncOptions) (*models.SyncStatus, error)
	SyncSymbol(ctx context.Context, symbol string, opts SyncOptions) (*models.SyncStatus, error)
	Status(ctx context.Context, job, dataType string) (*models.SyncStatus, error)
}

// AnalysisService accepts, tracks and cancels analysis tasks.
type AnalysisService interface {
	Submit(ctx context.Context, userID, symbol string, params models.AnalysisParameters) (*models.AnalysisTask, error)
	SubmitBatch(ctx context.Context, userID string, symbols []string, params models.AnalysisParameters, title, description string) (*models.AnalysisBatch, []*models.AnalysisTask, error)
	GetTask(ctx context.Context, taskID string) (*models.AnalysisTask, error)
	GetBatch(ctx context.Context, batchID string) (*models.AnalysisBatch, []*models.AnalysisTask, error)
	Cancel(ctx context.Context, taskID, userID string) error
}

// Notifier publishes durable notifications with best-effort live delivery.
type Notifier interface {
	Publish(ctx context.Context, n *models.Notification) error
}
