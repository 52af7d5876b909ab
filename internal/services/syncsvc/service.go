// Package syncsvc orchestrates batched market-data ingestion runs.
package syncsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loongquant/loong/internal/cache"
	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/consistency"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/metrics"
	"github.com/loongquant/loong/internal/models"
)

// consistencySampleSize caps how many symbols one run cross-checks.
const consistencySampleSize = 20

// enrichConcurrency bounds parallel per-symbol provider calls.
const enrichConcurrency = 8

// Service implements interfaces.SyncService. One run per data class at a
// time; concurrent triggers for the same class are refused with a conflict.
type Service struct {
	storage  interfaces.StorageManager
	router   interfaces.SourceRouter
	health   interfaces.HealthMonitor
	checker  *consistency.Checker
	cache    *cache.Manager
	metrics  *metrics.Registry
	notifier interfaces.Notifier
	logger   *common.Logger

	chunkSizes map[string]int
	now        func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// NewService creates the sync service. notifier may be nil.
func NewService(
	storage interfaces.StorageManager,
	router interfaces.SourceRouter,
	health interfaces.HealthMonitor,
	checker *consistency.Checker,
	cacheManager *cache.Manager,
	registry *metrics.Registry,
	notifier interfaces.Notifier,
	config *common.Config,
	logger *common.Logger,
) *Service {
	chunkSizes := make(map[string]int)
	for _, job := range config.SyncJobs {
		chunkSizes[job.DataClass] = job.ChunkSize
	}

	return &Service{
		storage:    storage,
		router:     router,
		health:     health,
		checker:    checker,
		cache:      cacheManager,
		metrics:    registry,
		notifier:   notifier,
		logger:     logger,
		chunkSizes: chunkSizes,
		now:        time.Now,
		running:    make(map[string]bool),
	}
}

func (s *Service) chunkSize(dataClass string, fallback int) int {
	if n := s.chunkSizes[dataClass]; n > 0 {
		return n
	}
	return fallback
}

// tryLock marks dataClass running. Returns false when a run is already in
// flight.
func (s *Service) tryLock(dataClass string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[dataClass] {
		return false
	}
	s.running[dataClass] = true
	return true
}

func (s *Service) unlock(dataClass string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, dataClass)
}

// runState accumulates one run's outcome.
type runState struct {
	counters models.SyncCounters
	sources  []string
	message  string
}

// addSource records a "stage:source" entry once.
func (r *runState) addSource(stage, source string) {
	entry := stage + ":" + source
	for _, existing := range r.sources {
		if existing == entry {
			return
		}
	}
	r.sources = append(r.sources, entry)
}

// run wraps one sync run with locking, status persistence and metrics.
func (s *Service) run(ctx context.Context, job, dataClass string, fn func(ctx context.Context, state *runState) error) (*models.SyncStatus, error) {
	if !s.tryLock(dataClass) {
		return nil, common.NewAppError(common.CodeConflict, "sync for %s is already running", dataClass)
	}
	defer s.unlock(dataClass)

	started := time.Now()
	status := &models.SyncStatus{
		Job:       job,
		DataType:  dataClass,
		Status:    models.SyncStatusRunning,
		StartedAt: &started,
	}
	if err := s.storage.SyncStore().SaveStatus(ctx, status); err != nil {
		s.logger.Warn().Err(err).Str("job", job).Msg("Failed to persist running status")
	}

	state := &runState{}
	runErr := s.metrics.Track("sync_"+dataClass, job, func() error {
		return fn(ctx, state)
	})

	finished := time.Now()
	status.FinishedAt = &finished
	status.Total = state.counters.Total
	status.Inserted = state.counters.Inserted
	status.Updated = state.counters.Updated
	status.Errors = state.counters.Errors
	status.DataSourcesUsed = state.sources
	status.Message = state.message

	if runErr != nil {
		status.Status = models.SyncStatusFailed
		if status.Message == "" {
			status.Message = runErr.Error()
		}
	} else {
		status.Status = state.counters.FinalStatus()
	}

	if err := s.storage.SyncStore().SaveStatus(ctx, status); err != nil {
		s.logger.Error().Err(err).Str("job", job).Msg("Failed to persist final status")
	}

	s.logger.Info().
		Str("job", job).
		Str("data_class", dataClass).
		Str("status", status.Status).
		Int("total", status.Total).
		Int("inserted", status.Inserted).
		Int("updated", status.Updated).
		Int("errors", status.Errors).
		Dur("elapsed", finished.Sub(started)).
		Msg("Sync run finished")

	s.notifyOutcome(ctx, status)

	if runErr != nil {
		return status, runErr
	}
	return status, nil
}

// notifyOutcome publishes a notification for degraded or failed runs.
func (s *Service) notifyOutcome(ctx context.Context, status *models.SyncStatus) {
	if s.notifier == nil || status.Status == models.SyncStatusSuccess {
		return
	}

	severity := models.SeverityWarn
	if status.Status == models.SyncStatusFailed {
		severity = models.SeverityError
	}
	n := &models.Notification{
		UserID:   "default",
		Type:     models.NotificationSystem,
		Title:    fmt.Sprintf("Sync %s finished with status %s", status.Job, status.Status),
		Content:  fmt.Sprintf("total=%d inserted=%d updated=%d errors=%d", status.Total, status.Inserted, status.Updated, status.Errors),
		Source:   "sync",
		Severity: severity,
	}
	if err := s.notifier.Publish(ctx, n); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish sync notification")
	}
}

// Status returns the latest persisted status for one job/data-class pair.
func (s *Service) Status(ctx context.Context, job, dataType string) (*models.SyncStatus, error) {
	status, err := s.storage.SyncStore().GetStatus(ctx, job, dataType)
	if err != nil {
		return nil, common.WrapAppError(common.CodeStoreUnavailable, err, "failed to load sync status")
	}
	if status == nil {
		return &models.SyncStatus{Job: job, DataType: dataType, Status: models.SyncStatusIdle}, nil
	}
	return status, nil
}

// SyncSymbol refreshes every data class for one symbol.
func (s *Service) SyncSymbol(ctx context.Context, symbol string, opts interfaces.SyncOptions) (*models.SyncStatus, error) {
	opts.Symbols = []string{symbol}
	opts.Force = true

	combined := models.SyncCounters{}
	var sources []string
	var firstErr error

	stages := []func(context.Context, interfaces.SyncOptions) (*models.SyncStatus, error){
		s.SyncBasicInfo,
		s.SyncHistorical,
		s.SyncFinancial,
		s.SyncQuotes,
	}
	for _, stage := range stages {
		status, err := stage(ctx, opts)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if status != nil {
			combined.Add(models.SyncCounters{
				Total:    status.Total,
				Inserted: status.Inserted,
				Updated:  status.Updated,
				Errors:   status.Errors,
			})
			sources = append(sources, status.DataSourcesUsed...)
		}
	}

	now := time.Now()
	result := &models.SyncStatus{
		Job:             "manual",
		DataType:        "symbol",
		Status:          combined.FinalStatus(),
		FinishedAt:      &now,
		Total:           combined.Total,
		Inserted:        combined.Inserted,
		Updated:         combined.Updated,
		Errors:          combined.Errors,
		DataSourcesUsed: sources,
		Message:         symbol,
	}
	return result, firstErr
}

// Compile-time check
var _ interfaces.SyncService = (*Service)(nil)
