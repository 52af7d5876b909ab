// Package scheduler runs the configured sync jobs on their cron schedules.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
)

// Scheduler drives the sync service from cron expressions. Overlapping
// runs of the same data class are refused by the sync service itself.
type Scheduler struct {
	cron   *cron.Cron
	sync   interfaces.SyncService
	logger *common.Logger
}

// New creates a scheduler with standard 5-field cron parsing.
func New(syncService interfaces.SyncService, logger *common.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		sync:   syncService,
		logger: logger,
	}
}

// Register adds every enabled job from config. Unknown data classes and
// invalid schedules are reported as errors.
func (s *Scheduler) Register(jobs []common.SyncJobConfig) error {
	for _, job := range jobs {
		runner, err := s.runner(job.DataClass)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}

		job := job
		_, err = s.cron.AddFunc(job.Schedule, func() { s.execute(job, runner) })
		if err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
		}
		s.logger.Info().Str("job", job.Name).Str("schedule", job.Schedule).Str("data_class", job.DataClass).Msg("Sync job registered")
	}
	return nil
}

// runner maps a data class to its sync entry point.
func (s *Scheduler) runner(dataClass string) (func(context.Context, interfaces.SyncOptions) (*models.SyncStatus, error), error) {
	switch dataClass {
	case models.DataClassBasic:
		return s.sync.SyncBasicInfo, nil
	case models.DataClassHistorical:
		return s.sync.SyncHistorical, nil
	case models.DataClassFinancial:
		return s.sync.SyncFinancial, nil
	case models.DataClassQuotes:
		return s.sync.SyncQuotes, nil
	default:
		return nil, fmt.Errorf("unknown data class %q", dataClass)
	}
}

func (s *Scheduler) execute(job common.SyncJobConfig, runner func(context.Context, interfaces.SyncOptions) (*models.SyncStatus, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), job.GetTimeout())
	defer cancel()

	s.logger.Info().Str("job", job.Name).Msg("Scheduled sync starting")

	status, err := runner(ctx, interfaces.SyncOptions{Incremental: true})
	if err != nil {
		if common.AppErrorCode(err) == common.CodeConflict {
			s.logger.Debug().Str("job", job.Name).Msg("Previous run still in flight, skipped")
			return
		}
		s.logger.Error().Err(err).Str("job", job.Name).Msg("Scheduled sync failed")
		return
	}
	s.logger.Info().Str("job", job.Name).Str("status", status.Status).Int("total", status.Total).Msg("Scheduled sync finished")
}

// Start begins dispatching jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Scheduler started")
}

// Stop halts dispatch and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}
