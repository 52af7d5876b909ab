package surrealdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
)

// SyncStore implements interfaces.SyncStore using SurrealDB. Status records
// are keyed by job_datatype so each job/data-class pair has exactly one.
type SyncStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewSyncStore creates a new SyncStore.
func NewSyncStore(db *surrealdb.DB, logger *common.Logger) *SyncStore {
	return &SyncStore{db: db, logger: logger}
}

func syncStatusRID(job, dataType string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("sync_status", job+"_"+dataType)
}

func (s *SyncStore) GetStatus(ctx context.Context, job, dataType string) (*models.SyncStatus, error) {
	results, err := surrealdb.Query[[]models.SyncStatus](ctx, s.db, "SELECT * FROM $rid", map[string]any{
		"rid": syncStatusRID(job, dataType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *SyncStore) ListStatus(ctx context.Context) ([]*models.SyncStatus, error) {
	results, err := surrealdb.Query[[]models.SyncStatus](ctx, s.db, "SELECT * FROM sync_status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync status: %w", err)
	}

	rows := firstResult(results)
	statuses := make([]*models.SyncStatus, 0, len(rows))
	for i := range rows {
		statuses = append(statuses, &rows[i])
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Job != statuses[j].Job {
			return statuses[i].Job < statuses[j].Job
		}
		return statuses[i].DataType < statuses[j].DataType
	})
	return statuses, nil
}

func (s *SyncStore) SaveStatus(ctx context.Context, status *models.SyncStatus) error {
	err := withWriteRetry(ctx, s.logger, "upsert sync_status", func() error {
		_, qerr := surrealdb.Query[any](ctx, s.db, "UPSERT $rid CONTENT $status", map[string]any{
			"rid":    syncStatusRID(status.Job, status.DataType),
			"status": status,
		})
		return qerr
	})
	if err != nil {
		return fmt.Errorf("failed to save sync status: %w", err)
	}
	return nil
}

type kvRecord struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *SyncStore) GetSystemKV(ctx context.Context, key string) (string, error) {
	results, err := surrealdb.Query[[]kvRecord](ctx, s.db, "SELECT * FROM $rid", map[string]any{
		"rid": surrealmodels.NewRecordID("system_kv", key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get system kv: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Value, nil
}

func (s *SyncStore) SetSystemKV(ctx context.Context, key, value string) error {
	if _, err := surrealdb.Query[any](ctx, s.db, "UPSERT $rid SET key = $key, value = $value", map[string]any{
		"rid":   surrealmodels.NewRecordID("system_kv", key),
		"key":   key,
		"value": value,
	}); err != nil {
		return fmt.Errorf("failed to set system kv: %w", err)
	}
	return nil
}

// Compile-time check
var _ interfaces.SyncStore = (*SyncStore)(nil)
