package server

import (
	"context"
	"fmt"
	"time"

	"github.com/loongquant/loong/internal/app"
	"github.com/loongquant/loong/internal/cache"
	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/consistency"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/metrics"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/providers"
	"github.com/loongquant/loong/internal/providers/health"
	"github.com/loongquant/loong/internal/scheduler"
	"github.com/loongquant/loong/internal/services/analysis"
	"github.com/loongquant/loong/internal/services/notify"
)

// mockStockStore serves canned reference data.
type mockStockStore struct {
	infos  map[string]*models.StockBasicInfo
	quotes map[string]*models.Quote
	bars   []*models.DailyBar
}

func newMockStockStore() *mockStockStore {
	return &mockStockStore{
		infos:  make(map[string]*models.StockBasicInfo),
		quotes: make(map[string]*models.Quote),
	}
}

func (m *mockStockStore) UpsertBasicInfo(context.Context, []*models.StockBasicInfo) (interfaces.UpsertResult, error) {
	return interfaces.UpsertResult{}, nil
}

func (m *mockStockStore) GetBasicInfo(_ context.Context, code string, _ []string) (*models.StockBasicInfo, error) {
	return m.infos[code], nil
}

func (m *mockStockStore) ListBasicInfo(context.Context, string, int, int) ([]*models.StockBasicInfo, int, error) {
	var items []*models.StockBasicInfo
	for _, info := range m.infos {
		items = append(items, info)
	}
	return items, len(items), nil
}

func (m *mockStockStore) SearchBasicInfo(context.Context, string, int) ([]*models.StockBasicInfo, error) {
	return nil, nil
}

func (m *mockStockStore) ListSymbols(context.Context) ([]string, error) { return nil, nil }

func (m *mockStockStore) MarketSummaries(context.Context) ([]*models.MarketSummary, error) {
	return []*models.MarketSummary{{Market: "SSE", Count: 2}}, nil
}

func (m *mockStockStore) UpsertQuote(context.Context, *models.Quote) (bool, error) {
	return false, nil
}

func (m *mockStockStore) GetQuote(_ context.Context, code string) (*models.Quote, error) {
	return m.quotes[code], nil
}

func (m *mockStockStore) GetQuotes(context.Context, []string) (map[string]*models.Quote, error) {
	return m.quotes, nil
}

func (m *mockStockStore) UpsertDailyBars(context.Context, []*models.DailyBar) (interfaces.UpsertResult, error) {
	return interfaces.UpsertResult{}, nil
}

func (m *mockStockStore) GetDailyBars(context.Context, string, string, string, string, int) ([]*models.DailyBar, error) {
	return m.bars, nil
}

func (m *mockStockStore) MaxTradeDate(context.Context, string, string, string) (string, error) {
	return "", nil
}

func (m *mockStockStore) LatestBar(context.Context, string, string) (*models.DailyBar, error) {
	return nil, nil
}

func (m *mockStockStore) UpsertFinancials(context.Context, []*models.FinancialRecord) (interfaces.UpsertResult, error) {
	return interfaces.UpsertResult{}, nil
}

func (m *mockStockStore) GetFinancials(context.Context, string, int) ([]*models.FinancialRecord, error) {
	return nil, nil
}

// mockTaskStore is the minimal task store the HTTP surface exercises.
type mockTaskStore struct {
	tasks      map[string]*models.AnalysisTask
	nextID     int
	unfinished int
}

func newMockTaskStore() *mockTaskStore {
	return &mockTaskStore{tasks: make(map[string]*models.AnalysisTask)}
}

func (m *mockTaskStore) CreateTask(_ context.Context, task *models.AnalysisTask) error {
	m.nextID++
	task.TaskID = fmt.Sprintf("task%d", m.nextID)
	task.Status = models.TaskStatusPending
	task.CreatedAt = time.Now()
	task.MaxRetries = 3
	m.tasks[task.TaskID] = task
	return nil
}

func (m *mockTaskStore) CreateBatch(ctx context.Context, batch *models.AnalysisBatch, tasks []*models.AnalysisTask) error {
	m.nextID++
	batch.BatchID = fmt.Sprintf("batch%d", m.nextID)
	for _, task := range tasks {
		m.CreateTask(ctx, task)
		task.BatchID = batch.BatchID
	}
	return nil
}

func (m *mockTaskStore) GetTask(_ context.Context, taskID string) (*models.AnalysisTask, error) {
	return m.tasks[taskID], nil
}

func (m *mockTaskStore) GetBatch(context.Context, string) (*models.AnalysisBatch, error) {
	return nil, nil
}

func (m *mockTaskStore) UpdateBatch(context.Context, *models.AnalysisBatch) error { return nil }

func (m *mockTaskStore) ListBatchTasks(context.Context, string) ([]*models.AnalysisTask, error) {
	return nil, nil
}

func (m *mockTaskStore) ClaimNext(context.Context, string) (*models.AnalysisTask, error) {
	return nil, nil
}

func (m *mockTaskStore) SetProgress(context.Context, string, int) error { return nil }

func (m *mockTaskStore) CompleteTask(context.Context, string, *models.AnalysisResult) error {
	return nil
}

func (m *mockTaskStore) FailTask(context.Context, string, string) error { return nil }

func (m *mockTaskStore) RequeueForRetry(context.Context, string, string, time.Time) error {
	return nil
}

func (m *mockTaskStore) CancelPending(_ context.Context, taskID, userID string) (bool, error) {
	task := m.tasks[taskID]
	if task == nil || task.UserID != userID || task.Status != models.TaskStatusPending {
		return false, nil
	}
	task.Status = models.TaskStatusCancelled
	return true, nil
}

func (m *mockTaskStore) MarkCancelled(context.Context, string) error { return nil }

func (m *mockTaskStore) RequestCancel(context.Context, string, string) (bool, error) {
	return false, nil
}

func (m *mockTaskStore) CountUnfinished(context.Context, string) (int, error) {
	return m.unfinished, nil
}

func (m *mockTaskStore) CountCreatedSince(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (m *mockTaskStore) ResetProcessing(context.Context) error { return nil }

// mockNotificationStore keeps notifications in a slice.
type mockNotificationStore struct {
	items []*models.Notification
}

func (m *mockNotificationStore) Insert(_ context.Context, n *models.Notification) error {
	n.ID = fmt.Sprintf("n%d", len(m.items)+1)
	if n.Status == "" {
		n.Status = models.NotificationUnread
	}
	m.items = append(m.items, n)
	return nil
}

func (m *mockNotificationStore) List(_ context.Context, userID, _, _ string, page, pageSize int) (*models.NotificationList, error) {
	var items []*models.Notification
	for _, n := range m.items {
		if n.UserID == userID {
			items = append(items, n)
		}
	}
	return &models.NotificationList{Items: items, Total: len(items), Page: page, PageSize: pageSize}, nil
}

func (m *mockNotificationStore) UnreadCount(_ context.Context, userID string) (int, error) {
	count := 0
	for _, n := range m.items {
		if n.UserID == userID && n.Status != models.NotificationRead {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationStore) MarkRead(_ context.Context, userID, id string) (bool, error) {
	for _, n := range m.items {
		if n.UserID == userID && n.ID == id {
			n.Status = models.NotificationRead
			return true, nil
		}
	}
	return false, nil
}

func (m *mockNotificationStore) MarkAllRead(_ context.Context, userID string) (int, error) {
	count := 0
	for _, n := range m.items {
		if n.UserID == userID && n.Status != models.NotificationRead {
			n.Status = models.NotificationRead
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationStore) Prune(context.Context, string) error { return nil }

// mockSyncStore returns canned statuses.
type mockSyncStore struct {
	statuses []*models.SyncStatus
}

func (m *mockSyncStore) GetStatus(context.Context, string, string) (*models.SyncStatus, error) {
	return nil, nil
}

func (m *mockSyncStore) ListStatus(context.Context) ([]*models.SyncStatus, error) {
	return m.statuses, nil
}

func (m *mockSyncStore) SaveStatus(context.Context, *models.SyncStatus) error { return nil }
func (m *mockSyncStore) GetSystemKV(context.Context, string) (string, error)  { return "", nil }
func (m *mockSyncStore) SetSystemKV(context.Context, string, string) error    { return nil }

// mockStorage bundles the stores.
type mockStorage struct {
	stock         *mockStockStore
	tasks         *mockTaskStore
	notifications *mockNotificationStore
	sync          *mockSyncStore
	pingErr       error
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		stock:         newMockStockStore(),
		tasks:         newMockTaskStore(),
		notifications: &mockNotificationStore{},
		sync:          &mockSyncStore{},
	}
}

func (m *mockStorage) StockStore() interfaces.StockStore               { return m.stock }
func (m *mockStorage) TaskStore() interfaces.TaskStore                 { return m.tasks }
func (m *mockStorage) NotificationStore() interfaces.NotificationStore { return m.notifications }
func (m *mockStorage) SyncStore() interfaces.SyncStore                 { return m.sync }
func (m *mockStorage) Ping(context.Context) error                      { return m.pingErr }
func (m *mockStorage) Close() error                                    { return nil }

// mockSyncService returns a fixed status or error.
type mockSyncService struct {
	status *models.SyncStatus
	err    error
	calls  []string
}

func (m *mockSyncService) run(name string) (*models.SyncStatus, error) {
	m.calls = append(m.calls, name)
	if m.err != nil {
		return nil, m.err
	}
	if m.status != nil {
		return m.status, nil
	}
	return &models.SyncStatus{Status: models.SyncStatusSuccess}, nil
}

func (m *mockSyncService) SyncBasicInfo(context.Context, interfaces.SyncOptions) (*models.SyncStatus, error) {
	return m.run("basic")
}

func (m *mockSyncService) SyncHistorical(context.Context, interfaces.SyncOptions) (*models.SyncStatus, error) {
	return m.run("historical")
}

func (m *mockSyncService) SyncFinancial(context.Context, interfaces.SyncOptions) (*models.SyncStatus, error) {
	return m.run("financial")
}

func (m *mockSyncService) SyncQuotes(context.Context, interfaces.SyncOptions) (*models.SyncStatus, error) {
	return m.run("quotes")
}

func (m *mockSyncService) SyncSymbol(context.Context, string, interfaces.SyncOptions) (*models.SyncStatus, error) {
	return m.run("symbol")
}

func (m *mockSyncService) Status(context.Context, string, string) (*models.SyncStatus, error) {
	return &models.SyncStatus{Status: models.SyncStatusIdle}, nil
}

// testServer builds a Server over mocks and real ambient components.
func testServer(storage *mockStorage, syncSvc interfaces.SyncService) *Server {
	config := common.NewDefaultConfig()
	logger := common.NewSilentLogger()

	hub := notify.NewHub(logger)
	go hub.Run()
	notifySvc := notify.NewService(storage.notifications, hub, logger)

	a := &app.App{
		Config:      config,
		Logger:      logger,
		Storage:     storage,
		Router:      providers.NewRouter(nil, logger),
		Health:      health.NewMonitor(config.Health, nil, nil, logger),
		Cache:       cache.NewManager(config.Cache, nil, logger),
		Metrics:     metrics.NewRegistry(),
		Checker:     consistency.NewChecker(config.Consistency, logger),
		Hub:         hub,
		Notify:      notifySvc,
		Sync:        syncSvc,
		Analysis:    analysis.NewService(storage.tasks, notifySvc, config, logger),
		Scheduler:   scheduler.New(syncSvc, logger),
		StartupTime: time.Now(),
	}
	return NewServer(a)
}
