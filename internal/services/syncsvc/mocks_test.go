package syncsvc

import (
	"context"
	"time"

	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/providers"
)

// mockStockStore records writes and serves canned reads.
type mockStockStore struct {
	basicInfos []*models.StockBasicInfo
	quotes     map[string]*models.Quote
	bars       []*models.DailyBar
	financials []*models.FinancialRecord
	symbols    []string
	maxDates   map[string]string // code_source_period -> date

	quoteWrites int
}

func newMockStockStore() *mockStockStore {
	return &mockStockStore{
		quotes:   make(map[string]*models.Quote),
		maxDates: make(map[string]string),
	}
}

func (m *mockStockStore) UpsertBasicInfo(_ context.Context, infos []*models.StockBasicInfo) (interfaces.UpsertResult, error) {
	m.basicInfos = append(m.basicInfos, infos...)
	return interfaces.UpsertResult{Inserted: len(infos)}, nil
}

func (m *mockStockStore) GetBasicInfo(context.Context, string, []string) (*models.StockBasicInfo, error) {
	return nil, nil
}

func (m *mockStockStore) ListBasicInfo(context.Context, string, int, int) ([]*models.StockBasicInfo, int, error) {
	return nil, 0, nil
}

func (m *mockStockStore) SearchBasicInfo(context.Context, string, int) ([]*models.StockBasicInfo, error) {
	return nil, nil
}

func (m *mockStockStore) ListSymbols(context.Context) ([]string, error) {
	return m.symbols, nil
}

func (m *mockStockStore) MarketSummaries(context.Context) ([]*models.MarketSummary, error) {
	return nil, nil
}

func (m *mockStockStore) UpsertQuote(_ context.Context, quote *models.Quote) (bool, error) {
	stored, ok := m.quotes[quote.Code]
	if ok && stored.TradeDate > quote.TradeDate {
		return false, nil
	}
	m.quotes[quote.Code] = quote
	m.quoteWrites++
	return true, nil
}

func (m *mockStockStore) GetQuote(_ context.Context, code string) (*models.Quote, error) {
	return m.quotes[code], nil
}

func (m *mockStockStore) GetQuotes(context.Context, []string) (map[string]*models.Quote, error) {
	return m.quotes, nil
}

func (m *mockStockStore) UpsertDailyBars(_ context.Context, bars []*models.DailyBar) (interfaces.UpsertResult, error) {
	m.bars = append(m.bars, bars...)
	return interfaces.UpsertResult{Inserted: len(bars)}, nil
}

func (m *mockStockStore) GetDailyBars(context.Context, string, string, string, string, int) ([]*models.DailyBar, error) {
	return m.bars, nil
}

func (m *mockStockStore) MaxTradeDate(_ context.Context, code, source, period string) (string, error) {
	return m.maxDates[code+"_"+source+"_"+period], nil
}

func (m *mockStockStore) LatestBar(context.Context, string, string) (*models.DailyBar, error) {
	return nil, nil
}

func (m *mockStockStore) UpsertFinancials(_ context.Context, records []*models.FinancialRecord) (interfaces.UpsertResult, error) {
	m.financials = append(m.financials, records...)
	return interfaces.UpsertResult{Inserted: len(records)}, nil
}

func (m *mockStockStore) GetFinancials(context.Context, string, int) ([]*models.FinancialRecord, error) {
	return m.financials, nil
}

// mockSyncStore keeps the last saved status per pair.
type mockSyncStore struct {
	statuses map[string]*models.SyncStatus
	saves    []*models.SyncStatus
}

func newMockSyncStore() *mockSyncStore {
	return &mockSyncStore{statuses: make(map[string]*models.SyncStatus)}
}

func (m *mockSyncStore) GetStatus(_ context.Context, job, dataType string) (*models.SyncStatus, error) {
	return m.statuses[job+"_"+dataType], nil
}

func (m *mockSyncStore) ListStatus(context.Context) ([]*models.SyncStatus, error) {
	return nil, nil
}

func (m *mockSyncStore) SaveStatus(_ context.Context, status *models.SyncStatus) error {
	copied := *status
	m.statuses[status.Job+"_"+status.DataType] = &copied
	m.saves = append(m.saves, &copied)
	return nil
}

func (m *mockSyncStore) GetSystemKV(context.Context, string) (string, error) { return "", nil }
func (m *mockSyncStore) SetSystemKV(context.Context, string, string) error   { return nil }

// mockStorage bundles the stores behind the manager interface.
type mockStorage struct {
	stock *mockStockStore
	sync  *mockSyncStore
}

func newMockStorage() *mockStorage {
	return &mockStorage{stock: newMockStockStore(), sync: newMockSyncStore()}
}

func (m *mockStorage) StockStore() interfaces.StockStore               { return m.stock }
func (m *mockStorage) TaskStore() interfaces.TaskStore                 { return nil }
func (m *mockStorage) NotificationStore() interfaces.NotificationStore { return nil }
func (m *mockStorage) SyncStore() interfaces.SyncStore                 { return m.sync }
func (m *mockStorage) Ping(context.Context) error                      { return nil }
func (m *mockStorage) Close() error                                    { return nil }

// mockProvider serves canned data for one source name.
type mockProvider struct {
	name      string
	infos     []*models.StockBasicInfo
	quotes    map[string]*models.Quote
	bars      []*models.DailyBar
	records   []*models.FinancialRecord
	snapshot  map[string]map[string]float64
	tradeDate string

	barsErr   error
	quotesErr error

	barCalls      []string // "code:period:start"
	snapshotCalls int
}

func (p *mockProvider) Name() string { return p.name }
func (p *mockProvider) Type() string { return "cn-equity" }

func (p *mockProvider) ListAllSymbols(context.Context) ([]*models.StockBasicInfo, error) {
	return p.infos, nil
}

func (p *mockProvider) GetBasicInfo(_ context.Context, code string) (*models.StockBasicInfo, error) {
	for _, info := range p.infos {
		if info.Code == code {
			return info, nil
		}
	}
	return nil, providers.NotFound(p.name, "GetBasicInfo")
}

func (p *mockProvider) GetQuote(_ context.Context, code string) (*models.Quote, error) {
	if q, ok := p.quotes[code]; ok {
		return q, nil
	}
	return nil, providers.NotFound(p.name, "GetQuote")
}

func (p *mockProvider) GetQuoteBatch(context.Context, []string) (map[string]*models.Quote, error) {
	if p.quotesErr != nil {
		return nil, p.quotesErr
	}
	return p.quotes, nil
}

func (p *mockProvider) GetHistoricalBars(_ context.Context, code string, start, _ time.Time, period string) ([]*models.DailyBar, error) {
	p.barCalls = append(p.barCalls, code+":"+period+":"+start.Format("2006-01-02"))
	if p.barsErr != nil {
		return nil, p.barsErr
	}
	return p.bars, nil
}

func (p *mockProvider) GetFinancials(context.Context, string) ([]*models.FinancialRecord, error) {
	return p.records, nil
}

func (p *mockProvider) GetNews(context.Context, string, int) ([]*models.NewsItem, error) {
	return nil, nil
}

func (p *mockProvider) LatestTradeDate(context.Context) (string, error) {
	return p.tradeDate, nil
}

func (p *mockProvider) DailyBasicSnapshot(context.Context, string) (map[string]map[string]float64, error) {
	p.snapshotCalls++
	return p.snapshot, nil
}

// mockRouter returns a fixed order.
type mockRouter struct {
	order []interfaces.Provider
}

func (r *mockRouter) Order(string, bool) []interfaces.Provider { return r.order }
func (r *mockRouter) Get(name string) (interfaces.Provider, bool) {
	for _, p := range r.order {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}
func (r *mockRouter) Providers() []interfaces.Provider { return r.order }

// mockNotifier records published notifications.
type mockNotifier struct {
	published []*models.Notification
}

func (n *mockNotifier) Publish(_ context.Context, notification *models.Notification) error {
	n.published = append(n.published, notification)
	return nil
}
