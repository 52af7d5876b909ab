package surrealdb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
)

// StockStore implements interfaces.StockStore using SurrealDB.
//
// Record identity:
//   - stock_basic_info:     code_source
//   - market_quotes:        code
//   - stock_daily_quotes:   code_source_date_period
//   - stock_financial_data: symbol_period_source
type StockStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewStockStore creates a new StockStore.
func NewStockStore(db *surrealdb.DB, logger *common.Logger) *StockStore {
	return &StockStore{db: db, logger: logger}
}

func basicInfoID(code, source string) string {
	return code + "_" + source
}

func dailyBarID(bar *models.DailyBar) string {
	return bar.Code + "_" + bar.Source + "_" + bar.TradeDate + "_" + bar.Period
}

func financialID(rec *models.FinancialRecord) string {
	return rec.Symbol + "_" + rec.ReportPeriod + "_" + rec.Source
}

// existingIDs returns which of the given record ids already exist in table.
func (s *StockStore) existingIDs(ctx context.Context, table string, ids []string) (map[string]bool, error) {
	rids := make([]surrealmodels.RecordID, 0, len(ids))
	for _, id := range ids {
		rids = append(rids, surrealmodels.NewRecordID(table, id))
	}

	sql := fmt.Sprintf("SELECT meta::id(id) AS key FROM %s WHERE id IN $ids", table)

	type keyRow struct {
		Key string `json:"key"`
	}
	results, err := surrealdb.Query[[]keyRow](ctx, s.db, sql, map[string]any{"ids": rids})
	if err != nil {
		return nil, fmt.Errorf("failed to query existing ids: %w", err)
	}

	existing := make(map[string]bool)
	for _, row := range firstResult(results) {
		existing[row.Key] = true
	}
	return existing, nil
}

// upsertBatch writes documents in chunks of batchSize, counting inserts
// versus updates through a pre-read of existing record ids.
func (s *StockStore) upsertBatch(ctx context.Context, table string, ids []string, docs []any) (interfaces.UpsertResult, error) {
	var result interfaces.UpsertResult

	for offset := 0; offset < len(ids); offset += batchSize {
		end := offset + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		existing, err := s.existingIDs(ctx, table, ids[offset:end])
		if err != nil {
			return result, err
		}

		for i := offset; i < end; i++ {
			id := ids[i]
			err := withWriteRetry(ctx, s.logger, "upsert "+table, func() error {
				_, qerr := surrealdb.Query[any](ctx, s.db, "UPSERT $rid CONTENT $data", map[string]any{
					"rid":  surrealmodels.NewRecordID(table, id),
					"data": docs[i],
				})
				return qerr
			})
			if err != nil {
				s.logger.Error().Err(err).Str("table", table).Str("id", id).Msg("Upsert failed")
				result.Errors++
				continue
			}
			if existing[id] {
				result.Updated++
			} else {
				result.Inserted++
			}
		}
	}
	return result, nil
}

func (s *StockStore) UpsertBasicInfo(ctx context.Context, infos []*models.StockBasicInfo) (interfaces.UpsertResult, error) {
	ids := make([]string, len(infos))
	docs := make([]any, len(infos))
	for i, info := range infos {
		ids[i] = basicInfoID(info.Code, info.Source)
		docs[i] = info
	}
	return s.upsertBatch(ctx, "stock_basic_info", ids, docs)
}

// GetBasicInfo returns the record for code from the first source in
// sourceOrder that has one, falling back to any source.
func (s *StockStore) GetBasicInfo(ctx context.Context, code string, sourceOrder []string) (*models.StockBasicInfo, error) {
	sql := "SELECT * FROM stock_basic_info WHERE code = $code"
	results, err := surrealdb.Query[[]models.StockBasicInfo](ctx, s.db, sql, map[string]any{"code": code})
	if err != nil {
		return nil, fmt.Errorf("failed to get basic info: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, nil
	}

	bySource := make(map[string]*models.StockBasicInfo, len(rows))
	for i := range rows {
		bySource[rows[i].Source] = &rows[i]
	}
	for _, source := range sourceOrder {
		if info, ok := bySource[source]; ok {
			return info, nil
		}
	}
	return &rows[0], nil
}

func (s *StockStore) ListBasicInfo(ctx context.Context, market string, page, pageSize int) ([]*models.StockBasicInfo, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	where := ""
	vars := map[string]any{
		"limit": pageSize,
		"start": (page - 1) * pageSize,
	}
	if market != "" {
		where = " WHERE market = $market"
		vars["market"] = market
	}

	countSQL := "SELECT count() AS cnt FROM stock_basic_info" + where + " GROUP ALL"
	type countRow struct {
		Cnt int `json:"cnt"`
	}
	counts, err := surrealdb.Query[[]countRow](ctx, s.db, countSQL, vars)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count basic info: %w", err)
	}
	total := 0
	if rows := firstResult(counts); len(rows) > 0 {
		total = rows[0].Cnt
	}

	sql := "SELECT * FROM stock_basic_info" + where + " ORDER BY code ASC LIMIT $limit START $start"
	results, err := surrealdb.Query[[]models.StockBasicInfo](ctx, s.db, sql, vars)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list basic info: %w", err)
	}

	rows := firstResult(results)
	infos := make([]*models.StockBasicInfo, 0, len(rows))
	for i := range rows {
		infos = append(infos, &rows[i])
	}
	return infos, total, nil
}

func (s *StockStore) SearchBasicInfo(ctx context.Context, keyword string, limit int) ([]*models.StockBasicInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	sql := `SELECT * FROM stock_basic_info
		WHERE string::contains(code, $kw) OR string::contains(name, $kw)
		ORDER BY code ASC LIMIT $limit`
	results, err := surrealdb.Query[[]models.StockBasicInfo](ctx, s.db, sql, map[string]any{
		"kw":    strings.TrimSpace(keyword),
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search basic info: %w", err)
	}

	rows := firstResult(results)
	infos := make([]*models.StockBasicInfo, 0, len(rows))
	for i := range rows {
		infos = append(infos, &rows[i])
	}
	return infos, nil
}

func (s *StockStore) ListSymbols(ctx context.Context) ([]string, error) {
	sql := "SELECT code FROM stock_basic_info GROUP BY code"

	type codeRow struct {
		Code string `json:"code"`
	}
	results, err := surrealdb.Query[[]codeRow](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}

	rows := firstResult(results)
	codes := make([]string, 0, len(rows))
	for _, row := range rows {
		codes = append(codes, row.Code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *StockStore) MarketSummaries(ctx context.Context) ([]*models.MarketSummary, error) {
	sql := "SELECT market, count() AS count FROM stock_basic_info GROUP BY market"

	results, err := surrealdb.Query[[]models.MarketSummary](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize markets: %w", err)
	}

	rows := firstResult(results)
	summaries := make([]*models.MarketSummary, 0, len(rows))
	for i := range rows {
		summaries = append(summaries, &rows[i])
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Market < summaries[j].Market })
	return summaries, nil
}

// UpsertQuote writes the latest quote for a code. A stored quote with a
// strictly newer trade_date is never overwritten; the conditional UPDATE
// guards the race between the read and the write.
func (s *StockStore) UpsertQuote(ctx context.Context, quote *models.Quote) (bool, error) {
	rid := surrealmodels.NewRecordID("market_quotes", quote.Code)

	// Step 1: read the stored trade_date.
	type dateRow struct {
		TradeDate string `json:"trade_date"`
	}
	results, err := surrealdb.Query[[]dateRow](ctx, s.db, "SELECT trade_date FROM $rid", map[string]any{"rid": rid})
	if err != nil {
		return false, fmt.Errorf("failed to read stored quote: %w", err)
	}

	rows := firstResult(results)
	if len(rows) > 0 && rows[0].TradeDate > quote.TradeDate {
		return false, nil
	}

	// Step 2: write, re-checking the date inside the statement.
	if len(rows) == 0 {
		err = withWriteRetry(ctx, s.logger, "upsert market_quotes", func() error {
			_, qerr := surrealdb.Query[any](ctx, s.db, "UPSERT $rid CONTENT $data", map[string]any{
				"rid":  rid,
				"data": quote,
			})
			return qerr
		})
	} else {
		err = withWriteRetry(ctx, s.logger, "update market_quotes", func() error {
			_, qerr := surrealdb.Query[any](ctx, s.db, "UPDATE $rid CONTENT $data WHERE trade_date <= $td", map[string]any{
				"rid":  rid,
				"data": quote,
				"td":   quote.TradeDate,
			})
			return qerr
		})
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *StockStore) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	results, err := surrealdb.Query[[]models.Quote](ctx, s.db, "SELECT * FROM $rid", map[string]any{
		"rid": surrealmodels.NewRecordID("market_quotes", code),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *StockStore) GetQuotes(ctx context.Context, codes []string) (map[string]*models.Quote, error) {
	rids := make([]surrealmodels.RecordID, 0, len(codes))
	for _, code := range codes {
		rids = append(rids, surrealmodels.NewRecordID("market_quotes", code))
	}

	results, err := surrealdb.Query[[]models.Quote](ctx, s.db, "SELECT * FROM market_quotes WHERE id IN $ids", map[string]any{"ids": rids})
	if err != nil {
		return nil, fmt.Errorf("failed to get quotes: %w", err)
	}

	quotes := make(map[string]*models.Quote)
	rows := firstResult(results)
	for i := range rows {
		quotes[rows[i].Code] = &rows[i]
	}
	return quotes, nil
}

func (s *StockStore) UpsertDailyBars(ctx context.Context, bars []*models.DailyBar) (interfaces.UpsertResult, error) {
	ids := make([]string, len(bars))
	docs := make([]any, len(bars))
	for i, bar := range bars {
		ids[i] = dailyBarID(bar)
		docs[i] = bar
	}
	return s.upsertBatch(ctx, "stock_daily_quotes", ids, docs)
}

func (s *StockStore) GetDailyBars(ctx context.Context, code, period, start, end string, limit int) ([]*models.DailyBar, error) {
	if limit <= 0 {
		limit = 500
	}

	sql := "SELECT * FROM stock_daily_quotes WHERE code = $code AND period = $period"
	vars := map[string]any{
		"code":   code,
		"period": period,
		"limit":  limit,
	}
	if start != "" {
		sql += " AND trade_date >= $start"
		vars["start"] = start
	}
	if end != "" {
		sql += " AND trade_date <= $end"
		vars["end"] = end
	}
	sql += " ORDER BY trade_date DESC LIMIT $limit"

	results, err := surrealdb.Query[[]models.DailyBar](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily bars: %w", err)
	}

	rows := firstResult(results)
	// Ascending order for callers; the query sorts descending so the LIMIT
	// keeps the newest window.
	bars := make([]*models.DailyBar, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		bars = append(bars, &rows[i])
	}
	return bars, nil
}

func (s *StockStore) MaxTradeDate(ctx context.Context, code, source, period string) (string, error) {
	sql := `SELECT trade_date FROM stock_daily_quotes
		WHERE code = $code AND source = $source AND period = $period
		ORDER BY trade_date DESC LIMIT 1`

	type dateRow struct {
		TradeDate string `json:"trade_date"`
	}
	results, err := surrealdb.Query[[]dateRow](ctx, s.db, sql, map[string]any{
		"code":   code,
		"source": source,
		"period": period,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get max trade date: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].TradeDate, nil
}

func (s *StockStore) LatestBar(ctx context.Context, code, period string) (*models.DailyBar, error) {
	sql := `SELECT * FROM stock_daily_quotes
		WHERE code = $code AND period = $period
		ORDER BY trade_date DESC LIMIT 1`

	results, err := surrealdb.Query[[]models.DailyBar](ctx, s.db, sql, map[string]any{
		"code":   code,
		"period": period,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest bar: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *StockStore) UpsertFinancials(ctx context.Context, records []*models.FinancialRecord) (interfaces.UpsertResult, error) {
	ids := make([]string, len(records))
	docs := make([]any, len(records))
	for i, rec := range records {
		ids[i] = financialID(rec)
		docs[i] = rec
	}
	return s.upsertBatch(ctx, "stock_financial_data", ids, docs)
}

func (s *StockStore) GetFinancials(ctx context.Context, symbol string, limit int) ([]*models.FinancialRecord, error) {
	if limit <= 0 {
		limit = 12
	}
	sql := `SELECT * FROM stock_financial_data
		WHERE symbol = $symbol
		ORDER BY report_period DESC LIMIT $limit`

	results, err := surrealdb.Query[[]models.FinancialRecord](ctx, s.db, sql, map[string]any{
		"symbol": symbol,
		"limit":  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get financials: %w", err)
	}

	rows := firstResult(results)
	records := make([]*models.FinancialRecord, 0, len(rows))
	for i := range rows {
		records = append(records, &rows[i])
	}
	return records, nil
}

// Compile-time check
var _ interfaces.StockStore = (*StockStore)(nil)
