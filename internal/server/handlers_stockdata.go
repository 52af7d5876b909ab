package server

import (
	"net/http"
	"strings"

	"github.com/loongquant/loong/internal/cache"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/normalize"
)

// sourceOrder returns provider names in routing order for a data class.
func (s *Server) sourceOrder(dataClass string) []string {
	order := s.app.Router.Order(dataClass, false)
	names := make([]string, 0, len(order))
	for _, p := range order {
		names = append(names, p.Name())
	}
	return names
}

// handleStockList handles GET /api/stocks?market=&page=&page_size=.
func (s *Server) handleStockList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	market := r.URL.Query().Get("market")
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 50)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	type listResponse struct {
		Items    []*models.StockBasicInfo `json:"items"`
		Total    int                      `json:"total"`
		Page     int                      `json:"page"`
		PageSize int                      `json:"page_size"`
	}

	key := cache.Key("stock_info", map[string]any{"op": "list", "market": market, "page": page, "size": pageSize})
	var cached listResponse
	if s.app.Cache.GetJSON(r.Context(), "stock_info", key, &cached) {
		s.app.Metrics.RecordCache("stock_info", true)
		WriteJSON(w, http.StatusOK, cached)
		return
	}
	s.app.Metrics.RecordCache("stock_info", false)

	items, total, err := s.app.Storage.StockStore().ListBasicInfo(r.Context(), market, page, pageSize)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	resp := listResponse{Items: items, Total: total, Page: page, PageSize: pageSize}
	s.app.Cache.SetJSON(r.Context(), "stock_info", key, resp)
	WriteJSON(w, http.StatusOK, resp)
}

// handleStockGet handles GET /api/stocks/{code}.
func (s *Server) handleStockGet(w http.ResponseWriter, r *http.Request, code string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	code = normalize.Code(code)

	key := cache.Key("stock_info", map[string]any{"op": "get", "code": code})
	var cached models.StockBasicInfo
	if s.app.Cache.GetJSON(r.Context(), "stock_info", key, &cached) {
		s.app.Metrics.RecordCache("stock_info", true)
		WriteJSON(w, http.StatusOK, &cached)
		return
	}
	s.app.Metrics.RecordCache("stock_info", false)

	info, err := s.app.Storage.StockStore().GetBasicInfo(r.Context(), code, s.sourceOrder(models.DataClassBasic))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if info == nil {
		WriteErrorWithCode(w, http.StatusNotFound, "stock "+code+" not found", "not-found")
		return
	}

	s.app.Cache.SetJSON(r.Context(), "stock_info", key, info)
	WriteJSON(w, http.StatusOK, info)
}

// handleStockSearch handles GET /api/stocks/search?q=.
func (s *Server) handleStockSearch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		WriteError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	items, err := s.app.Storage.StockStore().SearchBasicInfo(r.Context(), q, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleMarkets handles GET /api/stocks/markets.
func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	summaries, err := s.app.Storage.StockStore().MarketSummaries(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"markets": summaries})
}

// handleStockQuote handles GET /api/stocks/{code}/quote.
func (s *Server) handleStockQuote(w http.ResponseWriter, r *http.Request, code string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	code = normalize.Code(code)

	key := cache.Key("stock_quotes", map[string]any{"code": code})
	var cached models.Quote
	if s.app.Cache.GetJSON(r.Context(), "stock_quotes", key, &cached) {
		s.app.Metrics.RecordCache("stock_quotes", true)
		WriteJSON(w, http.StatusOK, &cached)
		return
	}
	s.app.Metrics.RecordCache("stock_quotes", false)

	quote, err := s.app.Storage.StockStore().GetQuote(r.Context(), code)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if quote == nil {
		WriteErrorWithCode(w, http.StatusNotFound, "no quote for "+code, "not-found")
		return
	}

	s.app.Cache.SetJSON(r.Context(), "stock_quotes", key, quote)
	WriteJSON(w, http.StatusOK, quote)
}

// handleQuotes handles GET /api/quotes?codes=a,b,c.
func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("codes"))
	if raw == "" {
		WriteError(w, http.StatusBadRequest, "query parameter codes is required")
		return
	}
	codes := strings.Split(raw, ",")
	for i := range codes {
		codes[i] = normalize.Code(strings.TrimSpace(codes[i]))
	}

	quotes, err := s.app.Storage.StockStore().GetQuotes(r.Context(), codes)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"quotes": quotes})
}

// handleStockBars handles GET /api/stocks/{code}/bars?period=&start=&end=&limit=.
func (s *Server) handleStockBars(w http.ResponseWriter, r *http.Request, code string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	code = normalize.Code(code)

	period := r.URL.Query().Get("period")
	if period == "" {
		period = models.PeriodDaily
	}
	if !models.ValidPeriod(period) {
		WriteError(w, http.StatusBadRequest, "invalid period: "+period)
		return
	}
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	limit := queryInt(r, "limit", 250)
	if limit < 1 || limit > 10000 {
		limit = 250
	}

	key := cache.Key("market_data", map[string]any{"code": code, "period": period, "start": start, "end": end, "limit": limit})
	var cached []*models.DailyBar
	if s.app.Cache.GetJSON(r.Context(), "market_data", key, &cached) {
		s.app.Metrics.RecordCache("market_data", true)
		WriteJSON(w, http.StatusOK, map[string]any{"bars": cached})
		return
	}
	s.app.Metrics.RecordCache("market_data", false)

	bars, err := s.app.Storage.StockStore().GetDailyBars(r.Context(), code, period, start, end, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	s.app.Cache.SetJSON(r.Context(), "market_data", key, bars)
	WriteJSON(w, http.StatusOK, map[string]any{"bars": bars})
}

// handleStockCombined handles GET /api/stocks/{code}/combined. One call
// returning basic info, the current quote, recent daily bars and the last
// few financial reports.
func (s *Server) handleStockCombined(w http.ResponseWriter, r *http.Request, code string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	code = normalize.Code(code)

	info, err := s.app.Storage.StockStore().GetBasicInfo(r.Context(), code, s.sourceOrder(models.DataClassBasic))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if info == nil {
		WriteErrorWithCode(w, http.StatusNotFound, "stock "+code+" not found", "not-found")
		return
	}

	quote, err := s.app.Storage.StockStore().GetQuote(r.Context(), code)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	bars, err := s.app.Storage.StockStore().GetDailyBars(r.Context(), code, models.PeriodDaily, "", "", 30)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	financials, err := s.app.Storage.StockStore().GetFinancials(r.Context(), code, 4)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"basic_info": info,
		"quote":      quote,
		"bars":       bars,
		"financials": financials,
	})
}

// handleStockFinancials handles GET /api/stocks/{code}/financials?limit=.
func (s *Server) handleStockFinancials(w http.ResponseWriter, r *http.Request, code string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	code = normalize.Code(code)

	limit := queryInt(r, "limit", 8)
	if limit < 1 || limit > 100 {
		limit = 8
	}

	records, err := s.app.Storage.StockStore().GetFinancials(r.Context(), code, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"financials": records})
}
