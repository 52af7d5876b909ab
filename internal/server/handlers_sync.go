package server

import (
	"net/http"
	"strings"

	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/normalize"
)

// syncTriggerRequest is the body for POST /api/sync/trigger.
type syncTriggerRequest struct {
	DataClass   string   `json:"data_class"`
	Symbols     []string `json:"symbols,omitempty"`
	Periods     []string `json:"periods,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	AllHistory  bool     `json:"all_history,omitempty"`
	Incremental bool     `json:"incremental,omitempty"`
	Force       bool     `json:"force,omitempty"`
}

// handleSyncTrigger handles POST /api/sync/trigger. The run executes on
// the request; clients scope long backfills or poll /api/sync/status.
func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req syncTriggerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	opts := interfaces.SyncOptions{
		Symbols:     req.Symbols,
		Periods:     req.Periods,
		Sources:     req.Sources,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		AllHistory:  req.AllHistory,
		Incremental: req.Incremental,
		Force:       req.Force,
	}
	for i := range opts.Symbols {
		opts.Symbols[i] = normalize.Code(strings.TrimSpace(opts.Symbols[i]))
	}

	var (
		status *models.SyncStatus
		err    error
	)
	switch req.DataClass {
	case models.DataClassBasic:
		status, err = s.app.Sync.SyncBasicInfo(r.Context(), opts)
	case models.DataClassHistorical:
		status, err = s.app.Sync.SyncHistorical(r.Context(), opts)
	case models.DataClassFinancial:
		status, err = s.app.Sync.SyncFinancial(r.Context(), opts)
	case models.DataClassQuotes:
		status, err = s.app.Sync.SyncQuotes(r.Context(), opts)
	default:
		WriteError(w, http.StatusBadRequest, "unknown data_class: "+req.DataClass)
		return
	}

	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// handleSyncStatus handles GET /api/sync/status[?job=&data_type=].
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job := r.URL.Query().Get("job")
	dataType := r.URL.Query().Get("data_type")

	if job != "" && dataType != "" {
		status, err := s.app.Sync.Status(r.Context(), job, dataType)
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
		return
	}

	statuses, err := s.app.Storage.SyncStore().ListStatus(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

// handleSyncSymbolStatus handles GET /api/sync/status/{symbol}. Reports how
// current the stored data for one symbol is.
func (s *Server) handleSyncSymbolStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	symbol := PathParam(r, "/api/sync/status/", "")
	if symbol == "" {
		WriteError(w, http.StatusBadRequest, "symbol is required in path")
		return
	}
	code := normalize.Code(symbol)

	info, err := s.app.Storage.StockStore().GetBasicInfo(r.Context(), code, nil)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	bar, err := s.app.Storage.StockStore().LatestBar(r.Context(), code, models.PeriodDaily)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	quote, err := s.app.Storage.StockStore().GetQuote(r.Context(), code)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	resp := map[string]any{
		"symbol":         code,
		"has_basic_info": info != nil,
	}
	if bar != nil {
		resp["latest_trade_date"] = bar.TradeDate
	}
	if quote != nil {
		resp["quote_trade_date"] = quote.TradeDate
		resp["quote_updated_at"] = quote.UpdatedAt
	}
	WriteJSON(w, http.StatusOK, resp)
}

// handleSyncSymbol handles POST /api/sync/symbol/{symbol}.
func (s *Server) handleSyncSymbol(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	symbol := PathParam(r, "/api/sync/symbol/", "")
	if symbol == "" {
		WriteError(w, http.StatusBadRequest, "symbol is required in path")
		return
	}

	status, err := s.app.Sync.SyncSymbol(r.Context(), normalize.Code(symbol), interfaces.SyncOptions{})
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}
