package server

import (
	"net/http"
	"strings"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)
	mux.Handle("/metrics", s.app.Metrics.Handler())

	// Stock reference and market data
	mux.HandleFunc("/api/stocks/search", s.handleStockSearch)
	mux.HandleFunc("/api/stocks/markets", s.handleMarkets)
	mux.HandleFunc("/api/stocks/", s.routeStocks)
	mux.HandleFunc("/api/stocks", s.handleStockList)
	mux.HandleFunc("/api/quotes", s.handleQuotes)

	// Sync
	mux.HandleFunc("/api/sync/trigger", s.handleSyncTrigger)
	mux.HandleFunc("/api/sync/status", s.handleSyncStatus)
	mux.HandleFunc("/api/sync/status/", s.handleSyncSymbolStatus)
	mux.HandleFunc("/api/sync/symbol/", s.handleSyncSymbol)

	// Analysis
	mux.HandleFunc("/api/analysis/tasks/", s.routeAnalysisTasks)
	mux.HandleFunc("/api/analysis/tasks", s.handleTaskSubmit)
	mux.HandleFunc("/api/analysis/batches/", s.handleBatchGet)
	mux.HandleFunc("/api/analysis/batches", s.handleBatchSubmit)

	// Notifications
	mux.HandleFunc("/api/notifications/unread-count", s.handleUnreadCount)
	mux.HandleFunc("/api/notifications/read-all", s.handleMarkAllRead)
	mux.HandleFunc("/api/notifications/", s.routeNotifications)
	mux.HandleFunc("/api/notifications", s.handleNotificationList)
	mux.HandleFunc("/api/ws/notifications", s.handleNotificationsWS)

	// Admin
	mux.HandleFunc("/api/admin/config/validate", s.handleConfigValidate)
	mux.HandleFunc("/api/admin/config", s.handleAdminConfig)
	mux.HandleFunc("/api/admin/providers", s.handleAdminProviders)
	mux.HandleFunc("/api/admin/slow-ops", s.handleAdminSlowOps)
	mux.HandleFunc("/api/admin/cache", s.handleAdminCache)
}

// routeStocks dispatches /api/stocks/{code}[/bars|/financials|/quote|/combined].
func (s *Server) routeStocks(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/stocks/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "stock code is required in path")
		return
	}

	parts := strings.SplitN(path, "/", 2)
	code := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handleStockGet(w, r, code)
	case "bars":
		s.handleStockBars(w, r, code)
	case "financials":
		s.handleStockFinancials(w, r, code)
	case "quote":
		s.handleStockQuote(w, r, code)
	case "combined":
		s.handleStockCombined(w, r, code)
	default:
		WriteError(w, http.StatusNotFound, "Unknown stock endpoint: "+action)
	}
}

// routeAnalysisTasks dispatches /api/analysis/tasks/{id}[/cancel].
func (s *Server) routeAnalysisTasks(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/analysis/tasks/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "task id is required in path")
		return
	}

	parts := strings.SplitN(path, "/", 2)
	taskID := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handleTaskGet(w, r, taskID)
	case "cancel":
		s.handleTaskCancel(w, r, taskID)
	default:
		WriteError(w, http.StatusNotFound, "Unknown task endpoint: "+action)
	}
}

// routeNotifications dispatches /api/notifications/{id}/read.
func (s *Server) routeNotifications(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	if strings.HasSuffix(path, "/read") {
		s.handleMarkRead(w, r, strings.TrimSuffix(path, "/read"))
		return
	}
	WriteError(w, http.StatusNotFound, "Unknown notification endpoint")
}
