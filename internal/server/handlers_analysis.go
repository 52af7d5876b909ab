package server

import (
	"net/http"
	"strings"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/normalize"
)

// taskSubmitRequest is the body for POST /api/analysis/tasks.
type taskSubmitRequest struct {
	Symbol     string                    `json:"symbol"`
	Parameters models.AnalysisParameters `json:"parameters"`
}

// handleTaskSubmit handles POST /api/analysis/tasks.
func (s *Server) handleTaskSubmit(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req taskSubmitRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Symbol) == "" {
		WriteError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	userID := common.ResolveUserID(r.Context())
	task, err := s.app.Analysis.Submit(r.Context(), userID, normalize.Code(req.Symbol), req.Parameters)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, task)
}

// batchSubmitRequest is the body for POST /api/analysis/batches.
type batchSubmitRequest struct {
	Symbols     []string                  `json:"symbols"`
	Title       string                    `json:"title,omitempty"`
	Description string                    `json:"description,omitempty"`
	Parameters  models.AnalysisParameters `json:"parameters"`
}

// handleBatchSubmit handles POST /api/analysis/batches.
func (s *Server) handleBatchSubmit(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req batchSubmitRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	symbols := make([]string, 0, len(req.Symbols))
	for _, symbol := range req.Symbols {
		symbols = append(symbols, normalize.Code(strings.TrimSpace(symbol)))
	}

	userID := common.ResolveUserID(r.Context())
	batch, tasks, err := s.app.Analysis.SubmitBatch(r.Context(), userID, symbols, req.Parameters, req.Title, req.Description)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"batch": batch, "tasks": tasks})
}

// handleTaskGet handles GET /api/analysis/tasks/{id}.
func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	task, err := s.app.Analysis.GetTask(r.Context(), taskID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// handleTaskCancel handles POST /api/analysis/tasks/{id}/cancel.
func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	userID := common.ResolveUserID(r.Context())
	if err := s.app.Analysis.Cancel(r.Context(), taskID, userID); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "cancel accepted"})
}

// handleBatchGet handles GET /api/analysis/batches/{id}.
func (s *Server) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	batchID := PathParam(r, "/api/analysis/batches/", "")
	if batchID == "" {
		WriteError(w, http.StatusBadRequest, "batch id is required in path")
		return
	}

	batch, tasks, err := s.app.Analysis.GetBatch(r.Context(), batchID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"batch": batch, "tasks": tasks})
}
