package server

import (
	"net/http"
)

// handleAdminConfig handles GET /api/admin/config. Secrets are masked.
func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Config.Summary())
}

// handleConfigValidate handles GET /api/admin/config/validate. Re-runs the
// startup validation against the live config.
func (s *Server) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	problems := s.app.Config.Validate()
	if problems == nil {
		problems = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"valid":    len(problems) == 0,
		"problems": problems,
	})
}

// handleAdminProviders handles GET /api/admin/providers.
func (s *Server) handleAdminProviders(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"providers": s.app.Health.Report()})
}

// handleAdminSlowOps handles GET /api/admin/slow-ops.
func (s *Server) handleAdminSlowOps(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"slow_ops": s.app.Metrics.SlowOps()})
}

// handleAdminCache handles GET /api/admin/cache.
func (s *Server) handleAdminCache(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	hits, misses := s.app.Cache.Stats()
	WriteJSON(w, http.StatusOK, map[string]int64{"l1_hits": hits, "l1_misses": misses})
}
