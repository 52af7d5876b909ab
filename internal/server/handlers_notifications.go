package server

import (
	"net/http"

	"github.com/loongquant/loong/internal/common"
)

// handleNotificationList handles GET /api/notifications?status=&type=&page=&page_size=.
func (s *Server) handleNotificationList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	userID := common.ResolveUserID(r.Context())
	status := r.URL.Query().Get("status")
	ntype := r.URL.Query().Get("type")
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	list, err := s.app.Notify.List(r.Context(), userID, status, ntype, page, pageSize)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

// handleUnreadCount handles GET /api/notifications/unread-count.
func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	userID := common.ResolveUserID(r.Context())
	count, err := s.app.Notify.UnreadCount(r.Context(), userID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"unread": count})
}

// handleMarkRead handles POST /api/notifications/{id}/read.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	userID := common.ResolveUserID(r.Context())
	if err := s.app.Notify.MarkRead(r.Context(), userID, id); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "read"})
}

// handleMarkAllRead handles POST /api/notifications/read-all.
func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	userID := common.ResolveUserID(r.Context())
	count, err := s.app.Notify.MarkAllRead(r.Context(), userID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"updated": count})
}

// handleNotificationsWS handles GET /api/ws/notifications.
func (s *Server) handleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	userID := common.ResolveUserID(r.Context())
	s.app.Hub.ServeWS(w, r, userID)
}
