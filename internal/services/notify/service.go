// Package notify persists user notifications and pushes them live over
// WebSocket.
package notify

import (
	"context"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
)

// Service stores notifications durably and mirrors each publish to the
// hub. Live delivery is best effort; the store is the source of truth.
type Service struct {
	store  interfaces.NotificationStore
	hub    *Hub
	logger *common.Logger
}

// NewService creates the notification service. hub may be nil when live
// push is disabled.
func NewService(store interfaces.NotificationStore, hub *Hub, logger *common.Logger) *Service {
	return &Service{store: store, hub: hub, logger: logger}
}

// Publish persists the notification and pushes it to connected sockets.
func (s *Service) Publish(ctx context.Context, n *models.Notification) error {
	if n.UserID == "" {
		return common.NewAppError(common.CodeBadRequest, "notification user_id is required")
	}
	if n.Title == "" {
		return common.NewAppError(common.CodeBadRequest, "notification title is required")
	}

	if err := s.store.Insert(ctx, n); err != nil {
		return common.WrapAppError(common.CodeStoreUnavailable, err, "failed to persist notification")
	}

	if s.hub != nil {
		s.hub.Broadcast(n)
	}

	// Retention is enforced opportunistically on the write path.
	if err := s.store.Prune(ctx, n.UserID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", n.UserID).Msg("Notification prune failed")
	}
	return nil
}

// List returns one page of a user's notifications, optionally filtered
// by status and type.
func (s *Service) List(ctx context.Context, userID, status, ntype string, page, pageSize int) (*models.NotificationList, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	list, err := s.store.List(ctx, userID, status, ntype, page, pageSize)
	if err != nil {
		return nil, common.WrapAppError(common.CodeStoreUnavailable, err, "failed to list notifications")
	}
	return list, nil
}

// UnreadCount returns the number of unread notifications for a user.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return 0, common.WrapAppError(common.CodeStoreUnavailable, err, "failed to count unread notifications")
	}
	return count, nil
}

// MarkRead marks one notification read. Unknown ids yield not-found.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	ok, err := s.store.MarkRead(ctx, userID, id)
	if err != nil {
		return common.WrapAppError(common.CodeStoreUnavailable, err, "failed to mark notification read")
	}
	if !ok {
		return common.NewAppError(common.CodeNotFound, "notification %s not found", id)
	}
	return nil
}

// MarkAllRead marks every unread notification read and returns the count.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	count, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, common.WrapAppError(common.CodeStoreUnavailable, err, "failed to mark notifications read")
	}
	return count, nil
}

// Compile-time check
var _ interfaces.Notifier = (*Service)(nil)
