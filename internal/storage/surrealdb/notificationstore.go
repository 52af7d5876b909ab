package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
)

// NotificationStore implements interfaces.NotificationStore using SurrealDB.
type NotificationStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewNotificationStore creates a new NotificationStore.
func NewNotificationStore(db *surrealdb.DB, logger *common.Logger) *NotificationStore {
	return &NotificationStore{db: db, logger: logger}
}

func notificationRID(id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("notifications", id)
}

func (s *NotificationStore) Insert(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = models.NotificationUnread
	}
	if n.Severity == "" {
		n.Severity = models.SeverityInfo
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	if _, err := surrealdb.Query[any](ctx, s.db, "UPSERT $rid CONTENT $n", map[string]any{
		"rid": notificationRID(n.ID),
		"n":   n,
	}); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *NotificationStore) List(ctx context.Context, userID, status, ntype string, page, pageSize int) (*models.NotificationList, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	where := " WHERE user_id = $user_id"
	vars := map[string]any{
		"user_id": userID,
		"limit":   pageSize,
		"start":   (page - 1) * pageSize,
	}
	if status != "" {
		where += " AND status = $status"
		vars["status"] = status
	}
	if ntype != "" {
		where += " AND type = $type"
		vars["type"] = ntype
	}

	countSQL := "SELECT count() AS cnt FROM notifications" + where + " GROUP ALL"
	type countRow struct {
		Cnt int `json:"cnt"`
	}
	counts, err := surrealdb.Query[[]countRow](ctx, s.db, countSQL, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	total := 0
	if rows := firstResult(counts); len(rows) > 0 {
		total = rows[0].Cnt
	}

	sql := "SELECT * FROM notifications" + where + " ORDER BY created_at DESC LIMIT $limit START $start"
	results, err := surrealdb.Query[[]models.Notification](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	rows := firstResult(results)
	items := make([]*models.Notification, 0, len(rows))
	for i := range rows {
		items = append(items, &rows[i])
	}
	return &models.NotificationList{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (s *NotificationStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	sql := "SELECT count() AS cnt FROM notifications WHERE user_id = $user_id AND status = $unread GROUP ALL"

	type countRow struct {
		Cnt int `json:"cnt"`
	}
	results, err := surrealdb.Query[[]countRow](ctx, s.db, sql, map[string]any{
		"user_id": userID,
		"unread":  models.NotificationUnread,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	if rows := firstResult(results); len(rows) > 0 {
		return rows[0].Cnt, nil
	}
	return 0, nil
}

// MarkRead marks one notification read. Returns false when the record does
// not exist or belongs to another user.
func (s *NotificationStore) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	sql := "UPDATE $rid SET status = $read WHERE user_id = $user_id"
	results, err := surrealdb.Query[[]models.Notification](ctx, s.db, sql, map[string]any{
		"rid":     notificationRID(id),
		"read":    models.NotificationRead,
		"user_id": userID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return len(firstResult(results)) > 0, nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string) (int, error) {
	sql := "UPDATE notifications SET status = $read WHERE user_id = $user_id AND status = $unread"
	results, err := surrealdb.Query[[]models.Notification](ctx, s.db, sql, map[string]any{
		"read":    models.NotificationRead,
		"unread":  models.NotificationUnread,
		"user_id": userID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", err)
	}
	return len(firstResult(results)), nil
}

// Prune enforces the retention policy for one user: drop records older
// than 90 days, then drop the oldest beyond the 1000-record cap.
func (s *NotificationStore) Prune(ctx context.Context, userID string) error {
	cutoff := time.Now().AddDate(0, 0, -models.NotificationRetainDays)

	ageSQL := "DELETE FROM notifications WHERE user_id = $user_id AND created_at < $cutoff"
	if _, err := surrealdb.Query[any](ctx, s.db, ageSQL, map[string]any{
		"user_id": userID,
		"cutoff":  cutoff,
	}); err != nil {
		return fmt.Errorf("failed to prune aged notifications: %w", err)
	}

	// Find the cap boundary, then drop everything older than it.
	boundarySQL := `SELECT created_at FROM notifications WHERE user_id = $user_id
		ORDER BY created_at DESC LIMIT 1 START $cap`
	type dateRow struct {
		CreatedAt time.Time `json:"created_at"`
	}
	results, err := surrealdb.Query[[]dateRow](ctx, s.db, boundarySQL, map[string]any{
		"user_id": userID,
		"cap":     models.NotificationMaxPerUser,
	})
	if err != nil {
		return fmt.Errorf("failed to find prune boundary: %w", err)
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return nil
	}

	capSQL := "DELETE FROM notifications WHERE user_id = $user_id AND created_at <= $boundary"
	if _, err := surrealdb.Query[any](ctx, s.db, capSQL, map[string]any{
		"user_id":  userID,
		"boundary": rows[0].CreatedAt,
	}); err != nil {
		return fmt.Errorf("failed to prune over-cap notifications: %w", err)
	}
	return nil
}

// Compile-time check
var _ interfaces.NotificationStore = (*NotificationStore)(nil)
