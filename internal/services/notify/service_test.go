package notify

import (
	"context"
	"testing"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/models"
)

// mockNotificationStore records calls and serves canned pages.
type mockNotificationStore struct {
	inserted []*models.Notification
	pruned   []string
	list     *models.NotificationList
	unread   int
	readIDs  map[string]bool

	listPage     int
	listPageSize int
}

func newMockNotificationStore() *mockNotificationStore {
	return &mockNotificationStore{readIDs: make(map[string]bool)}
}

func (m *mockNotificationStore) Insert(_ context.Context, n *models.Notification) error {
	m.inserted = append(m.inserted, n)
	return nil
}

func (m *mockNotificationStore) List(_ context.Context, _, _, _ string, page, pageSize int) (*models.NotificationList, error) {
	m.listPage = page
	m.listPageSize = pageSize
	if m.list != nil {
		return m.list, nil
	}
	return &models.NotificationList{Page: page, PageSize: pageSize}, nil
}

func (m *mockNotificationStore) UnreadCount(context.Context, string) (int, error) {
	return m.unread, nil
}

func (m *mockNotificationStore) MarkRead(_ context.Context, _, id string) (bool, error) {
	return m.readIDs[id], nil
}

func (m *mockNotificationStore) MarkAllRead(context.Context, string) (int, error) {
	return m.unread, nil
}

func (m *mockNotificationStore) Prune(_ context.Context, userID string) error {
	m.pruned = append(m.pruned, userID)
	return nil
}

func newTestService(store *mockNotificationStore) *Service {
	logger := common.NewLogger("error")
	return NewService(store, nil, logger)
}

func TestPublishPersistsAndPrunes(t *testing.T) {
	store := newMockNotificationStore()
	svc := newTestService(store)

	err := svc.Publish(context.Background(), &models.Notification{
		UserID: "u1",
		Type:   models.NotificationAnalysis,
		Title:  "Analysis completed",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(store.inserted))
	}
	if len(store.pruned) != 1 || store.pruned[0] != "u1" {
		t.Errorf("expected prune for u1, got %v", store.pruned)
	}
}

func TestPublishRejectsMissingFields(t *testing.T) {
	svc := newTestService(newMockNotificationStore())

	err := svc.Publish(context.Background(), &models.Notification{Title: "no user"})
	if common.AppErrorCode(err) != common.CodeBadRequest {
		t.Errorf("missing user_id: expected bad-request, got %v", err)
	}

	err = svc.Publish(context.Background(), &models.Notification{UserID: "u1"})
	if common.AppErrorCode(err) != common.CodeBadRequest {
		t.Errorf("missing title: expected bad-request, got %v", err)
	}
}

func TestListClampsPaging(t *testing.T) {
	store := newMockNotificationStore()
	svc := newTestService(store)

	if _, err := svc.List(context.Background(), "u1", "", "", 0, 500); err != nil {
		t.Fatalf("List: %v", err)
	}
	if store.listPage != 1 {
		t.Errorf("expected page 1, got %d", store.listPage)
	}
	if store.listPageSize != 20 {
		t.Errorf("expected page size 20, got %d", store.listPageSize)
	}
}

func TestMarkReadUnknownID(t *testing.T) {
	store := newMockNotificationStore()
	store.readIDs["abc123"] = true
	svc := newTestService(store)

	if err := svc.MarkRead(context.Background(), "u1", "abc123"); err != nil {
		t.Fatalf("MarkRead known id: %v", err)
	}
	err := svc.MarkRead(context.Background(), "u1", "missing")
	if common.AppErrorCode(err) != common.CodeNotFound {
		t.Errorf("expected not-found, got %v", err)
	}
}
