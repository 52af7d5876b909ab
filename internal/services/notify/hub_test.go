package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/models"
)

func dialHub(t *testing.T, hub *Hub, userID string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, userID)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", want, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversToOwningUser(t *testing.T) {
	hub := NewHub(common.NewSilentLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dialHub(t, hub, "u1")
	waitForClients(t, hub, 1)

	hub.Broadcast(&models.Notification{
		ID:     "n1",
		UserID: "u1",
		Type:   models.NotificationSystem,
		Title:  "Sync failed",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got models.Notification
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "n1" || got.Title != "Sync failed" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestHubSkipsOtherUsers(t *testing.T) {
	hub := NewHub(common.NewSilentLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dialHub(t, hub, "u2")
	waitForClients(t, hub, 1)

	hub.Broadcast(&models.Notification{ID: "n2", UserID: "u1", Title: "Not yours"})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read timeout, got a message")
	}
}
