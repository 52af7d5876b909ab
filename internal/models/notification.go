package models

import "time"

// Notification types.
const (
	NotificationAnalysis = "analysis"
	NotificationAlert    = "alert"
	NotificationSystem   = "system"
)

// Notification severities.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Notification read states.
const (
	NotificationUnread = "unread"
	NotificationRead   = "read"
)

// Notification retention policy: whichever limit is hit first wins.
const (
	NotificationRetainDays = 90
	NotificationMaxPerUser = 1000
)

// Notification is one user-facing event. Persisted before any live
// delivery so missed events remain discoverable by listing.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Content   string         `json:"content,omitempty"`
	Link      string         `json:"link,omitempty"`
	Source    string         `json:"source,omitempty"`
	Severity  string         `json:"severity"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NotificationList is one page of a user's notifications.
type NotificationList struct {
	Items    []*Notification `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}
