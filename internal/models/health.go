package models

import "time"

// Provider health states.
const (
	HealthHealthy     = "healthy"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
	HealthUnknown     = "unknown"
)

// HealthMetrics is the in-memory health record for one provider (or the
// document store pseudo-provider). A copy is returned to readers; the
// monitor owns the live instance.
type HealthMetrics struct {
	Provider            string     `json:"provider"`
	Status              string     `json:"status"`
	SuccessCount        int64      `json:"success_count"`
	FailureCount        int64      `json:"failure_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AvgResponseTimeMS   float64    `json:"avg_response_time_ms"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`

	// RecentErrors holds the last 10 error messages, newest last.
	RecentErrors []string `json:"recent_errors,omitempty"`
}
