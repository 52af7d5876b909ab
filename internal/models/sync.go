package models

import "time"

// Data classes a sync job may target.
const (
	DataClassBasic      = "basic"
	DataClassHistorical = "historical"
	DataClassFinancial  = "financial"
	DataClassQuotes     = "quotes"
)

// Sync run statuses.
const (
	SyncStatusIdle              = "idle"
	SyncStatusRunning           = "running"
	SyncStatusSuccess           = "success"
	SyncStatusSuccessWithErrors = "success_with_errors"
	SyncStatusFailed            = "failed"
)

// SyncStatus records the outcome of the most recent run of one
// (job, data_type) pair. One document per pair, fully rewritten each run.
type SyncStatus struct {
	Job        string     `json:"job"`
	DataType   string     `json:"data_type"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Inserted   int        `json:"inserted"`
	Updated    int        `json:"updated"`
	Errors     int        `json:"errors"`

	// DataSourcesUsed lists "stage:source" entries for the providers that
	// actually served each stage of the run, e.g. "stock_list:tushare".
	DataSourcesUsed []string `json:"data_sources_used,omitempty"`

	Message string `json:"message,omitempty"`
}

// SyncCounters accumulates per-batch results inside one run.
type SyncCounters struct {
	Total    int
	Inserted int
	Updated  int
	Errors   int
}

// Add merges another set of counters into c.
func (c *SyncCounters) Add(other SyncCounters) {
	c.Total += other.Total
	c.Inserted += other.Inserted
	c.Updated += other.Updated
	c.Errors += other.Errors
}

// FinalStatus derives the terminal sync status from the counters.
func (c *SyncCounters) FinalStatus() string {
	switch {
	case c.Errors == 0:
		return SyncStatusSuccess
	case c.Inserted+c.Updated > 0:
		return SyncStatusSuccessWithErrors
	default:
		return SyncStatusFailed
	}
}
