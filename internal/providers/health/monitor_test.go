package health

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/models"
)

func newTestMonitor() *Monitor {
	cfg := common.HealthMonitorConfig{
		TickSeconds:                  300,
		FailureThreshold:             3,
		ResponseTimeThresholdSeconds: 30,
	}
	return NewMonitor(cfg, nil, nil, common.NewSilentLogger())
}

func TestStatus_UnknownProvider(t *testing.T) {
	m := newTestMonitor()
	if got := m.Status("tushare"); got != models.HealthUnknown {
		t.Errorf("expected unknown, got %s", got)
	}
}

func TestRecordSuccess_Healthy(t *testing.T) {
	m := newTestMonitor()
	m.RecordSuccess("tushare", 100*time.Millisecond)

	if got := m.Status("tushare"); got != models.HealthHealthy {
		t.Errorf("expected healthy, got %s", got)
	}
}

func TestConsecutiveFailures_Unavailable(t *testing.T) {
	m := newTestMonitor()

	m.RecordFailure("sina", errors.New("timeout"))
	if got := m.Status("sina"); got != models.HealthDegraded {
		t.Errorf("after 1 failure expected degraded, got %s", got)
	}

	m.RecordFailure("sina", errors.New("timeout"))
	m.RecordFailure("sina", errors.New("timeout"))
	if got := m.Status("sina"); got != models.HealthUnavailable {
		t.Errorf("after 3 failures expected unavailable, got %s", got)
	}

	unhealthy := m.Unhealthy()
	if len(unhealthy) != 1 || unhealthy[0] != "sina" {
		t.Errorf("expected [sina], got %v", unhealthy)
	}
}

func TestSuccessAfterFailures_Degraded(t *testing.T) {
	m := newTestMonitor()
	m.RecordFailure("eastmoney", errors.New("503"))
	m.RecordFailure("eastmoney", errors.New("503"))
	m.RecordFailure("eastmoney", errors.New("503"))
	m.RecordSuccess("eastmoney", 50*time.Millisecond)

	// Historical failures keep the provider degraded, not fully healthy.
	if got := m.Status("eastmoney"); got != models.HealthDegraded {
		t.Errorf("expected degraded, got %s", got)
	}

	report := m.Report()
	if len(report) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(report))
	}
	if report[0].ConsecutiveFailures != 0 {
		t.Errorf("success must reset the failure streak, got %d", report[0].ConsecutiveFailures)
	}
}

func TestSlowSuccessCountsAsFailure(t *testing.T) {
	m := newTestMonitor()
	m.RecordSuccess("yahoo", 31*time.Second)

	if got := m.Status("yahoo"); got != models.HealthDegraded {
		t.Errorf("a success over the response-time threshold must degrade, got %s", got)
	}
}

func TestRecentErrors_CappedAtTen(t *testing.T) {
	m := newTestMonitor()
	for i := 0; i < 15; i++ {
		m.RecordFailure("tushare", fmt.Errorf("error %d", i))
	}

	report := m.Report()
	if len(report[0].RecentErrors) != 10 {
		t.Fatalf("expected 10 retained errors, got %d", len(report[0].RecentErrors))
	}
	if report[0].RecentErrors[9] != "error 14" {
		t.Errorf("expected newest error last, got %s", report[0].RecentErrors[9])
	}
	if report[0].RecentErrors[0] != "error 5" {
		t.Errorf("expected oldest retained to be error 5, got %s", report[0].RecentErrors[0])
	}
}

func TestAvgResponseTime_RollingAverage(t *testing.T) {
	m := newTestMonitor()
	m.RecordSuccess("tushare", 100*time.Millisecond)
	m.RecordSuccess("tushare", 300*time.Millisecond)

	report := m.Report()
	// (100 + 300) / 2
	if report[0].AvgResponseTimeMS != 200 {
		t.Errorf("expected rolling average 200ms, got %.1f", report[0].AvgResponseTimeMS)
	}
}
