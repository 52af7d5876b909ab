package surrealdb

import (
	"testing"

	"github.com/google/uuid"

	"github.com/loongquant/loong/internal/models"
)

func TestBasicInfoID(t *testing.T) {
	if got := basicInfoID("600000", "tushare"); got != "600000_tushare" {
		t.Errorf("basicInfoID = %s, want 600000_tushare", got)
	}
}

func TestDailyBarID(t *testing.T) {
	bar := &models.DailyBar{
		Code:      "600000",
		Source:    "eastmoney",
		TradeDate: "2026-08-22",
		Period:    models.PeriodDaily,
	}
	want := "600000_eastmoney_2026-08-22_daily"
	if got := dailyBarID(bar); got != want {
		t.Errorf("dailyBarID = %s, want %s", got, want)
	}
}

func TestFinancialID(t *testing.T) {
	rec := &models.FinancialRecord{
		Symbol:       "600000",
		ReportPeriod: "20251231",
		Source:       "tushare",
	}
	want := "600000_20251231_tushare"
	if got := financialID(rec); got != want {
		t.Errorf("financialID = %s, want %s", got, want)
	}
}

func TestPrepareTask_Defaults(t *testing.T) {
	task := &models.AnalysisTask{Symbol: "600000", UserID: "default"}
	prepareTask(task)

	// Primary keys carry the full UUID; truncating would risk silent
	// collisions at scale.
	if _, err := uuid.Parse(task.TaskID); err != nil {
		t.Errorf("task_id %q is not a full UUID: %v", task.TaskID, err)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("status = %s, want pending", task.Status)
	}
	if task.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", task.MaxRetries)
	}
	if task.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
}
