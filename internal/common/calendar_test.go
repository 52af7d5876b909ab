package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTradingTime(t *testing.T) {
	tests := []struct {
		name     string
		time     time.Time
		expected bool
	}{
		{"before open", time.Date(2026, 8, 19, 9, 15, 0, 0, shanghaiLocation), false},
		{"at open", time.Date(2026, 8, 19, 9, 30, 0, 0, shanghaiLocation), true},
		{"morning session", time.Date(2026, 8, 19, 10, 45, 0, 0, shanghaiLocation), true},
		{"lunch break", time.Date(2026, 8, 19, 12, 0, 0, 0, shanghaiLocation), false},
		{"afternoon session", time.Date(2026, 8, 19, 14, 30, 0, 0, shanghaiLocation), true},
		{"at close", time.Date(2026, 8, 19, 15, 0, 0, 0, shanghaiLocation), true},
		{"after close", time.Date(2026, 8, 19, 15, 1, 0, 0, shanghaiLocation), false},
		{"saturday midday", time.Date(2026, 8, 22, 10, 0, 0, 0, shanghaiLocation), false},
		{"sunday midday", time.Date(2026, 8, 23, 10, 0, 0, 0, shanghaiLocation), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTradingTime(tt.time))
		})
	}
}

func TestIsTradingTime_ConvertsToExchangeLocal(t *testing.T) {
	// 02:00 UTC on a Wednesday is 10:00 in Shanghai
	utc := time.Date(2026, 8, 19, 2, 0, 0, 0, time.UTC)
	assert.True(t, IsTradingTime(utc))
}

func TestDayStart(t *testing.T) {
	// 23:00 UTC on the 18th is already the 19th in Shanghai, so the day
	// starts at 16:00 UTC on the 18th.
	utc := time.Date(2026, 8, 18, 23, 0, 0, 0, time.UTC)
	got := DayStart(utc)
	assert.True(t, got.Equal(time.Date(2026, 8, 18, 16, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-08-19", TradeDate(got))
}

func TestTradeDate(t *testing.T) {
	// 23:00 UTC on the 18th is already the 19th in Shanghai
	utc := time.Date(2026, 8, 18, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-19", TradeDate(utc))
}
