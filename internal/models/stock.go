// Package models defines the canonical data entities shared across Loong.
package models

import "time"

// StockBasicInfo is one provider's view of a listed company.
// One document exists per (code, source); readers resolve conflicts
// through the source router's priority order.
type StockBasicInfo struct {
	Code       string `json:"code"`
	FullSymbol string `json:"full_symbol"`
	Name       string `json:"name"`
	Industry   string `json:"industry,omitempty"`
	Area       string `json:"area,omitempty"`
	Market     string `json:"market,omitempty"`
	ListDate   string `json:"list_date,omitempty"`
	Source     string `json:"source"`

	// FinancialSnapshot carries valuation metrics from the provider's
	// daily-basic feed (pe, pb, ps, total_mv, circ_mv, turnover_rate, ...).
	// Market caps are in 100M yuan.
	FinancialSnapshot map[string]float64 `json:"financial_snapshot,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Quote is the latest real-time quote for a symbol. One document per code.
// Writers must never replace a quote with a strictly older trade_date.
type Quote struct {
	Code          string    `json:"code"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	PreClose      float64   `json:"pre_close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"` // shares
	Amount        float64   `json:"amount"` // yuan
	TradeDate     string    `json:"trade_date"`
	Source        string    `json:"source"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Bar periods.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// ValidPeriod reports whether p is a supported bar period.
func ValidPeriod(p string) bool {
	return p == PeriodDaily || p == PeriodWeekly || p == PeriodMonthly
}

// DailyBar is one historical OHLCV bar. One document per
// (code, source, trade_date, period). TradeDate is exchange-local.
type DailyBar struct {
	Code          string    `json:"code"`
	Source        string    `json:"source"`
	TradeDate     string    `json:"trade_date"`
	Period        string    `json:"period"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	PreClose      float64   `json:"pre_close,omitempty"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"` // shares
	Amount        float64   `json:"amount"` // yuan
	Turnover      float64   `json:"turnover,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Financial report types.
const (
	ReportQuarterly = "quarterly"
	ReportAnnual    = "annual"
)

// FinancialRecord is one fiscal-period financial statement from one source.
// One document per (symbol, report_period, source). ReportPeriod is the
// fiscal period-end date in YYYYMMDD form.
type FinancialRecord struct {
	Symbol       string  `json:"symbol"`
	ReportPeriod string  `json:"report_period"`
	ReportType   string  `json:"report_type"`
	Source       string  `json:"data_source"`
	Revenue      float64 `json:"revenue,omitempty"`
	NetIncome    float64 `json:"net_income,omitempty"`
	EPS          float64 `json:"eps,omitempty"`
	ROE          float64 `json:"roe,omitempty"`
	DebtToAssets float64 `json:"debt_to_assets,omitempty"`

	// Statements holds the raw nested statements as returned by the provider.
	Statements map[string]any `json:"statements,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewsItem is a single news article reference.
type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// MarketSummary aggregates document counts per market board for the
// stock-data markets endpoint.
type MarketSummary struct {
	Market string `json:"market"`
	Count  int    `json:"count"`
}
