// Package normalize canonicalizes provider records before persistence.
package normalize

import (
	"strings"
	"time"

	"github.com/loongquant/loong/internal/models"
)

// Code canonicalizes an equity code: provider suffixes are stripped and CN
// numeric codes are zero-padded to 6 characters.
func Code(raw string) string {
	code := strings.TrimSpace(raw)
	code = strings.ToUpper(code)

	// Strip provider suffix forms like 600000.SH or 000001.SZ.
	if idx := strings.Index(code, "."); idx > 0 {
		code = code[:idx]
	}
	// Strip prefix forms like sh600000 / sz000001.
	for _, prefix := range []string{"SH", "SZ", "BJ"} {
		if strings.HasPrefix(code, prefix) && len(code) > len(prefix) && isDigits(code[len(prefix):]) {
			code = code[len(prefix):]
			break
		}
	}

	if isDigits(code) && len(code) < 6 {
		code = strings.Repeat("0", 6-len(code)) + code
	}
	return code
}

// FullSymbol derives the exchange-suffixed symbol from a canonical CN code.
// Non-CN codes pass through without a suffix.
func FullSymbol(code string) string {
	if len(code) != 6 || !isDigits(code) {
		return code
	}
	switch {
	case strings.HasPrefix(code, "60"), strings.HasPrefix(code, "68"), strings.HasPrefix(code, "90"):
		return code + ".SS"
	case strings.HasPrefix(code, "00"), strings.HasPrefix(code, "30"), strings.HasPrefix(code, "20"):
		return code + ".SZ"
	case strings.HasPrefix(code, "8"), strings.HasPrefix(code, "4"):
		return code + ".BJ"
	default:
		return code
	}
}

// MarketOf maps a canonical CN code to its market board label.
func MarketOf(code string) string {
	switch {
	case strings.HasPrefix(code, "68"):
		return "科创板"
	case strings.HasPrefix(code, "60"), strings.HasPrefix(code, "90"):
		return "主板"
	case strings.HasPrefix(code, "00"), strings.HasPrefix(code, "20"):
		return "主板"
	case strings.HasPrefix(code, "30"):
		return "创业板"
	case strings.HasPrefix(code, "8"), strings.HasPrefix(code, "4"):
		return "北交所"
	default:
		return ""
	}
}

// WanToYi converts 10k-yuan amounts into 100M-yuan (亿元) units.
func WanToYi(v float64) float64 {
	return v / 10000
}

// YuanToYi converts yuan amounts into 100M-yuan (亿元) units.
func YuanToYi(v float64) float64 {
	return v / 1e8
}

// BasicInfo canonicalizes one basic-info record in place and stamps
// updated_at.
func BasicInfo(b *models.StockBasicInfo) *models.StockBasicInfo {
	b.Code = Code(b.Code)
	if b.FullSymbol == "" {
		b.FullSymbol = FullSymbol(b.Code)
	}
	if b.Market == "" {
		b.Market = MarketOf(b.Code)
	}
	b.UpdatedAt = time.Now().UTC()
	return b
}

// Quote canonicalizes one quote in place and stamps updated_at.
func Quote(q *models.Quote) *models.Quote {
	q.Code = Code(q.Code)
	if q.PreClose != 0 && q.Change == 0 && q.Price != 0 {
		q.Change = q.Price - q.PreClose
	}
	if q.PreClose != 0 && q.ChangePercent == 0 && q.Change != 0 {
		q.ChangePercent = q.Change / q.PreClose * 100
	}
	q.UpdatedAt = time.Now().UTC()
	return q
}

// Bars canonicalizes a bar slice in place, filling code, source and period
// where the provider left them blank.
func Bars(bars []*models.DailyBar, code, source, period string) []*models.DailyBar {
	now := time.Now().UTC()
	canonical := Code(code)
	for _, bar := range bars {
		if bar.Code == "" {
			bar.Code = canonical
		} else {
			bar.Code = Code(bar.Code)
		}
		if bar.Source == "" {
			bar.Source = source
		}
		if bar.Period == "" {
			bar.Period = period
		}
		bar.UpdatedAt = now
	}
	return bars
}

// Financials canonicalizes financial records in place.
func Financials(records []*models.FinancialRecord, symbol, source string) []*models.FinancialRecord {
	now := time.Now().UTC()
	canonical := Code(symbol)
	for _, rec := range records {
		if rec.Symbol == "" {
			rec.Symbol = canonical
		} else {
			rec.Symbol = Code(rec.Symbol)
		}
		if rec.Source == "" {
			rec.Source = source
		}
		if rec.ReportType == "" {
			rec.ReportType = reportTypeOf(rec.ReportPeriod)
		}
		rec.UpdatedAt = now
	}
	return records
}

// reportTypeOf classifies a YYYYMMDD report period: 1231 period-ends are
// annual reports, everything else quarterly.
func reportTypeOf(period string) string {
	if strings.HasSuffix(period, "1231") {
		return models.ReportAnnual
	}
	return models.ReportQuarterly
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
