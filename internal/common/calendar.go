package common

import "time"

// shanghaiLocation is the exchange-local timezone for CN equities.
var shanghaiLocation = mustLoadLocation("Asia/Shanghai")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// CST has no DST; a fixed offset is equivalent.
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}

// IsTradingDay reports whether t falls on a CN exchange weekday.
// Public holidays are not modelled; providers report the authoritative
// latest trade date.
func IsTradingDay(t time.Time) bool {
	wd := t.In(shanghaiLocation).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsTradingTime reports whether t is inside CN continuous trading hours
// (09:30-11:30, 13:00-15:00 exchange local, weekdays).
func IsTradingTime(t time.Time) bool {
	local := t.In(shanghaiLocation)
	if !IsTradingDay(local) {
		return false
	}
	mins := local.Hour()*60 + local.Minute()
	morning := mins >= 9*60+30 && mins <= 11*60+30
	afternoon := mins >= 13*60 && mins <= 15*60
	return morning || afternoon
}

// DayStart returns midnight of t's calendar day in exchange-local time.
// Daily quota windows roll over at the exchange's midnight, not UTC's.
func DayStart(t time.Time) time.Time {
	local := t.In(shanghaiLocation)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, shanghaiLocation)
}

// TradeDate formats t as an exchange-local trade date (YYYY-MM-DD).
func TradeDate(t time.Time) string {
	return t.In(shanghaiLocation).Format("2006-01-02")
}

// FullHistoryStart is the earliest date full-history syncs reach back to.
// The CN providers carry data from 1990 onward.
const FullHistoryStart = "1990-01-01"
