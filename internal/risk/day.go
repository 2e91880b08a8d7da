package risk

import (
	"fmt"
	"time"
)

// TradingDay formats t as the exchange-local day key.
func TradingDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// isoWeekKey collapses a day key to its ISO year-week, the basis for the
// weekly drawdown window.
func isoWeekKey(day string) string {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return day
	}
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}
