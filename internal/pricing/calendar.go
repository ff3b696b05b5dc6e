package pricing

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"

	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Calendar decides which dates are trading days. An empty MIC treats every
// calendar day as a trading day; an unknown MIC falls back to Monday to Friday.
type Calendar struct {
	MIC      string
	cal      *calendar.Calendar
	fallback bool
}

// NewCalendar returns the exchange calendar for a MIC such as "xnys"
func NewCalendar(mic string) *Calendar {
	mic = strings.ToLower(strings.TrimSpace(mic))
	if mic == "" {
		return &Calendar{}
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		return &Calendar{MIC: mic, fallback: true}
	}
	return &Calendar{MIC: mic, cal: cal}
}

// IsTradingDay reports whether the exchange is open on d's calendar date
func (c *Calendar) IsTradingDay(d time.Time) bool {
	if c == nil || c.MIC == "" {
		return true
	}
	if c.fallback {
		wd := d.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	// the date is taken at noon exchange time so a UTC midnight never shifts it a day back
	y, m, dd := d.Date()
	return c.cal.IsBusinessDay(time.Date(y, m, dd, 12, 0, 0, 0, c.cal.Loc))
}

// TradingDays filters the horizon to trading days, in order
func (c *Calendar) TradingDays(h domain.Horizon) []time.Time {
	days := h.Days()
	out := days[:0:0]
	for _, d := range days {
		if c.IsTradingDay(d) {
			out = append(out, d)
		}
	}
	return out
}
