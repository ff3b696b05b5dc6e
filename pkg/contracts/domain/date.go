package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical on-disk and in-warehouse date format
const DateLayout = "2006-01-02"

// MonthLayout is the period label used for monthly metrics
const MonthLayout = "2006-01"

// accepted input layouts, tried in order
var dateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
}

// ParseDate parses a date in any accepted layout and truncates it to UTC midnight
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Day truncates t to midnight UTC of its calendar date
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate formats t with DateLayout
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// MonthKey returns the YYYY-MM period label of t
func MonthKey(t time.Time) string {
	return t.Format(MonthLayout)
}

// Horizon is an inclusive range of calendar dates
type Horizon struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewHorizon parses start and end dates into a validated horizon
func NewHorizon(start, end string) (Horizon, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Horizon{}, fmt.Errorf("horizon start: %w", err)
	}
	e, err := ParseDate(end)
	if err != nil {
		return Horizon{}, fmt.Errorf("horizon end: %w", err)
	}
	h := Horizon{Start: s, End: e}
	if err := h.Validate(); err != nil {
		return Horizon{}, err
	}
	return h, nil
}

// Validate checks that the horizon is non-empty and ordered
func (h Horizon) Validate() error {
	if h.Start.IsZero() || h.End.IsZero() {
		return fmt.Errorf("horizon start and end are required")
	}
	if h.End.Before(h.Start) {
		return fmt.Errorf("horizon end %s is before start %s", FormatDate(h.End), FormatDate(h.Start))
	}
	return nil
}

// Contains reports whether d falls inside the horizon
func (h Horizon) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(h.Start) && !d.After(h.End)
}

// Days returns every calendar date of the horizon in order
func (h Horizon) Days() []time.Time {
	if h.End.Before(h.Start) {
		return nil
	}
	days := make([]time.Time, 0, int(h.End.Sub(h.Start).Hours()/24)+1)
	for d := h.Start; !d.After(h.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Label returns the period label used for whole-horizon metrics
func (h Horizon) Label() string {
	return FormatDate(h.Start) + ".." + FormatDate(h.End)
}
