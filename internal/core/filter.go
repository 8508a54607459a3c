package core

import (
	"fmt"
	"strings"
	"time"
)

// FilterKind selects how the dashboard restricts records by date.
type FilterKind string

const (
	FilterAll   FilterKind = "all"
	FilterDay   FilterKind = "day"
	FilterMonth FilterKind = "month"
	FilterRange FilterKind = "range"
)

// DateFilter restricts aggregation to records whose test date (or creation
// date) falls inside an inclusive window. The zero value matches everything.
type DateFilter struct {
	Kind  FilterKind `json:"kind"`
	Start string     `json:"start,omitempty"`
	End   string     `json:"end,omitempty"`
}

// AllDates matches every record, including those without any date.
func AllDates() DateFilter { return DateFilter{Kind: FilterAll} }

// Day matches records of one calendar day (YYYY-MM-DD).
func Day(day string) (DateFilter, error) {
	d := normalizeDate(day)
	if d == "" {
		return DateFilter{}, fmt.Errorf("invalid day %q", day)
	}
	return DateFilter{Kind: FilterDay, Start: d, End: d}, nil
}

// Month matches records of one calendar month (YYYY-MM).
func Month(month string) (DateFilter, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(month))
	if err != nil {
		return DateFilter{}, fmt.Errorf("invalid month %q: %w", month, err)
	}
	last := t.AddDate(0, 1, -1)
	return DateFilter{Kind: FilterMonth, Start: t.Format("2006-01-02"), End: last.Format("2006-01-02")}, nil
}

// Range matches records between start and end inclusive. A missing bound
// widens the filter to all records.
func Range(start, end string) (DateFilter, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return AllDates(), nil
	}
	s, e := normalizeDate(start), normalizeDate(end)
	if s == "" || e == "" {
		return DateFilter{}, fmt.Errorf("invalid range %q..%q", start, end)
	}
	if s > e {
		s, e = e, s
	}
	return DateFilter{Kind: FilterRange, Start: s, End: e}, nil
}

// ParseFilter builds a filter from query-style parameters. Empty day and month
// values default to the day or month of now.
func ParseFilter(kind, day, month, start, end string, now time.Time) (DateFilter, error) {
	switch FilterKind(strings.TrimSpace(kind)) {
	case "", FilterAll:
		return AllDates(), nil
	case FilterDay:
		if strings.TrimSpace(day) == "" {
			day = now.Format("2006-01-02")
		}
		return Day(day)
	case FilterMonth:
		if strings.TrimSpace(month) == "" {
			month = now.Format("2006-01")
		}
		return Month(month)
	case FilterRange:
		return Range(start, end)
	default:
		return DateFilter{}, fmt.Errorf("unknown filter %q", kind)
	}
}

// Matches reports whether the record falls inside the filter window.
func (f DateFilter) Matches(r Record) bool {
	if f.Kind == "" || f.Kind == FilterAll {
		return true
	}
	d := r.Date()
	if d == "" {
		return false
	}
	return d >= f.Start && d <= f.End
}

// Describe renders the human readable window label shown on the dashboard.
func (f DateFilter) Describe() string {
	switch f.Kind {
	case FilterDay:
		return f.Start + " 当日"
	case FilterMonth:
		return f.Start[:7] + " 月"
	case FilterRange:
		return f.Start + " 至 " + f.End
	default:
		return "全部数据"
	}
}
