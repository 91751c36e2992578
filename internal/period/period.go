package period

import (
	"fmt"
	"time"
)

// week is the length of one reporting window.
const week = 7 * 24 * time.Hour

// StatWeekCount is the number of trailing weeks covered by repository
// statistics, ending at the current reporting week.
const StatWeekCount = 5

// TimeRange is a half-open interval [Start, End) in UTC.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Period pairs the current reporting week with the week before it, for
// week-over-week comparison. Current.Start always equals Previous.End.
type Period struct {
	Previous TimeRange `json:"previous"`
	Current  TimeRange `json:"current"`
}

// New builds a Period from the start of the reporting week. The start must be
// a Sunday; it is normalized to midnight UTC.
func New(weekStart time.Time) (Period, error) {
	ws := time.Date(weekStart.Year(), weekStart.Month(), weekStart.Day(), 0, 0, 0, 0, time.UTC)
	if ws.Weekday() != time.Sunday {
		return Period{}, fmt.Errorf("week start %s is a %s, must be a Sunday", ws.Format("2006-01-02"), ws.Weekday())
	}
	return Period{
		Previous: TimeRange{Start: ws.Add(-week), End: ws},
		Current:  TimeRange{Start: ws, End: ws.Add(week)},
	}, nil
}

// Parse builds a Period from a YYYY-MM-DD week-start date.
func Parse(weekStart string) (Period, error) {
	t, err := time.Parse("2006-01-02", weekStart)
	if err != nil {
		return Period{}, fmt.Errorf("invalid week start %q: %w", weekStart, err)
	}
	return New(t)
}

// WeekOf returns the start of the reporting week containing t: the most
// recent Sunday at midnight UTC.
func WeekOf(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.Add(-time.Duration(day.Weekday()) * 24 * time.Hour)
}

// StatWeeks returns the starts of the StatWeekCount most recent weeks ending
// at the current reporting week, oldest first.
func (p Period) StatWeeks() []time.Time {
	weeks := make([]time.Time, StatWeekCount)
	for i := range weeks {
		weeks[i] = p.Current.Start.Add(-time.Duration(StatWeekCount-1-i) * week)
	}
	return weeks
}

// StatWindow returns the range covered by StatWeeks: from the start of the
// oldest statistics week to the end of the current week.
func (p Period) StatWindow() TimeRange {
	return TimeRange{
		Start: p.Current.Start.Add(-(StatWeekCount - 1) * week),
		End:   p.Current.End,
	}
}
