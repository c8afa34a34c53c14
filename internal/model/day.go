package model

import (
	"fmt"
	"time"
)

// DateLayout is the wire format of report dates.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar day. The calendar day is
// taken from t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// PreviousDay returns the calendar day before now in loc.
func PreviousDay(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Day(now.In(loc).AddDate(0, 0, -1))
}
