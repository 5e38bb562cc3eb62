package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical civil-date encoding used in storage and transports.
const DateLayout = "2006-01-02"

// acceptedDateLayouts lists input layouts accepted from forms and import files.
var acceptedDateLayouts = []string{
	DateLayout,
	"02-01-2006",
	"02/01/2006",
	"2006/01/02",
	time.RFC3339,
}

// CivilDate returns the calendar date of t in loc as a UTC-midnight timestamp.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a civil date value.
func Date(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

// ParseDate parses one optional civil date. Empty input yields nil.
func ParseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range acceptedDateLayouts {
		parsed, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		return normalizeDate(&parsed), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// FormatDate renders an optional civil date, empty when absent.
func FormatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.UTC().Format(DateLayout)
}

// normalizeDate keeps only the calendar components of d.
func normalizeDate(d *time.Time) *time.Time {
	if d == nil {
		return nil
	}
	y, m, day := d.Date()
	out := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return &out
}

// equalDates compares two optional civil dates.
func equalDates(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
