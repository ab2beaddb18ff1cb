// Package datetime parses the date and timestamp formats accepted by the API.
package datetime

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	DateLayout,
}

// Parse accepts RFC 3339 timestamps, zone-less timestamps (read as UTC) and
// plain dates (midnight UTC).
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// ParseOptional returns nil for an empty string.
func ParseOptional(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EndOfDay widens a date-only upper bound so that it includes the whole day.
func EndOfDay(raw string, t time.Time) time.Time {
	if len(strings.TrimSpace(raw)) == len(DateLayout) {
		return t.Add(24*time.Hour - time.Nanosecond)
	}
	return t
}
