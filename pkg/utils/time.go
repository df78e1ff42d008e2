package utils

import (
	"fmt"
	"time"
)

// TimestampLayout is the layout watermarks are persisted and parsed with.
const TimestampLayout = "2006-01-02 15:04:05.999999"

// Now returns the current time in UTC timezone
func Now() time.Time {
	return time.Now().UTC()
}

// FormatISO8601 formats a time.Time to ISO8601 format in UTC
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FormatTimestamp renders t in TimestampLayout, UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts TimestampLayout or RFC3339 and returns a UTC time.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// MustParseTimestamp is ParseTimestamp for compile-time constants.
func MustParseTimestamp(value string) time.Time {
	t, err := ParseTimestamp(value)
	if err != nil {
		panic(err)
	}
	return t
}
