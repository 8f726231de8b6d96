package core

import "time"

// TimeFormat is the wire and storage timestamp format: UTC, millisecond
// precision, RFC 3339 compatible.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeFormat, converting to UTC first.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time in TimeFormat.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// ParseTime parses a TimeFormat timestamp, accepting plain RFC 3339 too.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
