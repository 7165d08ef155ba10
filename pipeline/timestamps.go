package pipeline

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Epoch values below this are taken as seconds, above as milliseconds. 1e11 seconds is the
// year 5138; 1e11 milliseconds is March 1973.
const epochMillisCutoff = 1e11

// RecordTime derives a record's creation time from its create_time cell (unix epoch, seconds or
// milliseconds) or, failing that, its free-form date cell. Naive dates are read in loc; nil
// means UTC. Non-positive epochs count as unset so they never surface as 1970 dates.
func RecordTime(createTime, date string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	if t, ok := epochTime(createTime); ok {
		return t, true
	}
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(date, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func epochTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return time.Time{}, false
	}
	if v < epochMillisCutoff {
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
	}
	return time.UnixMilli(int64(math.Round(v))).UTC(), true
}

// CreatedAt formats RecordTime as RFC 3339 UTC, or "" when the row has no usable time.
func CreatedAt(createTime, date string, loc *time.Location) string {
	t, ok := RecordTime(createTime, date, loc)
	if !ok {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ParseCreatedAt reads back a created_at cell.
func ParseCreatedAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
