package api

import (
	"errors"
	"regexp"
	"strconv"
	"time"
)

// Relative bounds such as 2h or 30d mean "now minus"
var relativePattern = regexp.MustCompile(`^(\d{1,3})([smhdw])$`)

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

var errInvalidTime = errors.New("invalid time; use RFC3339, a local date-time, unix seconds, now or <1-3 digits><s|m|h|d|w>")

// parseTime resolves a time bound relative to now. Naive date-times are
// read in loc.
func parseTime(s string, now time.Time, loc *time.Location) (time.Time, error) {
	if s == "now" || s == "now()" {
		return now, nil
	}

	if m := relativePattern.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.Add(-time.Duration(n) * unitDuration(m[2])), nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}

	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}

	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}

	return time.Time{}, errInvalidTime
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "s":
		return time.Second
	case "m":
		return time.Minute
	case "h":
		return time.Hour
	case "d":
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}
