package api

import "time"

const day = 24 * time.Hour

// Preset is a named date range ending at the last recorded date
type Preset struct {
	Name    string    `json:"name"`
	Start   time.Time `json:"start"`
	Stop    time.Time `json:"stop"`
	GroupBy string    `json:"group_by,omitempty"`
}

var presetSpans = []struct {
	name string
	span time.Duration
}{
	{"2h", 2 * time.Hour},
	{"12h", 12 * time.Hour},
	{"1d", day},
	{"2d", 2 * day},
	{"1w", 7 * day},
	{"1mo", 30 * day},
}

// Presets returns the standard date ranges over [first, last].
// Starts never precede first.
func Presets(first, last time.Time) []Preset {
	presets := make([]Preset, 0, len(presetSpans)+1)
	for _, p := range presetSpans {
		start := last.Add(-p.span)
		if start.Before(first) {
			start = first
		}
		presets = append(presets, newPreset(p.name, start, last))
	}
	return append(presets, newPreset("all", first, last))
}

func newPreset(name string, start, stop time.Time) Preset {
	return Preset{
		Name:    name,
		Start:   start,
		Stop:    stop,
		GroupBy: SuggestedGroupBy(stop.Sub(start)),
	}
}

// SuggestedGroupBy returns the aggregation interval suited to plotting a
// range of length d, or "" for raw points
func SuggestedGroupBy(d time.Duration) string {
	switch {
	case d > 30*day:
		return "30m"
	case d > 7*day:
		return "10m"
	case d > day:
		return "1m"
	}
	return ""
}
