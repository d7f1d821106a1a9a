package api

import (
	"testing"
	"time"
)

func TestPresetsClampToFirstDate(t *testing.T) {
	last := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	first := last.Add(-3 * day)

	presets := Presets(first, last)
	if len(presets) != 7 {
		t.Fatalf("Expected 7 presets, got %d", len(presets))
	}

	expected := map[string]time.Time{
		"2h":  last.Add(-2 * time.Hour),
		"12h": last.Add(-12 * time.Hour),
		"1d":  last.Add(-day),
		"2d":  last.Add(-2 * day),
		"1w":  first,
		"1mo": first,
		"all": first,
	}
	for _, p := range presets {
		want, ok := expected[p.Name]
		if !ok {
			t.Errorf("Unexpected preset %s", p.Name)
			continue
		}
		if !p.Start.Equal(want) {
			t.Errorf("Preset %s: expected start %s, got %s", p.Name, want, p.Start)
		}
		if !p.Stop.Equal(last) {
			t.Errorf("Preset %s: expected stop %s, got %s", p.Name, last, p.Stop)
		}
	}
}

func TestSuggestedGroupBy(t *testing.T) {
	tests := []struct {
		span time.Duration
		want string
	}{
		{2 * time.Hour, ""},
		{day, ""},
		{2 * day, "1m"},
		{7 * day, "1m"},
		{8 * day, "10m"},
		{30 * day, "10m"},
		{90 * day, "30m"},
	}
	for _, tt := range tests {
		if got := SuggestedGroupBy(tt.span); got != tt.want {
			t.Errorf("SuggestedGroupBy(%s) = %q, want %q", tt.span, got, tt.want)
		}
	}
}
