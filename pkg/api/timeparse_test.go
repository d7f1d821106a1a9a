package api

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	now := time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"now", now},
		{"now()", now},
		{"30s", now.Add(-30 * time.Second)},
		{"15m", now.Add(-15 * time.Minute)},
		{"2h", now.Add(-2 * time.Hour)},
		{"1d", now.Add(-24 * time.Hour)},
		{"2w", now.Add(-14 * 24 * time.Hour)},
		{"2024-03-10T14:00:00Z", time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)},
		{"2024-03-10T14:00:00+02:00", time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
		// Naive times are read in the configured timezone (UTC+1 in March)
		{"2024-03-10T14:00:00", time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC)},
		{"2024-03-10 14:00:00", time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC)},
		{"2024-03-10", time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)},
		{"1710079200", time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseTime(tt.input, now, paris)
			if err != nil {
				t.Fatalf("parseTime(%q) failed: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseTime(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTimeRejectsInvalid(t *testing.T) {
	now := time.Now()
	for _, input := range []string{"", "yesterday", "1000d", "5y", "2024-13-01"} {
		if _, err := parseTime(input, now, time.UTC); err == nil {
			t.Errorf("Expected parseTime(%q) to fail", input)
		}
	}
}
