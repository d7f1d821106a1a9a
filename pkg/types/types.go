package types

import (
	"fmt"
	"time"
)

// SeriesKey identifies one queryable series
type SeriesKey struct {
	Source      string `json:"source"`
	Measurement string `json:"measurement"`
	Field       string `json:"field"`
}

// String returns the key as source/measurement.field
func (k SeriesKey) String() string {
	if k.Source == "" {
		return k.Measurement + "." + k.Field
	}
	return k.Source + "/" + k.Measurement + "." + k.Field
}

// Less orders keys by source, measurement, then field
func (k SeriesKey) Less(other SeriesKey) bool {
	if k.Source != other.Source {
		return k.Source < other.Source
	}
	if k.Measurement != other.Measurement {
		return k.Measurement < other.Measurement
	}
	return k.Field < other.Field
}

// Sample represents a single time-series sample
type Sample struct {
	Timestamp time.Time `json:"time"`
	Value     float64   `json:"value"`
}

// TimeRange is the half-open interval [Start, Stop)
type TimeRange struct {
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
}

// Valid reports whether Start <= Stop
func (r TimeRange) Valid() bool {
	return !r.Start.After(r.Stop)
}

// In returns the range with both bounds expressed in loc
func (r TimeRange) In(loc *time.Location) TimeRange {
	return TimeRange{Start: r.Start.In(loc), Stop: r.Stop.In(loc)}
}

// Contains reports whether t falls in [Start, Stop)
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.Stop)
}

// Covers reports whether other lies entirely within r
func (r TimeRange) Covers(other TimeRange) bool {
	return !other.Start.Before(r.Start) && !other.Stop.After(r.Stop)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.Stop.Format(time.RFC3339))
}

// Field types reported by sources
const (
	FieldFloat   = "float"
	FieldInteger = "integer"
	FieldBoolean = "boolean"
	FieldString  = "string"
)

// FieldSchema describes the stored type of a series
type FieldSchema struct {
	Type string `json:"type"`
}

// Numeric reports whether the field can be plotted
func (f FieldSchema) Numeric() bool {
	switch f.Type {
	case FieldFloat, FieldInteger, FieldBoolean:
		return true
	}
	return false
}

// SeriesInfo holds schema and data bounds for one series
type SeriesInfo struct {
	Key   SeriesKey   `json:"key"`
	Field FieldSchema `json:"field"`
	// First and Last are zero when the series holds no data
	First time.Time `json:"first,omitempty"`
	Last  time.Time `json:"last,omitempty"`
}
