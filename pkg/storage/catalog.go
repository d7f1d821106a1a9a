package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

// Catalog lists the series of a source with their data bounds
type Catalog struct {
	Series map[types.SeriesKey]types.SeriesInfo
	// First and Last span every series holding data
	First time.Time
	Last  time.Time
}

// Discover builds a Catalog from src. Nothing is cached; callers are
// expected to run it once per dashboard session.
func Discover(ctx context.Context, src Source) (*Catalog, error) {
	schema, err := src.ListSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}

	cat := &Catalog{Series: make(map[types.SeriesKey]types.SeriesInfo, len(schema))}
	for key, field := range schema {
		info := types.SeriesInfo{Key: key, Field: field}

		first, err := src.FirstTimestamp(ctx, key)
		if err != nil && !isMissing(err) {
			return nil, fmt.Errorf("failed to read first timestamp of %s: %w", key, err)
		}
		if err == nil {
			last, err := src.LastTimestamp(ctx, key)
			if err != nil && !isMissing(err) {
				return nil, fmt.Errorf("failed to read last timestamp of %s: %w", key, err)
			}
			if err == nil {
				info.First = first
				info.Last = last
				cat.extend(first, last)
			}
		}

		cat.Series[key] = info
	}

	return cat, nil
}

func isMissing(err error) bool {
	return errors.Is(err, ErrNoData) || errors.Is(err, ErrSeriesNotFound)
}

func (c *Catalog) extend(first, last time.Time) {
	if c.First.IsZero() || first.Before(c.First) {
		c.First = first
	}
	if c.Last.IsZero() || last.After(c.Last) {
		c.Last = last
	}
}

// Empty reports whether no series holds data
func (c *Catalog) Empty() bool {
	return c.First.IsZero() && c.Last.IsZero()
}

// Selectable returns the numeric series in key order
func (c *Catalog) Selectable() []types.SeriesInfo {
	result := make([]types.SeriesInfo, 0, len(c.Series))
	for _, info := range c.Series {
		if info.Field.Numeric() {
			result = append(result, info)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key.Less(result[j].Key) })
	return result
}

// Mean returns the average value of key over [start, stop)
func Mean(ctx context.Context, src Source, key types.SeriesKey, start, stop time.Time) (float64, error) {
	if start.After(stop) {
		return 0, ErrInvalidRange
	}

	samples, err := src.Fetch(ctx, key, start, stop)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, ErrNoData
	}

	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples)), nil
}
