package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

// Source defines the contract for a time-series data source
type Source interface {
	// Fetch returns the samples with start <= t < stop in ascending order
	Fetch(ctx context.Context, key types.SeriesKey, start, stop time.Time) ([]types.Sample, error)

	// FirstTimestamp returns the earliest stored timestamp of a series
	FirstTimestamp(ctx context.Context, key types.SeriesKey) (time.Time, error)

	// LastTimestamp returns the latest stored timestamp of a series
	LastTimestamp(ctx context.Context, key types.SeriesKey) (time.Time, error)

	// ListSeries returns every known series with its field schema
	ListSeries(ctx context.Context) (map[types.SeriesKey]types.FieldSchema, error)
}

// LatestReader is implemented by sources that can return the most recent sample
type LatestReader interface {
	Latest(ctx context.Context, key types.SeriesKey) (types.Sample, error)
}

// Writer is implemented by sources accepting new samples
type Writer interface {
	Write(ctx context.Context, key types.SeriesKey, samples []types.Sample) error
}

var (
	// ErrInvalidRange is returned when a range starts after it stops
	ErrInvalidRange = errors.New("invalid time range")
	// ErrSourceUnavailable is returned when a source cannot be reached
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrQueryFailed is returned when a source rejects a query
	ErrQueryFailed = errors.New("query failed")
	// ErrSeriesNotFound is returned for series unknown to a source
	ErrSeriesNotFound = errors.New("series not found")
	// ErrUnknownSource is returned when no source is registered under a key's source name
	ErrUnknownSource = errors.New("unknown source")
	// ErrNoData is returned when a lookup finds no samples
	ErrNoData = errors.New("no data")
	// ErrReadOnly is returned when writing to a source that does not accept writes
	ErrReadOnly = errors.New("source is read-only")
)

// SourceError reports a failed operation against a named source
type SourceError struct {
	Source string
	Op     string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// FetchError reports a failed fetch issued by the window cache
type FetchError struct {
	Key   types.SeriesKey
	Range types.TimeRange
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s %s: %v", e.Key, e.Range, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
