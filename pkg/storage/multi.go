package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

// MultiSource exposes several named sources as one.
// Calls are routed by the Source part of the series key.
type MultiSource struct {
	sources map[string]Source
}

// NewMultiSource creates a MultiSource from named sources
func NewMultiSource(sources map[string]Source) *MultiSource {
	m := &MultiSource{sources: make(map[string]Source, len(sources))}
	for name, src := range sources {
		m.sources[name] = src
	}
	return m
}

// Names returns the registered source names in order
func (m *MultiSource) Names() []string {
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *MultiSource) route(key types.SeriesKey) (Source, error) {
	src, ok := m.sources[key.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, key.Source)
	}
	return src, nil
}

// Fetch implements Source
func (m *MultiSource) Fetch(ctx context.Context, key types.SeriesKey, start, stop time.Time) ([]types.Sample, error) {
	src, err := m.route(key)
	if err != nil {
		return nil, err
	}
	return src.Fetch(ctx, key, start, stop)
}

// FirstTimestamp implements Source
func (m *MultiSource) FirstTimestamp(ctx context.Context, key types.SeriesKey) (time.Time, error) {
	src, err := m.route(key)
	if err != nil {
		return time.Time{}, err
	}
	return src.FirstTimestamp(ctx, key)
}

// LastTimestamp implements Source
func (m *MultiSource) LastTimestamp(ctx context.Context, key types.SeriesKey) (time.Time, error) {
	src, err := m.route(key)
	if err != nil {
		return time.Time{}, err
	}
	return src.LastTimestamp(ctx, key)
}

// ListSeries implements Source. Keys are stamped with their source name.
func (m *MultiSource) ListSeries(ctx context.Context) (map[types.SeriesKey]types.FieldSchema, error) {
	result := make(map[types.SeriesKey]types.FieldSchema)
	for _, name := range m.Names() {
		series, err := m.sources[name].ListSeries(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list series of %s: %w", name, err)
		}
		for key, schema := range series {
			key.Source = name
			result[key] = schema
		}
	}
	return result, nil
}

// Latest implements LatestReader for sources that support it
func (m *MultiSource) Latest(ctx context.Context, key types.SeriesKey) (types.Sample, error) {
	src, err := m.route(key)
	if err != nil {
		return types.Sample{}, err
	}
	reader, ok := src.(LatestReader)
	if !ok {
		return types.Sample{}, fmt.Errorf("source %s cannot report latest samples: %w", key.Source, ErrQueryFailed)
	}
	return reader.Latest(ctx, key)
}

// Write implements Writer for sources that support it
func (m *MultiSource) Write(ctx context.Context, key types.SeriesKey, samples []types.Sample) error {
	src, err := m.route(key)
	if err != nil {
		return err
	}
	w, ok := src.(Writer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReadOnly, key.Source)
	}
	return w.Write(ctx, key, samples)
}
