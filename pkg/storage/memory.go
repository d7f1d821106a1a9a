package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

// MemorySource is a concurrency-safe in-memory Source.
// It ignores the Source part of keys.
type MemorySource struct {
	mu     sync.RWMutex
	series map[types.SeriesKey]*memorySeries
}

type memorySeries struct {
	field   types.FieldSchema
	samples []types.Sample
}

// NewMemorySource creates an empty MemorySource
func NewMemorySource() *MemorySource {
	return &MemorySource{
		series: make(map[types.SeriesKey]*memorySeries),
	}
}

func memoryKey(key types.SeriesKey) types.SeriesKey {
	key.Source = ""
	return key
}

// Write implements Writer. Samples are merged by timestamp, later writes win.
func (m *MemorySource) Write(ctx context.Context, key types.SeriesKey, samples []types.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memoryKey(key)
	s, ok := m.series[k]
	if !ok {
		s = &memorySeries{field: types.FieldSchema{Type: types.FieldFloat}}
		m.series[k] = s
	}
	s.samples = mergeSamples(s.samples, samples)
	return nil
}

// Fetch implements Source
func (m *MemorySource) Fetch(ctx context.Context, key types.SeriesKey, start, stop time.Time) ([]types.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.series[memoryKey(key)]
	if !ok {
		return nil, nil
	}

	lo := sort.Search(len(s.samples), func(i int) bool { return !s.samples[i].Timestamp.Before(start) })
	hi := sort.Search(len(s.samples), func(i int) bool { return !s.samples[i].Timestamp.Before(stop) })
	if lo >= hi {
		return nil, nil
	}

	result := make([]types.Sample, hi-lo)
	copy(result, s.samples[lo:hi])
	return result, nil
}

// FirstTimestamp implements Source
func (m *MemorySource) FirstTimestamp(ctx context.Context, key types.SeriesKey) (time.Time, error) {
	sample, err := m.edge(key, true)
	return sample.Timestamp, err
}

// LastTimestamp implements Source
func (m *MemorySource) LastTimestamp(ctx context.Context, key types.SeriesKey) (time.Time, error) {
	sample, err := m.edge(key, false)
	return sample.Timestamp, err
}

// Latest implements LatestReader
func (m *MemorySource) Latest(ctx context.Context, key types.SeriesKey) (types.Sample, error) {
	return m.edge(key, false)
}

func (m *MemorySource) edge(key types.SeriesKey, first bool) (types.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.series[memoryKey(key)]
	if !ok {
		return types.Sample{}, ErrSeriesNotFound
	}
	if len(s.samples) == 0 {
		return types.Sample{}, ErrNoData
	}
	if first {
		return s.samples[0], nil
	}
	return s.samples[len(s.samples)-1], nil
}

// ListSeries implements Source
func (m *MemorySource) ListSeries(ctx context.Context) (map[types.SeriesKey]types.FieldSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[types.SeriesKey]types.FieldSchema, len(m.series))
	for key, s := range m.series {
		result[key] = s.field
	}
	return result, nil
}

// mergeSamples merges incoming into existing sorted samples,
// replacing values that share a timestamp
func mergeSamples(existing, incoming []types.Sample) []types.Sample {
	merged := make([]types.Sample, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	merged = append(merged, incoming...)
	// Stable sort keeps incoming after existing for equal timestamps
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
	return dedupeSorted(merged)
}
