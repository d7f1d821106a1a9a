package storage

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

// Index maps series keys to fingerprints and tracks their time bounds
type Index struct {
	mu sync.RWMutex
	// Maps fingerprint to series metadata
	series map[uint64]*seriesMetadata
}

// seriesMetadata holds metadata about a single series.
// MinTime and MaxTime are unix nanoseconds, meaningful only when HasData is set.
type seriesMetadata struct {
	ID      uint64            `json:"id"`
	Key     types.SeriesKey   `json:"key"`
	Field   types.FieldSchema `json:"field"`
	HasData bool              `json:"has_data"`
	MinTime int64             `json:"min_time"`
	MaxTime int64             `json:"max_time"`
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		series: make(map[uint64]*seriesMetadata),
	}
}

// AddSeries registers key and returns its fingerprint.
// The second result is true when the series was not indexed yet.
func (idx *Index) AddSeries(key types.SeriesKey, field types.FieldSchema) (uint64, bool) {
	key.Source = ""
	id := Fingerprint(key)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.series[id]; exists {
		return id, false
	}

	idx.series[id] = &seriesMetadata{ID: id, Key: key, Field: field}
	return id, true
}

// load inserts previously persisted metadata
func (idx *Index) load(meta seriesMetadata) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	m := meta
	idx.series[meta.ID] = &m
}

// GetSeries retrieves a copy of the series metadata
func (idx *Index) GetSeries(key types.SeriesKey) (seriesMetadata, bool) {
	key.Source = ""

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	meta, ok := idx.series[Fingerprint(key)]
	if !ok {
		return seriesMetadata{}, false
	}
	return *meta, true
}

// All returns a copy of every series metadata
func (idx *Index) All() []seriesMetadata {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := make([]seriesMetadata, 0, len(idx.series))
	for _, meta := range idx.series {
		result = append(result, *meta)
	}
	return result
}

// UpdateTimeRange widens the bounds of a series and returns the updated metadata
func (idx *Index) UpdateTimeRange(id uint64, minTime, maxTime int64) (seriesMetadata, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	meta, ok := idx.series[id]
	if !ok {
		return seriesMetadata{}, false
	}

	if !meta.HasData || minTime < meta.MinTime {
		meta.MinTime = minTime
	}
	if !meta.HasData || maxTime > meta.MaxTime {
		meta.MaxTime = maxTime
	}
	meta.HasData = true

	return *meta, true
}

// SeriesCount returns the number of indexed series
func (idx *Index) SeriesCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.series)
}

// Fingerprint hashes the measurement and field of key
func Fingerprint(key types.SeriesKey) uint64 {
	d := xxhash.New()
	d.WriteString(key.Measurement)
	d.Write([]byte{0})
	d.WriteString(key.Field)
	return d.Sum64()
}
