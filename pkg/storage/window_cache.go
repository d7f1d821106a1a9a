package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

// WindowCache serves range queries from a per-series cached window,
// fetching only the part of a request that lies outside the window.
//
// Windows only grow. A query returns every cached sample with
// start <= t <= stop: both bounds are inclusive when filtering, while fetches
// use [start, stop). A sample sitting exactly on the boundary shared by two
// adjacent queries is therefore returned by both.
type WindowCache struct {
	source  Source
	loc     *time.Location
	metrics *CacheMetrics

	mu      sync.Mutex
	entries map[types.SeriesKey]*windowEntry

	hits        atomic.Uint64
	extensions  atomic.Uint64
	misses      atomic.Uint64
	fetches     atomic.Uint64
	fetchErrors atomic.Uint64
}

// windowEntry holds the cached samples of one series.
// samples is sorted, deduplicated and lies within window.
type windowEntry struct {
	mu      sync.Mutex
	ready   bool
	samples []types.Sample
	window  types.TimeRange
}

// Option configures a WindowCache
type Option func(*WindowCache)

// WithMetrics records cache activity in m
func WithMetrics(m *CacheMetrics) Option {
	return func(c *WindowCache) {
		c.metrics = m
	}
}

// NewWindowCache creates a cache over src. All bounds are converted to loc
// before being compared or stored; a nil loc means UTC.
func NewWindowCache(src Source, loc *time.Location, opts ...Option) *WindowCache {
	if loc == nil {
		loc = time.UTC
	}

	c := &WindowCache{
		source:  src,
		loc:     loc,
		entries: make(map[types.SeriesKey]*windowEntry),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Query returns the samples of key with start <= t <= stop
func (c *WindowCache) Query(ctx context.Context, key types.SeriesKey, start, stop time.Time) ([]types.Sample, error) {
	req := types.TimeRange{Start: start, Stop: stop}.In(c.loc)
	if !req.Valid() {
		return nil, fmt.Errorf("%w: start %s is after stop %s", ErrInvalidRange,
			req.Start.Format(time.RFC3339), req.Stop.Format(time.RFC3339))
	}

	entry := c.entry(key)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.ready {
		samples, err := c.fetch(ctx, key, req)
		if err != nil {
			return nil, err
		}

		entry.samples = samples
		entry.window = req
		entry.ready = true

		c.misses.Add(1)
		c.metrics.observeRequest("miss")
		return entry.slice(req), nil
	}

	window := entry.window
	if window.Covers(req) {
		c.hits.Add(1)
		c.metrics.observeRequest("hit")
		return entry.slice(req), nil
	}

	// Both sides are fetched before anything is committed so a failure
	// leaves the entry untouched.
	var prefix, suffix []types.Sample
	if req.Start.Before(window.Start) {
		var err error
		prefix, err = c.fetch(ctx, key, types.TimeRange{Start: req.Start, Stop: window.Start})
		if err != nil {
			return nil, err
		}
	}
	if req.Stop.After(window.Stop) {
		var err error
		suffix, err = c.fetch(ctx, key, types.TimeRange{Start: window.Stop, Stop: req.Stop})
		if err != nil {
			return nil, err
		}
	}

	merged := make([]types.Sample, 0, len(prefix)+len(entry.samples)+len(suffix))
	merged = append(merged, prefix...)
	merged = append(merged, entry.samples...)
	merged = append(merged, suffix...)
	entry.samples = merged

	if req.Start.Before(window.Start) {
		entry.window.Start = req.Start
	}
	if req.Stop.After(window.Stop) {
		entry.window.Stop = req.Stop
	}

	c.extensions.Add(1)
	c.metrics.observeRequest("extend")

	log.Debug().
		Stringer("series", key).
		Stringer("window", entry.window).
		Int("prefix", len(prefix)).
		Int("suffix", len(suffix)).
		Msg("window extended")

	return entry.slice(req), nil
}

// CachedRange returns the window currently held for key
func (c *WindowCache) CachedRange(key types.SeriesKey) (types.TimeRange, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return types.TimeRange{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.ready {
		return types.TimeRange{}, false
	}
	return entry.window, true
}

// Keys returns the cached series in key order
func (c *WindowCache) Keys() []types.SeriesKey {
	c.mu.Lock()
	candidates := make([]*windowEntry, 0, len(c.entries))
	keys := make([]types.SeriesKey, 0, len(c.entries))
	for key, entry := range c.entries {
		keys = append(keys, key)
		candidates = append(candidates, entry)
	}
	c.mu.Unlock()

	result := make([]types.SeriesKey, 0, len(keys))
	for i, entry := range candidates {
		entry.mu.Lock()
		ready := entry.ready
		entry.mu.Unlock()
		if ready {
			result = append(result, keys[i])
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Less(result[j]) })
	return result
}

// CacheStats contains window cache statistics
type CacheStats struct {
	Entries     int    `json:"entries"`
	Hits        uint64 `json:"hits"`
	Extensions  uint64 `json:"extensions"`
	Misses      uint64 `json:"misses"`
	Fetches     uint64 `json:"fetches"`
	FetchErrors uint64 `json:"fetch_errors"`
}

// HitRate returns the share of queries answered without any fetch, as a percentage
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Extensions + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}

// Stats returns cache statistics
func (c *WindowCache) Stats() CacheStats {
	return CacheStats{
		Entries:     len(c.Keys()),
		Hits:        c.hits.Load(),
		Extensions:  c.extensions.Load(),
		Misses:      c.misses.Load(),
		Fetches:     c.fetches.Load(),
		FetchErrors: c.fetchErrors.Load(),
	}
}

// entry returns the entry for key, creating an empty one if needed
func (c *WindowCache) entry(key types.SeriesKey) *windowEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		entry = &windowEntry{}
		c.entries[key] = entry
	}
	return entry
}

// fetch reads r from the source and normalizes the result so that it is
// sorted, deduplicated, expressed in the cache timezone and inside r.
func (c *WindowCache) fetch(ctx context.Context, key types.SeriesKey, r types.TimeRange) ([]types.Sample, error) {
	c.fetches.Add(1)

	samples, err := c.source.Fetch(ctx, key, r.Start, r.Stop)
	c.metrics.observeFetch(len(samples), err)
	if err != nil {
		c.fetchErrors.Add(1)
		log.Warn().Err(err).Stringer("series", key).Stringer("range", r).Msg("window cache fetch failed")
		return nil, &FetchError{Key: key, Range: r, Err: err}
	}

	return normalizeSamples(samples, r, c.loc), nil
}

// slice copies the samples with r.Start <= t <= r.Stop
func (e *windowEntry) slice(r types.TimeRange) []types.Sample {
	lo := sort.Search(len(e.samples), func(i int) bool {
		return !e.samples[i].Timestamp.Before(r.Start)
	})
	hi := sort.Search(len(e.samples), func(i int) bool {
		return e.samples[i].Timestamp.After(r.Stop)
	})
	if lo >= hi {
		return []types.Sample{}
	}

	result := make([]types.Sample, hi-lo)
	copy(result, e.samples[lo:hi])
	return result
}

// normalizeSamples keeps the samples inside r, converts them to loc,
// sorts them and drops repeated timestamps (the last one wins)
func normalizeSamples(samples []types.Sample, r types.TimeRange, loc *time.Location) []types.Sample {
	result := make([]types.Sample, 0, len(samples))
	for _, s := range samples {
		if !r.Contains(s.Timestamp) {
			continue
		}
		result = append(result, types.Sample{Timestamp: s.Timestamp.In(loc), Value: s.Value})
	}

	if !sort.SliceIsSorted(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) }) {
		sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	}

	return dedupeSorted(result)
}

// dedupeSorted removes consecutive samples sharing a timestamp, keeping the last
func dedupeSorted(samples []types.Sample) []types.Sample {
	if len(samples) < 2 {
		return samples
	}

	out := samples[:1]
	for _, s := range samples[1:] {
		if s.Timestamp.Equal(out[len(out)-1].Timestamp) {
			out[len(out)-1] = s
			continue
		}
		out = append(out, s)
	}
	return out
}
