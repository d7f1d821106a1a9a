package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

func openTestStore(t *testing.T, path string, wal bool) *LocalStore {
	t.Helper()

	store, err := NewLocalStore(&Config{
		Path:             path,
		CompressionLevel: 3,
		EnableWAL:        wal,
	})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return store
}

func TestLocalStoreWriteAndFetch(t *testing.T) {
	store := openTestStore(t, t.TempDir(), false)
	defer store.Close()

	ctx := context.Background()
	key := types.SeriesKey{Source: "local", Measurement: "sensor", Field: "temperature"}
	base := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	// Spans three hourly blocks
	samples := []types.Sample{
		{Timestamp: base, Value: 19.5},
		{Timestamp: base.Add(40 * time.Minute), Value: 20.0},
		{Timestamp: base.Add(90 * time.Minute), Value: 21.0},
		{Timestamp: base.Add(150 * time.Minute), Value: 22.5},
	}
	if err := store.Write(ctx, key, samples); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	result, err := store.Fetch(ctx, key, base, base.Add(150*time.Minute))
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	// Stop is exclusive
	if len(result) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(result))
	}
	for i := range result {
		if !result[i].Timestamp.Equal(samples[i].Timestamp) || result[i].Value != samples[i].Value {
			t.Errorf("Sample %d: expected %+v, got %+v", i, samples[i], result[i])
		}
	}

	result, err = store.Fetch(ctx, key, base.Add(time.Minute), base.Add(91*time.Minute))
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if len(result) != 2 || result[0].Value != 20.0 || result[1].Value != 21.0 {
		t.Errorf("Expected values [20 21], got %v", values(result))
	}

	result, err = store.Fetch(ctx, types.SeriesKey{Measurement: "sensor", Field: "missing"}, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to fetch unknown series: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("Expected no samples for unknown series, got %d", len(result))
	}
}

func TestLocalStoreMergesWrites(t *testing.T) {
	store := openTestStore(t, t.TempDir(), false)
	defer store.Close()

	ctx := context.Background()
	key := types.SeriesKey{Measurement: "linky", Field: "papp"}
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first := []types.Sample{
		{Timestamp: base.Add(10 * time.Minute), Value: 1},
		{Timestamp: base.Add(30 * time.Minute), Value: 3},
	}
	second := []types.Sample{
		{Timestamp: base.Add(20 * time.Minute), Value: 2},
		{Timestamp: base.Add(30 * time.Minute), Value: 30},
	}
	if err := store.Write(ctx, key, first); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := store.Write(ctx, key, second); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	result, err := store.Fetch(ctx, key, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	assertValues(t, result, 1, 2, 30)
}

func TestLocalStoreBoundsAndLatest(t *testing.T) {
	store := openTestStore(t, t.TempDir(), false)
	defer store.Close()

	ctx := context.Background()
	key := types.SeriesKey{Measurement: "sensor", Field: "humidity"}

	if _, err := store.FirstTimestamp(ctx, key); !errors.Is(err, ErrSeriesNotFound) {
		t.Errorf("Expected ErrSeriesNotFound, got %v", err)
	}

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	samples := []types.Sample{
		{Timestamp: base.Add(3 * time.Hour), Value: 60},
		{Timestamp: base, Value: 55},
		{Timestamp: base.Add(time.Hour), Value: 58},
	}
	if err := store.Write(ctx, key, samples); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	first, err := store.FirstTimestamp(ctx, key)
	if err != nil {
		t.Fatalf("Failed to read first timestamp: %v", err)
	}
	if !first.Equal(base) {
		t.Errorf("Expected first %s, got %s", base, first)
	}

	last, err := store.LastTimestamp(ctx, key)
	if err != nil {
		t.Fatalf("Failed to read last timestamp: %v", err)
	}
	if !last.Equal(base.Add(3 * time.Hour)) {
		t.Errorf("Expected last %s, got %s", base.Add(3*time.Hour), last)
	}

	latest, err := store.Latest(ctx, key)
	if err != nil {
		t.Fatalf("Failed to read latest: %v", err)
	}
	if latest.Value != 60 {
		t.Errorf("Expected latest value 60, got %f", latest.Value)
	}

	series, err := store.ListSeries(ctx)
	if err != nil {
		t.Fatalf("Failed to list series: %v", err)
	}
	if schema, ok := series[key]; !ok || schema.Type != types.FieldFloat {
		t.Errorf("Expected %s to be listed as float, got %v", key, series)
	}
}

func TestLocalStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := types.SeriesKey{Measurement: "sensor", Field: "temperature"}
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	store := openTestStore(t, dir, true)
	if err := store.Write(ctx, key, []types.Sample{{Timestamp: base, Value: 18}}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	store = openTestStore(t, dir, true)
	defer store.Close()

	if n := store.index.SeriesCount(); n != 1 {
		t.Errorf("Expected 1 series loaded from the index after reopen, got %d", n)
	}

	last, err := store.LastTimestamp(ctx, key)
	if err != nil {
		t.Fatalf("Failed to read last timestamp after reopen: %v", err)
	}
	if !last.Equal(base) {
		t.Errorf("Expected last %s, got %s", base, last)
	}

	result, err := store.Fetch(ctx, key, base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	assertValues(t, result, 18)
}

func TestLocalStoreReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := types.SeriesKey{Measurement: "sensor", Field: "pressure"}
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	// A WAL left behind by a process that never applied it
	wal, err := NewWAL(dir)
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	if err := wal.Append(key, []types.Sample{{Timestamp: base, Value: 1013}}); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := wal.Close(); err != nil {
		t.Fatalf("Failed to close WAL: %v", err)
	}

	store := openTestStore(t, dir, true)
	defer store.Close()

	result, err := store.Fetch(ctx, key, base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	assertValues(t, result, 1013)

	if err := store.FlushWAL(); err != nil {
		t.Errorf("Failed to flush WAL: %v", err)
	}
}

func TestLocalStoreBehindWindowCache(t *testing.T) {
	store := openTestStore(t, t.TempDir(), false)
	defer store.Close()

	ctx := context.Background()
	key := types.SeriesKey{Measurement: "sensor", Field: "temperature"}
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	var samples []types.Sample
	for m := 0; m < 180; m += 10 {
		samples = append(samples, types.Sample{Timestamp: base.Add(time.Duration(m) * time.Minute), Value: float64(m)})
	}
	if err := store.Write(ctx, key, samples); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	cache := NewWindowCache(store, time.UTC)
	if _, err := cache.Query(ctx, key, base.Add(time.Hour), base.Add(2*time.Hour)); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	result, err := cache.Query(ctx, key, base, base.Add(150*time.Minute))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(result) != 15 {
		t.Fatalf("Expected 15 samples, got %d", len(result))
	}
	if cache.Stats().Fetches != 3 {
		t.Errorf("Expected 3 fetches, got %d", cache.Stats().Fetches)
	}
}
