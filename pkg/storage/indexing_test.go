package storage

import (
	"testing"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

func TestIndexAddSeries(t *testing.T) {
	idx := NewIndex()

	key := types.SeriesKey{Source: "local", Measurement: "sensor", Field: "temperature"}
	field := types.FieldSchema{Type: types.FieldFloat}

	id, created := idx.AddSeries(key, field)
	if !created {
		t.Error("Expected series to be created")
	}
	if id == 0 {
		t.Error("Expected non-zero series ID")
	}

	// The source name does not take part in the local fingerprint
	key.Source = "other"
	id2, created := idx.AddSeries(key, field)
	if created {
		t.Error("Expected existing series to be reused")
	}
	if id != id2 {
		t.Errorf("Expected same ID for duplicate series: %d != %d", id, id2)
	}

	if idx.SeriesCount() != 1 {
		t.Errorf("Expected 1 series, got %d", idx.SeriesCount())
	}
}

func TestIndexUpdateTimeRange(t *testing.T) {
	idx := NewIndex()
	key := types.SeriesKey{Measurement: "sensor", Field: "temperature"}
	id, _ := idx.AddSeries(key, types.FieldSchema{Type: types.FieldFloat})

	meta, _ := idx.GetSeries(key)
	if meta.HasData {
		t.Error("Expected new series to have no data")
	}

	idx.UpdateTimeRange(id, 100, 200)
	idx.UpdateTimeRange(id, 150, 180)
	meta, ok := idx.UpdateTimeRange(id, -50, 300)
	if !ok {
		t.Fatal("Expected series to exist")
	}

	if meta.MinTime != -50 || meta.MaxTime != 300 {
		t.Errorf("Expected bounds [-50, 300], got [%d, %d]", meta.MinTime, meta.MaxTime)
	}

	if _, ok := idx.UpdateTimeRange(42, 0, 1); ok {
		t.Error("Expected unknown series to be rejected")
	}
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	a := Fingerprint(types.SeriesKey{Measurement: "ab", Field: "c"})
	b := Fingerprint(types.SeriesKey{Measurement: "a", Field: "bc"})
	if a == b {
		t.Error("Expected different fingerprints for different measurement/field splits")
	}
}
