package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

func TestWAL(t *testing.T) {
	tmpDir := t.TempDir()

	wal, err := NewWAL(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}

	key := types.SeriesKey{Source: "local", Measurement: "sensor", Field: "temperature"}
	samples := []types.Sample{{Timestamp: time.Now().UTC(), Value: 42.0}}

	if err := wal.Append(key, samples); err != nil {
		t.Fatalf("Failed to append to WAL: %v", err)
	}
	if err := wal.Append(key, samples); err != nil {
		t.Fatalf("Failed to append to WAL: %v", err)
	}

	if err := wal.Flush(); err != nil {
		t.Fatalf("Failed to flush WAL: %v", err)
	}

	if err := wal.Close(); err != nil {
		t.Fatalf("Failed to close WAL: %v", err)
	}

	if err := wal.Append(key, samples); err == nil {
		t.Error("Expected append to a closed WAL to fail")
	}

	calls := 0
	replayed, err := ReplayWAL(tmpDir, func(k types.SeriesKey, s []types.Sample) error {
		calls++
		if k != key {
			t.Errorf("Expected key %s, got %s", key, k)
		}
		if len(s) != 1 || s[0].Value != 42.0 {
			t.Errorf("Expected one sample of 42, got %v", s)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WAL replay failed: %v", err)
	}

	if replayed != 2 || calls != 2 {
		t.Errorf("Expected 2 replayed entries, got %d (handler called %d times)", replayed, calls)
	}

	entries, err := os.ReadDir(filepath.Join(tmpDir, "wal"))
	if err != nil {
		t.Fatalf("Failed to read WAL directory: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected replayed WAL files to be removed, found %d", len(entries))
	}
}

func TestReplayWALWithoutDirectory(t *testing.T) {
	replayed, err := ReplayWAL(t.TempDir(), func(types.SeriesKey, []types.Sample) error {
		t.Error("Handler should not be called")
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if replayed != 0 {
		t.Errorf("Expected 0 replayed entries, got %d", replayed)
	}
}
