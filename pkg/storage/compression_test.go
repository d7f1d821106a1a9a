package storage

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

func TestCompressorRoundTrip(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	// Regular one minute intervals with a slowly varying value
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	samples := make([]types.Sample, 100)
	for i := range samples {
		samples[i] = types.Sample{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Value:     20.0 + math.Sin(float64(i)/10.0),
		}
	}

	encoded := comp.EncodeBlock(samples)

	// Should achieve good compression on regular intervals
	originalSize := len(samples) * 16
	if len(encoded) >= originalSize {
		t.Errorf("Compression ineffective: original=%d, compressed=%d", originalSize, len(encoded))
	}

	decoded, err := comp.DecodeBlock(encoded)
	if err != nil {
		t.Fatalf("Decoding failed: %v", err)
	}

	if len(decoded) != len(samples) {
		t.Fatalf("Length mismatch: expected %d, got %d", len(samples), len(decoded))
	}

	for i := range samples {
		if !decoded[i].Timestamp.Equal(samples[i].Timestamp) {
			t.Errorf("Timestamp mismatch at %d: expected %s, got %s", i, samples[i].Timestamp, decoded[i].Timestamp)
		}
		if decoded[i].Value != samples[i].Value {
			t.Errorf("Value mismatch at %d: expected %f, got %f", i, samples[i].Value, decoded[i].Value)
		}
	}
}

func TestCompressorIrregularIntervals(t *testing.T) {
	comp, err := NewCompressor(4)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{0, 3 * time.Second, 4 * time.Second, 90 * time.Second, 91*time.Second + 7*time.Millisecond, time.Hour - time.Nanosecond}
	samples := make([]types.Sample, len(offsets))
	for i, off := range offsets {
		samples[i] = types.Sample{Timestamp: start.Add(off), Value: float64(-i) * 1.5}
	}
	samples[3].Value = math.Inf(1)

	decoded, err := comp.DecodeBlock(comp.EncodeBlock(samples))
	if err != nil {
		t.Fatalf("Decoding failed: %v", err)
	}

	for i := range samples {
		if !decoded[i].Timestamp.Equal(samples[i].Timestamp) {
			t.Errorf("Timestamp mismatch at %d: expected %s, got %s", i, samples[i].Timestamp, decoded[i].Timestamp)
		}
		if decoded[i].Value != samples[i].Value {
			t.Errorf("Value mismatch at %d: expected %f, got %f", i, samples[i].Value, decoded[i].Value)
		}
	}
}

func TestCompressorEmptyBlock(t *testing.T) {
	comp, err := NewCompressor(1)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	decoded, err := comp.DecodeBlock(comp.EncodeBlock(nil))
	if err != nil {
		t.Fatalf("Decoding failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("Expected empty block, got %d samples", len(decoded))
	}
}

func TestCompressorRejectsGarbage(t *testing.T) {
	comp, err := NewCompressor(3)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	if _, err := comp.DecodeBlock([]byte("not a block")); !errors.Is(err, ErrCorruptBlock) {
		t.Errorf("Expected ErrCorruptBlock, got %v", err)
	}

	// Valid zstd frame holding a truncated payload
	truncated := comp.encoder.EncodeAll([]byte{blockFormatVersion, 10, 2}, nil)
	if _, err := comp.DecodeBlock(truncated); !errors.Is(err, ErrCorruptBlock) {
		t.Errorf("Expected ErrCorruptBlock for truncated payload, got %v", err)
	}
}
