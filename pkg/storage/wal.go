package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tdurouchoux/home-monitoring-display/pkg/types"
)

// WAL implements a Write-Ahead Log for the local store
type WAL struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
	closed bool
}

// WALEntry represents a single WAL entry
type WALEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Key       types.SeriesKey `json:"key"`
	Samples   []types.Sample  `json:"samples"`
}

// NewWAL creates a new WAL file under dataPath/wal
func NewWAL(dataPath string) (*WAL, error) {
	walPath := filepath.Join(dataPath, "wal")
	if err := os.MkdirAll(walPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filename := filepath.Join(walPath, fmt.Sprintf("wal-%d.log", time.Now().UnixNano()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &WAL{
		path:   walPath,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Append appends a write to the WAL buffer
func (w *WAL) Append(key types.SeriesKey, samples []types.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("WAL is closed")
	}

	data, err := json.Marshal(WALEntry{
		Timestamp: time.Now(),
		Key:       key,
		Samples:   samples,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}

	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// Flush flushes the WAL to disk
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}

	return nil
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Flush(); err != nil {
		return err
	}

	if err := w.file.Sync(); err != nil {
		return err
	}

	return w.file.Close()
}

// ReplayWAL replays every WAL file under dataPath in creation order
// and removes the files that were replayed
func ReplayWAL(dataPath string, handler func(types.SeriesKey, []types.Sample) error) (int, error) {
	walPath := filepath.Join(dataPath, "wal")

	entries, err := os.ReadDir(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	replayed := 0
	for _, name := range names {
		filename := filepath.Join(walPath, name)
		n, err := replayWALFile(filename, handler)
		replayed += n
		if err != nil {
			return replayed, fmt.Errorf("failed to replay %s: %w", filename, err)
		}

		if err := os.Remove(filename); err != nil {
			return replayed, fmt.Errorf("failed to remove %s: %w", filename, err)
		}
	}

	return replayed, nil
}

// replayWALFile replays a single WAL file
func replayWALFile(filename string, handler func(types.SeriesKey, []types.Sample) error) (int, error) {
	file, err := os.Open(filename)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	replayed := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var entry WALEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return replayed, fmt.Errorf("failed to unmarshal WAL entry: %w", err)
		}

		if err := handler(entry.Key, entry.Samples); err != nil {
			return replayed, fmt.Errorf("failed to replay entry: %w", err)
		}
		replayed++
	}

	return replayed, scanner.Err()
}
