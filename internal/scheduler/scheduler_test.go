package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tdurouchoux/home-monitoring-display/pkg/session"
	"github.com/tdurouchoux/home-monitoring-display/pkg/storage"
)

type countingFlusher struct {
	calls atomic.Int32
	err   error
}

func (f *countingFlusher) FlushWAL() error {
	f.calls.Add(1)
	return f.err
}

func TestSchedulerRunsJobs(t *testing.T) {
	sessions := session.NewRegistry(storage.NewMemorySource(), time.UTC, 0, time.Nanosecond)
	sessions.Create()
	flusher := &countingFlusher{}

	s := New(sessions, flusher, time.Second, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	defer s.Stop()

	if s.scheduler.Len() != 2 {
		t.Errorf("Expected 2 jobs, got %d", s.scheduler.Len())
	}

	// Jobs run once right after start
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if flusher.calls.Load() > 0 && sessions.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Expected jobs to run: flushes=%d sessions=%d", flusher.calls.Load(), sessions.Len())
}

func TestSchedulerWithoutFlusher(t *testing.T) {
	sessions := session.NewRegistry(storage.NewMemorySource(), time.UTC, 0, time.Minute)

	s := New(sessions, nil, time.Minute, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	defer s.Stop()

	if s.scheduler.Len() != 1 {
		t.Errorf("Expected only the sweep job, got %d jobs", s.scheduler.Len())
	}
}

func TestFlushErrorIsLogged(t *testing.T) {
	flusher := &countingFlusher{err: errors.New("disk full")}
	s := New(nil, flusher, 0, time.Second)

	// Must not panic
	s.flush()
	if flusher.calls.Load() != 1 {
		t.Errorf("Expected 1 flush, got %d", flusher.calls.Load())
	}
}
