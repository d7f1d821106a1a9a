package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"

	"github.com/tdurouchoux/home-monitoring-display/pkg/session"
)

// WALFlusher is implemented by stores with a write-ahead log
type WALFlusher interface {
	FlushWAL() error
}

// Scheduler runs the periodic maintenance jobs: idle session sweeps and
// WAL flushes of the local store.
type Scheduler struct {
	scheduler *gocron.Scheduler
	sessions  *session.Registry
	flusher   WALFlusher

	sweepInterval time.Duration
	flushInterval time.Duration
}

// New creates a new Scheduler. flusher may be nil.
func New(sessions *session.Registry, flusher WALFlusher, sweepInterval, flushInterval time.Duration) *Scheduler {
	return &Scheduler{
		scheduler:     gocron.NewScheduler(time.UTC),
		sessions:      sessions,
		flusher:       flusher,
		sweepInterval: sweepInterval,
		flushInterval: flushInterval,
	}
}

// Start schedules the jobs and starts the underlying scheduler
func (s *Scheduler) Start() error {
	if s.sessions != nil && s.sweepInterval > 0 {
		if _, err := s.scheduler.Every(s.sweepInterval).SingletonMode().Do(s.sweep); err != nil {
			return err
		}
	}

	if s.flusher != nil && s.flushInterval > 0 {
		if _, err := s.scheduler.Every(s.flushInterval).SingletonMode().Do(s.flush); err != nil {
			return err
		}
	}

	if s.scheduler.Len() == 0 {
		log.Info().Msg("scheduler: nothing to schedule")
		return nil
	}

	s.scheduler.StartAsync()
	log.Info().Int("jobs", s.scheduler.Len()).Msg("scheduler started")
	return nil
}

// Stop stops the scheduler and cancels any future jobs
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) sweep() {
	if removed := s.sessions.Sweep(); removed > 0 {
		log.Info().Int("removed", removed).Int("live", s.sessions.Len()).Msg("scheduler: swept idle sessions")
	}
}

func (s *Scheduler) flush() {
	if err := s.flusher.FlushWAL(); err != nil {
		log.Error().Err(err).Msg("scheduler: WAL flush failed")
	}
}
