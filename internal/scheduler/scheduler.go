// Package scheduler runs the service's recurring jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler wraps a cron runner with logging and panic isolation.
type Scheduler struct {
	cron    *cron.Cron
	baseCtx context.Context
	log     zerolog.Logger
}

// New creates a scheduler. Schedules use six fields (seconds first) and are
// evaluated in the given location. Jobs run under ctx, so cancelling it
// (operator shutdown) aborts in-flight work including backoff waits.
func New(ctx context.Context, loc *time.Location, log zerolog.Logger) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		baseCtx: ctx,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a job on the given cron schedule.
func (s *Scheduler) Register(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.runJob(job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
	}
	s.log.Info().Str("job", job.Name()).Str("schedule", schedule).Msg("Job registered")
	return nil
}

func (s *Scheduler) runJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("job", job.Name()).Interface("panic", r).Msg("Job panicked")
		}
	}()

	started := time.Now()
	s.log.Info().Str("job", job.Name()).Msg("Job starting")

	if err := job.Run(s.baseCtx); err != nil {
		s.log.Error().Str("job", job.Name()).Err(err).Dur("elapsed", time.Since(started)).Msg("Job failed")
		return
	}
	s.log.Info().Str("job", job.Name()).Dur("elapsed", time.Since(started)).Msg("Job finished")
}

// Start begins executing scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop halts scheduling and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}
