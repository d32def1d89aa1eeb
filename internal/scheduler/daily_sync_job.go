package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/smehta/brokersync/internal/domain"
	"github.com/smehta/brokersync/internal/modules/runs"
)

// RunDailyFunc executes the settlement run for a scheduled date.
type RunDailyFunc func(ctx context.Context, scheduledDate string) (*domain.RunRecord, error)

// DailySyncJob triggers the daily settlement run after market close. The
// scheduled date is derived from the trigger time in the market's timezone,
// so a run delayed past midnight UTC still lands on the correct date.
type DailySyncJob struct {
	runDaily RunDailyFunc
	loc      *time.Location
	timeout  time.Duration
	log      zerolog.Logger
}

// NewDailySyncJob creates the daily sync job.
func NewDailySyncJob(runDaily RunDailyFunc, loc *time.Location, timeout time.Duration, log zerolog.Logger) *DailySyncJob {
	return &DailySyncJob{
		runDaily: runDaily,
		loc:      loc,
		timeout:  timeout,
		log:      log.With().Str("job", "daily_sync").Logger(),
	}
}

// Name implements Job.
func (j *DailySyncJob) Name() string { return "daily_sync" }

// Run implements Job.
func (j *DailySyncJob) Run(ctx context.Context) error {
	date := time.Now().In(j.loc).Format("2006-01-02")

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	record, err := j.runDaily(ctx, date)
	if errors.Is(err, runs.ErrRunInProgress) {
		// A manual trigger or a previous firing already owns this date.
		j.log.Warn().Str("scheduled_date", date).Msg("Run already in progress, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	j.log.Info().
		Str("scheduled_date", date).
		Int("succeeded", record.Succeeded).
		Int("failed", record.Failed).
		Msg("Daily sync completed")
	return nil
}
