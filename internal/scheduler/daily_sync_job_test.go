package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smehta/brokersync/internal/domain"
	"github.com/smehta/brokersync/internal/modules/runs"
)

func TestDailySyncJob_PassesMarketLocalDate(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	var gotDate string
	job := NewDailySyncJob(func(_ context.Context, date string) (*domain.RunRecord, error) {
		gotDate = date
		return &domain.RunRecord{ScheduledDate: date, Status: domain.RunStatusCompleted}, nil
	}, loc, time.Minute, zerolog.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, time.Now().In(loc).Format("2006-01-02"), gotDate)
}

func TestDailySyncJob_AppliesTimeout(t *testing.T) {
	job := NewDailySyncJob(func(ctx context.Context, _ string) (*domain.RunRecord, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
		return &domain.RunRecord{}, nil
	}, time.UTC, time.Minute, zerolog.Nop())

	require.NoError(t, job.Run(context.Background()))
}

func TestDailySyncJob_InProgressIsNotAnError(t *testing.T) {
	job := NewDailySyncJob(func(context.Context, string) (*domain.RunRecord, error) {
		return nil, fmt.Errorf("2026-08-31: %w", runs.ErrRunInProgress)
	}, time.UTC, time.Minute, zerolog.Nop())

	assert.NoError(t, job.Run(context.Background()))
}

func TestDailySyncJob_PropagatesRunFailure(t *testing.T) {
	job := NewDailySyncJob(func(context.Context, string) (*domain.RunRecord, error) {
		return nil, errors.New("ledger unavailable")
	}, time.UTC, time.Minute, zerolog.Nop())

	assert.Error(t, job.Run(context.Background()))
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	s := New(context.Background(), time.UTC, zerolog.Nop())

	err := s.Register("not a schedule", NewSnapshotPruneJob(nil, time.Hour, zerolog.Nop()))
	assert.Error(t, err)
}

// blockingJob runs until its context is cancelled.
type blockingJob struct {
	started chan struct{}
	err     error
}

func (j *blockingJob) Name() string { return "blocking" }

func (j *blockingJob) Run(ctx context.Context) error {
	close(j.started)
	<-ctx.Done()
	j.err = ctx.Err()
	return j.err
}

func TestScheduler_ShutdownCancelsRunningJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, time.UTC, zerolog.Nop())

	job := &blockingJob{started: make(chan struct{})}
	done := make(chan struct{})
	go func() {
		s.runJob(job)
		close(done)
	}()

	select {
	case <-job.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	cancel()

	select {
	case <-done:
		assert.ErrorIs(t, job.err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not reach the job")
	}
}

func TestScheduler_RunsRegisteredJob(t *testing.T) {
	s := New(context.Background(), time.UTC, zerolog.Nop())

	done := make(chan struct{})
	job := NewDailySyncJob(func(context.Context, string) (*domain.RunRecord, error) {
		select {
		case done <- struct{}{}:
		default:
		}
		return &domain.RunRecord{}, nil
	}, time.UTC, time.Minute, zerolog.Nop())

	require.NoError(t, s.Register("* * * * * *", job)) // every second
	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}
