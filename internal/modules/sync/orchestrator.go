package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smehta/brokersync/internal/domain"
	"github.com/smehta/brokersync/internal/modules/runs"
)

// Orchestrator drives one daily run: it claims the scheduled date in the
// ledger, fans per-user tasks out over a bounded worker pool, appends each
// outcome as it lands and finalizes the run after every task has joined.
type Orchestrator struct {
	users   UserSource
	ledger  RunLedger
	task    *Task
	workers int
	metrics MetricsRecorder
	log     zerolog.Logger
}

// NewOrchestrator creates a run orchestrator with the given worker pool size.
func NewOrchestrator(users UserSource, ledger RunLedger, task *Task, workers int, log zerolog.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		users:   users,
		ledger:  ledger,
		task:    task,
		workers: workers,
		metrics: noopMetrics{},
		log:     log.With().Str("component", "orchestrator").Logger(),
	}
}

// WithMetrics attaches a metrics recorder.
func (o *Orchestrator) WithMetrics(m MetricsRecorder) *Orchestrator {
	if m != nil {
		o.metrics = m
	}
	return o
}

// RunDaily executes the run for scheduledDate (YYYY-MM-DD). At most one run
// per date ever executes: a date that is already running returns
// runs.ErrRunInProgress, and a finalized date returns its existing record
// without re-contacting the broker.
func (o *Orchestrator) RunDaily(ctx context.Context, scheduledDate string) (*domain.RunRecord, error) {
	started := time.Now()

	users, enumErr := o.users.ListEligibleUsers(ctx)

	// Claim the date even when enumeration failed so the failure is
	// durably visible in the ledger.
	record, err := o.ledger.BeginRun(ctx, scheduledDate, len(users))
	if errors.Is(err, runs.ErrRunFinalized) {
		o.log.Info().Str("scheduled_date", scheduledDate).Msg("Run already finalized, returning existing record")
		return o.ledger.GetByDate(ctx, scheduledDate)
	}
	if err != nil {
		return nil, err
	}

	if enumErr != nil {
		detail := fmt.Sprintf("user enumeration failed: %v", enumErr)
		if err := o.ledger.MarkFatal(ctx, record.ID, detail); err != nil {
			o.log.Error().Err(err).Str("run_id", record.ID).Msg("Failed to mark run fatal")
		}
		return nil, fmt.Errorf("run %s: %s", record.ID, detail)
	}

	o.log.Info().
		Str("run_id", record.ID).
		Str("scheduled_date", scheduledDate).
		Int("users", len(users)).
		Int("workers", o.workers).
		Msg("Dispatching daily run")

	var (
		wg        gosync.WaitGroup
		ledgerMu  gosync.Mutex
		ledgerErr error
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	jobs := make(chan int64)
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				outcome := o.task.Execute(runCtx, userID, scheduledDate)
				o.metrics.ObserveOutcome(outcome.Status)

				// Ledger writes survive run cancellation.
				if err := o.ledger.AppendOutcome(context.WithoutCancel(ctx), record.ID, outcome); err != nil {
					ledgerMu.Lock()
					if ledgerErr == nil {
						ledgerErr = err
						cancelRun()
					}
					ledgerMu.Unlock()
				}
			}
		}()
	}

	for _, u := range users {
		jobs <- u.ID
	}
	close(jobs)
	wg.Wait()

	// Finalization happens after the barrier even when the run context was
	// cancelled, so partial results are still recorded truthfully.
	finalCtx := context.WithoutCancel(ctx)

	if ledgerErr != nil {
		detail := fmt.Sprintf("outcome write failed: %v", ledgerErr)
		if err := o.ledger.MarkFatal(finalCtx, record.ID, detail); err != nil {
			o.log.Error().Err(err).Str("run_id", record.ID).Msg("Failed to mark run fatal")
		}
		return nil, fmt.Errorf("run %s: %s", record.ID, detail)
	}

	final, err := o.ledger.FinalizeRun(finalCtx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize run %s: %w", record.ID, err)
	}

	o.metrics.ObserveRunDuration(time.Since(started))
	o.log.Info().
		Str("run_id", final.ID).
		Int("succeeded", final.Succeeded).
		Int("failed", final.Failed).
		Dur("elapsed", time.Since(started)).
		Msg("Daily run finished")
	return final, nil
}
