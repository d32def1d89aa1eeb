package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smehta/brokersync/internal/database"
	"github.com/smehta/brokersync/internal/domain"
)

// Repository persists run records and their per-user outcomes.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a run ledger repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// BeginRun atomically claims the scheduled date and creates a running
// record. Exactly one caller wins for a given date; losers get
// ErrRunInProgress or ErrRunFinalized depending on the existing run's state.
// A prior run that went fatal does not burn the date: its record (and any
// partial outcomes) are superseded so the run can be re-triggered.
func (r *Repository) BeginRun(ctx context.Context, scheduledDate string, totalUsers int) (*domain.RunRecord, error) {
	record := &domain.RunRecord{
		ID:            uuid.NewString(),
		ScheduledDate: scheduledDate,
		Status:        domain.RunStatusRunning,
		StartedAt:     time.Now(),
		TotalUsers:    totalUsers,
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		// Outcomes of the superseded attempt go with it (ON DELETE CASCADE).
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM runs WHERE scheduled_date = ? AND status = ?`,
			scheduledDate, string(domain.RunStatusFatal)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, scheduled_date, status, started_at, total_users)
			VALUES (?, ?, ?, ?, ?)`,
			record.ID, record.ScheduledDate, string(record.Status),
			record.StartedAt.Unix(), record.TotalUsers)
		return err
	})
	if err != nil {
		// The UNIQUE constraint on scheduled_date is the idempotency
		// barrier; classify the existing run to tell callers why they lost.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, r.classifyExisting(ctx, scheduledDate)
		}
		return nil, fmt.Errorf("failed to begin run for %s: %w", scheduledDate, err)
	}

	r.log.Info().
		Str("run_id", record.ID).
		Str("scheduled_date", scheduledDate).
		Int("total_users", totalUsers).
		Msg("Run started")
	return record, nil
}

// classifyExisting explains why the insert lost. Fatal rows are cleared
// before the insert, so the holder is either running or completed.
func (r *Repository) classifyExisting(ctx context.Context, scheduledDate string) error {
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM runs WHERE scheduled_date = ?`, scheduledDate).Scan(&status)
	if err != nil {
		return fmt.Errorf("failed to inspect existing run for %s: %w", scheduledDate, err)
	}
	if domain.RunStatus(status) == domain.RunStatusRunning {
		return fmt.Errorf("%s: %w", scheduledDate, ErrRunInProgress)
	}
	return fmt.Errorf("%s: %w", scheduledDate, ErrRunFinalized)
}

// AppendOutcome records one user's terminal outcome. Outcomes are written
// incrementally as tasks finish so a crash mid-run leaves a partial but
// truthful ledger.
func (r *Repository) AppendOutcome(ctx context.Context, runID string, outcome domain.TaskOutcome) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO run_outcomes (run_id, user_id, status, attempted_at, retry_count, error_detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, outcome.UserID, string(outcome.Status),
		outcome.AttemptedAt.Unix(), outcome.RetryCount, outcome.ErrorDetail)
	if err != nil {
		return fmt.Errorf("failed to append outcome for user %d in run %s: %w", outcome.UserID, runID, err)
	}
	return nil
}

// FinalizeRun computes the aggregate counts from the recorded outcomes and
// marks the run completed. Safe to call only after every task has joined.
func (r *Repository) FinalizeRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	var succeeded, failed int
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status != ? THEN 1 ELSE 0 END), 0)
		FROM run_outcomes WHERE run_id = ?`,
		string(domain.StatusSuccess), string(domain.StatusSuccess), runID).
		Scan(&succeeded, &failed)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate outcomes for run %s: %w", runID, err)
	}

	completedAt := time.Now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, completed_at = ?, succeeded = ?, failed = ?
		WHERE id = ? AND status = ?`,
		string(domain.RunStatusCompleted), completedAt.Unix(), succeeded, failed,
		runID, string(domain.RunStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to finalize run %s: %w", runID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check finalization of run %s: %w", runID, err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunFinalized)
	}

	record, err := r.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Str("run_id", runID).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Msg("Run finalized")
	return record, nil
}

// MarkFatal records that the run itself failed before or during dispatch.
// Any outcomes already appended are preserved.
func (r *Repository) MarkFatal(ctx context.Context, runID, detail string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, completed_at = ?, error_detail = ?
		WHERE id = ?`,
		string(domain.RunStatusFatal), time.Now().Unix(), detail, runID)
	if err != nil {
		return fmt.Errorf("failed to mark run %s fatal: %w", runID, err)
	}

	r.log.Error().Str("run_id", runID).Str("detail", detail).Msg("Run marked fatal")
	return nil
}

// GetByDate loads the run for a scheduled date, including its outcomes.
func (r *Repository) GetByDate(ctx context.Context, scheduledDate string) (*domain.RunRecord, error) {
	return r.getRun(ctx, `WHERE scheduled_date = ?`, scheduledDate)
}

// GetByID loads a run by its ID, including its outcomes.
func (r *Repository) GetByID(ctx context.Context, runID string) (*domain.RunRecord, error) {
	return r.getRun(ctx, `WHERE id = ?`, runID)
}

func (r *Repository) getRun(ctx context.Context, where string, arg any) (*domain.RunRecord, error) {
	var (
		record      domain.RunRecord
		status      string
		startedAt   int64
		completedAt sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, scheduled_date, status, started_at, completed_at,
		       total_users, succeeded, failed, error_detail
		FROM runs `+where,
		arg).Scan(&record.ID, &record.ScheduledDate, &status, &startedAt, &completedAt,
		&record.TotalUsers, &record.Succeeded, &record.Failed, &record.ErrorDetail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	record.Status = domain.RunStatus(status)
	record.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		record.CompletedAt = &t
	}

	outcomes, err := r.outcomesForRun(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	record.Outcomes = outcomes
	return &record, nil
}

func (r *Repository) outcomesForRun(ctx context.Context, runID string) ([]domain.TaskOutcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, status, attempted_at, retry_count, error_detail
		FROM run_outcomes WHERE run_id = ? ORDER BY user_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcomes for run %s: %w", runID, err)
	}
	defer rows.Close()

	var outcomes []domain.TaskOutcome
	for rows.Next() {
		var (
			o           domain.TaskOutcome
			status      string
			attemptedAt int64
		)
		if err := rows.Scan(&o.UserID, &status, &attemptedAt, &o.RetryCount, &o.ErrorDetail); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Status = domain.OutcomeStatus(status)
		o.AttemptedAt = time.Unix(attemptedAt, 0)
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// ListRecent returns the most recent runs, newest first, without outcomes.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, scheduled_date, status, started_at, completed_at,
		       total_users, succeeded, failed, error_detail
		FROM runs ORDER BY scheduled_date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []domain.RunRecord
	for rows.Next() {
		var (
			record      domain.RunRecord
			status      string
			startedAt   int64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&record.ID, &record.ScheduledDate, &status, &startedAt, &completedAt,
			&record.TotalUsers, &record.Succeeded, &record.Failed, &record.ErrorDetail); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		record.Status = domain.RunStatus(status)
		record.StartedAt = time.Unix(startedAt, 0)
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0)
			record.CompletedAt = &t
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return records, nil
}
