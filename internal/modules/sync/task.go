package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smehta/brokersync/internal/domain"
	"github.com/smehta/brokersync/internal/modules/credentials"
)

// Task processes one user within a run: credential fetch, broker
// authentication, then each account operation in order. It always returns
// a terminal outcome and never propagates an error or panic, so one user's
// failure cannot take down the run.
type Task struct {
	store  CredentialStore
	broker domain.BrokerClient
	ops    []AccountOperation
	log    zerolog.Logger
}

// NewTask creates a per-user task executor.
func NewTask(store CredentialStore, broker domain.BrokerClient, ops []AccountOperation, log zerolog.Logger) *Task {
	return &Task{
		store:  store,
		broker: broker,
		ops:    ops,
		log:    log.With().Str("component", "sync_task").Logger(),
	}
}

// Execute runs the task for one user and returns its terminal outcome.
func (t *Task) Execute(ctx context.Context, userID int64, date string) (outcome domain.TaskOutcome) {
	outcome = domain.TaskOutcome{
		UserID:      userID,
		AttemptedAt: time.Now(),
	}

	defer func() {
		if p := recover(); p != nil {
			outcome.Status = domain.StatusFatalError
			outcome.ErrorDetail = fmt.Sprintf("panic: %v", p)
			t.log.Error().Int64("user_id", userID).Interface("panic", p).Msg("Task panicked")
		}
	}()

	// Tasks still queued when the run is cancelled report the abort
	// instead of silently vanishing from the ledger.
	if err := ctx.Err(); err != nil {
		outcome.Status = domain.StatusTransientError
		outcome.ErrorDetail = fmt.Sprintf("run aborted: %v", err)
		return outcome
	}

	cred, err := t.store.GetCredential(ctx, userID)
	if err != nil {
		outcome.Status, outcome.ErrorDetail = classifyCredentialError(err)
		t.log.Warn().Int64("user_id", userID).Str("status", string(outcome.Status)).Msg("Credential unavailable")
		return outcome
	}

	session, retries, err := t.broker.Authenticate(ctx, cred)
	outcome.RetryCount += retries
	if err != nil {
		outcome.Status, outcome.ErrorDetail = classifyBrokerError("login", err)
		t.log.Warn().
			Int64("user_id", userID).
			Str("status", string(outcome.Status)).
			Int("retries", retries).
			Msg("Authentication failed")
		return outcome
	}

	// Persist the refreshed token immediately so it survives even if a
	// later operation fails. A persist failure is logged but does not fail
	// the task; the next run will simply authenticate from scratch.
	if err := t.store.UpdateSessionToken(ctx, userID, session.Token, session.ExpiresAt); err != nil {
		t.log.Warn().Int64("user_id", userID).Err(err).Msg("Failed to persist refreshed session token")
	}

	for _, op := range t.ops {
		opRetries, err := op.Execute(ctx, date, session)
		outcome.RetryCount += opRetries
		if err != nil {
			outcome.Status, outcome.ErrorDetail = classifyBrokerError(op.Name(), err)
			t.log.Warn().
				Int64("user_id", userID).
				Str("operation", op.Name()).
				Str("status", string(outcome.Status)).
				Msg("Operation failed")
			return outcome
		}
	}

	outcome.Status = domain.StatusSuccess
	t.log.Debug().Int64("user_id", userID).Int("retries", outcome.RetryCount).Msg("Task completed")
	return outcome
}

// classifyCredentialError maps credential store failures onto outcome
// statuses. Anything that prevents obtaining a usable credential is an
// authentication failure from the run's perspective.
func classifyCredentialError(err error) (domain.OutcomeStatus, string) {
	switch {
	case errors.Is(err, domain.ErrCredentialNotFound),
		errors.Is(err, credentials.ErrDecryptFailed),
		errors.Is(err, credentials.ErrEncryptionKeyNotSet):
		return domain.StatusAuthFailed, fmt.Sprintf("credential unavailable: %v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.StatusTransientError, fmt.Sprintf("run aborted: %v", err)
	default:
		return domain.StatusFatalError, fmt.Sprintf("credential store: %v", err)
	}
}

// classifyBrokerError maps broker call failures onto outcome statuses.
// Unexpected errors are fatal and never retried: repeating a call that may
// have reached the broker risks duplicating order-affecting requests.
func classifyBrokerError(step string, err error) (domain.OutcomeStatus, string) {
	switch {
	case errors.Is(err, domain.ErrAuthFailed):
		return domain.StatusAuthFailed, fmt.Sprintf("%s: %v", step, err)
	case errors.Is(err, domain.ErrRetryExhausted):
		return domain.StatusTransientError, fmt.Sprintf("%s: %v", step, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.StatusTransientError, fmt.Sprintf("run aborted: %v", err)
	default:
		return domain.StatusFatalError, fmt.Sprintf("%s: %v", step, err)
	}
}
