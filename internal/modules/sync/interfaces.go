// Package sync orchestrates the daily settlement run: it enumerates
// eligible users, executes a bounded pool of per-user tasks against the
// broker, and records every outcome in the run ledger.
package sync

import (
	"context"
	"time"

	"github.com/smehta/brokersync/internal/domain"
	"github.com/smehta/brokersync/internal/modules/credentials"
)

// CredentialStore provides decrypted credentials scoped to one task's
// lifetime and persists refreshed session tokens.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID int64) (domain.Credential, error)
	UpdateSessionToken(ctx context.Context, userID int64, token string, expiry time.Time) error
}

// UserSource enumerates the users eligible for a daily run.
type UserSource interface {
	ListEligibleUsers(ctx context.Context) ([]credentials.User, error)
}

// RunLedger is the durable record of runs and their per-user outcomes.
type RunLedger interface {
	BeginRun(ctx context.Context, scheduledDate string, totalUsers int) (*domain.RunRecord, error)
	AppendOutcome(ctx context.Context, runID string, outcome domain.TaskOutcome) error
	FinalizeRun(ctx context.Context, runID string) (*domain.RunRecord, error)
	MarkFatal(ctx context.Context, runID, detail string) error
	GetByDate(ctx context.Context, scheduledDate string) (*domain.RunRecord, error)
}

// AccountOperation is one unit of authenticated work performed for a user
// during their task. Implementations report how many retries the broker
// client performed so the task can aggregate a retry count.
type AccountOperation interface {
	Name() string
	Execute(ctx context.Context, date string, session *domain.BrokerSession) (retries int, err error)
}

// MetricsRecorder receives run and outcome observations. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	ObserveOutcome(status domain.OutcomeStatus)
	ObserveRunDuration(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOutcome(domain.OutcomeStatus) {}
func (noopMetrics) ObserveRunDuration(time.Duration)    {}
