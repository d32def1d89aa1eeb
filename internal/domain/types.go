// Package domain holds broker-agnostic types shared across the service.
// These types abstract away broker-specific implementations so the sync
// orchestration does not depend on the IIFL wire format.
package domain

import "time"

// OutcomeStatus is the terminal status of one user's task within a run.
type OutcomeStatus string

const (
	// StatusSuccess - session established and all operations completed
	StatusSuccess OutcomeStatus = "success"
	// StatusAuthFailed - credential missing, undecryptable or rejected by the broker
	StatusAuthFailed OutcomeStatus = "auth_failed"
	// StatusTransientError - retries exhausted on a recoverable failure, or run aborted
	StatusTransientError OutcomeStatus = "transient_error"
	// StatusFatalError - unexpected failure; never retried to avoid repeating
	// possibly order-affecting calls
	StatusFatalError OutcomeStatus = "fatal_error"
)

// Failed reports whether the status counts against the run's failed total.
func (s OutcomeStatus) Failed() bool {
	return s != StatusSuccess
}

// TaskOutcome is the immutable result of processing one user within a run.
type TaskOutcome struct {
	UserID      int64
	Status      OutcomeStatus
	AttemptedAt time.Time
	RetryCount  int
	ErrorDetail string // Empty on success
}

// RunStatus is the lifecycle state of a scheduled run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFatal - the run itself failed before tasks could be dispatched
	// (storage outage during enumeration or ledger writes)
	RunStatusFatal RunStatus = "fatal_error"
)

// RunRecord is the durable record of one scheduled daily run.
type RunRecord struct {
	ID            string
	ScheduledDate string // YYYY-MM-DD idempotency key
	Status        RunStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	TotalUsers    int
	Succeeded     int
	Failed        int
	ErrorDetail   string
	Outcomes      []TaskOutcome
}

// Credential is a user's decrypted broker credential. It must only be held
// for the duration of a single per-user task and never logged.
type Credential struct {
	UserID       int64
	APIKey       string
	APISecret    string
	SessionToken string // Last issued broker token, may be expired
	TokenExpiry  time.Time
}

// BrokerSession is a transient authenticated broker session for one user.
// It lives only for the duration of a per-user task; the refreshed token it
// carries is persisted back through the credential store.
type BrokerSession struct {
	UserID       int64
	Token        string
	BrokerUserID string // Broker-side client identifier returned at login
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// BrokerHolding represents one holding in a user's account (broker-agnostic)
type BrokerHolding struct {
	Symbol      string
	ISIN        string
	Exchange    string
	Quantity    float64
	AvgPrice    float64
	LastPrice   float64
	MarketValue float64
}

// BrokerOrder represents one order from the user's order book (broker-agnostic)
type BrokerOrder struct {
	OrderID  string
	Symbol   string
	Side     string // "BUY" or "SELL"
	Quantity float64
	Price    float64
	Status   string // Broker order status ("Open", "Filled", "Cancelled", ...)
	PlacedAt string
}
