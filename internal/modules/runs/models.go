// Package runs is the durable run ledger: one row per scheduled date plus
// the per-user outcomes appended as tasks finish. Backed by ledger.db with
// the full-durability profile.
package runs

import "errors"

// ErrRunInProgress is returned by BeginRun when a run for the scheduled
// date already exists and has not been finalized.
var ErrRunInProgress = errors.New("run already in progress for this date")

// ErrRunFinalized is returned by BeginRun when a run for the scheduled
// date has already completed or failed fatally.
var ErrRunFinalized = errors.New("run already finalized for this date")

// ErrRunNotFound is returned when no run exists for the requested date or ID.
var ErrRunNotFound = errors.New("run not found")

// Schema creates the ledger tables. scheduled_date is the idempotency key:
// the UNIQUE constraint makes BeginRun atomic even across processes.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	scheduled_date TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	total_users INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	error_detail TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	attempted_at INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_detail TEXT NOT NULL DEFAULT '',
	UNIQUE(run_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_run_outcomes_run ON run_outcomes(run_id);
`
