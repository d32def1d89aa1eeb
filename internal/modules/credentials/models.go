// Package credentials is the credential store adapter: per-user encrypted
// brokerage credentials and session tokens, backed by accounts.db.
package credentials

import "time"

// User is a registered platform user eligible for the daily sync.
type User struct {
	ID        int64
	Email     string
	Active    bool
	CreatedAt time.Time
}

// Schema creates the accounts tables. Credential values are stored as
// AES-256-GCM ciphertext, base64-encoded; they never appear in plaintext at
// rest or in logs.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS broker_credentials (
	user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	api_key TEXT NOT NULL,
	api_secret TEXT NOT NULL,
	session_token TEXT,
	token_expiry INTEGER,
	updated_at INTEGER NOT NULL
);
`
