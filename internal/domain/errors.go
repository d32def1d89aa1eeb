package domain

import "errors"

// Sentinel errors shared across layers. Callers check these with errors.Is
// to map failures onto the outcome taxonomy.
var (
	// ErrAuthFailed - the broker rejected the credential (4xx auth response).
	// Not retryable; the credential is invalid or expired beyond refresh.
	ErrAuthFailed = errors.New("broker authentication failed")

	// ErrRetryExhausted - a recoverable failure persisted through all
	// configured attempts.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrCredentialNotFound - no stored credential for the user.
	ErrCredentialNotFound = errors.New("credential not found")
)
