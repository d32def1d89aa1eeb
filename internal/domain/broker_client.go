package domain

import "context"

// BrokerClient is the session client contract against the brokerage API.
// Implementations own retry/backoff for transient failures and must be
// stateless across invocations so concurrent tasks for different users never
// interfere.
//
// Each method returns the number of retries performed alongside the result;
// the per-user task accumulates these into the outcome's retry count.
type BrokerClient interface {
	// Authenticate exchanges the user's API key/secret for a session token.
	Authenticate(ctx context.Context, cred Credential) (*BrokerSession, int, error)

	// GetHoldings fetches the account's holdings. Idempotent read, retried.
	GetHoldings(ctx context.Context, session *BrokerSession) ([]BrokerHolding, int, error)

	// GetOrderBook fetches the account's order book. Idempotent read, retried.
	GetOrderBook(ctx context.Context, session *BrokerSession) ([]BrokerOrder, int, error)
}
