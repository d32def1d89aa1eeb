// Package iifl provides the broker session client for the IIFL API.
// It owns failure classification and retry/backoff; the sdk subpackage owns
// the wire format.
package iifl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/smehta/brokersync/internal/clients/iifl/sdk"
	"github.com/smehta/brokersync/internal/domain"
)

// sessionValidity is how long a broker session token stays usable. IIFL
// tokens expire after roughly 24 hours; refreshed tokens are persisted with
// this expiry.
const sessionValidity = 24 * time.Hour

// SDKClient is the contract against the low-level SDK, extracted for testing.
type SDKClient interface {
	Login(ctx context.Context, appKey, secretKey string) (*sdk.LoginResult, error)
	Holdings(ctx context.Context, token, clientID string) ([]sdk.Holding, error)
	OrderBook(ctx context.Context, token, clientID string) ([]sdk.Order, error)
}

// Client implements domain.BrokerClient against the IIFL API.
// It is stateless across invocations: no session cache is shared between
// calls, so concurrent per-user tasks never interfere.
type Client struct {
	sdkClient SDKClient
	policy    RetryPolicy
	clock     Clock
	log       zerolog.Logger
}

// Compile-time interface satisfaction check.
var _ domain.BrokerClient = (*Client)(nil)

// NewClient creates a broker client for the given API root.
func NewClient(baseURL, source string, policy RetryPolicy, log zerolog.Logger) *Client {
	return &Client{
		sdkClient: sdk.NewClient(baseURL, source, log),
		policy:    policy,
		clock:     realClock{},
		log:       log.With().Str("client", "iifl").Logger(),
	}
}

// NewClientWithSDK creates a broker client with a provided SDK client and
// clock (for testing).
func NewClientWithSDK(sdkClient SDKClient, policy RetryPolicy, clock Clock, log zerolog.Logger) *Client {
	return &Client{
		sdkClient: sdkClient,
		policy:    policy,
		clock:     clock,
		log:       log.With().Str("client", "iifl").Logger(),
	}
}

// Authenticate exchanges the user's API key/secret for a session token,
// retrying transient failures per the policy.
func (c *Client) Authenticate(ctx context.Context, cred domain.Credential) (*domain.BrokerSession, int, error) {
	if cred.APIKey == "" || cred.APISecret == "" {
		return nil, 0, fmt.Errorf("empty api key or secret: %w", domain.ErrAuthFailed)
	}

	var session *domain.BrokerSession
	retries, err := c.withRetry(ctx, "authenticate", func() error {
		result, err := c.sdkClient.Login(ctx, cred.APIKey, cred.APISecret)
		if err != nil {
			return err
		}
		now := c.clock.Now()
		session = &domain.BrokerSession{
			UserID:       cred.UserID,
			Token:        result.Token,
			BrokerUserID: result.UserID,
			IssuedAt:     now,
			ExpiresAt:    now.Add(sessionValidity),
		}
		return nil
	})
	if err != nil {
		return nil, retries, err
	}

	c.log.Debug().Int64("user_id", cred.UserID).Int("retries", retries).Msg("Broker session established")
	return session, retries, nil
}

// GetHoldings fetches the account's holdings for the session.
func (c *Client) GetHoldings(ctx context.Context, session *domain.BrokerSession) ([]domain.BrokerHolding, int, error) {
	var holdings []domain.BrokerHolding
	retries, err := c.withRetry(ctx, "get holdings", func() error {
		raw, err := c.sdkClient.Holdings(ctx, session.Token, session.BrokerUserID)
		if err != nil {
			return err
		}
		holdings = transformHoldings(raw)
		return nil
	})
	return holdings, retries, err
}

// GetOrderBook fetches the account's order book for the session.
func (c *Client) GetOrderBook(ctx context.Context, session *domain.BrokerSession) ([]domain.BrokerOrder, int, error) {
	var orders []domain.BrokerOrder
	retries, err := c.withRetry(ctx, "get order book", func() error {
		raw, err := c.sdkClient.OrderBook(ctx, session.Token, session.BrokerUserID)
		if err != nil {
			return err
		}
		orders = transformOrders(raw)
		return nil
	})
	return orders, retries, err
}

// withRetry runs fn up to MaxAttempts times with exponential backoff.
// The returned int is the number of failed attempts that were retried or
// exhausted the budget; it feeds the outcome's retry count.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) (int, error) {
	retries := 0
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return retries, nil
		}

		if isAuthFailure(err) {
			return retries, fmt.Errorf("%s: %v: %w", op, err, domain.ErrAuthFailed)
		}
		if !isRetryable(err) {
			return retries, fmt.Errorf("%s: %w", op, err)
		}

		retries++
		if attempt >= c.policy.MaxAttempts {
			return retries, fmt.Errorf("%s failed after %d attempts: %v: %w", op, attempt, err, domain.ErrRetryExhausted)
		}

		delay := c.policy.Delay(retries, retryAfterHint(err))
		c.log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Broker call failed, retrying")

		if sleepErr := c.clock.Sleep(ctx, delay); sleepErr != nil {
			return retries, fmt.Errorf("%s: %w", op, sleepErr)
		}
	}
}

// isAuthFailure reports whether the broker rejected the credentials.
func isAuthFailure(err error) bool {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		return apiErr.AuthFailure()
	}
	return false
}

// isRetryable classifies network timeouts, 5xx and rate-limit responses as
// recoverable.
func isRetryable(err error) bool {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// retryAfterHint extracts the server-supplied backoff hint, if any.
func retryAfterHint(err error) time.Duration {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
