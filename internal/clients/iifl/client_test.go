package iifl

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smehta/brokersync/internal/clients/iifl/sdk"
	"github.com/smehta/brokersync/internal/domain"
)

// fakeClock records sleeps without waiting.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 31, 18, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// fakeSDK scripts login/holdings responses per call.
type fakeSDK struct {
	loginErrs    []error // consumed in order; nil means success
	loginCalls   int
	holdingsErrs []error
	holdingsRows []sdk.Holding
	orderRows    []sdk.Order
}

func (f *fakeSDK) Login(ctx context.Context, appKey, secretKey string) (*sdk.LoginResult, error) {
	f.loginCalls++
	if len(f.loginErrs) > 0 {
		err := f.loginErrs[0]
		f.loginErrs = f.loginErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &sdk.LoginResult{Token: "tok-123", UserID: "CLIENT7"}, nil
}

func (f *fakeSDK) Holdings(ctx context.Context, token, clientID string) ([]sdk.Holding, error) {
	if len(f.holdingsErrs) > 0 {
		err := f.holdingsErrs[0]
		f.holdingsErrs = f.holdingsErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.holdingsRows, nil
}

func (f *fakeSDK) OrderBook(ctx context.Context, token, clientID string) ([]sdk.Order, error) {
	return f.orderRows, nil
}

func serverError() *sdk.APIError {
	return &sdk.APIError{StatusCode: http.StatusServiceUnavailable, Message: "upstream down"}
}

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 1 * time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
}

func testCredential() domain.Credential {
	return domain.Credential{UserID: 42, APIKey: "key", APISecret: "secret"}
}

func TestAuthenticate_Success(t *testing.T) {
	client := NewClientWithSDK(&fakeSDK{}, testPolicy(), newFakeClock(), zerolog.Nop())

	session, retries, err := client.Authenticate(context.Background(), testCredential())
	require.NoError(t, err)
	assert.Equal(t, 0, retries)
	assert.Equal(t, "tok-123", session.Token)
	assert.Equal(t, "CLIENT7", session.BrokerUserID)
	assert.Equal(t, int64(42), session.UserID)
	assert.Equal(t, 24*time.Hour, session.ExpiresAt.Sub(session.IssuedAt))
}

func TestAuthenticate_RecoversAfterTwoServerErrors(t *testing.T) {
	fake := &fakeSDK{loginErrs: []error{serverError(), serverError(), nil}}
	clock := newFakeClock()
	client := NewClientWithSDK(fake, testPolicy(), clock, zerolog.Nop())

	session, retries, err := client.Authenticate(context.Background(), testCredential())
	require.NoError(t, err)
	assert.Equal(t, 2, retries)
	assert.Equal(t, 3, fake.loginCalls)
	assert.NotNil(t, session)

	// Exponential backoff: 1s then 2s
	require.Len(t, clock.sleeps, 2)
	assert.Equal(t, 1*time.Second, clock.sleeps[0])
	assert.Equal(t, 2*time.Second, clock.sleeps[1])
}

func TestAuthenticate_ExhaustsRetries(t *testing.T) {
	fake := &fakeSDK{loginErrs: []error{serverError(), serverError(), serverError()}}
	client := NewClientWithSDK(fake, testPolicy(), newFakeClock(), zerolog.Nop())

	_, retries, err := client.Authenticate(context.Background(), testCredential())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRetryExhausted))
	assert.Equal(t, 3, retries)
	assert.Equal(t, 3, fake.loginCalls) // no further attempts past the budget
}

func TestAuthenticate_AuthRejectionIsNotRetried(t *testing.T) {
	fake := &fakeSDK{loginErrs: []error{
		&sdk.APIError{StatusCode: http.StatusUnauthorized, Message: "invalid credentials"},
	}}
	client := NewClientWithSDK(fake, testPolicy(), newFakeClock(), zerolog.Nop())

	_, retries, err := client.Authenticate(context.Background(), testCredential())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAuthFailed))
	assert.Equal(t, 0, retries)
	assert.Equal(t, 1, fake.loginCalls)
}

func TestAuthenticate_EmptyCredentialFailsFast(t *testing.T) {
	fake := &fakeSDK{}
	client := NewClientWithSDK(fake, testPolicy(), newFakeClock(), zerolog.Nop())

	_, _, err := client.Authenticate(context.Background(), domain.Credential{UserID: 1})
	assert.True(t, errors.Is(err, domain.ErrAuthFailed))
	assert.Equal(t, 0, fake.loginCalls)
}

func TestGetHoldings_RateLimitHonorsRetryAfter(t *testing.T) {
	fake := &fakeSDK{
		holdingsErrs: []error{
			&sdk.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: 5 * time.Second},
			nil,
		},
		holdingsRows: []sdk.Holding{{TradingSymbol: "INFY", Quantity: 10, LastTradedPrice: 1450}},
	}
	clock := newFakeClock()
	client := NewClientWithSDK(fake, testPolicy(), clock, zerolog.Nop())

	holdings, retries, err := client.GetHoldings(context.Background(), &domain.BrokerSession{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, 1, retries)
	require.Len(t, holdings, 1)
	assert.Equal(t, 14500.0, holdings[0].MarketValue)

	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 5*time.Second, clock.sleeps[0])
}

func TestWithRetry_CancellationInterruptsBackoff(t *testing.T) {
	fake := &fakeSDK{loginErrs: []error{serverError(), serverError(), serverError()}}
	client := NewClientWithSDK(fake, testPolicy(), newFakeClock(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := client.Authenticate(ctx, testCredential())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, fake.loginCalls) // cancelled during the first backoff wait
}

func TestGetOrderBook_TransformsRows(t *testing.T) {
	fake := &fakeSDK{orderRows: []sdk.Order{
		{AppOrderID: 991, TradingSymbol: "TCS", OrderSide: "BUY", OrderQuantity: 5, OrderPrice: 3300, OrderStatus: "Open"},
	}}
	client := NewClientWithSDK(fake, testPolicy(), newFakeClock(), zerolog.Nop())

	orders, retries, err := client.GetOrderBook(context.Background(), &domain.BrokerSession{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, 0, retries)
	require.Len(t, orders, 1)
	assert.Equal(t, "991", orders[0].OrderID)
	assert.Equal(t, "BUY", orders[0].Side)
}
