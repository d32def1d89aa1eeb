// Package sdk implements the low-level IIFL API client.
// It speaks the broker's wire format (login handshake, token-bearing calls)
// and reports HTTP-level failures as typed errors; retry policy lives one
// layer up in the iifl package.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	loginPath    = "/apimarketdata/auth/login"
	holdingsPath = "/interactive/portfolio/holdings"
	ordersPath   = "/interactive/orders"

	// minRequestInterval spaces requests on a single client to stay inside
	// the broker's per-connection rate limit.
	minRequestInterval = 350 * time.Millisecond

	defaultTimeout = 30 * time.Second
)

// APIError represents a non-2xx response from the broker.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration // Server-supplied hint on 429, zero otherwise
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("iifl api error: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth retrying (rate limit or
// server-side failure).
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AuthFailure reports whether the broker rejected the caller's credentials.
func (e *APIError) AuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Client is the low-level IIFL API client. It is safe for use by a single
// per-user task; concurrent tasks each construct their own session-scoped
// calls through a shared instance (the client itself holds no session state).
type Client struct {
	baseURL    string
	source     string
	httpClient *http.Client
	log        zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewClient creates a new IIFL SDK client.
func NewClient(baseURL, source string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		source:     source,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.With().Str("component", "iifl-sdk").Logger(),
	}
}

// NewClientWithHTTPClient creates a client with a custom HTTP client (for testing).
func NewClientWithHTTPClient(baseURL, source string, httpClient *http.Client, log zerolog.Logger) *Client {
	c := NewClient(baseURL, source, log)
	c.httpClient = httpClient
	return c
}

// Login exchanges an API key/secret for a session token.
func (c *Client) Login(ctx context.Context, appKey, secretKey string) (*LoginResult, error) {
	body, err := json.Marshal(loginRequest{
		AppKey:    appKey,
		SecretKey: secretKey,
		Source:    c.source,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode login request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, loginPath, body, "")
	if err != nil {
		return nil, err
	}

	var result LoginResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode login result: %w", err)
	}
	if result.Token == "" {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "login response missing token"}
	}
	return &result, nil
}

// Holdings fetches the account holdings for a session token.
func (c *Client) Holdings(ctx context.Context, token, clientID string) ([]Holding, error) {
	path := holdingsPath
	if clientID != "" {
		path += "?clientID=" + clientID
	}

	raw, err := c.do(ctx, http.MethodGet, path, nil, token)
	if err != nil {
		return nil, err
	}

	var result holdingsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode holdings result: %w", err)
	}
	return result.Holdings, nil
}

// OrderBook fetches the account's order book for a session token.
func (c *Client) OrderBook(ctx context.Context, token, clientID string) ([]Order, error) {
	path := ordersPath
	if clientID != "" {
		path += "?clientID=" + clientID
	}

	raw, err := c.do(ctx, http.MethodGet, path, nil, token)
	if err != nil {
		return nil, err
	}

	var result ordersResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode order book result: %w", err)
	}
	return result.Orders, nil
}

// do executes one request against the broker, enforcing the minimum spacing
// between requests, and unwraps the response envelope.
func (c *Client) do(ctx context.Context, method, path string, body []byte, token string) (json.RawMessage, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    truncate(string(respBody), 500),
		}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}
	if env.Type != "success" {
		// The broker reports failures with HTTP 200 and an error envelope.
		// Credential and session rejections are terminal; anything else
		// (e.g. e-backend-unavailable) is a broker-side fault worth retrying.
		status := http.StatusServiceUnavailable
		if authEnvelope(env.Code, env.Description) {
			status = http.StatusUnauthorized
		}
		message := env.Description
		if env.Code != "" {
			message = env.Code + ": " + env.Description
		}
		return nil, &APIError{
			StatusCode: status,
			Message:    message,
		}
	}

	return env.Result, nil
}

// authEnvelope reports whether an error envelope describes a credential or
// session rejection rather than a broker-side fault.
func authEnvelope(code, description string) bool {
	s := strings.ToLower(code + " " + description)
	for _, marker := range []string{"auth", "token", "session", "credential", "login", "key"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// throttle blocks until the minimum request spacing has elapsed, or the
// context is cancelled.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	wait := minRequestInterval - time.Since(c.lastRequest)
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
