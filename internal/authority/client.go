// Package authority is the client for the upstream identity authority's
// token-issuance endpoint. It is stateless: one outbound call per approval,
// no retries; a failed mint leaves the session pending and retryable.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL matches the supervisor-proxied core API the gateway has
	// always talked to.
	DefaultBaseURL = "http://supervisor/core/api"

	tokenType     = "long_lived_access_token"
	tokenLifespan = 365 // days

	maxResponseBytes = 1 << 16
)

// Client mints long-lived credentials scoped to a device label.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL overrides the authority base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u != "" {
			c.baseURL = u
		}
	}
}

// NewClient constructs a Client. The process-held authority token is a
// configuration precondition: its absence is reported here, once, so the
// caller can run in degraded mode instead of failing every approval late.
func NewClient(token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenMissing
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

type mintRequest struct {
	Type       string `json:"type"`
	ClientName string `json:"client_name"`
	Lifespan   int    `json:"lifespan"`
}

// Mint requests one long-lived credential scoped to label. The authority
// returns the token as a quoted JSON string; the quotes are stripped here so
// callers only ever see the opaque credential.
func (c *Client) Mint(ctx context.Context, label string) (string, error) {
	if c == nil {
		return "", ErrTokenMissing
	}

	body, err := json.Marshal(mintRequest{
		Type:       tokenType,
		ClientName: label,
		Lifespan:   tokenLifespan,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &UpstreamError{Op: "authority.Mint", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &UpstreamError{Op: "authority.Mint", Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{
			Op:     "authority.Mint",
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(data)),
		}
	}

	token := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if token == "" {
		return "", &UpstreamError{Op: "authority.Mint", Status: resp.StatusCode, Body: "empty token in response"}
	}
	return token, nil
}
