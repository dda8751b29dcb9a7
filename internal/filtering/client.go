// Package filtering reconciles the managed allow-list with the downstream
// DNS filtering service. Reconciliation is a full replace: read the current
// custom rule set, drop every line carrying the managed marker, append one
// allow directive per domain, and write the whole set back. Resending the
// same list is always safe.
package filtering

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// Marker tags every rule line this service owns. Lines containing it
	// are rewritten on each sync; all other lines are left untouched.
	Marker = "pairgate-managed"

	statusPath   = "/control/filtering/status"
	setRulesPath = "/control/filtering/set_rules"

	maxResponseBytes = 1 << 20
)

// ErrConfigMissing means the client was constructed without a base URL.
var ErrConfigMissing = errors.New("filtering service URL missing")

// UpstreamError carries the filtering service's rejection detail.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Client talks to the filtering service's custom-rules API with basic auth.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient constructs a filtering client for the given service URL.
func NewClient(baseURL, username, password string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrConfigMissing
	}
	c := &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type rulesStatus struct {
	UserRules []string `json:"user_rules"`
}

type setRulesRequest struct {
	Rules []string `json:"rules"`
}

// Sync replaces the managed subset of the custom rule set with one allow
// directive per domain. Unmanaged rules survive untouched.
func (c *Client) Sync(ctx context.Context, domains []string) error {
	current, err := c.fetchRules(ctx)
	if err != nil {
		return err
	}

	rules := make([]string, 0, len(current)+len(domains))
	for _, line := range current {
		if strings.Contains(line, Marker) {
			continue
		}
		rules = append(rules, line)
	}
	for _, domain := range domains {
		rules = append(rules, RuleFor(domain))
	}

	return c.setRules(ctx, rules)
}

// RuleFor renders the allow directive for one domain, tagged with the
// managed marker.
func RuleFor(domain string) string {
	return fmt.Sprintf("@@||%s^ ! %s", domain, Marker)
}

func (c *Client) fetchRules(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+statusPath, nil)
	if err != nil {
		return nil, &UpstreamError{Op: "filtering.fetch", Err: err}
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "filtering.fetch", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{Op: "filtering.fetch", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Op: "filtering.fetch", Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var status rulesStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &UpstreamError{Op: "filtering.fetch", Err: err}
	}
	return status.UserRules, nil
}

func (c *Client) setRules(ctx context.Context, rules []string) error {
	payload, err := json.Marshal(setRulesRequest{Rules: rules})
	if err != nil {
		return &UpstreamError{Op: "filtering.replace", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+setRulesPath, bytes.NewReader(payload))
	if err != nil {
		return &UpstreamError{Op: "filtering.replace", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Op: "filtering.replace", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &UpstreamError{Op: "filtering.replace", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Op: "filtering.replace", Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
