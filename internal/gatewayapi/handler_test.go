package gatewayapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pairgate/internal/onboarding"
	"pairgate/internal/whitelist"
)

type fakeMinter struct {
	token string
	fail  error
}

func (f *fakeMinter) Mint(context.Context, string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	return f.token, nil
}

type fakeSyncer struct {
	fail error
}

func (f *fakeSyncer) Sync(context.Context, []string) error { return f.fail }

type fixture struct {
	srv    *httptest.Server
	minter *fakeMinter
	syncer *fakeSyncer

	mu     sync.Mutex
	events map[string]int
}

func (f *fixture) eventCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[event]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	minter := &fakeMinter{token: "tok-1"}
	syncer := &fakeSyncer{}

	sessions, err := onboarding.NewService(log, onboarding.NewInMemoryStore(), minter)
	if err != nil {
		t.Fatalf("onboarding.NewService: %v", err)
	}
	wl, err := whitelist.NewService(log, whitelist.NewInMemoryStore(), syncer)
	if err != nil {
		t.Fatalf("whitelist.NewService: %v", err)
	}

	f := &fixture{minter: minter, syncer: syncer, events: map[string]int{}}
	h, err := NewHandler(log, sessions, wl, WithObserver(func(event string) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events[event]++
	}))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		// List endpoints return arrays; callers decode those themselves.
		return map[string]any{"_raw": string(data)}
	}
	return m
}

func TestOnboardingFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.get(t, "/api/onboarding/init")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("init status = %d", resp.StatusCode)
	}
	code, _ := body["code"].(string)
	sessionID, _ := body["sessionId"].(string)
	if len(code) != 6 || sessionID == "" {
		t.Fatalf("init body = %v", body)
	}

	resp, body = f.get(t, "/api/onboarding/status?sessionId="+sessionID)
	if resp.StatusCode != http.StatusOK || body["status"] != "pending" {
		t.Fatalf("pre-approve status = %d %v", resp.StatusCode, body)
	}

	resp, body = f.post(t, "/api/onboarding/approve", `{"code":"`+code+`"}`)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("approve = %d %v", resp.StatusCode, body)
	}

	// First poll claims the credential.
	resp, body = f.get(t, "/api/onboarding/status?sessionId="+sessionID)
	if resp.StatusCode != http.StatusOK || body["status"] != "approved" || body["token"] != "tok-1" {
		t.Fatalf("claim poll = %d %v", resp.StatusCode, body)
	}

	// Second poll never re-delivers it.
	resp, body = f.get(t, "/api/onboarding/status?sessionId="+sessionID)
	if resp.StatusCode != http.StatusOK || body["status"] != "pending" {
		t.Fatalf("post-claim poll = %d %v", resp.StatusCode, body)
	}
	if _, ok := body["token"]; ok {
		t.Fatal("token re-delivered after claim")
	}

	resp, body = f.post(t, "/api/onboarding/revoke", `{"token_to_revoke":"tok-1"}`)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("revoke = %d %v", resp.StatusCode, body)
	}

	resp, body = f.get(t, "/api/onboarding/status?sessionId="+sessionID)
	if resp.StatusCode != http.StatusNotFound || body["status"] != "expired" {
		t.Fatalf("post-revoke status = %d %v", resp.StatusCode, body)
	}

	for _, event := range []string{"session.initiated", "session.approved", "session.completed", "session.revoked"} {
		if got := f.eventCount(event); got != 1 {
			t.Errorf("observer %s = %d, want 1", event, got)
		}
	}
}

func TestStatus_UnknownSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.get(t, "/api/onboarding/status?sessionId=nope")
	if resp.StatusCode != http.StatusNotFound || body["status"] != "expired" {
		t.Fatalf("status = %d %v", resp.StatusCode, body)
	}
}

func TestApprove_InvalidCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.post(t, "/api/onboarding/approve", `{"code":"ZZZZZZ"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "Invalid or expired code." {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestApprove_MintFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.minter.fail = errors.New("authority down")

	_, body := f.get(t, "/api/onboarding/init")
	code := body["code"].(string)

	resp, body := f.post(t, "/api/onboarding/approve", `{"code":"`+code+`"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "Token generation failed." {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestRevoke_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.post(t, "/api/onboarding/revoke", `{}`)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "Token is required." {
		t.Fatalf("missing token = %d %v", resp.StatusCode, body)
	}

	resp, body = f.post(t, "/api/onboarding/revoke", `{"token_to_revoke":"unknown"}`)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "Token not found in active sessions." {
		t.Fatalf("unknown token = %d %v", resp.StatusCode, body)
	}
}

func TestSessions_ListsCompletedOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, body := f.get(t, "/api/onboarding/init")
	code := body["code"].(string)
	sessionID := body["sessionId"].(string)

	f.post(t, "/api/onboarding/approve", `{"code":"`+code+`"}`)

	resp, err := http.Get(f.srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	var approvedOnly []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&approvedOnly); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(approvedOnly) != 0 {
		t.Fatalf("approved-but-unclaimed session listed: %v", approvedOnly)
	}

	// Claiming completes the session; now it lists.
	f.get(t, "/api/onboarding/status?sessionId="+sessionID)

	resp, err = http.Get(f.srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	var completed []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&completed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(completed) != 1 || completed[0]["token"] != "tok-1" {
		t.Fatalf("sessions = %v", completed)
	}
	if _, ok := completed[0]["deviceName"]; !ok {
		t.Fatal("deviceName missing from session listing")
	}
}

func TestWhitelistEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.post(t, "/api/whitelist/add", `{"domain":"Example.COM"}`)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("add = %d %v", resp.StatusCode, body)
	}
	entry, _ := body["entry"].(map[string]any)
	if entry == nil || entry["domain"] != "example.com" {
		t.Fatalf("entry = %v", entry)
	}
	id, _ := entry["id"].(string)

	resp, body = f.post(t, "/api/whitelist/add", `{"domain":"not-a-domain"}`)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "Invalid domain." {
		t.Fatalf("invalid add = %d %v", resp.StatusCode, body)
	}

	resp, body = f.post(t, "/api/whitelist/add", `{"domain":"example.com"}`)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "Domain already whitelisted." {
		t.Fatalf("duplicate add = %d %v", resp.StatusCode, body)
	}

	resp, body = f.get(t, "/api/whitelist")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d", resp.StatusCode)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %v", body)
	}

	resp, body = f.post(t, "/api/whitelist/remove", `{"id":"bogus"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("remove unknown = %d %v", resp.StatusCode, body)
	}

	resp, body = f.post(t, "/api/whitelist/remove", `{"id":"`+id+`"}`)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("remove = %d %v", resp.StatusCode, body)
	}

	resp, body = f.post(t, "/api/whitelist/clear", ``)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("clear = %d %v", resp.StatusCode, body)
	}
}

func TestWhitelistAdd_SyncFailureStillSucceeds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.syncer.fail = errors.New("filtering service down")

	resp, body := f.post(t, "/api/whitelist/add", `{"domain":"example.com"}`)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("add = %d %v", resp.StatusCode, body)
	}
	syncError, _ := body["sync_error"].(string)
	if !strings.Contains(syncError, "filtering service down") {
		t.Fatalf("sync_error = %q", syncError)
	}
	if got := f.eventCount("whitelist.sync_failed"); got != 1 {
		t.Fatalf("observer whitelist.sync_failed = %d, want 1", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/api/onboarding/init", "application/json", nil)
	if err != nil {
		t.Fatalf("POST init: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST init status = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Get(f.srv.URL + "/api/onboarding/approve")
	if err != nil {
		t.Fatalf("GET approve: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET approve status = %d, want 405", resp.StatusCode)
	}
}
