package filtering

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeFilterService mimics the rules API: it serves its current rule set and
// accepts wholesale replacements.
type fakeFilterService struct {
	mu       sync.Mutex
	rules    []string
	user     string
	pass     string
	authFail bool
}

func (f *fakeFilterService) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(statusPath, func(w http.ResponseWriter, r *http.Request) {
		if !f.checkAuth(w, r) {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(rulesStatus{UserRules: f.rules})
	})
	mux.HandleFunc(setRulesPath, func(w http.ResponseWriter, r *http.Request) {
		if !f.checkAuth(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req setRulesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.rules = req.Rules
	})
	return mux
}

func (f *fakeFilterService) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok || user != f.user || pass != f.pass {
		f.mu.Lock()
		f.authFail = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func (f *fakeFilterService) current() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.rules))
	copy(out, f.rules)
	return out
}

func newTestClient(t *testing.T, svc *fakeFilterService) *Client {
	t.Helper()
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, svc.user, svc.pass)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("  ", "u", "p"); err != ErrConfigMissing {
		t.Fatalf("err = %v, want ErrConfigMissing", err)
	}
}

func TestSync_PreservesUnmanagedRules(t *testing.T) {
	t.Parallel()

	svc := &fakeFilterService{
		user: "admin",
		pass: "secret",
		rules: []string{
			"||ads.example.net^",
			RuleFor("stale.example.com"),
			"! hand-written comment",
		},
	}
	client := newTestClient(t, svc)

	if err := client.Sync(context.Background(), []string{"example.com", "sub.example.co"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got := svc.current()
	want := []string{
		"||ads.example.net^",
		"! hand-written comment",
		RuleFor("example.com"),
		RuleFor("sub.example.co"),
	}
	if len(got) != len(want) {
		t.Fatalf("rules = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rules[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	svc.mu.Lock()
	authFail := svc.authFail
	svc.mu.Unlock()
	if authFail {
		t.Fatal("basic auth was not sent")
	}
}

func TestSync_Idempotent(t *testing.T) {
	t.Parallel()

	svc := &fakeFilterService{user: "admin", pass: "secret"}
	client := newTestClient(t, svc)
	domains := []string{"example.com"}

	for i := 0; i < 3; i++ {
		if err := client.Sync(context.Background(), domains); err != nil {
			t.Fatalf("Sync #%d: %v", i+1, err)
		}
	}

	got := svc.current()
	if len(got) != 1 || got[0] != RuleFor("example.com") {
		t.Fatalf("rules after repeated sync = %v, want exactly one managed rule", got)
	}
}

func TestSync_EmptyListWithdrawsManagedRules(t *testing.T) {
	t.Parallel()

	svc := &fakeFilterService{
		user:  "admin",
		pass:  "secret",
		rules: []string{RuleFor("example.com"), "||ads.example.net^"},
	}
	client := newTestClient(t, svc)

	if err := client.Sync(context.Background(), nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got := svc.current()
	if len(got) != 1 || got[0] != "||ads.example.net^" {
		t.Fatalf("rules = %v, want only the unmanaged rule", got)
	}
}

func TestSync_UpstreamRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, "admin", "wrong")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	err = client.Sync(context.Background(), []string{"example.com"})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if upstream.Status != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", upstream.Status, http.StatusForbidden)
	}
}
