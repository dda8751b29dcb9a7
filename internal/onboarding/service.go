// Package onboarding implements the pairing session state machine and the
// credential revocation pipeline.
//
// A session moves pending -> approved -> completed; expiry and revocation
// delete the record. The Service owns the single authoritative in-memory
// table and serializes every read-decide-write-persist cycle under one
// mutex, so the HTTP handlers, the expiry sweeper, and the event subscriber
// can all mutate concurrently without torn state.
package onboarding

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	defaultPendingTTL  = 5 * time.Minute
	defaultCodeLength  = 6
	defaultLabelPrefix = "Pairgate"

	// codeAlphabet matches the human-enterable uppercase base36 codes the
	// gateway has always issued.
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxCodeAttempts bounds the uniqueness retry loop. With 36^6 codes and a
	// handful of pending sessions, a second attempt is already vanishingly rare.
	maxCodeAttempts = 10

	maxLabelUserAgent = 30
)

// Minter requests one credential per approved device from the upstream
// authority.
type Minter interface {
	Mint(ctx context.Context, label string) (string, error)
}

// Service owns the session table and implements the onboarding state machine
// and the revocation path shared by the API and the event subscriber.
type Service struct {
	log   *slog.Logger
	store StateStore
	mint  Minter

	mu       sync.Mutex
	sessions Snapshot

	now         func() time.Time
	ttl         time.Duration
	codeLen     int
	labelPrefix string
}

// Option configures the Service.
type Option func(*Service) error

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithPendingTTL sets how long a pending session survives without approval.
func WithPendingTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return ErrInvalidInput
		}
		s.ttl = ttl
		return nil
	}
}

// WithLabelPrefix sets the device label prefix used at approval time.
func WithLabelPrefix(prefix string) Option {
	return func(s *Service) error {
		if prefix == "" {
			return ErrInvalidInput
		}
		s.labelPrefix = prefix
		return nil
	}
}

// NewService constructs a Service. Call Load before serving traffic.
func NewService(log *slog.Logger, store StateStore, mint Minter, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:         log,
		store:       store,
		mint:        mint,
		sessions:    Snapshot{},
		now:         func() time.Time { return time.Now().UTC() },
		ttl:         defaultPendingTTL,
		codeLen:     defaultCodeLength,
		labelPrefix: defaultLabelPrefix,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Load replaces the in-memory table with the persisted snapshot. An
// unreadable snapshot (corrupt state file) is logged and treated as empty:
// the gateway must still boot, and the next mutation rewrites the file.
func (s *Service) Load(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		s.log.Error("onboarding.load.fail", "err", err, "effect", "starting with empty session table")
		snap = Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap == nil {
		snap = Snapshot{}
	}
	s.sessions = snap
	s.log.Info("onboarding.load", "sessions", len(snap))
	return nil
}

// PendingTTL returns the configured pending-session TTL.
func (s *Service) PendingTTL() time.Duration { return s.ttl }

// Initiate creates a pending session and returns its pairing code and ID.
// The code is unique among currently pending sessions; IDs are never reused.
func (s *Service) Initiate(ctx context.Context, req Requester) (code, sessionID string, err error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	code, err = s.newPendingCodeLocked()
	if err != nil {
		return "", "", OpError{Op: "onboarding.Initiate", Kind: err}
	}
	sessionID = newULID(now)

	s.sessions[sessionID] = Session{
		ID:        sessionID,
		Code:      code,
		Status:    StatusPending,
		Requester: req,
		CreatedAt: now,
	}
	s.persistLocked(ctx, "initiate")

	s.log.Info("onboarding.initiate", "session_id", sessionID)
	return code, sessionID, nil
}

// Approve locates the pending session for code, mints a credential for it,
// and transitions it to approved. A mint failure leaves the session pending
// so the approval can be retried with the same code.
func (s *Service) Approve(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if code == "" {
		return OpError{Op: "onboarding.Approve", Kind: ErrInvalidCode}
	}

	// The mint call runs under the table lock on purpose: the lock is the
	// mutual-exclusion domain that guarantees at most one credential is ever
	// minted per session, even for two racing approvals of the same code.
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.findPendingByCodeLocked(code, now)
	if !ok {
		return OpError{Op: "onboarding.Approve", Kind: ErrInvalidCode}
	}

	if s.mint == nil {
		return OpError{Op: "onboarding.Approve", Kind: ErrMintFailed, Msg: "no credential authority configured"}
	}

	label := deviceLabel(s.labelPrefix, sess.Requester.UserAgent)
	token, err := s.mint.Mint(ctx, label)
	if err != nil {
		s.log.Error("onboarding.approve.mint.fail", "err", err, "session_id", sess.ID)
		return OpError{Op: "onboarding.Approve", Kind: ErrMintFailed, Msg: err.Error()}
	}

	sess.Token = token
	sess.Status = StatusApproved
	s.sessions[sess.ID] = sess
	s.persistLocked(ctx, "approve")

	s.log.Info("onboarding.approve", "session_id", sess.ID)
	return nil
}

// Status reports the externally observable state of a session.
//
// The first poll after approval atomically claims the credential: the session
// transitions approved -> completed and the token is returned exactly once.
// Later polls see the pending shape so a stale poller can never re-read a
// credential that was already delivered.
func (s *Service) Status(ctx context.Context, sessionID string) (StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return StatusResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return StatusResult{State: StateExpired}, nil
	}

	// Lazy expiry: a pending session past its TTL is authoritatively gone
	// even if the sweeper has not run yet.
	if sess.Expired(now, s.ttl) {
		delete(s.sessions, sessionID)
		s.persistLocked(ctx, "expire")
		s.log.Info("onboarding.expire", "session_id", sessionID, "trigger", "status")
		return StatusResult{State: StateExpired}, nil
	}

	if sess.Status == StatusApproved && sess.Token != "" {
		sess.Status = StatusCompleted
		s.sessions[sessionID] = sess
		s.persistLocked(ctx, "claim")
		s.log.Info("onboarding.claim", "session_id", sessionID)
		return StatusResult{State: StateApproved, Token: sess.Token}, nil
	}

	return StatusResult{State: StatePending}, nil
}

// ListIssued returns a snapshot of completed sessions, oldest first.
func (s *Service) ListIssued(ctx context.Context) ([]Issued, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Issued, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Status != StatusCompleted {
			continue
		}
		out = append(out, Issued{
			Token:       sess.Token,
			DeviceName:  sess.Requester.UserAgent,
			OnboardedAt: sess.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OnboardedAt.Before(out[j].OnboardedAt) })
	return out, nil
}

// Revoke removes the session owning the given credential. It is the single
// mutation path shared by the explicit revoke endpoint and the event
// subscriber. "Nothing to revoke" is a valid outcome, not an error.
func (s *Service) Revoke(ctx context.Context, token string) bool {
	if ctx.Err() != nil || token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.Token != "" && sess.Token == token {
			delete(s.sessions, id)
			s.persistLocked(ctx, "revoke")
			s.log.Info("onboarding.revoke", "session_id", id)
			return true
		}
	}
	return false
}

// ExpireStale deletes pending sessions past the TTL and returns how many were
// removed. App.Run drives this on a timer so deferred per-session callbacks
// never accumulate.
func (s *Service) ExpireStale(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now, s.ttl) {
			delete(s.sessions, id)
			removed++
			s.log.Info("onboarding.expire", "session_id", id, "trigger", "sweep")
		}
	}
	if removed > 0 {
		s.persistLocked(ctx, "sweep")
	}
	return removed
}

// ---- internals (callers hold s.mu) ----

func (s *Service) findPendingByCodeLocked(code string, now time.Time) (Session, bool) {
	for _, sess := range s.sessions {
		if sess.Status == StatusPending && sess.Code == code && !sess.Expired(now, s.ttl) {
			return sess, true
		}
	}
	return Session{}, false
}

func (s *Service) newPendingCodeLocked() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := newCode(s.codeLen)
		if err != nil {
			return "", err
		}
		if !s.pendingCodeExistsLocked(code) {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique pairing code")
}

func (s *Service) pendingCodeExistsLocked(code string) bool {
	for _, sess := range s.sessions {
		if sess.Status == StatusPending && sess.Code == code {
			return true
		}
	}
	return false
}

// persistLocked mirrors the table to stable storage. A write failure is
// logged but never rolls back the in-memory mutation: availability wins over
// durability for this gateway.
func (s *Service) persistLocked(ctx context.Context, op string) {
	snap := cloneSnapshot(s.sessions)
	if err := s.store.Save(ctx, snap); err != nil {
		s.log.Error("onboarding.persist.fail", "err", err, "op", op)
	}
}

func deviceLabel(prefix, userAgent string) string {
	ua := userAgent
	if len(ua) > maxLabelUserAgent {
		ua = ua[:maxLabelUserAgent]
	}
	if ua == "" {
		return prefix
	}
	return prefix + " - " + ua
}

func newCode(n int) (string, error) {
	if n <= 0 {
		n = defaultCodeLength
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return string(out), nil
}

func newULID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
