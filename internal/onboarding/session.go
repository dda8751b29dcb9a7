package onboarding

import "time"

// Status is the lifecycle state of an onboarding session.
// Revocation and expiry are modeled as deletion, not as a status value.
type Status string

const (
	// StatusPending means the pairing code was issued and awaits approval.
	StatusPending Status = "pending"
	// StatusApproved means a credential was minted but not yet delivered.
	StatusApproved Status = "approved"
	// StatusCompleted means the credential was delivered exactly once.
	StatusCompleted Status = "completed"
)

// Requester captures the identity of the client that initiated onboarding.
// It is recorded verbatim at creation time and used to derive the device
// label at approval time.
type Requester struct {
	RemoteAddr string `json:"ip"`
	UserAgent  string `json:"userAgent"`
}

// Session tracks one onboarding attempt from code issuance to credential
// delivery. The JSON field names mirror the persisted state file layout.
type Session struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Status    Status    `json:"status"`
	Requester Requester `json:"requester"`
	CreatedAt time.Time `json:"createdAt"`

	// Token is empty until approval succeeds; once set it never changes
	// except by deletion of the whole session.
	Token string `json:"token,omitempty"`
}

// Expired reports whether a pending session has outlived the TTL at now.
// Only pending sessions expire; approved/completed sessions live until
// revocation.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	return s.Status == StatusPending && !s.CreatedAt.Add(ttl).After(now)
}

// State is the externally observable status shape returned by Status polls.
type State string

const (
	// StateExpired covers absent sessions: expired, revoked, or never created.
	StateExpired State = "expired"
	// StatePending covers pending sessions and, deliberately, completed ones:
	// the external surface never re-reports a delivered credential.
	StatePending State = "pending"
	// StateApproved is returned exactly once, together with the credential.
	StateApproved State = "approved"
)

// StatusResult is the outcome of a status poll.
type StatusResult struct {
	State State
	// Token is set only when State is StateApproved (one-time delivery).
	Token string
}

// Issued describes a completed session for listing purposes.
type Issued struct {
	Token       string
	DeviceName  string
	OnboardedAt time.Time
}
