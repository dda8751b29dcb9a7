package gatewayapi

import "time"

// Wire shapes for the onboarding surface. Field names and casing are part of
// the paired-device contract and must not change.

type initResponse struct {
	Code      string `json:"code"`
	SessionID string `json:"sessionId"`
}

type statusResponse struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
}

type approveRequest struct {
	Code string `json:"code"`
}

type revokeRequest struct {
	TokenToRevoke string `json:"token_to_revoke"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type sessionResponse struct {
	Token       string    `json:"token"`
	DeviceName  string    `json:"deviceName"`
	OnboardedAt time.Time `json:"onboardedAt"`
}

// Whitelist surface.

type whitelistAddRequest struct {
	Domain string `json:"domain"`
}

type whitelistRemoveRequest struct {
	ID string `json:"id"`
}

type whitelistEntryResponse struct {
	ID      string    `json:"id"`
	Domain  string    `json:"domain"`
	AddedAt time.Time `json:"addedAt"`
	AddedBy string    `json:"addedBy"`
}

type whitelistListResponse struct {
	Entries []whitelistEntryResponse `json:"entries"`
}

type whitelistMutationResponse struct {
	Success   bool                    `json:"success"`
	Entry     *whitelistEntryResponse `json:"entry,omitempty"`
	SyncError string                  `json:"sync_error,omitempty"`
}
