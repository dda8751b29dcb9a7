// Package gatewayapi is the HTTP/JSON boundary of the gateway. Paths, field
// names, and status codes are a frozen contract with already-paired devices.
package gatewayapi

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"pairgate/internal/onboarding"
	"pairgate/internal/whitelist"
)

const maxBodyBytes = 1 << 16

// Wire-level error strings. Devices match on these exact messages.
const (
	msgInvalidCode   = "Invalid or expired code."
	msgMintFailed    = "Token generation failed."
	msgTokenRequired = "Token is required."
	msgTokenNotFound = "Token not found in active sessions."
)

// Observer receives domain lifecycle events for metrics.
type Observer func(event string)

// Handler exposes the onboarding and whitelist services over HTTP.
type Handler struct {
	log       *slog.Logger
	sessions  *onboarding.Service
	whitelist *whitelist.Service
	observe   Observer
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithObserver wires a lifecycle-event sink, typically metrics counters.
func WithObserver(obs Observer) HandlerOption {
	return func(h *Handler) {
		if obs != nil {
			h.observe = obs
		}
	}
}

// NewHandler constructs the gateway handler.
func NewHandler(log *slog.Logger, sessions *onboarding.Service, wl *whitelist.Service, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil || wl == nil {
		return nil, onboarding.ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:       log,
		sessions:  sessions,
		whitelist: wl,
		observe:   func(string) {},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires gateway routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/onboarding/init", h.handleInit)
	mux.HandleFunc("/api/onboarding/status", h.handleStatus)
	mux.HandleFunc("/api/onboarding/approve", h.handleApprove)
	mux.HandleFunc("/api/onboarding/revoke", h.handleRevoke)
	mux.HandleFunc("/api/sessions", h.handleSessions)
	mux.HandleFunc("/api/whitelist", h.handleWhitelistList)
	mux.HandleFunc("/api/whitelist/add", h.handleWhitelistAdd)
	mux.HandleFunc("/api/whitelist/remove", h.handleWhitelistRemove)
	mux.HandleFunc("/api/whitelist/clear", h.handleWhitelistClear)
}

// ---- onboarding ----

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req := onboarding.Requester{
		RemoteAddr: clientIP(r),
		UserAgent:  strings.TrimSpace(r.UserAgent()),
	}
	code, sessionID, err := h.sessions.Initiate(r.Context(), req)
	if err != nil {
		h.log.Error("gateway.init.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Could not create session.")
		return
	}

	h.observe("session.initiated")
	writeJSON(w, http.StatusOK, initResponse{Code: code, SessionID: sessionID})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	result, err := h.sessions.Status(r.Context(), sessionID)
	if err != nil {
		h.log.Error("gateway.status.fail", "err", err)
		writeJSON(w, http.StatusNotFound, statusResponse{Status: "expired"})
		return
	}

	switch result.State {
	case onboarding.StateApproved:
		h.observe("session.completed")
		writeJSON(w, http.StatusOK, statusResponse{Status: "approved", Token: result.Token})
	case onboarding.StatePending:
		writeJSON(w, http.StatusOK, statusResponse{Status: "pending"})
	default:
		writeJSON(w, http.StatusNotFound, statusResponse{Status: "expired"})
	}
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req approveRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidCode)
		return
	}

	err := h.sessions.Approve(r.Context(), strings.ToUpper(strings.TrimSpace(req.Code)))
	switch {
	case err == nil:
		h.observe("session.approved")
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	case onboarding.IsInvalidCode(err):
		writeError(w, http.StatusBadRequest, msgInvalidCode)
	case onboarding.IsMintFailed(err):
		writeError(w, http.StatusInternalServerError, msgMintFailed)
	default:
		h.log.Error("gateway.approve.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgMintFailed)
	}
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req revokeRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil || req.TokenToRevoke == "" {
		writeError(w, http.StatusBadRequest, msgTokenRequired)
		return
	}

	if !h.sessions.Revoke(r.Context(), req.TokenToRevoke) {
		writeError(w, http.StatusNotFound, msgTokenNotFound)
		return
	}

	h.observe("session.revoked")
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Revocation processed."})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	issued, err := h.sessions.ListIssued(r.Context())
	if err != nil {
		h.log.Error("gateway.sessions.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Could not list sessions.")
		return
	}

	out := make([]sessionResponse, 0, len(issued))
	for _, s := range issued {
		out = append(out, sessionResponse{
			Token:       s.Token,
			DeviceName:  s.DeviceName,
			OnboardedAt: s.OnboardedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- whitelist ----

func (h *Handler) handleWhitelistList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	entries := h.whitelist.List(r.Context())
	out := whitelistListResponse{Entries: make([]whitelistEntryResponse, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, toEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req whitelistAddRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Domain is required.")
		return
	}

	entry, syncErr, err := h.whitelist.Add(r.Context(), req.Domain, clientIP(r))
	switch {
	case err == nil:
		resp := toEntryResponse(entry)
		writeJSON(w, http.StatusOK, whitelistMutationResponse{
			Success:   true,
			Entry:     &resp,
			SyncError: syncErrString(syncErr),
		})
		if syncErr != nil {
			h.observe("whitelist.sync_failed")
		}
	case whitelist.IsInvalidDomain(err):
		writeError(w, http.StatusBadRequest, "Invalid domain.")
	case whitelist.IsDuplicate(err):
		writeError(w, http.StatusBadRequest, "Domain already whitelisted.")
	default:
		h.log.Error("gateway.whitelist.add.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Could not add domain.")
	}
}

func (h *Handler) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req whitelistRemoveRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "Entry id is required.")
		return
	}

	syncErr, err := h.whitelist.Remove(r.Context(), req.ID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, whitelistMutationResponse{
			Success:   true,
			SyncError: syncErrString(syncErr),
		})
		if syncErr != nil {
			h.observe("whitelist.sync_failed")
		}
	case whitelist.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Whitelist entry not found.")
	default:
		h.log.Error("gateway.whitelist.remove.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Could not remove domain.")
	}
}

func (h *Handler) handleWhitelistClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	syncErr, err := h.whitelist.Clear(r.Context())
	if err != nil {
		h.log.Error("gateway.whitelist.clear.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "Could not clear whitelist.")
		return
	}
	if syncErr != nil {
		h.observe("whitelist.sync_failed")
	}
	writeJSON(w, http.StatusOK, whitelistMutationResponse{
		Success:   true,
		SyncError: syncErrString(syncErr),
	})
}

// ---- helpers ----

func toEntryResponse(e whitelist.Entry) whitelistEntryResponse {
	return whitelistEntryResponse{
		ID:      e.ID,
		Domain:  e.Domain,
		AddedAt: e.AddedAt,
		AddedBy: e.AddedBy,
	}
}

func syncErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
