package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/geonotify/portal/internal/auth"
	"github.com/geonotify/portal/internal/directory"
	"github.com/geonotify/portal/internal/idp"
	"github.com/geonotify/portal/internal/provision"
	"github.com/geonotify/portal/pkg/cookie"
)

const (
	// sessionCookie carries the signed session token, sealed a second
	// time by the cookie manager so the JWT never appears in the clear.
	sessionCookie = "portal_session"

	sessionMaxAge = 12 * 60 * 60 // seconds, matches sessionTTL
)

// Handler serves the authentication endpoints.
type Handler struct {
	flow           *auth.Flow
	resolver       *auth.Resolver
	coord          *auth.Coordinator
	backend        idp.Backend
	board          *provision.Board
	cookies        *cookie.Manager
	tokens         *tokenService
	signupClientID string
	log            *slog.Logger
}

// NewHandler creates a Handler. signupClientID selects the dedicated
// provider registration used for signup redirects; empty reuses the
// sign-in registration.
func NewHandler(flow *auth.Flow, resolver *auth.Resolver, backend idp.Backend, board *provision.Board, cookies *cookie.Manager, jwtSecret, signupClientID string, log *slog.Logger) *Handler {
	return &Handler{
		flow:           flow,
		resolver:       resolver,
		coord:          auth.NewCoordinator(backend, resolver, log),
		backend:        backend,
		board:          board,
		cookies:        cookies,
		tokens:         newTokenService(jwtSecret),
		signupClientID: signupClientID,
		log:            log,
	}
}

// login starts the provider round-trip. mode=signup provisions a new
// tenant on return; anything else signs in. org deep-links the signup to a
// preselected organization slug.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	mode := auth.ModeSignIn
	clientID := ""
	if r.URL.Query().Get("mode") == string(auth.ModeSignUp) {
		mode = auth.ModeSignUp
		clientID = h.signupClientID
	}

	if err := h.flow.Begin(w, r, mode, clientID, r.URL.Query().Get("org")); err != nil {
		h.log.Error("failed to start auth flow", slog.String("error", err.Error()))
		http.Error(w, "failed to start sign-in", http.StatusInternalServerError)
	}
}

// callback completes the provider round-trip. Every failure lands back on
// the sign-in page with a coarse error code; the details stay in the logs.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	result, err := h.flow.HandleCallback(w, r)
	if err != nil {
		h.redirectError(w, r, err)
		return
	}

	token, err := h.tokens.mint(result.Principal, result.FlowID)
	if err != nil {
		h.log.Error("failed to mint session", slog.String("error", err.Error()))
		h.redirectError(w, r, err)
		return
	}
	if err := h.cookies.Set(w, sessionCookie, token, sessionMaxAge); err != nil {
		h.log.Error("failed to set session cookie", slog.String("error", err.Error()))
		h.redirectError(w, r, err)
		return
	}

	target := "/dashboard"
	query := url.Values{}
	if result.Provisioned != nil {
		query.Set("welcome", "1")
	}
	if result.PendingOrg != "" {
		query.Set("org", result.PendingOrg)
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, err error) {
	code := "internal"
	switch {
	case errors.Is(err, auth.ErrProviderDenied):
		code = "provider_denied"
	case errors.Is(err, auth.ErrOAuthProtocol):
		code = "oauth_protocol"
	case errors.Is(err, provision.ErrIdentityConflict):
		code = "identity_conflict"
	case errors.Is(err, provision.ErrPartial):
		code = "provision_failed"
	case errors.Is(err, idp.ErrInvalidCredentials):
		code = "not_provisioned"
	}
	if code == "internal" {
		h.log.Error("auth callback failed", slog.String("error", err.Error()))
	} else {
		h.log.Info("auth callback rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/signin?error="+url.QueryEscape(code), http.StatusFound)
}

// sessionResponse is the JSON shape of GET /auth/session.
type sessionResponse struct {
	State        string        `json:"state"`
	Email        string        `json:"email,omitempty"`
	Role         string        `json:"role,omitempty"`
	Organization *organization `json:"organization,omitempty"`
	// FirstRun is true exactly once, on the first session read after a
	// completed signup.
	FirstRun bool `json:"first_run,omitempty"`
}

type organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// session resolves the current session to its access state. Unauthenticated
// requests get a 200 with state "unauthenticated" rather than a 401; the
// state machine has no error branch for "nobody is signed in".
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	claims := h.sessionClaims(r)
	if claims == nil {
		writeJSON(w, http.StatusOK, sessionResponse{State: auth.StateUnauthenticated.String()})
		return
	}

	principal := &idp.Principal{UID: claims.Subject, Email: claims.Email}
	access, err := h.resolver.Resolve(r.Context(), principal, claims.Flow)
	if err != nil {
		h.log.Error("failed to resolve session", slog.String("error", err.Error()))
		http.Error(w, "failed to resolve session", http.StatusInternalServerError)
		return
	}

	resp := sessionResponse{State: access.State.String(), Email: claims.Email}
	if access.Admin != nil {
		resp.Role = string(access.Admin.Role)
	}
	if access.Organization != nil {
		resp.Organization = &organization{ID: access.Organization.ID, Name: access.Organization.Name}
	}
	if claims.Flow != "" && access.State != auth.StateAccessDenied {
		firstRun, err := h.board.ConsumeCompleted(r.Context(), claims.Flow)
		if err != nil {
			h.log.Warn("failed to consume completion flag", slog.String("error", err.Error()))
		}
		resp.FirstRun = firstRun
	}

	writeJSON(w, http.StatusOK, resp)
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// signin authenticates a password credential directly, bypassing the
// provider round-trip. Seeded super admins sign in here; bridged
// credentials cannot, their derived secrets are never disclosed.
func (h *Handler) signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	principal, err := h.backend.SignIn(r.Context(), req.Email, req.Password)
	if errors.Is(err, idp.ErrInvalidCredentials) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.log.Error("password sign-in failed", slog.String("error", err.Error()))
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
		return
	}

	token, err := h.tokens.mint(principal, "")
	if err != nil {
		h.log.Error("failed to mint session", slog.String("error", err.Error()))
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
		return
	}
	if err := h.cookies.Set(w, sessionCookie, token, sessionMaxAge); err != nil {
		h.log.Error("failed to set session cookie", slog.String("error", err.Error()))
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
		return
	}

	access, err := h.resolver.Resolve(r.Context(), principal, "")
	if err != nil {
		h.log.Error("failed to resolve session", slog.String("error", err.Error()))
		http.Error(w, "failed to resolve session", http.StatusInternalServerError)
		return
	}

	resp := sessionResponse{State: access.State.String(), Email: principal.Email}
	if access.Admin != nil {
		resp.Role = string(access.Admin.Role)
	}
	if access.Organization != nil {
		resp.Organization = &organization{ID: access.Organization.ID, Name: access.Organization.Name}
	}
	writeJSON(w, http.StatusOK, resp)
}

// logout drops the session cookie. The bridged credential and the provider
// session are untouched; signing in again is a fresh round-trip.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Delete(w, sessionCookie)
	w.WriteHeader(http.StatusNoContent)
}

// events streams access-state changes for the current session as
// server-sent events: a "state" event per resolution and an "organization"
// event per tenant-document edit.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	claims := h.sessionClaims(r)
	if claims == nil {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	principal := &idp.Principal{UID: claims.Subject, Email: claims.Email}
	states := h.coord.Run(ctx, principal, claims.Flow)

	var orgUpdates <-chan directory.Organization
	watchedOrg := ""

	for {
		select {
		case <-ctx.Done():
			return
		case access, ok := <-states:
			if !ok {
				return
			}
			resp := sessionResponse{State: access.State.String(), Email: claims.Email}
			if access.Admin != nil {
				resp.Role = string(access.Admin.Role)
			}
			if access.Organization != nil {
				resp.Organization = &organization{ID: access.Organization.ID, Name: access.Organization.Name}
			}
			h.writeEvent(w, flusher, "state", resp)

			// Keep the existing watch while the organization is
			// unchanged; re-resolutions of the same org don't need a
			// second feed.
			if access.OrgUpdates != nil && access.Organization.ID != watchedOrg {
				orgUpdates = access.OrgUpdates
				watchedOrg = access.Organization.ID
			}
		case org, ok := <-orgUpdates:
			if !ok {
				orgUpdates = nil
				watchedOrg = ""
				continue
			}
			h.writeEvent(w, flusher, "organization", organization{ID: org.ID, Name: org.Name})
		}
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// sessionClaims reads and validates the session cookie; nil means no
// usable session.
func (h *Handler) sessionClaims(r *http.Request) *sessionClaims {
	var token string
	if err := h.cookies.Get(r, sessionCookie, &token); err != nil {
		return nil
	}
	claims, err := h.tokens.parse(token)
	if err != nil {
		return nil
	}
	return claims
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
