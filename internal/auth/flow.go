package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/geonotify/portal/internal/idp"
	"github.com/geonotify/portal/internal/provision"
	"github.com/geonotify/portal/pkg/arcgis"
	"github.com/geonotify/portal/pkg/cookie"
	"github.com/geonotify/portal/pkg/secrets"
)

// Mode selects the callback branch recorded at redirect time.
type Mode string

const (
	ModeSignIn Mode = "signin"
	ModeSignUp Mode = "signup"
)

const (
	// flowCookie persists the anti-forgery state and mode across the
	// provider round-trip.
	flowCookie = "portal_oauth_flow"

	// flowMaxAge bounds how long a pending flow stays redeemable.
	flowMaxAge = 600 // seconds

	// modeParam is the application-defined authorize parameter
	// distinguishing signin from signup.
	modeParam = "portal_mode"
)

// flowState is the sealed cookie payload for a pending flow.
type flowState struct {
	State      string `json:"state"`
	Mode       Mode   `json:"mode"`
	PendingOrg string `json:"pending_org,omitempty"` // deep-link signup target
}

// Flow runs the provider round-trip: it initiates the redirect and parses
// and verifies the callback, branching to provisioning or sign-in.
type Flow struct {
	provider    *arcgis.Provider
	cookies     *cookie.Manager
	provisioner *provision.Provisioner
	backend     idp.Backend
	deriver     *secrets.Deriver
	log         *slog.Logger
}

// NewFlow creates a Flow.
func NewFlow(provider *arcgis.Provider, cookies *cookie.Manager, provisioner *provision.Provisioner, backend idp.Backend, deriver *secrets.Deriver, log *slog.Logger) *Flow {
	return &Flow{
		provider:    provider,
		cookies:     cookies,
		provisioner: provisioner,
		backend:     backend,
		deriver:     deriver,
		log:         log,
	}
}

// Begin generates a fresh anti-forgery state, persists it with the chosen
// mode, and redirects the browser to the provider's authorize endpoint.
// Navigation is terminal for the current page load.
func (f *Flow) Begin(w http.ResponseWriter, r *http.Request, mode Mode, clientID, pendingOrg string) error {
	if mode != ModeSignUp {
		mode = ModeSignIn
	}

	state, err := generateState()
	if err != nil {
		return fmt.Errorf("auth: generate state: %w", err)
	}

	if err := f.cookies.Set(w, flowCookie, flowState{
		State:      state,
		Mode:       mode,
		PendingOrg: pendingOrg,
	}, flowMaxAge); err != nil {
		return fmt.Errorf("auth: persist flow state: %w", err)
	}

	url := f.provider.AuthCodeURL(state, clientID, oauth2.SetAuthURLParam(modeParam, string(mode)))
	http.Redirect(w, r, url, http.StatusFound)
	return nil
}

// CallbackResult is a verified, resolved callback.
type CallbackResult struct {
	Mode      Mode
	Principal *idp.Principal
	// Provisioned is set on the signup branch.
	Provisioned *provision.Result
	// FlowID keys this browser's provisioning signal; it equals the
	// anti-forgery state of the completed flow.
	FlowID string
	// PendingOrg is the deep-link target recorded at redirect time,
	// carried through the round-trip for the post-login redirect.
	PendingOrg string
}

// HandleCallback verifies the returned protocol parameters and runs the
// branch recorded at redirect time. The pending-flow cookie is deleted
// unconditionally so a refresh can never replay the callback.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) (*CallbackResult, error) {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		f.cookies.Delete(w, flowCookie)
		if desc := q.Get("error_description"); desc != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrProviderDenied, providerErr, desc)
		}
		return nil, fmt.Errorf("%w: %s", ErrProviderDenied, providerErr)
	}

	code := q.Get("code")
	if code == "" {
		f.cookies.Delete(w, flowCookie)
		return nil, fmt.Errorf("%w: callback carries neither code nor error", ErrOAuthProtocol)
	}

	var pending flowState
	err := f.cookies.Get(r, flowCookie, &pending)
	f.cookies.Delete(w, flowCookie)
	if err != nil {
		return nil, fmt.Errorf("%w: no pending flow for this browser", ErrOAuthProtocol)
	}
	if state := q.Get("state"); state == "" || state != pending.State {
		return nil, fmt.Errorf("%w: state mismatch", ErrOAuthProtocol)
	}

	ctx := r.Context()
	token, err := f.provider.Exchange(ctx, code, "")
	if err != nil {
		return nil, fmt.Errorf("auth: exchange authorization code: %w", err)
	}
	user, err := f.provider.FetchUserInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("auth: fetch provider identity: %w", err)
	}

	result := &CallbackResult{Mode: pending.Mode, FlowID: pending.State, PendingOrg: pending.PendingOrg}

	if pending.Mode == ModeSignUp {
		provisioned, err := f.provisioner.Provision(ctx, *user, pending.State)
		if err != nil {
			return nil, err
		}
		result.Principal = provisioned.Principal
		result.Provisioned = provisioned
		return result, nil
	}

	secret, err := f.deriver.Derive(user.Username, secrets.SaltMaterial(user.Email, user.OrgID, user.Username))
	if err != nil {
		return nil, fmt.Errorf("auth: derive bridging secret: %w", err)
	}
	principal, err := f.backend.SignIn(ctx, provision.BridgeEmail(*user), secret)
	if err != nil {
		if errors.Is(err, idp.ErrInvalidCredentials) {
			// Provider-authenticated but never provisioned; the
			// resolver lands this in AccessDenied, never auto-signup.
			f.log.Info("sign-in for unprovisioned provider identity",
				slog.String("username", user.Username))
		}
		return nil, err
	}
	result.Principal = principal
	return result, nil
}
