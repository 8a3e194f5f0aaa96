package arcgis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	// ProviderName is the identifier for the ArcGIS identity provider.
	ProviderName = "arcgis"

	authorizePath   = "/sharing/rest/oauth2/authorize"
	tokenPath       = "/sharing/rest/oauth2/token"
	communitySelf   = "/sharing/rest/community/self"
	portalSelf      = "/sharing/rest/portals/self"
	defaultPortal   = "https://www.arcgis.com"
	defaultTokenTTL = "20160" // minutes, two weeks
)

// UserInfo represents the identity attributes returned by the ArcGIS
// portal for the authenticated account. OrgID is empty for personal
// (non-organizational) accounts.
type UserInfo struct {
	Username     string
	Email        string
	FullName     string
	OrgID        string
	OrgName      string
	OrgShortName string // portal urlKey, e.g. "acme-county"
	Role         string // org_admin, org_publisher, org_user
}

// Provider implements the authorization-code flow against an ArcGIS
// portal (arcgis.com or an on-premises Portal for ArcGIS).
type Provider struct {
	config     *oauth2.Config
	portalURL  string
	httpClient *http.Client
}

// NewProvider creates an ArcGIS OAuth provider.
// Returns an error if ClientID is empty.
func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, ErrMissingClientID
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	portal := strings.TrimSuffix(cfg.PortalURL, "/")
	if portal == "" {
		portal = defaultPortal
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   portal + authorizePath,
				TokenURL:  portal + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		portalURL:  portal,
		httpClient: o.httpClient,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// AuthCodeURL generates the authorization URL. A non-empty clientID
// overrides the configured application id for this request, which lets
// signup flows use a dedicated registration.
func (p *Provider) AuthCodeURL(state, clientID string, opts ...oauth2.AuthCodeOption) string {
	cfg := p.config
	if clientID != "" {
		clone := *p.config
		clone.ClientID = clientID
		cfg = &clone
	}
	opts = append(opts, oauth2.SetAuthURLParam("expiration", defaultTokenTTL))
	return cfg.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	cfg := p.config
	if redirectURI != "" {
		clone := *p.config
		clone.RedirectURL = redirectURI
		cfg = &clone
	}
	ctx = p.contextWithHTTPClient(ctx)
	return cfg.Exchange(ctx, code)
}

// FetchUserInfo retrieves the authenticated account and, when the
// account belongs to an organization, the organization's display name
// and short-code from the portal self endpoints.
func (p *Provider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	ctx = p.contextWithHTTPClient(ctx)
	client := p.config.Client(ctx, token)

	var self communitySelfResponse
	if err := p.getJSON(client, p.portalURL+communitySelf+"?f=json", &self); err != nil {
		return nil, err
	}
	if self.Error != nil {
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("community self: code=%d %s", self.Error.Code, self.Error.Message))
	}
	if self.Username == "" {
		return nil, errors.Join(ErrDecodeFailed, errors.New("community self returned no username"))
	}

	info := &UserInfo{
		Username: self.Username,
		Email:    self.Email,
		FullName: self.FullName,
		OrgID:    self.OrgID,
		Role:     self.Role,
	}

	// Personal accounts have no organization; the org lookup would
	// only return the public portal defaults.
	if info.OrgID == "" {
		return info, nil
	}

	var portal portalSelfResponse
	if err := p.getJSON(client, p.portalURL+portalSelf+"?f=json", &portal); err != nil {
		return nil, err
	}
	if portal.Error != nil {
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("portal self: code=%d %s", portal.Error.Code, portal.Error.Message))
	}

	info.OrgName = portal.Name
	info.OrgShortName = portal.URLKey
	return info, nil
}

func (p *Provider) getJSON(client *http.Client, url string, dest any) error {
	resp, err := client.Get(url)
	if err != nil {
		return errors.Join(ErrFetchFailed, fmt.Errorf("fetch %s: %w", url, err))
	}
	if resp == nil {
		return errors.Join(ErrNilResponse, errors.New("unexpected nil response from arcgis portal"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errors.Join(ErrRequestFailed, fmt.Errorf("portal request failed: status=%d body=%s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return errors.Join(ErrDecodeFailed, fmt.Errorf("decode portal response: %w", err))
	}
	return nil
}

func (p *Provider) contextWithHTTPClient(ctx context.Context) context.Context {
	if p.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	return ctx
}

// apiError is the error envelope ArcGIS embeds in otherwise-200 responses.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type communitySelfResponse struct {
	Username string    `json:"username"`
	Email    string    `json:"email"`
	FullName string    `json:"fullName"`
	OrgID    string    `json:"orgId"`
	Role     string    `json:"role"`
	Error    *apiError `json:"error"`
}

type portalSelfResponse struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	URLKey string    `json:"urlKey"`
	Error  *apiError `json:"error"`
}
