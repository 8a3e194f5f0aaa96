package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geonotify/portal/internal/directory"
	"github.com/geonotify/portal/internal/idp"
	"github.com/geonotify/portal/pkg/arcgis"
	"github.com/geonotify/portal/pkg/secrets"
	"github.com/geonotify/portal/pkg/slugid"
)

var (
	// ErrIdentityConflict is returned when the provider identity cannot
	// create a tenant: no organization membership, the organization is
	// already provisioned, or the bridged email is already registered.
	// Fatal for this attempt; the message directs the user to sign in
	// instead where that applies.
	ErrIdentityConflict = errors.New("provision: identity conflict")

	// ErrPartial is returned when the principal was created but the
	// tenant documents failed to write. The principal is not rolled back;
	// see the board semantics for how the resolver observes this.
	ErrPartial = errors.New("provision: provisioning partially completed")
)

// fallbackSlug seeds the slug when sanitization consumes the entire
// organization name.
const fallbackSlug = "org"

// Result is a successfully provisioned tenant triad.
type Result struct {
	Principal    *idp.Principal
	Organization *directory.Organization
	Admin        *directory.AdminRecord
}

// Provisioner creates a new organization/user/admin triad from a verified
// signup callback.
type Provisioner struct {
	backend idp.Backend
	dir     directory.Store
	deriver *secrets.Deriver
	board   *Board
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Provisioner.
func New(backend idp.Backend, dir directory.Store, deriver *secrets.Deriver, board *Board, log *slog.Logger) *Provisioner {
	return &Provisioner{
		backend: backend,
		dir:     dir,
		deriver: deriver,
		board:   board,
		log:     log,
		now:     time.Now,
	}
}

// Provision runs the tenant-creation sequence for a provider identity.
// Each step is a distinct failure point; no documents are written before
// the conflict checks pass, and the signal flags are always cleared on
// failure so a later retry is never blocked.
func (p *Provisioner) Provision(ctx context.Context, user arcgis.UserInfo, flowID string) (*Result, error) {
	if user.OrgID == "" {
		return nil, fmt.Errorf("%w: account %q has no organization membership", ErrIdentityConflict, user.Username)
	}

	existing, err := p.dir.OrganizationByProviderOrg(ctx, user.OrgID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: organization %q is already provisioned as %q, sign in instead",
			ErrIdentityConflict, user.OrgID, existing.ID)
	case !errors.Is(err, directory.ErrNotFound):
		return nil, fmt.Errorf("provision: check existing tenant: %w", err)
	}

	secret, err := p.deriver.Derive(user.Username, secrets.SaltMaterial(user.Email, user.OrgID, user.Username))
	if err != nil {
		return nil, fmt.Errorf("provision: derive bridging secret: %w", err)
	}

	slug, err := p.candidateSlug(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := p.board.Begin(ctx, flowID); err != nil {
		return nil, err
	}

	principal, err := p.backend.CreatePrincipal(ctx, BridgeEmail(user), secret)
	if err != nil {
		finishErr := err
		if errors.Is(err, idp.ErrEmailTaken) {
			finishErr = fmt.Errorf("%w: email %q is already registered, sign in instead", ErrIdentityConflict, BridgeEmail(user))
		}
		_ = p.board.Finish(ctx, flowID, Outcome{Err: finishErr})
		return nil, finishErr
	}

	result, err := p.createTenant(ctx, principal, user, slug)
	if err != nil {
		_ = p.board.Finish(ctx, flowID, Outcome{Err: err})
		return nil, err
	}

	if err := p.board.Finish(ctx, flowID, Outcome{Principal: principal}); err != nil {
		// The tenant exists; a stale flag only costs the welcome state.
		p.log.Warn("failed to record provisioning completion",
			slog.String("flow_id", flowID), slog.String("error", err.Error()))
	}

	p.log.Info("tenant provisioned",
		slog.String("org_id", result.Organization.ID),
		slog.String("arcgis_org_id", user.OrgID),
		slog.String("uid", principal.UID))
	return result, nil
}

// candidateSlug sanitizes the provider organization's name (falling back to
// its short-code) and disambiguates with a time-derived suffix when the
// slug is already assigned.
func (p *Provisioner) candidateSlug(ctx context.Context, user arcgis.UserInfo) (string, error) {
	source := user.OrgName
	if source == "" {
		source = user.OrgShortName
	}
	slug := slugid.Tenant(source)
	if slug == "" {
		slug = fallbackSlug
	}

	taken, err := p.dir.SlugExists(ctx, slug)
	if err != nil {
		return "", fmt.Errorf("provision: check slug: %w", err)
	}
	if taken {
		slug = slugid.WithSuffix(slug, p.now())
	}
	return slug, nil
}

// createTenant writes the triad, retrying once with a suffixed slug if the
// unique index reports we lost a slug race between check and insert.
func (p *Provisioner) createTenant(ctx context.Context, principal *idp.Principal, user arcgis.UserInfo, slug string) (*Result, error) {
	org := directory.Organization{
		ID:          slug,
		Name:        orgDisplayName(user),
		ArcGISOrgID: user.OrgID,
	}
	profile := directory.Profile{
		UID:      principal.UID,
		Username: user.Username,
		FullName: user.FullName,
		Email:    principal.Email,
	}
	admin := directory.AdminRecord{
		UID:            principal.UID,
		Email:          principal.Email,
		Role:           directory.RoleOrgAdmin,
		OrganizationID: slug,
	}

	err := p.dir.CreateTenant(ctx, profile, org, admin)
	if errors.Is(err, directory.ErrSlugTaken) {
		org.ID = slugid.WithSuffix(slug, p.now())
		admin.OrganizationID = org.ID
		err = p.dir.CreateTenant(ctx, profile, org, admin)
	}
	switch {
	case errors.Is(err, directory.ErrDuplicateProviderOrg):
		// Another signup for the same provider org won the race after
		// our pre-check.
		return nil, fmt.Errorf("%w: organization %q is already provisioned, sign in instead", ErrIdentityConflict, user.OrgID)
	case err != nil:
		return nil, errors.Join(ErrPartial, err)
	}

	return &Result{Principal: principal, Organization: &org, Admin: &admin}, nil
}

// BridgeEmail is the email under which a provider identity is registered
// with the password backend: the provider email when present, else a
// deterministic placeholder so accounts without email stay bridgeable.
func BridgeEmail(user arcgis.UserInfo) string {
	if user.Email != "" {
		return user.Email
	}
	return user.Username + "@" + user.OrgID + ".arcgis.invalid"
}

func orgDisplayName(user arcgis.UserInfo) string {
	if user.OrgName != "" {
		return user.OrgName
	}
	if user.OrgShortName != "" {
		return user.OrgShortName
	}
	return user.OrgID
}
