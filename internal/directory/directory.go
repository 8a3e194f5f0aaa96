// Package directory holds the portal's admin-access documents: admin records
// keyed by principal uid, organizations keyed by tenant slug, and user
// profiles keyed by principal uid.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("directory: not found")

	// ErrSlugTaken is returned when a tenant slug is already in use.
	ErrSlugTaken = errors.New("directory: tenant slug already in use")

	// ErrDuplicateProviderOrg is returned when an organization already
	// references the same provider organization id.
	ErrDuplicateProviderOrg = errors.New("directory: provider organization already provisioned")
)

// Role is an admin access level.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleOrgAdmin   Role = "org_admin"
)

// AdminRecord grants a principal admin access. Exactly one record exists
// per uid; OrganizationID is set if and only if Role is RoleOrgAdmin and
// must reference an existing Organization.
type AdminRecord struct {
	UID            string
	Email          string
	Role           Role
	OrganizationID string
	Disabled       bool
	CreatedAt      time.Time
}

// Organization is a tenant. ID is the URL-stable slug assigned once at
// provisioning time; at most one organization may carry a given
// ArcGISOrgID. Notifications are rule documents managed by screens outside
// this subsystem and carried opaquely here.
type Organization struct {
	ID            string
	Name          string
	ArcGISOrgID   string
	Notifications json.RawMessage
	CreatedAt     time.Time
}

// Profile is the user-profile document written alongside a new tenant.
type Profile struct {
	UID       string
	Username  string
	FullName  string
	Email     string
	CreatedAt time.Time
}

// Store defines the document operations this subsystem reads and writes.
type Store interface {
	// Admin returns the admin record for a principal uid.
	Admin(ctx context.Context, uid string) (*AdminRecord, error)

	// PutAdmin upserts an admin record (super-admin seeding).
	PutAdmin(ctx context.Context, rec AdminRecord) error

	// Organization returns a tenant by slug.
	Organization(ctx context.Context, id string) (*Organization, error)

	// OrganizationByProviderOrg returns the tenant bound to a provider
	// organization id, if any.
	OrganizationByProviderOrg(ctx context.Context, arcgisOrgID string) (*Organization, error)

	// SlugExists reports whether a tenant slug is already assigned.
	SlugExists(ctx context.Context, slug string) (bool, error)

	// CreateTenant writes the profile, organization, and admin record of
	// a new tenant atomically. Returns ErrSlugTaken or
	// ErrDuplicateProviderOrg when a uniqueness constraint loses a race.
	CreateTenant(ctx context.Context, profile Profile, org Organization, admin AdminRecord) error

	// WatchOrganization streams updates to a tenant document until ctx is
	// done. The channel carries only subsequent edits, not the current
	// state; callers read the current document first.
	WatchOrganization(ctx context.Context, id string) (<-chan Organization, error)
}
