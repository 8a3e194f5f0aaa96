package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geonotify/portal/internal/directory"
	"github.com/geonotify/portal/internal/idp"
	"github.com/geonotify/portal/internal/provision"
)

// State is a stop in the role-resolution state machine. Every authenticated
// principal ends in exactly one of the three terminal states.
type State int

const (
	StateLoading State = iota
	StateUnauthenticated
	StatePrincipalKnown
	StateSuperAdmin
	StateOrgAdmin
	StateAccessDenied
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePrincipalKnown:
		return "principal_known"
	case StateSuperAdmin:
		return "super_admin"
	case StateOrgAdmin:
		return "org_admin"
	case StateAccessDenied:
		return "access_denied"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// recoveryDelay is the single fixed re-read delay of the race-recovery
// path: long enough for a provisioning write that was in flight when the
// principal-change notification fired to have landed. It is the only
// timeout in this subsystem and is deliberately not configurable.
const recoveryDelay = 2 * time.Second

// Access is a resolved terminal state. Organization and OrgUpdates are set
// only for StateOrgAdmin; OrgUpdates is a live feed so later edits to the
// tenant document are reflected without re-resolving.
type Access struct {
	State        State
	Admin        *directory.AdminRecord
	Organization *directory.Organization
	OrgUpdates   <-chan directory.Organization
}

// Resolver turns an authenticated principal into a terminal access state.
type Resolver struct {
	dir   directory.Store
	board *provision.Board
	log   *slog.Logger

	// delay shadows recoveryDelay so tests do not sleep for real.
	delay time.Duration
}

// NewResolver creates a Resolver.
func NewResolver(dir directory.Store, board *provision.Board, log *slog.Logger) *Resolver {
	return &Resolver{dir: dir, board: board, log: log, delay: recoveryDelay}
}

// Resolve runs PrincipalKnown to a terminal state. flowID keys the
// provisioning signal for the browser this resolution serves; it may be
// empty when no flow is associated (API calls, seeded super admins).
//
// A missing admin record is only retried when this browser's provisioning
// is known to be in flight, and then exactly once after a fixed delay:
// race recovery, not a retry loop. An unprovisioned principal resolves to
// AccessDenied with no delay at all.
func (r *Resolver) Resolve(ctx context.Context, principal *idp.Principal, flowID string) (*Access, error) {
	if principal == nil {
		return &Access{State: StateUnauthenticated}, nil
	}

	admin, err := r.dir.Admin(ctx, principal.UID)
	if errors.Is(err, directory.ErrNotFound) && flowID != "" {
		admin, err = r.recover(ctx, principal.UID, flowID)
	}
	switch {
	case errors.Is(err, directory.ErrNotFound):
		return &Access{State: StateAccessDenied}, nil
	case err != nil:
		return nil, err
	}

	if admin.Disabled {
		r.log.Info("disabled admin denied", slog.String("uid", admin.UID))
		return &Access{State: StateAccessDenied}, nil
	}

	switch admin.Role {
	case directory.RoleSuperAdmin:
		return &Access{State: StateSuperAdmin, Admin: admin}, nil
	case directory.RoleOrgAdmin:
		return r.resolveOrgAdmin(ctx, admin)
	default:
		r.log.Warn("admin record with unknown role",
			slog.String("uid", admin.UID), slog.String("role", string(admin.Role)))
		return &Access{State: StateAccessDenied}, nil
	}
}

// recover is the race-recovery path for "no admin record yet because
// writes haven't landed". When the provisioning sequence runs in this
// process its outcome is awaited directly; otherwise the persisted
// in-flight flag gates a single delayed re-read.
func (r *Resolver) recover(ctx context.Context, uid, flowID string) (*directory.AdminRecord, error) {
	if waiter, ok := r.board.Await(flowID); ok {
		select {
		case <-waiter:
			// Outcome errors surface through the provisioning flow;
			// here only the re-read decides access.
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return r.dir.Admin(ctx, uid)
	}

	flags, err := r.board.Flags(ctx, flowID)
	if err != nil {
		r.log.Warn("provisioning signal unavailable", slog.String("error", err.Error()))
		return nil, directory.ErrNotFound
	}
	if !flags.InFlight {
		return nil, directory.ErrNotFound
	}

	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.dir.Admin(ctx, uid)
}

func (r *Resolver) resolveOrgAdmin(ctx context.Context, admin *directory.AdminRecord) (*Access, error) {
	org, err := r.dir.Organization(ctx, admin.OrganizationID)
	if errors.Is(err, directory.ErrNotFound) {
		// Dangling organization reference; deny rather than error,
		// this is an operator problem, not the visitor's.
		r.log.Error("admin record references missing organization",
			slog.String("uid", admin.UID), slog.String("org_id", admin.OrganizationID))
		return &Access{State: StateAccessDenied}, nil
	}
	if err != nil {
		return nil, err
	}

	updates, err := r.dir.WatchOrganization(ctx, admin.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("auth: watch organization: %w", err)
	}

	return &Access{
		State:        StateOrgAdmin,
		Admin:        admin,
		Organization: org,
		OrgUpdates:   updates,
	}, nil
}
