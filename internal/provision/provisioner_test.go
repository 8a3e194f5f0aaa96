package provision_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geonotify/portal/internal/directory"
	"github.com/geonotify/portal/internal/idp"
	"github.com/geonotify/portal/internal/provision"
	"github.com/geonotify/portal/pkg/arcgis"
	"github.com/geonotify/portal/pkg/secrets"
)

const testPepper = "0123456789abcdef0123456789abcdef"

func acmeUser() arcgis.UserInfo {
	return arcgis.UserInfo{
		Username:     "jdoe",
		Email:        "jdoe@acme.gov",
		FullName:     "Jane Doe",
		OrgID:        "org_1",
		OrgName:      "Acme County",
		OrgShortName: "acme-county",
		Role:         "org_admin",
	}
}

type fixture struct {
	backend     *idp.Memory
	dir         *directory.Memory
	board       *provision.Board
	provisioner *provision.Provisioner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	deriver, err := secrets.NewDeriver(testPepper)
	require.NoError(t, err)

	backend := idp.NewMemory()
	dir := directory.NewMemory()
	board := provision.NewBoard(provision.NewMemorySignals())
	return &fixture{
		backend:     backend,
		dir:         dir,
		board:       board,
		provisioner: provision.New(backend, dir, deriver, board, slog.New(slog.DiscardHandler)),
	}
}

func TestProvisioner_Provision(t *testing.T) {
	t.Parallel()

	t.Run("creates the tenant triad", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		res, err := f.provisioner.Provision(context.Background(), acmeUser(), "flow-1")
		require.NoError(t, err)

		assert.Equal(t, "acme-county", res.Organization.ID)
		assert.Equal(t, "Acme County", res.Organization.Name)
		assert.Equal(t, "org_1", res.Organization.ArcGISOrgID)
		assert.Equal(t, directory.RoleOrgAdmin, res.Admin.Role)
		assert.Equal(t, "acme-county", res.Admin.OrganizationID)
		assert.Equal(t, res.Principal.UID, res.Admin.UID)

		profile, err := f.dir.Profile(context.Background(), res.Principal.UID)
		require.NoError(t, err)
		assert.Equal(t, "jdoe", profile.Username)

		flags, err := f.board.Flags(context.Background(), "flow-1")
		require.NoError(t, err)
		assert.False(t, flags.InFlight)
		assert.True(t, flags.JustCompleted)
	})

	t.Run("personal account is rejected before any write", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		user := acmeUser()
		user.OrgID = ""
		_, err := f.provisioner.Provision(context.Background(), user, "flow-1")
		require.ErrorIs(t, err, provision.ErrIdentityConflict)

		assert.Zero(t, f.dir.OrganizationCount())
		_, err = f.backend.SignIn(context.Background(), "jdoe@acme.gov", "anything")
		require.ErrorIs(t, err, idp.ErrInvalidCredentials, "no principal should exist")
	})

	t.Run("already provisioned provider org is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.provisioner.Provision(context.Background(), acmeUser(), "flow-1")
		require.NoError(t, err)

		second := acmeUser()
		second.Username = "other"
		second.Email = "other@acme.gov"
		_, err = f.provisioner.Provision(context.Background(), second, "flow-2")
		require.ErrorIs(t, err, provision.ErrIdentityConflict)
		assert.Contains(t, err.Error(), "sign in instead")
		assert.Equal(t, 1, f.dir.OrganizationCount())
	})

	t.Run("colliding sanitized names get a suffixed slug", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		first, err := f.provisioner.Provision(context.Background(), acmeUser(), "flow-1")
		require.NoError(t, err)

		second := acmeUser()
		second.Username = "rroe"
		second.Email = "rroe@acme.example"
		second.OrgID = "org_2"
		res, err := f.provisioner.Provision(context.Background(), second, "flow-2")
		require.NoError(t, err)

		assert.NotEqual(t, first.Organization.ID, res.Organization.ID)
		assert.Contains(t, res.Organization.ID, "acme-county-")
		assert.Equal(t, res.Organization.ID, res.Admin.OrganizationID)
	})

	t.Run("registered email aborts before document writes", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.backend.CreatePrincipal(context.Background(), "jdoe@acme.gov", "pre-existing")
		require.NoError(t, err)

		_, err = f.provisioner.Provision(context.Background(), acmeUser(), "flow-1")
		require.ErrorIs(t, err, provision.ErrIdentityConflict)

		assert.Zero(t, f.dir.OrganizationCount())
		flags, err := f.board.Flags(context.Background(), "flow-1")
		require.NoError(t, err)
		assert.Equal(t, provision.Flags{}, flags, "signal must be cleared on failure")
	})

	t.Run("tenant write failure is a partial failure", func(t *testing.T) {
		t.Parallel()
		deriver, err := secrets.NewDeriver(testPepper)
		require.NoError(t, err)

		backend := idp.NewMemory()
		board := provision.NewBoard(provision.NewMemorySignals())
		failing := &failingStore{Memory: directory.NewMemory()}
		p := provision.New(backend, failing, deriver, board, slog.New(slog.DiscardHandler))

		_, err = p.Provision(context.Background(), acmeUser(), "flow-1")
		require.ErrorIs(t, err, provision.ErrPartial)

		// The principal survives the failed attempt.
		deriverSecret, err := deriver.Derive("jdoe", secrets.SaltMaterial("jdoe@acme.gov", "org_1", "jdoe"))
		require.NoError(t, err)
		_, err = backend.SignIn(context.Background(), "jdoe@acme.gov", deriverSecret)
		require.NoError(t, err)

		flags, err := board.Flags(context.Background(), "flow-1")
		require.NoError(t, err)
		assert.Equal(t, provision.Flags{}, flags, "signal must be cleared on failure")
	})

	t.Run("outcome is published to the board", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		done := make(chan provision.Outcome, 1)
		go func() {
			res, err := f.provisioner.Provision(context.Background(), acmeUser(), "flow-1")
			if err != nil {
				done <- provision.Outcome{Err: err}
				return
			}
			done <- provision.Outcome{Principal: res.Principal}
		}()

		outcome := <-done
		require.NoError(t, outcome.Err)
		require.NotNil(t, outcome.Principal)
	})
}

func TestBridgeEmail(t *testing.T) {
	t.Parallel()

	t.Run("provider email preferred", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "jdoe@acme.gov", provision.BridgeEmail(acmeUser()))
	})

	t.Run("deterministic placeholder without email", func(t *testing.T) {
		t.Parallel()
		user := acmeUser()
		user.Email = ""
		first := provision.BridgeEmail(user)
		assert.Equal(t, "jdoe@org_1.arcgis.invalid", first)
		assert.Equal(t, first, provision.BridgeEmail(user))
	})
}

// failingStore fails every tenant write while inheriting reads from Memory.
type failingStore struct {
	*directory.Memory
}

func (f *failingStore) CreateTenant(context.Context, directory.Profile, directory.Organization, directory.AdminRecord) error {
	return errors.New("document store unavailable")
}
