package auth

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geonotify/portal/internal/directory"
	"github.com/geonotify/portal/internal/idp"
	"github.com/geonotify/portal/internal/provision"
)

// countingStore counts admin-record reads so tests can assert the recovery
// path re-reads exactly once.
type countingStore struct {
	*directory.Memory
	adminReads atomic.Int64
}

func (s *countingStore) Admin(ctx context.Context, uid string) (*directory.AdminRecord, error) {
	s.adminReads.Add(1)
	return s.Memory.Admin(ctx, uid)
}

type resolverFixture struct {
	resolver *Resolver
	store    *countingStore
	signals  *provision.MemorySignals
	board    *provision.Board
}

func newResolverFixture(t *testing.T, delay time.Duration) *resolverFixture {
	t.Helper()

	store := &countingStore{Memory: directory.NewMemory()}
	signals := provision.NewMemorySignals()
	board := provision.NewBoard(signals)
	r := NewResolver(store, board, slog.New(slog.DiscardHandler))
	r.delay = delay

	return &resolverFixture{resolver: r, store: store, signals: signals, board: board}
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("nil principal is unauthenticated", func(t *testing.T) {
		t.Parallel()

		fx := newResolverFixture(t, time.Hour)

		access, err := fx.resolver.Resolve(context.Background(), nil, "")
		require.NoError(t, err)
		assert.Equal(t, StateUnauthenticated, access.State)
	})

	t.Run("no record and no in-flight flag denies without delay", func(t *testing.T) {
		t.Parallel()

		// A deliberately huge delay: if the recovery sleep ran at all, the
		// test would blow its deadline instead of flaking on a tight
		// elapsed-time assertion.
		fx := newResolverFixture(t, time.Hour)

		start := time.Now()
		access, err := fx.resolver.Resolve(context.Background(), &idp.Principal{UID: "u-1"}, "flow-1")
		require.NoError(t, err)
		assert.Equal(t, StateAccessDenied, access.State)
		assert.Less(t, time.Since(start), time.Second)
		assert.EqualValues(t, 1, fx.store.adminReads.Load())
	})

	t.Run("no record and no flow id denies immediately", func(t *testing.T) {
		t.Parallel()

		fx := newResolverFixture(t, time.Hour)

		access, err := fx.resolver.Resolve(context.Background(), &idp.Principal{UID: "u-1"}, "")
		require.NoError(t, err)
		assert.Equal(t, StateAccessDenied, access.State)
		assert.EqualValues(t, 1, fx.store.adminReads.Load())
	})

	t.Run("in-flight flag gates exactly one delayed re-read", func(t *testing.T) {
		t.Parallel()

		fx := newResolverFixture(t, 50*time.Millisecond)
		ctx := context.Background()

		// Flag written by another portal instance: no local waiter exists,
		// so recovery falls back to the persisted signal.
		require.NoError(t, fx.signals.Put(ctx, "flow-1", provision.Flags{InFlight: true}))

		// The admin record lands while the resolver waits out the delay.
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = fx.store.PutAdmin(ctx, directory.AdminRecord{
				UID:  "u-1",
				Role: directory.RoleSuperAdmin,
			})
		}()

		access, err := fx.resolver.Resolve(ctx, &idp.Principal{UID: "u-1"}, "flow-1")
		require.NoError(t, err)
		assert.Equal(t, StateSuperAdmin, access.State)
		assert.EqualValues(t, 2, fx.store.adminReads.Load(), "one read plus exactly one re-read")
	})

	t.Run("in-flight flag with no record after re-read denies", func(t *testing.T) {
		t.Parallel()

		fx := newResolverFixture(t, 20*time.Millisecond)
		ctx := context.Background()

		require.NoError(t, fx.signals.Put(ctx, "flow-1", provision.Flags{InFlight: true}))

		access, err := fx.resolver.Resolve(ctx, &idp.Principal{UID: "u-1"}, "flow-1")
		require.NoError(t, err)
		assert.Equal(t, StateAccessDenied, access.State)
		assert.EqualValues(t, 2, fx.store.adminReads.Load())
	})

	t.Run("local waiter short-circuits the delay", func(t *testing.T) {
		t.Parallel()

		fx := newResolverFixture(t, time.Hour)
		ctx := context.Background()

		require.NoError(t, fx.board.Begin(ctx, "flow-1"))

		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = fx.store.PutAdmin(ctx, directory.AdminRecord{
				UID:  "u-1",
				Role: directory.RoleSuperAdmin,
			})
			_ = fx.board.Finish(ctx, "flow-1", provision.Outcome{
				Principal: &idp.Principal{UID: "u-1"},
			})
		}()

		start := time.Now()
		access, err := fx.resolver.Resolve(ctx, &idp.Principal{UID: "u-1"}, "flow-1")
		require.NoError(t, err)
		assert.Equal(t, StateSuperAdmin, access.State)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("disabled admin is denied", func(t *testing.T) {
		t.Parallel()

		fx := newResolverFixture(t, time.Hour)
		ctx := context.Background()

		require.NoError(t, fx.store.PutAdmin(ctx, directory.AdminRecord{
			UID:      "u-1",
			Role:     directory.RoleSuperAdmin,
			Disabled: true,
		}))

		access, err := fx.resolver.Resolve(ctx, &idp.Principal{UID: "u-1"}, "")
		require.NoError(t, err)
		assert.Equal(t, StateAccessDenied, access.State)
	})

	t.Run("org admin resolves organization and live updates", func(t *testing.T) {
		t.Parallel()

		fx := newResolverFixture(t, time.Hour)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		require.NoError(t, fx.store.CreateTenant(ctx,
			directory.Profile{UID: "u-1", Username: "jdoe"},
			directory.Organization{ID: "acme-gis", Name: "Acme GIS", ArcGISOrgID: "org-77"},
			directory.AdminRecord{UID: "u-1", Role: directory.RoleOrgAdmin, OrganizationID: "acme-gis"},
		))

		access, err := fx.resolver.Resolve(ctx, &idp.Principal{UID: "u-1"}, "")
		require.NoError(t, err)
		assert.Equal(t, StateOrgAdmin, access.State)
		require.NotNil(t, access.Organization)
		assert.Equal(t, "acme-gis", access.Organization.ID)
		require.NotNil(t, access.OrgUpdates)

		require.NoError(t, fx.store.UpdateOrganization(ctx, directory.Organization{
			ID:   "acme-gis",
			Name: "Acme Geospatial",
		}))

		select {
		case updated := <-access.OrgUpdates:
			assert.Equal(t, "Acme Geospatial", updated.Name)
		case <-time.After(time.Second):
			t.Fatal("no organization update received")
		}
	})

	t.Run("org admin with dangling organization is denied", func(t *testing.T) {
		t.Parallel()

		fx := newResolverFixture(t, time.Hour)
		ctx := context.Background()

		require.NoError(t, fx.store.PutAdmin(ctx, directory.AdminRecord{
			UID:            "u-1",
			Role:           directory.RoleOrgAdmin,
			OrganizationID: "vanished",
		}))

		access, err := fx.resolver.Resolve(ctx, &idp.Principal{UID: "u-1"}, "")
		require.NoError(t, err)
		assert.Equal(t, StateAccessDenied, access.State)
	})
}

func receiveAccess(t *testing.T, states <-chan Access) Access {
	t.Helper()

	select {
	case access := <-states:
		return access
	case <-time.After(time.Second):
		t.Fatal("no access state received")
		return Access{}
	}
}

func TestCoordinator_Run(t *testing.T) {
	t.Parallel()

	fx := newResolverFixture(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, fx.store.PutAdmin(ctx, directory.AdminRecord{
		UID:  "u-1",
		Role: directory.RoleSuperAdmin,
	}))

	backend := idp.NewMemory()
	coord := NewCoordinator(backend, fx.resolver, slog.New(slog.DiscardHandler))

	states := coord.Run(ctx, &idp.Principal{UID: "u-1"}, "")

	assert.Equal(t, StateLoading, receiveAccess(t, states).State)
	assert.Equal(t, StateSuperAdmin, receiveAccess(t, states).State,
		"the session's principal resolves immediately, without waiting for an event")

	// Another principal's sign-in is not this session's business; the
	// sign-out that follows is.
	backend.Publish(idp.Event{Principal: &idp.Principal{UID: "u-2"}})
	backend.Publish(idp.Event{})

	assert.Equal(t, StateUnauthenticated, receiveAccess(t, states).State)

	backend.Publish(idp.Event{Principal: &idp.Principal{UID: "u-1"}})
	assert.Equal(t, StateSuperAdmin, receiveAccess(t, states).State)
}
