package idp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geonotify/portal/internal/idp"
)

func TestMemory_CreatePrincipal(t *testing.T) {
	t.Parallel()

	t.Run("creates and normalizes email", func(t *testing.T) {
		t.Parallel()
		backend := idp.NewMemory()
		p, err := backend.CreatePrincipal(context.Background(), "  JDoe@Acme.GOV ", "secret-1")
		require.NoError(t, err)
		assert.Equal(t, "jdoe@acme.gov", p.Email)
		assert.NotEmpty(t, p.UID)
	})

	t.Run("duplicate email", func(t *testing.T) {
		t.Parallel()
		backend := idp.NewMemory()
		_, err := backend.CreatePrincipal(context.Background(), "jdoe@acme.gov", "secret-1")
		require.NoError(t, err)

		_, err = backend.CreatePrincipal(context.Background(), "jdoe@acme.gov", "secret-2")
		require.ErrorIs(t, err, idp.ErrEmailTaken)
	})
}

func TestMemory_SignIn(t *testing.T) {
	t.Parallel()

	backend := idp.NewMemory()
	created, err := backend.CreatePrincipal(context.Background(), "jdoe@acme.gov", "secret-1")
	require.NoError(t, err)

	t.Run("correct secret", func(t *testing.T) {
		t.Parallel()
		p, err := backend.SignIn(context.Background(), "jdoe@acme.gov", "secret-1")
		require.NoError(t, err)
		assert.Equal(t, created.UID, p.UID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		_, err := backend.SignIn(context.Background(), "jdoe@acme.gov", "wrong")
		require.ErrorIs(t, err, idp.ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		t.Parallel()
		_, err := backend.SignIn(context.Background(), "nobody@acme.gov", "secret-1")
		require.ErrorIs(t, err, idp.ErrInvalidCredentials)
	})
}

func TestMemory_Subscribe(t *testing.T) {
	t.Parallel()

	t.Run("create publishes an event", func(t *testing.T) {
		t.Parallel()
		backend := idp.NewMemory()
		events, cancel := backend.Subscribe()
		defer cancel()

		created, err := backend.CreatePrincipal(context.Background(), "jdoe@acme.gov", "secret-1")
		require.NoError(t, err)

		select {
		case ev := <-events:
			require.NotNil(t, ev.Principal)
			assert.Equal(t, created.UID, ev.Principal.UID)
		case <-time.After(time.Second):
			t.Fatal("expected a principal-change event")
		}
	})

	t.Run("cancel stops the feed", func(t *testing.T) {
		t.Parallel()
		backend := idp.NewMemory()
		events, cancel := backend.Subscribe()
		cancel()

		_, ok := <-events
		assert.False(t, ok, "channel should be closed after cancel")
	})

	t.Run("sign-in publishes to every subscriber", func(t *testing.T) {
		t.Parallel()
		backend := idp.NewMemory()
		_, err := backend.CreatePrincipal(context.Background(), "jdoe@acme.gov", "secret-1")
		require.NoError(t, err)

		a, cancelA := backend.Subscribe()
		defer cancelA()
		b, cancelB := backend.Subscribe()
		defer cancelB()

		_, err = backend.SignIn(context.Background(), "jdoe@acme.gov", "secret-1")
		require.NoError(t, err)

		for _, events := range []<-chan idp.Event{a, b} {
			select {
			case ev := <-events:
				require.NotNil(t, ev.Principal)
			case <-time.After(time.Second):
				t.Fatal("expected a principal-change event")
			}
		}
	})
}
