package cookie_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geonotify/portal/pkg/cookie"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type payload struct {
	State string `json:"state"`
	Mode  string `json:"mode"`
}

// requestWithCookies replays cookies written to rec onto a fresh request.
func requestWithCookies(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("valid secret", func(t *testing.T) {
		t.Parallel()
		m, err := cookie.New(testSecret)
		require.NoError(t, err)
		require.NotNil(t, m)
	})

	t.Run("short secret", func(t *testing.T) {
		t.Parallel()
		m, err := cookie.New("short")
		require.ErrorIs(t, err, cookie.ErrBadSecret)
		require.Nil(t, m)
	})
}

func TestManager_RoundTrip(t *testing.T) {
	t.Parallel()

	m, err := cookie.New(testSecret)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Set(rec, "flow", payload{State: "abc", Mode: "signup"}, 600))

	// The wire value must not leak the plaintext.
	raw := rec.Result().Cookies()[0].Value
	assert.NotContains(t, raw, "abc")
	assert.NotContains(t, raw, "signup")

	var got payload
	require.NoError(t, m.Get(requestWithCookies(t, rec), "flow", &got))
	assert.Equal(t, payload{State: "abc", Mode: "signup"}, got)
}

func TestManager_Get(t *testing.T) {
	t.Parallel()

	m, err := cookie.New(testSecret)
	require.NoError(t, err)

	t.Run("missing cookie", func(t *testing.T) {
		t.Parallel()
		var got payload
		err := m.Get(httptest.NewRequest(http.MethodGet, "/", nil), "flow", &got)
		require.ErrorIs(t, err, cookie.ErrNotFound)
	})

	t.Run("tampered value", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		require.NoError(t, m.Set(rec, "flow", payload{State: "abc"}, 600))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		c := rec.Result().Cookies()[0]
		c.Value = strings.Map(func(r rune) rune {
			if r == 'A' {
				return 'B'
			}
			return 'A'
		}, c.Value)
		r.AddCookie(c)

		var got payload
		require.ErrorIs(t, m.Get(r, "flow", &got), cookie.ErrDecrypt)
	})

	t.Run("different secret", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		require.NoError(t, m.Set(rec, "flow", payload{State: "abc"}, 600))

		other, err := cookie.New(strings.Repeat("x", 32))
		require.NoError(t, err)

		var got payload
		require.ErrorIs(t, other.Get(requestWithCookies(t, rec), "flow", &got), cookie.ErrDecrypt)
	})
}

func TestManager_Delete(t *testing.T) {
	t.Parallel()

	m, err := cookie.New(testSecret)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.Delete(rec, "flow")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.Empty(t, cookies[0].Value)
}
