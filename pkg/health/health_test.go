package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geonotify/portal/pkg/health"
)

func TestLivenessHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	health.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessHandler(t *testing.T) {
	t.Parallel()

	t.Run("all healthy", func(t *testing.T) {
		t.Parallel()

		checks := health.Checks{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return nil },
		}

		rec := httptest.NewRecorder()
		health.ReadinessHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp health.Response
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, health.StatusHealthy, resp.Status)
		assert.Len(t, resp.Checks, 2)
	})

	t.Run("one failing check degrades the whole probe", func(t *testing.T) {
		t.Parallel()

		checks := health.Checks{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}

		rec := httptest.NewRecorder()
		health.ReadinessHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp health.Response
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, health.StatusUnhealthy, resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["redis"].Error)
	})

	t.Run("hung check is cut off by the timeout", func(t *testing.T) {
		t.Parallel()

		checks := health.Checks{
			"slow": func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}

		rec := httptest.NewRecorder()
		start := time.Now()
		health.ReadinessHandler(checks, health.WithTimeout(50*time.Millisecond))(
			rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("no checks is healthy", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		health.ReadinessHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
