package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pm/patient-service/internal/storage/memory"
)

func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestReadiness(t *testing.T) {
	t.Run("all checks up", func(t *testing.T) {
		h := New("test", time.Second)
		h.RegisterCheck("storage", memory.New().Ping)

		rec := serve(t, h, "/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var body ReadinessResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "ready", body.Status)
		assert.Equal(t, map[string]string{"storage": "up"}, body.Checks)
	})

	t.Run("one check down", func(t *testing.T) {
		h := New("test", time.Second)
		h.RegisterCheck("storage", func(context.Context) error { return nil })
		h.RegisterCheck("kafka", func(context.Context) error { return errors.New("no brokers") })

		rec := serve(t, h, "/health")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body ReadinessResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "not_ready", body.Status)
		assert.Equal(t, "up", body.Checks["storage"])
		assert.Equal(t, "down: no brokers", body.Checks["kafka"])
	})

	t.Run("checks get a deadline", func(t *testing.T) {
		h := New("test", 10*time.Millisecond)
		h.RegisterCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		rec := serve(t, h, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestLiveness(t *testing.T) {
	h := New("prod", time.Second)
	h.RegisterCheck("broken", func(context.Context) error { return errors.New("down") })

	rec := serve(t, h, "/health/live")
	require.Equal(t, http.StatusOK, rec.Code)

	var body LivenessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "alive", body.Status)
	assert.Equal(t, "prod", body.Environment)
}
