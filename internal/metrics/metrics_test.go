package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncPatientsCreated()
		m.IncBillingFailures()
		m.IncEventsFailed()
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncPatientsCreated()
	m.IncPatientsCreated()
	m.IncBillingFailures()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PatientsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillingFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EventsFailed))
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Delete("/patients/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b"} {
		req := httptest.NewRequest(http.MethodDelete, "/patients/"+id, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(
		m.RequestDuration, "patient_service_http_request_duration_seconds"))
}
