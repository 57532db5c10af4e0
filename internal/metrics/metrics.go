// Package metrics defines the Prometheus instruments of the service and
// the HTTP middleware that feeds the latency histogram.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	PatientsCreated prometheus.Counter
	BillingFailures prometheus.Counter
	EventsFailed    prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PatientsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "patient_service_patients_created_total",
			Help: "Total number of patients created",
		}),
		BillingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "patient_service_billing_failures_total",
			Help: "Billing account requests that failed after the patient was saved",
		}),
		EventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "patient_service_events_failed_total",
			Help: "Patient events that could not be published",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patient_service_http_request_duration_seconds",
			Help:    "Latency of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) IncPatientsCreated() {
	if m != nil {
		m.PatientsCreated.Inc()
	}
}

func (m *Metrics) IncBillingFailures() {
	if m != nil {
		m.BillingFailures.Inc()
	}
}

func (m *Metrics) IncEventsFailed() {
	if m != nil {
		m.EventsFailed.Inc()
	}
}

// Middleware observes request latency labelled by the chi route
// pattern, so /patients/{id} is one series rather than one per id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
