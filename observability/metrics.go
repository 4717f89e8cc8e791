// Package observability builds the OmniFetch process logger and the
// Prometheus collectors exposed on /metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "omnifetch"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds every collector, registered on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Pipeline
	Fetches           *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	Inferences        *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
	SelectorMisses    prometheus.Counter
	BlueprintsSaved   prometheus.Counter

	// Store
	StoreQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors plus the Go runtime and process
// collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"method", "route"}),
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_fetches_total",
			Help:      "Page fetches through the shared browser",
		}, []string{"outcome"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "browser_fetch_duration_seconds",
			Help:      "Page fetch duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		Inferences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_calls_total",
			Help:      "Selector inference calls",
		}, []string{"backend", "outcome"}),
		InferenceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Selector inference duration in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"backend"}),
		SelectorMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_misses_total",
			Help:      "Fields whose selector matched nothing",
		}),
		BlueprintsSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blueprints_saved_total",
			Help:      "Blueprints persisted",
		}),
		StoreQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Blueprint store statement duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"op", "outcome"}),
	}
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// ObserveFetch records one fetch.
func (m *Metrics) ObserveFetch(start time.Time, err error) {
	o := outcome(err)
	m.Fetches.WithLabelValues(o).Inc()
	m.FetchDuration.WithLabelValues(o).Observe(time.Since(start).Seconds())
}

// ObserveInference records one inference call.
func (m *Metrics) ObserveInference(backend string, start time.Time, err error) {
	m.Inferences.WithLabelValues(backend, outcome(err)).Inc()
	m.InferenceDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

// ObserveQuery records one store statement.
func (m *Metrics) ObserveQuery(op string, d time.Duration, err error) {
	m.StoreQueryDuration.WithLabelValues(op, outcome(err)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Middleware records HTTP request counts and latencies labelled by the chi
// route pattern, so /run/{id} is one series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
