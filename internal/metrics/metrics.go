// Package metrics exposes Prometheus collectors for imports, exports and HTTP
// traffic on a private registry.
//
// All recording methods are safe on a nil *Metrics so callers that run
// without metrics (tests, the admin CLI) need no guards.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service records to.
type Metrics struct {
	reg *prometheus.Registry

	importRuns     *prometheus.CounterVec   // campa_import_runs_total{outcome}
	importRows     *prometheus.CounterVec   // campa_import_rows_total{kind}
	importDuration prometheus.Histogram     // campa_import_duration_seconds
	exportRows     prometheus.Counter       // campa_export_rows_total
	activeVehicles prometheus.Gauge         // campa_active_vehicles
	httpRequests   *prometheus.CounterVec   // campa_http_requests_total{method,route,status}
	httpDuration   *prometheus.HistogramVec // campa_http_request_duration_seconds{method,route}
}

// New registers all collectors on a fresh registry.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		importRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campa_import_runs_total",
			Help: "CSV import runs by outcome (success, failure, cancelled).",
		}, []string{"outcome"}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campa_import_rows_total",
			Help: "Imported CSV rows by decision (created, skipped, errored).",
		}, []string{"kind"}),
		importDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "campa_import_duration_seconds",
			Help:    "Wall time of CSV import runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		exportRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campa_export_rows_total",
			Help: "Rows written to export files.",
		}),
		activeVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campa_active_vehicles",
			Help: "Vehicles currently parked, as of the last change.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campa_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campa_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	for _, c := range []prometheus.Collector{
		m.importRuns, m.importRows, m.importDuration, m.exportRows,
		m.activeVehicles, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveImport records one finished import run.
func (m *Metrics) ObserveImport(outcome string, created, skipped, errored int, d time.Duration) {
	if m == nil {
		return
	}
	m.importRuns.WithLabelValues(outcome).Inc()
	m.importRows.WithLabelValues("created").Add(float64(created))
	m.importRows.WithLabelValues("skipped").Add(float64(skipped))
	m.importRows.WithLabelValues("errored").Add(float64(errored))
	m.importDuration.Observe(d.Seconds())
}

// AddExportRows counts rows written by an export.
func (m *Metrics) AddExportRows(n int) {
	if m == nil {
		return
	}
	m.exportRows.Add(float64(n))
}

// SetActiveVehicles updates the parked-vehicle gauge.
func (m *Metrics) SetActiveVehicles(n int) {
	if m == nil {
		return
	}
	m.activeVehicles.Set(float64(n))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, fmt.Sprint(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
