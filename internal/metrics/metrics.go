package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

// Collector owns its registry so several can coexist in one process (tests,
// the simulator) without duplicate registration panics.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge
	RateLimited     prometheus.Counter

	AppointmentsTotal *prometheus.CounterVec
	BookingDuration   prometheus.Histogram

	AuditRunsTotal *prometheus.CounterVec
	AuditOverlaps  prometheus.Gauge
	DBConnections  prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-client rate limiter.",
		}),

		AppointmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "appointment_requests_total",
			Help:      "Appointment creation attempts by outcome.",
		}, []string{"outcome"}),

		BookingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "booking_duration_seconds",
			Help:      "Time spent deciding an appointment request, lock wait included.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 3.0},
		}),

		AuditRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Schedule audit runs by result.",
		}, []string{"result"}),

		AuditOverlaps: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "overlapping_pairs",
			Help:      "Overlapping appointment pairs found by the last audit. Alert if non-zero.",
		}),

		DBConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "open_connections",
			Help:      "Current number of open database connections.",
		}),
	}
}

// ObserveBooking records the outcome label of one appointment request.
func (c *Collector) ObserveBooking(outcome string, seconds float64) {
	c.AppointmentsTotal.WithLabelValues(outcome).Inc()
	c.BookingDuration.Observe(seconds)
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}
