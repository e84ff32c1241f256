package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics of the signing proxy.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Signing pipeline
	SignRequests *prometheus.CounterVec
	SignDuration prometheus.Histogram
	LowSFlips    prometheus.Counter

	// Key backend
	ConnectorCalls    *prometheus.CounterVec
	ConnectorDuration *prometheus.HistogramVec
	SessionWait       prometheus.Histogram

	// RPC surface
	RPCRequests *prometheus.CounterVec
}

// New initializes and registers metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(nil)
}

// NewWithRegistry initializes and registers metrics with a custom registry.
func NewWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		SignRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hsmsigner_sign_requests_total",
			Help: "Signing requests by outcome (ok or error kind)",
		}, []string{"outcome"}),
		SignDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hsmsigner_sign_duration_seconds",
			Help:    "End to end duration of a signing request",
			Buckets: prometheus.DefBuckets,
		}),
		LowSFlips: factory.NewCounter(prometheus.CounterOpts{
			Name: "hsmsigner_low_s_flips_total",
			Help: "Signatures returned in high-s form and normalized",
		}),
		ConnectorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hsmsigner_connector_calls_total",
			Help: "Calls made to the key backend",
		}, []string{"connector", "op", "result"}),
		ConnectorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hsmsigner_connector_call_duration_seconds",
			Help:    "Duration of key backend calls, excluding time spent queued",
			Buckets: prometheus.DefBuckets,
		}, []string{"connector", "op"}),
		SessionWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hsmsigner_session_wait_seconds",
			Help:    "Time spent waiting for exclusive access to the backend session",
			Buckets: prometheus.DefBuckets,
		}),
		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hsmsigner_rpc_requests_total",
			Help: "JSON-RPC requests by method",
		}, []string{"method"}),
	}
}

// ObserveSign records the outcome of one signing request.
func (m *Metrics) ObserveSign(outcome string, d time.Duration, flipped bool) {
	if m == nil {
		return
	}
	m.SignRequests.WithLabelValues(outcome).Inc()
	m.SignDuration.Observe(d.Seconds())
	if flipped {
		m.LowSFlips.Inc()
	}
}

// ObserveConnector records one call to the key backend.
func (m *Metrics) ObserveConnector(connector, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ConnectorCalls.WithLabelValues(connector, op, result).Inc()
	m.ConnectorDuration.WithLabelValues(connector, op).Observe(d.Seconds())
}

// ObserveSessionWait records time spent queued for the session.
func (m *Metrics) ObserveSessionWait(d time.Duration) {
	if m == nil {
		return
	}
	m.SessionWait.Observe(d.Seconds())
}

// ObserveRPC counts one JSON-RPC request.
func (m *Metrics) ObserveRPC(method string) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(method).Inc()
}
