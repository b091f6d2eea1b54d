package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "replicator"

// Write results.
const (
	ResultSuccess       = "success"
	ResultQuorumFailure = "quorum_failure"
	ResultError         = "error"
)

// Delivery results.
const (
	DeliveryOK       = "ok"
	DeliveryFailed   = "failed"
	DeliveryRejected = "rejected"
)

// Metrics groups the node's collectors.
type Metrics struct {
	registry *prometheus.Registry

	writes        *prometheus.CounterVec
	writeLatency  prometheus.Histogram
	deliveries    *prometheus.CounterVec
	lateOutcomes  prometheus.Counter
	inflight      prometheus.Gauge
	merges        *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	peerStatus    *prometheus.GaugeVec
	quorumChanges prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Client writes by result",
		}, []string{"result"}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_latency_ms",
			Help:      "Time from write acceptance to quorum decision in milliseconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Replication deliveries to peers by result",
		}, []string{"peer", "result"}),
		lateOutcomes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_outcomes_total",
			Help:      "Delivery outcomes that arrived after the quorum decision",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_deliveries",
			Help:      "Deliveries submitted and not yet completed",
		}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Replicated writes applied on this node by outcome",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		peerStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_up",
			Help:      "1 when the peer answered its last liveness probe",
		}, []string{"peer"}),
		quorumChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_quorum_changes_total",
			Help:      "Write quorum updates through the control API",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.writes, m.writeLatency, m.deliveries, m.lateOutcomes, m.inflight,
		m.merges, m.httpRequests, m.httpDuration, m.peerStatus, m.quorumChanges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registerCollector(m.registry, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is New for callers that cannot recover from a registration error.
func MustNew() *Metrics {
	m, err := New()
	if err != nil {
		panic(err)
	}
	return m
}

func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
	}
	return nil
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) error {
	return registerCollector(m.registry, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveWrite records one finished write.
func (m *Metrics) ObserveWrite(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(result).Inc()
	m.writeLatency.Observe(float64(elapsed.Microseconds()) / 1000)
}

// DeliveryStarted increments the in-flight gauge.
func (m *Metrics) DeliveryStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// DeliveryFinished records a completed delivery and decrements the in-flight gauge.
func (m *Metrics) DeliveryFinished(peer, result string, late bool) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.deliveries.WithLabelValues(peer, result).Inc()
	if late {
		m.lateOutcomes.Inc()
	}
}

// DeliveryRejected records a delivery the pool refused to run.
func (m *Metrics) DeliveryRejected(peer string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(peer, DeliveryRejected).Inc()
}

// ObserveMerge records a replicated write applied on this node.
func (m *Metrics) ObserveMerge(applied bool) {
	if m == nil {
		return
	}
	outcome := "ignored"
	if applied {
		outcome = "applied"
	}
	m.merges.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, httpStatus(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// SetPeerUp publishes a peer's liveness.
func (m *Metrics) SetPeerUp(peer string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.peerStatus.WithLabelValues(peer).Set(v)
}

// QuorumChanged counts a write-quorum update.
func (m *Metrics) QuorumChanged() {
	if m == nil {
		return
	}
	m.quorumChanges.Inc()
}

func httpStatus(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
