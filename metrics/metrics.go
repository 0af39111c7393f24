// Package metrics exposes prometheus instrumentation for the connection pool,
// the transport and the server balancer. Every Record method is a no-op on a
// nil *Collector, so components can hold an optional collector without checks.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "opengemini_client"

// Collector is safe for concurrent use.
type Collector struct {
	connsCreated    *prometheus.CounterVec
	poolHits        *prometheus.CounterVec
	poolDrops       *prometheus.CounterVec
	staleRetries    *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
	serverHealthy   *prometheus.GaugeVec
	noServer        prometheus.Counter
}

// New registers the client metrics on reg. Registering twice on the same
// registerer panics, as with any promauto metric.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		connsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_created_total",
			Help:      "Connections dialed because no idle connection was pooled.",
		}, []string{"endpoint"}),
		poolHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_hits_total",
			Help:      "Idle connections reused from the pool.",
		}, []string{"endpoint"}),
		poolDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_drops_total",
			Help:      "Connections discarded because the idle queue was full.",
		}, []string{"endpoint"}),
		staleRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_retries_total",
			Help:      "Requests replayed on a new connection after a pooled one failed.",
		}, []string{"endpoint", "step"}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed HTTP exchanges.",
		}, []string{"method", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP exchanges including connection setup.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
		requestErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "HTTP exchanges that ended in an error, by error kind.",
		}, []string{"method", "kind"}),
		serverHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_healthy",
			Help:      "1 if the last health probe of the server succeeded.",
		}, []string{"endpoint"}),
		noServer: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_available_server_total",
			Help:      "Selections that found every server unhealthy.",
		}),
	}
}

func (c *Collector) RecordConnCreated(endpoint string) {
	if c == nil {
		return
	}
	c.connsCreated.WithLabelValues(endpoint).Inc()
}

func (c *Collector) RecordPoolHit(endpoint string) {
	if c == nil {
		return
	}
	c.poolHits.WithLabelValues(endpoint).Inc()
}

func (c *Collector) RecordPoolDrop(endpoint string) {
	if c == nil {
		return
	}
	c.poolDrops.WithLabelValues(endpoint).Inc()
}

// RecordStaleRetry counts a replay; step is "write" or "read".
func (c *Collector) RecordStaleRetry(endpoint, step string) {
	if c == nil {
		return
	}
	c.staleRetries.WithLabelValues(endpoint, step).Inc()
}

func (c *Collector) RecordRequest(method string, statusCode int, d time.Duration) {
	if c == nil {
		return
	}
	code := strconv.Itoa(statusCode)
	c.requestsTotal.WithLabelValues(method, code).Inc()
	c.requestDuration.WithLabelValues(method, code).Observe(d.Seconds())
}

func (c *Collector) RecordRequestError(method, kind string) {
	if c == nil {
		return
	}
	c.requestErrors.WithLabelValues(method, kind).Inc()
}

func (c *Collector) RecordServerHealth(endpoint string, healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	c.serverHealthy.WithLabelValues(endpoint).Set(v)
}

func (c *Collector) RecordNoAvailableServer() {
	if c == nil {
		return
	}
	c.noServer.Inc()
}
