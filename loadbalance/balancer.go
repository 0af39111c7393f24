// Package loadbalance picks the cluster member to talk to.
//
// A ServerBalancer holds a fixed list of servers, each with an atomic health
// flag that only the background health check writes:
//
//	           probe ok (204)
//	unhealthy ────────────────▶ healthy   (initial)
//	          ◀────────────────
//	           error / other status
//
// Two selection modes:
//   - PickServer(i):         the i-th configured server, health ignored
//   - PickAvailableServer(): round robin over healthy servers only
package loadbalance

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"opengemini-client/completion"
	"opengemini-client/endpoint"
	"opengemini-client/errs"
	"opengemini-client/message"
	"opengemini-client/metrics"
	"opengemini-client/worker"
)

const (
	DefaultHealthCheckPeriod = 10 * time.Second
	DefaultHealthPath        = "/ping"
	defaultProbeConcurrency  = 16
)

// Balancer is what operations use to choose an endpoint.
type Balancer interface {
	PickServer(index int) (endpoint.Endpoint, error)
	PickAvailableServer() (endpoint.Endpoint, error)
	Close() error
}

// Prober issues the health probe. *transport.Client satisfies it with a GET
// that bypasses its middleware; the balancer always passes completion.Sync.
type Prober interface {
	Probe(ep endpoint.Endpoint, target string, tok completion.Token) (*message.Response, error)
}

var _ Balancer = (*ServerBalancer)(nil)

type server struct {
	ep   endpoint.Endpoint
	good atomic.Bool
}

// ServerState is a snapshot of one server for diagnostics.
type ServerState struct {
	Endpoint endpoint.Endpoint
	Healthy  bool
}

type Option func(*ServerBalancer)

func WithHealthCheckPeriod(d time.Duration) Option {
	return func(b *ServerBalancer) {
		if d > 0 {
			b.period = d
		}
	}
}

func WithHealthPath(path string) Option {
	return func(b *ServerBalancer) {
		if path != "" {
			b.healthPath = path
		}
	}
}

// WithProbeConcurrency bounds how many probes of one round run at once.
func WithProbeConcurrency(n int) Option {
	return func(b *ServerBalancer) {
		if n > 0 {
			b.probeLimit = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *ServerBalancer) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(b *ServerBalancer) { b.metrics = m }
}

// ServerBalancer owns its own single-worker execution context, which runs the
// health check loop until Close.
type ServerBalancer struct {
	servers []*server
	next    atomic.Uint64 // rotation counter, kept below len(servers) after each hit

	prober     Prober
	period     time.Duration
	healthPath string
	probeLimit int

	exec      *worker.Pool
	stop      chan struct{}
	closeOnce sync.Once

	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewServerBalancer validates endpoints and starts health checking through
// prober. A nil prober disables health checks; every server stays healthy.
func NewServerBalancer(endpoints []endpoint.Endpoint, prober Prober, opts ...Option) (*ServerBalancer, error) {
	if len(endpoints) == 0 {
		return nil, errs.InvalidArgument("At least one endpoint needed")
	}
	seen := make(map[endpoint.Endpoint]struct{}, len(endpoints))
	servers := make([]*server, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Host == "" {
			return nil, errs.InvalidArgument("Host field should not be empty")
		}
		if _, dup := seen[ep]; dup {
			return nil, errs.InvalidArgument("Duplicate endpoint: " + ep.String())
		}
		seen[ep] = struct{}{}
		s := &server{ep: ep}
		s.good.Store(true)
		servers = append(servers, s)
	}

	b := &ServerBalancer{
		servers:    servers,
		prober:     prober,
		period:     DefaultHealthCheckPeriod,
		healthPath: DefaultHealthPath,
		probeLimit: defaultProbeConcurrency,
		stop:       make(chan struct{}),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, s := range b.servers {
		b.metrics.RecordServerHealth(s.ep.String(), true)
	}

	b.exec = worker.NewPool(1, worker.WithLogger(b.logger))
	if prober != nil {
		if err := b.exec.Spawn(b.healthLoop); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// PickServer returns the index-th configured endpoint regardless of health.
func (b *ServerBalancer) PickServer(index int) (endpoint.Endpoint, error) {
	if index < 0 || index >= len(b.servers) {
		return endpoint.Endpoint{}, errs.InvalidArgument("index out of range")
	}
	return b.servers[index].ep, nil
}

// PickAvailableServer returns the next healthy endpoint in rotation.
//
// Each candidate is claimed with a fetch-add, so concurrent callers see
// distinct positions. After a hit the counter is folded back modulo the
// server count with a CAS loop; only the CAS retries, never the scan.
func (b *ServerBalancer) PickAvailableServer() (endpoint.Endpoint, error) {
	n := uint64(len(b.servers))
	for i := uint64(0); i < n; i++ {
		idx := b.next.Add(1) - 1
		s := b.servers[idx%n]
		if !s.good.Load() {
			continue
		}
		for {
			cur := b.next.Load()
			if b.next.CompareAndSwap(cur, cur%n) {
				break
			}
		}
		return s.ep, nil
	}
	b.metrics.RecordNoAvailableServer()
	return endpoint.Endpoint{}, errs.Server("No available server")
}

// Len returns the number of configured servers.
func (b *ServerBalancer) Len() int {
	return len(b.servers)
}

// Servers returns a health snapshot in configuration order.
func (b *ServerBalancer) Servers() []ServerState {
	out := make([]ServerState, len(b.servers))
	for i, s := range b.servers {
		out[i] = ServerState{Endpoint: s.ep, Healthy: s.good.Load()}
	}
	return out
}

// Close stops the health check loop and waits for a running round to finish.
func (b *ServerBalancer) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
		b.exec.Stop()
	})
	return nil
}
