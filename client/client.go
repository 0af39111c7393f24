// Package client wires a configuration to the networking core.
//
//	config ──▶ registry (optional etcd discovery)
//	       ──▶ transport.Client  (own worker pool, conn pool, middleware)
//	       ──▶ loadbalance.ServerBalancer (own worker pool, health checks)
//	       ──▶ Client (own worker pool): Ping / PingAvailable / Request
//
// Every operation accepts a completion.Token, so the same call can block,
// return a future, run detached, start lazily or be awaited in a select.
package client

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"opengemini-client/completion"
	"opengemini-client/config"
	"opengemini-client/endpoint"
	"opengemini-client/errs"
	"opengemini-client/loadbalance"
	"opengemini-client/message"
	"opengemini-client/metrics"
	"opengemini-client/middleware"
	"opengemini-client/registry"
	"opengemini-client/transport"
	"opengemini-client/worker"
)

const (
	pingPath      = "/ping"
	versionHeader = "X-Geminidb-Version"
)

// PingResult describes a successful ping.
type PingResult struct {
	Endpoint endpoint.Endpoint
	Version  string // server version header, empty if not sent
	Latency  time.Duration
}

type options struct {
	logger   *zap.Logger
	metrics  *metrics.Collector
	registry registry.Registry
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithRegistry discovers extra members from reg instead of building an etcd
// registry from the config. The caller keeps ownership of reg.
func WithRegistry(reg registry.Registry) Option {
	return func(o *options) { o.registry = reg }
}

type Client struct {
	exec      *worker.Pool // runs facade operations
	http      *transport.Client
	balancer  *loadbalance.ServerBalancer
	ownedReg  registry.Registry // closed by Close, nil if none or injected
	stop      chan struct{}     // ends the membership watch
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewClient validates cfg and builds the client. Configuration problems are
// returned here, synchronously.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errs.InvalidArgument("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{logger: o.logger, stop: make(chan struct{})}

	// Step 1: collect endpoints
	eps := append([]endpoint.Endpoint(nil), cfg.Addresses...)
	var discovered []endpoint.Endpoint
	reg := o.registry
	if reg == nil && len(cfg.Discovery.EtcdEndpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Discovery.EtcdEndpoints, cfg.Discovery.DialTimeout, o.logger)
		if err != nil {
			return nil, err
		}
		reg = etcdReg
		c.ownedReg = etcdReg
	}
	if reg != nil {
		var err error
		discovered, err = reg.Discover(cfg.Discovery.Cluster)
		if err != nil {
			c.closeRegistry()
			return nil, err
		}
		eps = mergeEndpoints(eps, discovered)
		o.logger.Info("discovered cluster members",
			zap.String("cluster", cfg.Discovery.Cluster),
			zap.Int("count", len(discovered)),
		)
	}

	// Step 2: transport; one worker each for the facade and the balancer
	threads := worker.ChooseThreads(cfg.ConcurrencyHint) - 2
	if threads < 1 {
		threads = 1
	}
	mws := []middleware.Middleware{
		middleware.RequestIDMiddleware(),
		middleware.LoggingMiddleware(o.logger),
		middleware.MetricsMiddleware(o.metrics),
	}
	if cfg.RequestTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.RequestTimeout))
	}
	if cfg.RateLimit.Enabled {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}
	topts := []transport.Option{
		transport.WithConnectTimeout(cfg.ConnectTimeout),
		transport.WithReadWriteTimeout(cfg.Timeout),
		transport.WithMaxIdlePerEndpoint(cfg.MaxIdlePerEndpoint),
		transport.WithThreads(threads),
		transport.WithMaxInFlight(cfg.MaxInFlight),
		transport.WithLogger(o.logger),
		transport.WithMetrics(o.metrics),
		transport.WithMiddleware(mws...),
	}
	if cfg.Auth.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(cfg.Auth.Username + ":" + cfg.Auth.Password))
		topts = append(topts, transport.WithDefaultHeader("Authorization", "Basic "+cred))
	}
	if cfg.TLS.Enabled {
		topts = append(topts, transport.WithTLS(transport.TLSOptions{
			SkipVerifyPeer: cfg.TLS.SkipVerifyPeer,
			Certificates:   cfg.TLS.Certificates,
			PrivateKey:     cfg.TLS.PrivateKey,
			RootCAs:        cfg.TLS.RootCAs,
			Version:        cfg.TLS.Version,
		}))
	}
	httpClient, err := transport.NewClient(topts...)
	if err != nil {
		c.closeRegistry()
		return nil, err
	}
	c.http = httpClient

	// Step 3: balancer
	balancer, err := loadbalance.NewServerBalancer(eps, httpClient,
		loadbalance.WithHealthCheckPeriod(cfg.HealthCheck.Period),
		loadbalance.WithHealthPath(cfg.HealthCheck.Path),
		loadbalance.WithLogger(o.logger),
		loadbalance.WithMetrics(o.metrics),
	)
	if err != nil {
		httpClient.Close()
		c.closeRegistry()
		return nil, err
	}
	c.balancer = balancer

	c.exec = worker.NewPool(1, worker.WithLogger(o.logger))
	if reg != nil {
		updates := reg.Watch(cfg.Discovery.Cluster)
		c.exec.Spawn(func() { c.watchMembers(updates, discovered) })
	}
	return c, nil
}

// Ping checks the index-th configured server. A bad index is reported
// through tok like any other failure.
func (c *Client) Ping(index int, tok completion.Token) (*PingResult, error) {
	return completion.Initiate(c.exec, tok, func(ctx context.Context) (*PingResult, error) {
		ep, err := c.balancer.PickServer(index)
		if err != nil {
			return nil, err
		}
		return c.ping(ctx, ep)
	})
}

// PingAvailable checks the next healthy server in rotation.
func (c *Client) PingAvailable(tok completion.Token) (*PingResult, error) {
	return completion.Initiate(c.exec, tok, func(ctx context.Context) (*PingResult, error) {
		ep, err := c.balancer.PickAvailableServer()
		if err != nil {
			return nil, err
		}
		return c.ping(ctx, ep)
	})
}

// Request sends req to the next healthy server. Status codes are returned
// as is; only transport failures are errors.
func (c *Client) Request(req *message.Request, tok completion.Token) (*message.Response, error) {
	return completion.Initiate(c.exec, tok, func(ctx context.Context) (*message.Response, error) {
		ep, err := c.balancer.PickAvailableServer()
		if err != nil {
			return nil, err
		}
		return c.http.Do(ctx, ep, req)
	})
}

func (c *Client) ping(ctx context.Context, ep endpoint.Endpoint) (*PingResult, error) {
	start := time.Now()
	resp, err := c.http.Do(ctx, ep, message.NewGet(pingPath))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusNoContent {
		return nil, errs.Serverf("unexpected status code %d from %s", resp.StatusCode, ep)
	}
	return &PingResult{
		Endpoint: ep,
		Version:  resp.Header.Get(versionHeader),
		Latency:  time.Since(start),
	}, nil
}

// Servers returns the health of every server in configuration order.
func (c *Client) Servers() []loadbalance.ServerState {
	return c.balancer.Servers()
}

// watchMembers logs registry membership changes until Close. The server list
// is fixed at construction, so a change takes effect with a new Client.
func (c *Client) watchMembers(updates <-chan []endpoint.Endpoint, last []endpoint.Endpoint) {
	for {
		select {
		case <-c.stop:
			return
		case eps, ok := <-updates:
			if !ok {
				return
			}
			added, removed := diffEndpoints(last, eps)
			if len(added) > 0 || len(removed) > 0 {
				c.logger.Info("cluster membership changed",
					zap.Stringers("added", added),
					zap.Stringers("removed", removed),
				)
			}
			last = eps
		}
	}
}

// Close drains pending operations and releases every owned resource.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	c.exec.Stop()
	err := multierr.Combine(
		c.balancer.Close(),
		c.http.Close(),
	)
	if c.ownedReg != nil {
		err = multierr.Append(err, c.ownedReg.Close())
	}
	return err
}

func (c *Client) closeRegistry() {
	if c.ownedReg != nil {
		c.ownedReg.Close()
	}
}

// mergeEndpoints appends discovered endpoints not already configured.
// Duplicates within the configured list are kept for the balancer to reject.
func mergeEndpoints(configured, discovered []endpoint.Endpoint) []endpoint.Endpoint {
	seen := make(map[endpoint.Endpoint]struct{}, len(configured))
	for _, ep := range configured {
		seen[ep] = struct{}{}
	}
	for _, ep := range discovered {
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		configured = append(configured, ep)
	}
	return configured
}

func diffEndpoints(before, after []endpoint.Endpoint) (added, removed []endpoint.Endpoint) {
	in := func(list []endpoint.Endpoint, ep endpoint.Endpoint) bool {
		for _, e := range list {
			if e == ep {
				return true
			}
		}
		return false
	}
	for _, ep := range after {
		if !in(before, ep) {
			added = append(added, ep)
		}
	}
	for _, ep := range before {
		if !in(after, ep) {
			removed = append(removed, ep)
		}
	}
	return added, removed
}
