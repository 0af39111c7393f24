package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"opengemini-client/endpoint"
	"opengemini-client/errs"
)

const (
	keyPrefix             = "/opengemini/"
	defaultRequestTimeout = 5 * time.Second
)

// EtcdRegistry implements Registry on top of etcd v3.
//
// Registration uses TTL-based leases: a member that stops renewing its lease
// disappears from Discover once the lease expires.
type EtcdRegistry struct {
	client  *clientv3.Client // thread-safe, shared across goroutines
	timeout time.Duration    // per-request timeout for Put/Get/Delete
	logger  *zap.Logger
	ctx     context.Context // cancelled by Close; ends KeepAlive and Watch
	cancel  context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints. logger may be nil.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if len(endpoints) == 0 {
		return nil, errs.InvalidArgument("At least one etcd endpoint needed")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errs.Network("etcd connect failed", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client:  c,
		timeout: defaultRequestTimeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func clusterPrefix(cluster string) string {
	return keyPrefix + cluster + "/"
}

// Register stores ep under the cluster with a TTL lease and keeps the lease
// alive until Close.
//
// Flow:
//  1. Grant a lease with the given TTL (seconds)
//  2. Put the key with the lease attached
//  3. KeepAlive renews the lease in the background
func (r *EtcdRegistry) Register(cluster string, ep endpoint.Endpoint, ttl int64) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errs.Network("etcd grant failed", err)
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return errs.Runtime("encode endpoint", err)
	}

	_, err = r.client.Put(ctx, clusterPrefix(cluster)+ep.String(), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return errs.Network("etcd put failed", err)
	}

	// leaseID stays local: one registry may register several endpoints
	ch, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return errs.Network("etcd keepalive failed", err)
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

func (r *EtcdRegistry) Deregister(cluster string, ep endpoint.Endpoint) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	if _, err := r.client.Delete(ctx, clusterPrefix(cluster)+ep.String()); err != nil {
		return errs.Network("etcd delete failed", err)
	}
	return nil
}

// Discover returns every member currently registered under cluster.
func (r *EtcdRegistry) Discover(cluster string) ([]endpoint.Endpoint, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, clusterPrefix(cluster), clientv3.WithPrefix())
	if err != nil {
		return nil, errs.Network("etcd get failed", err)
	}

	eps := make([]endpoint.Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep endpoint.Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.logger.Warn("skipping malformed registry entry",
				zap.ByteString("key", kv.Key),
				zap.Error(err),
			)
			continue
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Watch emits the member list once the watch is established, then again
// whenever anything under the cluster prefix changes. The channel closes
// when the registry is closed.
func (r *EtcdRegistry) Watch(cluster string) <-chan []endpoint.Endpoint {
	ch := make(chan []endpoint.Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(r.ctx, clusterPrefix(cluster), clientv3.WithPrefix(), clientv3.WithCreatedNotify())
		for range watchChan {
			// the created notification yields the initial list; later
			// events re-fetch rather than apply individual changes
			eps, err := r.Discover(cluster)
			if err != nil {
				r.logger.Warn("registry refresh failed", zap.String("cluster", cluster), zap.Error(err))
				continue
			}
			select {
			case ch <- eps:
			case <-r.ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close stops lease renewal and watches and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
