// Package transport speaks HTTP/1.1 (plain or TLS) to cluster members over a
// pool of reusable connections.
//
// Pool design: one FIFO idle queue per endpoint, capped at maxIdle. The mutex
// guards queue mutation only; dialing happens outside it.
//
//	Retrieve(ep) ──▶ idle[ep] non-empty? ──yes──▶ pop front (used=true)
//	                        │
//	                        no ──▶ factory(ep) ──▶ fresh conn (used=false)
//
//	Push(ep, c)  ──▶ used=true ──▶ len(idle[ep]) < maxIdle ? append : close
//
// The used flag drives ShouldRetry: only a connection that already completed
// an exchange may be blamed on the peer having closed it while idle.
package transport

import (
	"bufio"
	"context"
	"net"
	"sync"

	"go.uber.org/multierr"

	"opengemini-client/endpoint"
	"opengemini-client/errs"
	"opengemini-client/metrics"
)

// DefaultMaxIdle is the per-endpoint idle connection cap.
const DefaultMaxIdle = 3

// Factory creates a connected stream to ep. Plain and TLS transports supply
// different factories to the same pool.
type Factory func(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error)

// PoolConn wraps a net.Conn with pool metadata.
type PoolConn struct {
	net.Conn
	br   *bufio.Reader // response reader, kept with the conn across exchanges
	used bool          // true once the conn completed an exchange and was pooled
}

// Used reports whether the connection came back from the pool.
func (c *PoolConn) Used() bool {
	return c.used
}

// ConnPool caches idle connections per endpoint.
type ConnPool struct {
	mu      sync.Mutex
	idle    map[endpoint.Endpoint][]*PoolConn // FIFO per endpoint
	closed  bool
	maxIdle int
	factory Factory
	metrics *metrics.Collector
}

// NewConnPool creates an empty pool. maxIdle below 1 falls back to
// DefaultMaxIdle. m may be nil.
func NewConnPool(factory Factory, maxIdle int, m *metrics.Collector) *ConnPool {
	if maxIdle < 1 {
		maxIdle = DefaultMaxIdle
	}
	return &ConnPool{
		idle:    make(map[endpoint.Endpoint][]*PoolConn),
		maxIdle: maxIdle,
		factory: factory,
		metrics: m,
	}
}

// Retrieve pops the oldest idle connection for ep, or creates a fresh one.
func (p *ConnPool) Retrieve(ctx context.Context, ep endpoint.Endpoint) (*PoolConn, error) {
	p.mu.Lock()
	if q := p.idle[ep]; len(q) > 0 {
		conn := q[0]
		q[0] = nil
		p.idle[ep] = q[1:]
		p.mu.Unlock()
		p.metrics.RecordPoolHit(ep.String())
		return conn, nil
	}
	p.mu.Unlock()

	netConn, err := p.factory(ctx, ep)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordConnCreated(ep.String())
	return &PoolConn{
		Conn: netConn,
		br:   bufio.NewReader(netConn),
	}, nil
}

// Push marks conn used and queues it for reuse. A full queue (or a closed
// pool) drops the connection.
func (p *ConnPool) Push(ep endpoint.Endpoint, conn *PoolConn) {
	conn.used = true

	p.mu.Lock()
	if p.closed || len(p.idle[ep]) >= p.maxIdle {
		p.mu.Unlock()
		conn.Close()
		p.metrics.RecordPoolDrop(ep.String())
		return
	}
	p.idle[ep] = append(p.idle[ep], conn)
	p.mu.Unlock()
}

// IdleLen returns the number of idle connections queued for ep.
func (p *ConnPool) IdleLen(ep endpoint.Endpoint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[ep])
}

// Close closes every idle connection. Connections pushed afterwards are
// dropped.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = make(map[endpoint.Endpoint][]*PoolConn)
	p.closed = true
	p.mu.Unlock()

	var err error
	for _, q := range idle {
		for _, conn := range q {
			err = multierr.Append(err, conn.Close())
		}
	}
	return err
}

// ShouldRetry decides what happens after an exchange step on conn failed
// with err. what names the step for the error message ("write failed").
//
//   - err == nil: no retry, no error
//   - conn was pooled: retry on a new connection, the old one is presumed stale
//   - conn was fresh: no retry, err surfaces as a network error
func ShouldRetry(what string, err error, conn *PoolConn) (bool, error) {
	if err == nil {
		return false, nil
	}
	if conn.used {
		return true, nil
	}
	return false, errs.Network(what, err)
}
