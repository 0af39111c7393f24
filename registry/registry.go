// Package registry discovers the members of an openGemini cluster.
//
// A client can be configured with a fixed address list (Static) or can look
// its members up in etcd (EtcdRegistry), where each member is stored as
//
//	Key:   /opengemini/{cluster}/{host:port}
//	Value: JSON-encoded endpoint.Endpoint
package registry

import (
	"sync"

	"opengemini-client/endpoint"
)

type Registry interface {
	Register(cluster string, ep endpoint.Endpoint, ttl int64) error
	Deregister(cluster string, ep endpoint.Endpoint) error
	Discover(cluster string) ([]endpoint.Endpoint, error)
	// Watch sends the current members first, then the full list after each
	// change. Slow readers only see the latest list.
	Watch(cluster string) <-chan []endpoint.Endpoint
	Close() error
}

// Static is an in-memory Registry. Watch reports the current list once per
// call and on every later change.
type Static struct {
	mu       sync.Mutex
	clusters map[string][]endpoint.Endpoint
	watchers map[string][]chan []endpoint.Endpoint
}

// NewStatic creates a registry holding eps under cluster.
func NewStatic(cluster string, eps ...endpoint.Endpoint) *Static {
	s := &Static{
		clusters: make(map[string][]endpoint.Endpoint),
		watchers: make(map[string][]chan []endpoint.Endpoint),
	}
	s.clusters[cluster] = append([]endpoint.Endpoint(nil), eps...)
	return s
}

func (s *Static) Register(cluster string, ep endpoint.Endpoint, ttl int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.clusters[cluster] {
		if e == ep {
			return nil
		}
	}
	s.clusters[cluster] = append(s.clusters[cluster], ep)
	s.notify(cluster)
	return nil
}

func (s *Static) Deregister(cluster string, ep endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eps := s.clusters[cluster]
	for i, e := range eps {
		if e == ep {
			s.clusters[cluster] = append(eps[:i:i], eps[i+1:]...)
			s.notify(cluster)
			break
		}
	}
	return nil
}

func (s *Static) Discover(cluster string) ([]endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]endpoint.Endpoint(nil), s.clusters[cluster]...), nil
}

func (s *Static) Watch(cluster string) <-chan []endpoint.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []endpoint.Endpoint, 1)
	ch <- append([]endpoint.Endpoint(nil), s.clusters[cluster]...)
	s.watchers[cluster] = append(s.watchers[cluster], ch)
	return ch
}

// Close ends every Watch channel.
func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cluster, chs := range s.watchers {
		for _, ch := range chs {
			close(ch)
		}
		delete(s.watchers, cluster)
	}
	return nil
}

// notify replaces any undelivered list with the latest one. Caller holds mu.
func (s *Static) notify(cluster string) {
	eps := append([]endpoint.Endpoint(nil), s.clusters[cluster]...)
	for _, ch := range s.watchers[cluster] {
		select {
		case <-ch:
		default:
		}
		ch <- eps
	}
}
