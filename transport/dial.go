package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"opengemini-client/endpoint"
	"opengemini-client/errs"
)

// resolver is the subset of *net.Resolver the dialer needs.
type resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// dialer creates connections for the pool. tlsConfig nil means plain TCP.
type dialer struct {
	resolver       resolver
	connectTimeout time.Duration
	tlsConfig      *tls.Config
}

// dial runs resolve, connect and (TLS only) handshake, all bounded by the
// connect timeout.
func (d *dialer) dial(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	if d.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.connectTimeout)
		defer cancel()
	}

	// Step 1: resolve
	addrs, err := d.resolver.LookupHost(ctx, ep.Host)
	if err != nil {
		return nil, errs.Network("resolve failed", err)
	}

	// Step 2: connect, trying each address in order
	var nd net.Dialer
	var conn net.Conn
	lastErr := error(&net.AddrError{Err: "no addresses", Addr: ep.Host})
	port := strconv.Itoa(int(ep.Port))
	for _, addr := range addrs {
		conn, err = nd.DialContext(ctx, "tcp", net.JoinHostPort(addr, port))
		if err == nil {
			break
		}
		lastErr = err
	}
	if conn == nil {
		return nil, errs.Network("connect failed", lastErr)
	}
	if d.tlsConfig == nil {
		return conn, nil
	}

	// Step 3: SNI + handshake
	cfg := d.tlsConfig.Clone()
	cfg.ServerName = ep.Host
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, errs.Network("handshake failed", err)
	}
	return tlsConn, nil
}

// shutdown closes a connection the peer does not want to keep alive. A peer
// that already went away is not an error.
func shutdown(conn net.Conn) error {
	err := conn.Close()
	if err == nil || benignClose(err) {
		return nil
	}
	return errs.Network("shutdown failed", err)
}

func benignClose(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ENOTCONN) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
