package transport

import (
	"crypto/tls"
	"crypto/x509"
	"strings"

	"opengemini-client/errs"
)

// TLSOptions is the TLS surface of the client.
type TLSOptions struct {
	SkipVerifyPeer bool   // do not verify the server certificate chain
	Certificates   string // PEM client certificate chain, optional
	PrivateKey     string // PEM key for Certificates; may instead be bundled in Certificates
	RootCAs        string // PEM root CAs; empty uses the system trust store
	Version        string // tls1.0, tls1.1, tls1.2 (default) or tls1.3
}

var tlsVersions = map[string]uint16{
	"":       tls.VersionTLS12,
	"tls1.0": tls.VersionTLS10,
	"tls1.1": tls.VersionTLS11,
	"tls1.2": tls.VersionTLS12,
	"tls1.3": tls.VersionTLS13,
}

// NewTLSConfig validates o and builds the client tls.Config. Any problem is an
// invalid argument.
func NewTLSConfig(o TLSOptions) (*tls.Config, error) {
	version, ok := tlsVersions[strings.ToLower(o.Version)]
	if !ok {
		return nil, errs.InvalidArgumentf("unsupported TLS version %q", o.Version)
	}

	cfg := &tls.Config{
		InsecureSkipVerify: o.SkipVerifyPeer,
		MinVersion:         version,
		MaxVersion:         version,
	}

	if o.Certificates != "" {
		key := o.PrivateKey
		if key == "" {
			key = o.Certificates
		}
		cert, err := tls.X509KeyPair([]byte(o.Certificates), []byte(key))
		if err != nil {
			return nil, errs.InvalidArgumentf("invalid client certificate: %v", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if o.RootCAs != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(o.RootCAs)) {
			return nil, errs.InvalidArgument("invalid root CAs: no PEM certificate found")
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
