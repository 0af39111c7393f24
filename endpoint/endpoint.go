// Package endpoint holds the network address of one cluster member.
package endpoint

import (
	"net"
	"strconv"

	"opengemini-client/errs"
)

// Endpoint is a host and port. It is a comparable value and can key maps.
type Endpoint struct {
	Host string `yaml:"host" json:"host"`
	Port uint16 `yaml:"port" json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// Parse reads "host:port" into an Endpoint.
func Parse(s string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, errs.InvalidArgumentf("invalid endpoint %q: %v", s, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Endpoint{}, errs.InvalidArgumentf("invalid port in endpoint %q", s)
	}
	return Endpoint{Host: host, Port: uint16(p)}, nil
}
