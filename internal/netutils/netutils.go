// Package netutils holds network helpers shared by the local endpoints.
package netutils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Listen binds the given host:port address. An empty host binds both the
// IPv4 and IPv6 wildcard addresses, so one listener per family is returned.
func Listen(ctx context.Context, addr string) ([]net.Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%q is not a host:port address", addr)
	}

	var networks []string
	if host == "" {
		networks = []string{"tcp4", "tcp6"}
	} else {
		// The zone prevents ParseIP from parsing IPv6 addresses. Host
		// names are rejected so that no DNS query is made.
		if i := strings.IndexByte(host, '%'); i > -1 {
			host = host[:i]
		}
		ip := net.ParseIP(host)
		switch {
		case ip == nil:
			return nil, fmt.Errorf("%q is not an IP address", host)
		case ip.To4() == nil:
			networks = []string{"tcp6"}
		default:
			networks = []string{"tcp4"}
		}
	}

	var lc net.ListenConfig
	listeners := make([]net.Listener, 0, len(networks))
	for _, network := range networks {
		l, err := lc.Listen(ctx, network, addr)
		if err != nil {
			for _, prev := range listeners {
				prev.Close()
			}
			return nil, fmt.Errorf("unable to listen on %s:%s: %w", network, addr, err)
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}

// IsClosedErr returns true if err is the result of using a closed listener
// or connection.
func IsClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
