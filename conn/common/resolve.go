package common

import (
	"context"
	"fmt"
	"net"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("conn/common")

// ResolveEndpoint performs name resolution for host and returns the first
// candidate address with port applied afterwards (resolution is name-only).
// Every candidate is logged for diagnostics even though only the first one
// is used. An empty host means the unspecified address, for bind-any
// listeners.
func ResolveEndpoint(host string, port uint16) (*net.TCPAddr, error) {
	if host == "" {
		return &net.TCPAddr{IP: net.IPv4zero, Port: int(port)}, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		Logger.Warningf("resolve error: %v", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrResolve, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s: no candidates", ErrResolve, host)
	}

	for _, a := range addrs {
		Logger.Debugf("host %s resolved as %s", host, a.String())
	}

	first := addrs[0]
	return &net.TCPAddr{IP: first.IP, Zone: first.Zone, Port: int(port)}, nil
}
