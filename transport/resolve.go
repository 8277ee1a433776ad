// File: transport/resolve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Address resolution and listening for Bind.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/momentics/hioload-udp/api"
)

// resolveTimeout bounds the DNS lookup done by Bind.
const resolveTimeout = 5 * time.Second

type candidate struct {
	network string
	address string
}

// resolve turns "host:port" into the addresses to try, in resolver order.
// An empty host binds every local interface.
func resolve(address string) ([]candidate, error) {
	host, service, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := net.LookupPort("udp", service)
	if err != nil {
		return nil, err
	}
	if host == "" {
		return []candidate{{network: "udp", address: net.JoinHostPort("", fmt.Sprint(port))}}, nil
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return []candidate{fromAddr(netip.AddrPortFrom(ip, uint16(port)))}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s", api.ErrNoResolvedAddress, host)
	}
	out := make([]candidate, 0, len(ips))
	for _, ip := range ips {
		out = append(out, fromAddr(netip.AddrPortFrom(ip, uint16(port))))
	}
	return out, nil
}

func fromAddr(ap netip.AddrPort) candidate {
	ap = unmap(ap)
	if ap.Addr().Is4() {
		return candidate{network: "udp4", address: ap.String()}
	}
	return candidate{network: "udp6", address: ap.String()}
}

// listen binds the first candidate that accepts.
func listen(address string, cfg Config) (*net.UDPConn, error) {
	candidates, err := resolve(address)
	if err != nil {
		return nil, err
	}
	lc := net.ListenConfig{Control: socketControl(cfg)}
	var errs []error
	for _, c := range candidates {
		pc, err := lc.ListenPacket(context.Background(), c.network, c.address)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		conn := pc.(*net.UDPConn)
		if err := tuneConn(conn, cfg); err != nil {
			conn.Close()
			errs = append(errs, err)
			continue
		}
		return conn, nil
	}
	return nil, errors.Join(errs...)
}
