//
// SPDX-License-Identifier: BSD-3-Clause
//
// Adapted from: https://github.com/ooni/netem/blob/061c5671b52a2c064cac1de5d464bb056f7ccaa8/unetstack.go
//

package xmppdiag

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"

	"github.com/bassosimone/runtimex"
)

// Dialer allows to dial [net.Conn] connections to host names pretty much
// like [*net.Dialer] except that names are resolved using an
// [AddressLookuper] and we dial using a [NetDialer].
//
// We use it to reach DNS-over-HTTPS servers by name through the
// configured nameservers rather than through the system resolver.
//
// Construct using [NewDialer].
//
// This [*Dialer] does not implement happy eyeballs and tries every
// address sequentially, IPv4 first.
type Dialer struct {
	// reso is the resolver to use.
	reso AddressLookuper

	// udialer is the underlying dialer to use.
	udialer NetDialer
}

// NewDialer creates a new [*Dialer] instance.
func NewDialer(udialer NetDialer, reso AddressLookuper) *Dialer {
	return &Dialer{reso, udialer}
}

// DialContext creates a new [net.Conn] connection.
func (d *Dialer) DialContext(ctx context.Context, network string, address string) (net.Conn, error) {
	// 1. separate the domain name and the port
	name, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return nil, err
	}

	// 2. resolve the domain name to IP addresses
	addrs, err := d.lookupHost(ctx, network, name)
	if err != nil {
		return nil, err
	}
	runtimex.Assert(len(addrs) >= 1)

	// 3. attempt to connect sequentially
	errv := make([]error, 0, len(addrs))
	for _, addr := range addrs {
		conn, err := d.udialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		if err != nil {
			errv = append(errv, err)
			continue
		}
		return conn, nil
	}

	// 4. bail if all the connect attempts failed
	return nil, errors.Join(errv...)
}

// lookupHost ensures that we short circuit IP addresses and only look up
// the families allowed by network.
func (d *Dialer) lookupHost(ctx context.Context, network, name string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(name); err == nil {
		return []netip.Addr{addr}, nil
	}

	var (
		out  []netip.Addr
		errv []error
	)
	if network != "tcp6" && network != "udp6" {
		addrs, err := d.reso.LookupA(ctx, name)
		out = append(out, addrs...)
		errv = append(errv, err)
	}
	if network != "tcp4" && network != "udp4" {
		addrs, err := d.reso.LookupAAAA(ctx, name)
		out = append(out, addrs...)
		errv = append(errv, err)
	}
	if len(out) <= 0 {
		if err := errors.Join(errv...); err != nil {
			return nil, err
		}
		return nil, ErrDNSNoRecords
	}
	return out, nil
}
