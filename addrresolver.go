// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"context"
	"errors"
	"net/netip"
	"sync"

	"github.com/bassosimone/xmppdiag/internal/logger"
)

// AddressLookuper is the subset of [*Resolver] used by [*AddressResolver].
type AddressLookuper interface {
	LookupA(ctx context.Context, domain string) ([]netip.Addr, error)
	LookupAAAA(ctx context.Context, domain string) ([]netip.Addr, error)
}

// Ensure that [*Resolver] implements [AddressLookuper].
var _ AddressLookuper = &Resolver{}

// HostLookup is the outcome of resolving a single host.
type HostLookup struct {
	// Host is the name that was resolved.
	Host string

	// WantIPv4 and WantIPv6 record which families were requested.
	WantIPv4 bool
	WantIPv6 bool

	// Literal is true when Host is an IP address, which is used as
	// is if its family was requested and dropped otherwise.
	Literal bool

	// IPv4 and IPv6 are the addresses in answer order.
	IPv4 []netip.Addr
	IPv6 []netip.Addr

	// IPv4Err and IPv6Err are lookup failures. They are nil when the
	// family was not requested or has no records.
	IPv4Err error
	IPv6Err error
}

// Addrs returns the addresses of the given family.
func (hl HostLookup) Addrs(family AddressFamily) []netip.Addr {
	if family == IPv6 {
		return hl.IPv6
	}
	return hl.IPv4
}

// Failed returns whether every requested family failed with an error.
func (hl HostLookup) Failed() bool {
	if !hl.WantIPv4 && !hl.WantIPv6 {
		return false
	}
	return (!hl.WantIPv4 || hl.IPv4Err != nil) && (!hl.WantIPv6 || hl.IPv6Err != nil)
}

// Empty returns whether the lookup produced no address at all.
func (hl HostLookup) Empty() bool {
	return len(hl.IPv4) <= 0 && len(hl.IPv6) <= 0
}

// AddressResolver resolves hosts to IPv4 and IPv6 addresses.
//
// Construct using [NewAddressResolver].
type AddressResolver struct {
	// Lookuper performs the actual lookups.
	Lookuper AddressLookuper

	// Logger is the logger to use.
	Logger logger.Logger
}

// NewAddressResolver creates a new [*AddressResolver].
func NewAddressResolver(lookuper AddressLookuper, log logger.Logger) *AddressResolver {
	return &AddressResolver{Lookuper: lookuper, Logger: log}
}

// addressResponse is an asynchronous lookup response.
type addressResponse struct {
	addrs []netip.Addr
	err   error
}

// Resolve performs independent A and AAAA lookups for host.
//
// A family that is not requested or has no records yields an empty
// slice. Failures are recorded per family and never returned.
func (ar *AddressResolver) Resolve(ctx context.Context, host string, wantIPv4, wantIPv6 bool) HostLookup {
	hl := HostLookup{Host: host, WantIPv4: wantIPv4, WantIPv6: wantIPv6}

	// IP literals do not need any lookup
	if addr, err := netip.ParseAddr(host); err == nil {
		hl.Literal = true
		addr = addr.Unmap()
		switch {
		case addr.Is4() && wantIPv4:
			hl.IPv4 = []netip.Addr{addr}
		case addr.Is6() && wantIPv6:
			hl.IPv6 = []netip.Addr{addr}
		}
		return hl
	}

	// prepare for asynchronous lookup
	ach := make(chan addressResponse, 1)
	aaaach := make(chan addressResponse, 1)
	wg := &sync.WaitGroup{}

	// async lookup A
	if wantIPv4 {
		wg.Go(func() {
			var rr addressResponse
			rr.addrs, rr.err = ar.Lookuper.LookupA(ctx, host)
			ach <- rr
		})
	} else {
		ach <- addressResponse{}
	}

	// async lookup AAAA
	if wantIPv6 {
		wg.Go(func() {
			var rr addressResponse
			rr.addrs, rr.err = ar.Lookuper.LookupAAAA(ctx, host)
			aaaach <- rr
		})
	} else {
		aaaach <- addressResponse{}
	}

	// be patient
	wg.Wait()

	// read results
	ares := <-ach
	aaaares := <-aaaach
	hl.IPv4, hl.IPv4Err = ar.keep(host, "A", ares)
	hl.IPv6, hl.IPv6Err = ar.keep(host, "AAAA", aaaares)
	return hl
}

// keep turns "no records" into an empty result and logs the outcome.
func (ar *AddressResolver) keep(host, rrtype string, rr addressResponse) ([]netip.Addr, error) {
	switch {
	case errors.Is(rr.err, ErrDNSNoRecords):
		ar.Logger.Debug("no address records",
			logger.String("host", host), logger.String("type", rrtype))
		return nil, nil
	case rr.err != nil:
		ar.Logger.Warn("address lookup failed",
			logger.String("host", host), logger.String("type", rrtype), logger.Error(rr.err))
		return nil, rr.err
	default:
		ar.Logger.Debug("address lookup",
			logger.String("host", host), logger.String("type", rrtype), logger.Int("count", len(rr.addrs)))
		return rr.addrs, nil
	}
}
