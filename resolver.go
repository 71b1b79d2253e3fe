// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
)

// DefaultResolverTimeout is the default lookup timeout used by [*Resolver].
const DefaultResolverTimeout = 5 * time.Second

// DNSTransport performs a DNS messages exchange.
type DNSTransport interface {
	Exchange(ctx context.Context, query *Query) (*Response, error)
}

// Resolver performs A, AAAA, and SRV lookups using a list of [DNSTransport].
//
// Transports are tried in order until one produces a definitive answer,
// where "no records" counts as definitive.
//
// Construct using [NewResolver].
type Resolver struct {
	// Transports are the [DNSTransport] to use.
	//
	// Set by [NewResolver] to the user-provided value.
	Transports []DNSTransport

	// Timeout is the overall timeout of each lookup.
	//
	// Set by [NewResolver] to [DefaultResolverTimeout].
	Timeout time.Duration
}

// NewResolver creates a new [*Resolver] instance.
func NewResolver(transport ...DNSTransport) *Resolver {
	return &Resolver{
		Transports: transport,
		Timeout:    DefaultResolverTimeout,
	}
}

// LookupA resolves a domain to IPv4 addrs.
func (r *Resolver) LookupA(ctx context.Context, domain string) ([]netip.Addr, error) {
	resp, err := r.lookup(ctx, NewQuery(domain, dns.TypeA))
	if err != nil {
		return nil, err
	}
	return resp.RecordsA()
}

// LookupAAAA resolves a domain to IPv6 addrs.
func (r *Resolver) LookupAAAA(ctx context.Context, domain string) ([]netip.Addr, error) {
	resp, err := r.lookup(ctx, NewQuery(domain, dns.TypeAAAA))
	if err != nil {
		return nil, err
	}
	return resp.RecordsAAAA()
}

// LookupSRV returns the SRV records of name in wire order.
func (r *Resolver) LookupSRV(ctx context.Context, name string) ([]*dns.SRV, error) {
	resp, err := r.lookup(ctx, NewQuery(name, dns.TypeSRV))
	if err != nil {
		return nil, err
	}
	return resp.RecordsSRV()
}

// lookup is the function performing the actual lookup.
func (r *Resolver) lookup(ctx context.Context, query *Query) (*Response, error) {
	// Handle the case where there are no transports
	if len(r.Transports) <= 0 {
		return nil, ErrNoTransport
	}

	// Honour the configured lookup timeout
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	// Try with each transport
	errv := make([]error, 0, len(r.Transports))
	for _, txp := range r.Transports {
		if err := ctx.Err(); err != nil {
			errv = append(errv, err)
			break
		}
		resp, err := txp.Exchange(ctx, query)
		if errors.Is(err, ErrDNSNoRecords) {
			return nil, err
		}
		if err != nil {
			errv = append(errv, err)
			continue
		}
		return resp, nil
	}

	// Make sure an expired lookup deadline is visible to the classifier
	// even when the transport failed with a different I/O error
	if err := ctx.Err(); err != nil && !errors.Is(errors.Join(errv...), err) {
		errv = append(errv, err)
	}

	// Assemble a composed error
	runtimex.Assert(len(errv) >= 1)
	return nil, classifyLookupError(errors.Join(errv...))
}
