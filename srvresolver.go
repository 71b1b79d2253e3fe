// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/bassosimone/xmppdiag/internal/logger"
	"github.com/miekg/dns"
)

// SRVLookuper is the subset of [*Resolver] used by [*SRVResolver].
type SRVLookuper interface {
	LookupSRV(ctx context.Context, name string) ([]*dns.SRV, error)
}

// Ensure that [*Resolver] implements [SRVLookuper].
var _ SRVLookuper = &Resolver{}

// RequestedKinds returns the kinds to query in canonical order.
func RequestedKinds(client, server, xmpps bool) []ServiceKind {
	var kinds []ServiceKind
	for _, kind := range AllServiceKinds {
		isTLS := kind.Transport() == DirectTLS
		switch {
		case isTLS && !xmpps:
		case kind.IsClient() && client, !kind.IsClient() && server:
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// SRVLookup is the outcome of the SRV query for a single [ServiceKind].
type SRVLookup struct {
	Kind ServiceKind

	// Name is the queried name (e.g., _xmpp-client._tcp.example.org).
	Name string

	// Targets are sorted by priority ascending then weight descending.
	Targets []SRVTarget

	// Unavailable is true when the only target is "." (RFC 2782).
	Unavailable bool

	// Err wraps [ErrDNSTimeout] or [ErrDNSServerFailure] on failure
	// and is nil when there are no records.
	Err error
}

// Answered returns whether the lookup returned any record, including ".".
func (sl SRVLookup) Answered() bool {
	return len(sl.Targets) > 0 || sl.Unavailable
}

// SortSRVTargets sorts targets by priority ascending and weight
// descending, preserving the wire order of ties.
//
// We test every target, so there is no randomized weighted selection.
func SortSRVTargets(targets []SRVTarget) {
	slices.SortStableFunc(targets, func(a, b SRVTarget) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})
}

// NeedsFallback returns whether no requested kind produced any answer, in
// which case the A/AAAA fallback applies.
func NeedsFallback(lookups []SRVLookup) bool {
	for _, sl := range lookups {
		if sl.Answered() {
			return false
		}
	}
	return true
}

// FallbackTargets returns the synthetic targets used when [NeedsFallback]
// is true, one per requested kind that has a fallback port.
func FallbackTargets(domain string, kinds []ServiceKind) map[ServiceKind][]SRVTarget {
	out := make(map[ServiceKind][]SRVTarget)
	for _, kind := range kinds {
		if port, ok := kind.FallbackPort(); ok {
			out[kind] = []SRVTarget{{Port: port, Host: domain}}
		}
	}
	return out
}

// SRVResolver queries the XMPP SRV records of a domain.
//
// Construct using [NewSRVResolver].
type SRVResolver struct {
	// Lookuper performs the actual lookups.
	Lookuper SRVLookuper

	// Logger is the logger to use.
	Logger logger.Logger
}

// NewSRVResolver creates a new [*SRVResolver].
func NewSRVResolver(lookuper SRVLookuper, log logger.Logger) *SRVResolver {
	return &SRVResolver{Lookuper: lookuper, Logger: log}
}

// Resolve queries the SRV record of every kind concurrently and returns
// one [SRVLookup] per kind, in the order of kinds.
func (sr *SRVResolver) Resolve(ctx context.Context, domain string, kinds []ServiceKind) []SRVLookup {
	lookups := make([]SRVLookup, len(kinds))
	wg := &sync.WaitGroup{}
	for idx, kind := range kinds {
		wg.Go(func() {
			lookups[idx] = sr.resolveKind(ctx, domain, kind)
		})
	}
	wg.Wait()
	return lookups
}

func (sr *SRVResolver) resolveKind(ctx context.Context, domain string, kind ServiceKind) SRVLookup {
	sl := SRVLookup{Kind: kind, Name: kind.SRVName(domain)}
	records, err := sr.Lookuper.LookupSRV(ctx, sl.Name)
	switch {
	case errors.Is(err, ErrDNSNoRecords):
		sr.Logger.Debug("no SRV records", logger.String("name", sl.Name))
		return sl
	case err != nil:
		sr.Logger.Warn("SRV lookup failed", logger.String("name", sl.Name), logger.Error(err))
		sl.Err = err
		return sl
	}

	for _, rr := range records {
		if rr.Target == "." {
			continue
		}
		sl.Targets = append(sl.Targets, SRVTarget{
			Priority: rr.Priority,
			Weight:   rr.Weight,
			Port:     rr.Port,
			Host:     strings.TrimSuffix(rr.Target, "."),
		})
	}
	sl.Unavailable = len(sl.Targets) <= 0
	SortSRVTargets(sl.Targets)
	sr.Logger.Debug("SRV lookup", logger.String("name", sl.Name),
		logger.Int("targets", len(sl.Targets)), logger.Bool("unavailable", sl.Unavailable))
	return sl
}
