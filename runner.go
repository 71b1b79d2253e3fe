// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"context"
	"slices"
	"time"

	"github.com/bassosimone/xmppdiag/internal/logger"
)

// DefaultDeadline is the default deadline of a whole [*Runner.Run].
const DefaultDeadline = 60 * time.Second

// Lookuper performs all the lookups needed by a [*Runner].
//
// The [*Resolver] implements this interface.
type Lookuper interface {
	SRVLookuper
	AddressLookuper
}

// Ensure that [*Resolver] implements [Lookuper].
var _ Lookuper = &Resolver{}

// Observations contains everything measured for a domain.
//
// It is the input of the [*TagEngine] and must not be mutated once the
// [*Runner] returned it.
type Observations struct {
	// Domain is the domain under test.
	Domain string

	// Kinds are the requested kinds in canonical order.
	Kinds []ServiceKind

	// SRV contains one lookup per requested kind, in Kinds order.
	SRV []SRVLookup

	// Fallback is true when no SRV record exists and the A/AAAA
	// fallback has been used.
	Fallback bool

	// Hosts contains one lookup per unique target host, in the order
	// in which hosts first appear among the targets.
	Hosts []HostLookup

	// Results are the probe results in canonical order.
	Results []ProbeResult
}

// SRVFor returns the SRV lookup of the given kind.
func (o *Observations) SRVFor(kind ServiceKind) (SRVLookup, bool) {
	for _, sl := range o.SRV {
		if sl.Kind == kind {
			return sl, true
		}
	}
	return SRVLookup{}, false
}

// TargetsFor returns the SRV targets of kind, or the synthetic fallback
// targets when [Observations.Fallback] is true.
func (o *Observations) TargetsFor(kind ServiceKind) []SRVTarget {
	if o.Fallback {
		return FallbackTargets(o.Domain, []ServiceKind{kind})[kind]
	}
	sl, _ := o.SRVFor(kind)
	return sl.Targets
}

// Host returns the address lookup of the given host.
func (o *Observations) Host(name string) (HostLookup, bool) {
	for _, hl := range o.Hosts {
		if hl.Host == name {
			return hl, true
		}
	}
	return HostLookup{}, false
}

// ResultsFor returns the results of the given kind, in order.
func (o *Observations) ResultsFor(kind ServiceKind) []ProbeResult {
	var out []ProbeResult
	for _, r := range o.Results {
		if r.Endpoint.Service == kind {
			out = append(out, r)
		}
	}
	return out
}

// Report is the outcome of [*Runner.Run].
type Report struct {
	Observations

	// Tags are the derived tags, empty when tagging is disabled.
	Tags []Tag
}

// Resolved returns whether at least one endpoint could be built. When
// false the domain could not be resolved at all.
func (r *Report) Resolved() bool {
	return len(r.Results) > 0
}

// ResultRecords returns the formatter view of the results.
func (r *Report) ResultRecords() []Record {
	out := make([]Record, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.Record())
	}
	return out
}

// TagRecords returns the formatter view of the tags.
func (r *Report) TagRecords() []Record {
	out := make([]Record, 0, len(r.Tags))
	for _, tag := range r.Tags {
		out = append(out, tag.Record())
	}
	return out
}

// Runner drives the whole diagnosis of a domain: SRV lookups, address
// lookups, endpoint expansion, bounded parallel probing, and tagging.
//
// Construct using [NewRunner].
type Runner struct {
	// SRV resolves the SRV records.
	SRV *SRVResolver

	// Addresses resolves the target hosts.
	Addresses *AddressResolver

	// Prober probes the endpoints.
	Prober EndpointProber

	// Tags derives the tags. When nil, no tags are derived.
	Tags *TagEngine

	// Kinds are the kinds to test.
	//
	// Set by [NewRunner] to the xmpp-client and xmpps-client kinds.
	Kinds []ServiceKind

	// IPv4 and IPv6 enable the respective address families.
	IPv4 bool
	IPv6 bool

	// Concurrency bounds the number of in-flight lookups and probes.
	Concurrency int

	// Deadline bounds the whole run.
	Deadline time.Duration

	// Logger is the logger to use.
	Logger logger.Logger
}

// NewRunner creates a new [*Runner] with default settings.
func NewRunner(reso Lookuper, prober EndpointProber, log logger.Logger) *Runner {
	return &Runner{
		SRV:         NewSRVResolver(reso, log),
		Addresses:   NewAddressResolver(reso, log),
		Prober:      prober,
		Tags:        NewTagEngine(DefaultRules()...),
		Kinds:       RequestedKinds(true, false, true),
		IPv4:        true,
		IPv6:        true,
		Concurrency: DefaultConcurrency,
		Deadline:    DefaultDeadline,
		Logger:      log,
	}
}

// Run diagnoses domain and returns the report. Failures are part of the
// report, so Run never fails; check [*Report.Resolved].
func (r *Runner) Run(ctx context.Context, domain string) *Report {
	ctx, cancel := context.WithTimeout(ctx, r.Deadline)
	defer cancel()

	r.Logger.Info("diagnosing domain", logger.String("domain", domain),
		logger.Int("kinds", len(r.Kinds)), logger.Bool("ipv4", r.IPv4), logger.Bool("ipv6", r.IPv6))

	obs := r.Lookup(ctx, domain)
	obs.Results = r.ProbeAll(ctx, r.Expand(obs))

	report := &Report{Observations: *obs}
	if r.Tags != nil {
		report.Tags = r.Tags.Derive(&report.Observations)
	}

	var connected int
	for _, res := range report.Results {
		if res.Connected {
			connected++
		}
	}
	r.Logger.Info("diagnosis complete", logger.String("domain", domain),
		logger.Int("endpoints", len(report.Results)), logger.Int("connected", connected),
		logger.Int("tags", len(report.Tags)))
	return report
}

// Lookup performs the SRV lookups, applies the fallback rule, and
// resolves every unique target host.
func (r *Runner) Lookup(ctx context.Context, domain string) *Observations {
	kinds := slices.Clone(r.Kinds)
	slices.Sort(kinds)
	kinds = slices.Compact(kinds)

	obs := &Observations{Domain: domain, Kinds: kinds}
	obs.SRV = r.SRV.Resolve(ctx, domain, kinds)
	obs.Fallback = NeedsFallback(obs.SRV)
	if obs.Fallback {
		r.Logger.Info("no SRV records, using fallback", logger.String("domain", domain))
	}

	var hosts []string
	for _, kind := range kinds {
		for _, target := range obs.TargetsFor(kind) {
			if !slices.Contains(hosts, target.Host) {
				hosts = append(hosts, target.Host)
			}
		}
	}

	obs.Hosts = make([]HostLookup, len(hosts))
	forEachBounded(ctx, len(hosts), r.Concurrency, func(ctx context.Context, idx int) {
		obs.Hosts[idx] = r.Addresses.Resolve(ctx, hosts[idx], r.IPv4, r.IPv6)
	})
	return obs
}

// Expand builds the endpoints to probe in canonical order: kind, then
// SRV priority and weight, then IPv4 before IPv6.
func (r *Runner) Expand(obs *Observations) []Endpoint {
	var endpoints []Endpoint
	for _, kind := range obs.Kinds {
		for _, target := range obs.TargetsFor(kind) {
			hl, _ := obs.Host(target.Host)
			for _, family := range []AddressFamily{IPv4, IPv6} {
				for _, addr := range hl.Addrs(family) {
					endpoints = append(endpoints, Endpoint{
						Domain:   obs.Domain,
						Service:  kind,
						Host:     target.Host,
						Port:     target.Port,
						Address:  addr,
						Family:   family,
						Priority: target.Priority,
						Weight:   target.Weight,
						Fallback: obs.Fallback,
					})
				}
			}
		}
	}
	return endpoints
}

// ProbeAll probes every endpoint with bounded concurrency and returns
// the results in the same order as endpoints.
//
// Endpoints not yet probed when ctx is done are recorded as timed out.
func (r *Runner) ProbeAll(ctx context.Context, endpoints []Endpoint) []ProbeResult {
	results := make([]ProbeResult, len(endpoints))
	forEachBounded(ctx, len(endpoints), r.Concurrency, func(ctx context.Context, idx int) {
		if err := ctx.Err(); err != nil {
			results[idx] = ProbeResult{Endpoint: endpoints[idx], Err: classifyDialError(err)}
			return
		}
		results[idx] = r.Prober.Probe(ctx, endpoints[idx])
	})
	return results
}
