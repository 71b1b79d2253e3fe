// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"errors"
	"fmt"
	"net/netip"
)

// Rule is a named predicate over [Observations] emitting zero or more tags.
//
// Rules must be pure functions and must not depend on each other.
type Rule struct {
	Name string
	Eval func(obs *Observations) []Tag
}

// TagEngine evaluates rules in declaration order.
//
// Construct using [NewTagEngine].
type TagEngine struct {
	Rules []Rule
}

// NewTagEngine creates a new [*TagEngine].
func NewTagEngine(rules ...Rule) *TagEngine {
	return &TagEngine{Rules: rules}
}

// Derive evaluates every rule against obs and concatenates the tags.
func (te *TagEngine) Derive(obs *Observations) []Tag {
	tags := []Tag{}
	for _, rule := range te.Rules {
		tags = append(tags, rule.Eval(obs)...)
	}
	return tags
}

// DefaultRules returns the default rule set in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "srv-lookup-failed", Eval: ruleSRVLookupFailed},
		{Name: "srv-missing", Eval: ruleSRVMissing},
		{Name: "srv-unavailable", Eval: ruleSRVUnavailable},
		{Name: "srv-fallback", Eval: ruleSRVFallback},
		{Name: "srv-target-address", Eval: ruleSRVTargetAddress},
		{Name: "host-resolution", Eval: ruleHostResolution},
		{Name: "host-no-address", Eval: ruleHostNoAddress},
		{Name: "host-no-ipv6", Eval: ruleHostNoIPv6},
		{Name: "no-connections", Eval: ruleNoConnections},
		{Name: "partial-failure", Eval: rulePartialFailure},
		{Name: "ipv6-reachability", Eval: ruleFamilyReachability(IPv6, IPv4)},
		{Name: "ipv4-reachability", Eval: ruleFamilyReachability(IPv4, IPv6)},
		{Name: "xmpps-plain-port", Eval: ruleXMPPSPlainPort},
		{Name: "starttls-missing", Eval: ruleStartTLSMissing},
		{Name: "handshake-rejected", Eval: ruleHandshakeRejected},
	}
}

func kindTag(level Level, kind ServiceKind, format string, args ...any) Tag {
	return Tag{Level: level, Message: fmt.Sprintf(format, args...), Kind: &kind}
}

func endpointTag(level Level, ep Endpoint, format string, args ...any) Tag {
	kind := ep.Service
	return Tag{Level: level, Message: fmt.Sprintf(format, args...), Kind: &kind, Endpoint: &ep}
}

func ruleSRVLookupFailed(obs *Observations) (tags []Tag) {
	for _, sl := range obs.SRV {
		switch {
		case errors.Is(sl.Err, ErrDNSTimeout):
			tags = append(tags, kindTag(LevelWarning, sl.Kind, "SRV lookup for %s timed out.", sl.Name))
		case sl.Err != nil:
			tags = append(tags, kindTag(LevelWarning, sl.Kind, "SRV lookup for %s failed: %s", sl.Name, sl.Err))
		}
	}
	return
}

func ruleSRVMissing(obs *Observations) (tags []Tag) {
	for _, sl := range obs.SRV {
		if sl.Err == nil && !sl.Answered() {
			tags = append(tags, kindTag(LevelInfo, sl.Kind, "No SRV record found for %s.", sl.Name))
		}
	}
	return
}

func ruleSRVUnavailable(obs *Observations) (tags []Tag) {
	for _, sl := range obs.SRV {
		if sl.Unavailable {
			tags = append(tags, kindTag(LevelInfo, sl.Kind,
				"%s: service is explicitly unavailable (SRV target \".\").", sl.Name))
		}
	}
	return
}

func ruleSRVFallback(obs *Observations) (tags []Tag) {
	if !obs.Fallback {
		return
	}
	for _, kind := range obs.Kinds {
		format := "No SRV record for %s, used fallback %s:%d."
		if sl, ok := obs.SRVFor(kind); ok && sl.Err != nil {
			format = "SRV lookup for %s failed, used fallback %s:%d."
		}
		for _, target := range obs.TargetsFor(kind) {
			tags = append(tags, kindTag(LevelInfo, kind, format, kind, target.Host, target.Port))
		}
	}
	return
}

func ruleSRVTargetAddress(obs *Observations) (tags []Tag) {
	for _, sl := range obs.SRV {
		for _, target := range sl.Targets {
			if _, err := netip.ParseAddr(target.Host); err == nil {
				tags = append(tags, kindTag(LevelWarning, sl.Kind,
					"%s: SRV target %s is an IP address, not a hostname.", sl.Name, target.Host))
			}
		}
	}
	return
}

func ruleHostResolution(obs *Observations) (tags []Tag) {
	for _, hl := range obs.Hosts {
		switch {
		case hl.Failed():
			tags = append(tags, Tag{Level: LevelError,
				Message: fmt.Sprintf("Could not resolve %s: %s", hl.Host, errors.Join(hl.IPv4Err, hl.IPv6Err))})
		case hl.IPv4Err != nil:
			tags = append(tags, Tag{Level: LevelWarning,
				Message: fmt.Sprintf("A lookup for %s failed: %s", hl.Host, hl.IPv4Err)})
		case hl.IPv6Err != nil:
			tags = append(tags, Tag{Level: LevelWarning,
				Message: fmt.Sprintf("AAAA lookup for %s failed: %s", hl.Host, hl.IPv6Err)})
		}
	}
	return
}

func ruleHostNoAddress(obs *Observations) (tags []Tag) {
	for _, hl := range obs.Hosts {
		if hl.Literal {
			continue
		}
		if hl.Empty() && hl.IPv4Err == nil && hl.IPv6Err == nil && (hl.WantIPv4 || hl.WantIPv6) {
			tags = append(tags, Tag{Level: LevelWarning,
				Message: fmt.Sprintf("%s has no A/AAAA records.", hl.Host)})
		}
	}
	return
}

func ruleHostNoIPv6(obs *Observations) (tags []Tag) {
	for _, hl := range obs.Hosts {
		if !hl.Literal && hl.WantIPv6 && hl.IPv6Err == nil && len(hl.IPv6) <= 0 && len(hl.IPv4) > 0 {
			tags = append(tags, Tag{Level: LevelInfo,
				Message: fmt.Sprintf("%s has no IPv6 (AAAA) address.", hl.Host)})
		}
	}
	return
}

func ruleNoConnections(obs *Observations) (tags []Tag) {
	for _, kind := range obs.Kinds {
		if len(obs.TargetsFor(kind)) <= 0 {
			continue
		}
		if countConnected(obs.ResultsFor(kind)) <= 0 {
			tags = append(tags, kindTag(LevelError, kind, "No successful connections for %s.", kind))
		}
	}
	return
}

func rulePartialFailure(obs *Observations) (tags []Tag) {
	for _, kind := range obs.Kinds {
		results := obs.ResultsFor(kind)
		connected := countConnected(results)
		if connected > 0 && connected < len(results) {
			tags = append(tags, kindTag(LevelWarning, kind,
				"%d of %d endpoints for %s failed.", len(results)-connected, len(results), kind))
		}
	}
	return
}

// ruleFamilyReachability flags kinds where every endpoint of the broken
// family failed while at least one endpoint of the other family works.
func ruleFamilyReachability(broken, working AddressFamily) func(*Observations) []Tag {
	return func(obs *Observations) (tags []Tag) {
		for _, kind := range obs.Kinds {
			var brokenTotal, brokenOK, workingOK int
			for _, r := range obs.ResultsFor(kind) {
				switch {
				case r.Endpoint.Family == broken:
					brokenTotal++
					if r.Connected {
						brokenOK++
					}
				case r.Endpoint.Family == working && r.Connected:
					workingOK++
				}
			}
			if brokenTotal > 0 && brokenOK <= 0 && workingOK > 0 {
				tags = append(tags, kindTag(LevelWarning, kind,
					"%s reachability issue for %s: all %d %s endpoints failed while %s works.",
					familyLabel(broken), kind, brokenTotal, familyLabel(broken), familyLabel(working)))
			}
		}
		return
	}
}

func ruleXMPPSPlainPort(obs *Observations) (tags []Tag) {
	for _, r := range obs.Results {
		ep := r.Endpoint
		if ep.Service.Transport() != DirectTLS || !r.Connected {
			continue
		}
		if ep.Port == DefaultClientPort || ep.Port == DefaultServerPort {
			tags = append(tags, endpointTag(LevelInfo, ep,
				"%s: direct TLS expected on %s, a port conventionally used for plain/STARTTLS connections.",
				ep.Service, ep.AddrPort()))
		}
	}
	return
}

func ruleStartTLSMissing(obs *Observations) (tags []Tag) {
	for _, r := range obs.Results {
		hs := r.Handshake
		if hs == nil || hs.Err != nil || r.Endpoint.Service.Transport() != StartTLS {
			continue
		}
		if !hs.StartTLSOffered {
			tags = append(tags, endpointTag(LevelWarning, r.Endpoint,
				"%s: STARTTLS expected but plain connection succeeded on %s.",
				r.Endpoint.Service, r.Endpoint.AddrPort()))
		}
	}
	return
}

func ruleHandshakeRejected(obs *Observations) (tags []Tag) {
	for _, r := range obs.Results {
		if r.Handshake != nil && r.Handshake.Err != nil {
			tags = append(tags, endpointTag(LevelWarning, r.Endpoint,
				"%s: XMPP handshake with %s failed: %s", r.Endpoint.Service, r.Endpoint.AddrPort(), r.Handshake.Err))
		}
	}
	return
}

func countConnected(results []ProbeResult) (count int) {
	for _, r := range results {
		if r.Connected {
			count++
		}
	}
	return
}

func familyLabel(f AddressFamily) string {
	if f == IPv6 {
		return "IPv6"
	}
	return "IPv4"
}
