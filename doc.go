// SPDX-License-Identifier: GPL-3.0-or-later

// Package xmppdiag diagnoses the reachability of an XMPP service.
//
// Given a domain, it looks up the XMPP SRV records (RFC 6120 and
// XEP-0368), resolves every target to IPv4 and IPv6 addresses, connects
// to each resulting endpoint, and annotates the outcome with advisory
// tags explaining what looks wrong.
//
// The core high-level abstraction is the [*Runner]. It composes:
//
//  1. the [*SRVResolver], which queries the _xmpp-client, _xmpp-server,
//     _xmpps-client, and _xmpps-server SRV records;
//
//  2. the [*AddressResolver], which performs independent A and AAAA
//     lookups for each unique target host;
//
//  3. an [EndpointProber], either the plain socket [*Prober] or the
//     [*BasicProber] that also opens a minimal XMPP stream;
//
//  4. the [*TagEngine], which derives [Tag] values from the collected
//     [Observations] using declarative [Rule] values.
//
// Lookups go through the [*Resolver], which tries a list of [DNSTransport]
// in order. We implement DNS over UDP ([DNSOverUDPTransport]), DNS over
// TCP ([StreamTransport]), and DNS over HTTPS ([HTTPSTransport]).
//
// For example, to diagnose the client services of a domain:
//
//	reso := xmppdiag.NewResolver(xmppdiag.NewDNSOverUDPTransport(
//		&net.Dialer{}, netip.MustParseAddrPort("8.8.8.8:53")))
//	runner := xmppdiag.NewRunner(reso, xmppdiag.NewProber(&net.Dialer{}, log), log)
//	report := runner.Run(ctx, "example.org")
//
// Every failure is part of the [*Report]: a refused connection or a
// failed lookup is data, never a reason to abort the run.
package xmppdiag
