// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// testZone is a tiny authoritative zone served by a [*dns.Server].
//
// Unknown names get NXDOMAIN and known names without records of the
// queried type get an empty answer.
type testZone struct {
	// records are the zone records.
	records []dns.RR

	// rcodes overrides the RCODE for the given FQDN.
	rcodes map[string]int

	// truncateUDP sets the TC bit on every UDP response.
	truncateUDP bool
}

// newTestZone parses records using the zone file syntax.
func newTestZone(t *testing.T, records ...string) *testZone {
	t.Helper()
	zone := &testZone{rcodes: map[string]int{}}
	for _, s := range records {
		rr, err := dns.NewRR(s)
		require.NoError(t, err)
		zone.records = append(zone.records, rr)
	}
	return zone
}

// ServeDNS implements [dns.Handler].
func (z *testZone) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true
	resp.RecursionAvailable = true
	q0 := req.Question[0]
	name := strings.ToLower(q0.Name)

	if rcode, ok := z.rcodes[name]; ok {
		resp.Rcode = rcode
		_ = w.WriteMsg(resp)
		return
	}
	if z.truncateUDP && w.LocalAddr().Network() == "udp" {
		resp.Truncated = true
		_ = w.WriteMsg(resp)
		return
	}

	found := false
	for _, rr := range z.records {
		if strings.ToLower(rr.Header().Name) != name {
			continue
		}
		found = true
		if rr.Header().Rrtype == q0.Qtype || rr.Header().Rrtype == dns.TypeCNAME {
			resp.Answer = append(resp.Answer, dns.Copy(rr))
		}
	}
	if !found {
		resp.Rcode = dns.RcodeNameError
	}
	_ = w.WriteMsg(resp)
}

// startTCP serves the zone over TCP on the loopback.
func (z *testZone) startTCP(t *testing.T) netip.AddrPort {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return z.serve(t, &dns.Server{Listener: listener, Handler: z}, listener.Addr().String())
}

// startUDP serves the zone over UDP on the loopback.
func (z *testZone) startUDP(t *testing.T) netip.AddrPort {
	t.Helper()
	pconn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	return z.serve(t, &dns.Server{PacketConn: pconn, Handler: z}, pconn.LocalAddr().String())
}

func (z *testZone) serve(t *testing.T, server *dns.Server, address string) netip.AddrPort {
	started := make(chan struct{})
	server.NotifyStartedFunc = func() { close(started) }
	go server.ActivateAndServe()
	<-started
	t.Cleanup(func() { _ = server.Shutdown() })
	return netip.MustParseAddrPort(address)
}

// newSRV returns an SRV record for tests.
func newSRV(priority, weight, port uint16, target string) *dns.SRV {
	return &dns.SRV{
		Hdr:      dns.RR_Header{Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60},
		Priority: priority,
		Weight:   weight,
		Port:     port,
		Target:   dns.Fqdn(target),
	}
}

// lookuperStub is a [Lookuper] backed by maps.
//
// Missing names yield [ErrDNSNoRecords]. Errors take precedence.
type lookuperStub struct {
	srv     map[string][]*dns.SRV
	a       map[string][]netip.Addr
	aaaa    map[string][]netip.Addr
	srvErr  map[string]error
	aErr    map[string]error
	aaaaErr map[string]error

	mu    sync.Mutex
	calls map[string]int
}

func (ls *lookuperStub) count(key string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.calls == nil {
		ls.calls = map[string]int{}
	}
	ls.calls[key]++
}

// callsFor returns how many times the given "TYPE name" was looked up.
func (ls *lookuperStub) callsFor(key string) int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.calls[key]
}

func (ls *lookuperStub) LookupSRV(ctx context.Context, name string) ([]*dns.SRV, error) {
	ls.count("SRV " + name)
	if err := ls.srvErr[name]; err != nil {
		return nil, err
	}
	if records, ok := ls.srv[name]; ok {
		return records, nil
	}
	return nil, ErrDNSNoRecords
}

func (ls *lookuperStub) LookupA(ctx context.Context, domain string) ([]netip.Addr, error) {
	ls.count("A " + domain)
	return stubAddrs(ls.a, ls.aErr, domain)
}

func (ls *lookuperStub) LookupAAAA(ctx context.Context, domain string) ([]netip.Addr, error) {
	ls.count("AAAA " + domain)
	return stubAddrs(ls.aaaa, ls.aaaaErr, domain)
}

func stubAddrs(addrs map[string][]netip.Addr, errs map[string]error, domain string) ([]netip.Addr, error) {
	if err := errs[domain]; err != nil {
		return nil, err
	}
	if values, ok := addrs[domain]; ok {
		return values, nil
	}
	return nil, ErrDNSNoRecords
}

// proberStub is an [EndpointProber] calling a function.
type proberStub struct {
	probe func(ctx context.Context, ep Endpoint) ProbeResult
}

func (ps proberStub) Probe(ctx context.Context, ep Endpoint) ProbeResult {
	return ps.probe(ctx, ep)
}

// connectedUnless returns a prober that succeeds except for the
// addresses in refused, which fail with [ErrConnectRefused].
func connectedUnless(refused ...string) proberStub {
	return proberStub{probe: func(ctx context.Context, ep Endpoint) ProbeResult {
		for _, addr := range refused {
			if ep.Address == netip.MustParseAddr(addr) {
				return ProbeResult{Endpoint: ep, Err: ErrConnectRefused}
			}
		}
		return ProbeResult{Endpoint: ep, Connected: true}
	}}
}

func addrs(values ...string) []netip.Addr {
	out := make([]netip.Addr, 0, len(values))
	for _, value := range values {
		out = append(out, netip.MustParseAddr(value))
	}
	return out
}

// familyOf returns the family of addr.
func familyOf(addr netip.Addr) AddressFamily {
	if addr.Unmap().Is4() {
		return IPv4
	}
	return IPv6
}
