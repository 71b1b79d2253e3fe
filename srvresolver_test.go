// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"context"
	"testing"

	"github.com/bassosimone/xmppdiag/internal/logger"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestedKinds(t *testing.T) {
	type testCase struct {
		name                  string
		client, server, xmpps bool
		want                  []ServiceKind
	}

	tests := []testCase{
		{"client", true, false, false, []ServiceKind{XMPPClient}},
		{"client with xmpps", true, false, true, []ServiceKind{XMPPClient, XMPPSClient}},
		{"server", false, true, false, []ServiceKind{XMPPServer}},
		{"server with xmpps", false, true, true, []ServiceKind{XMPPServer, XMPPSServer}},
		{"everything", true, true, true, AllServiceKinds},
		{"nothing", false, false, true, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RequestedKinds(tc.client, tc.server, tc.xmpps))
		})
	}
}

func TestSortSRVTargets(t *testing.T) {
	targets := []SRVTarget{
		{Priority: 10, Weight: 1, Host: "p10w1"},
		{Priority: 10, Weight: 5, Host: "p10w5"},
		{Priority: 5, Weight: 0, Host: "p5"},
		{Priority: 10, Weight: 1, Host: "p10w1-second"},
	}
	SortSRVTargets(targets)

	var hosts []string
	for _, target := range targets {
		hosts = append(hosts, target.Host)
	}
	assert.Equal(t, []string{"p5", "p10w5", "p10w1", "p10w1-second"}, hosts)
}

func TestNeedsFallback(t *testing.T) {
	type testCase struct {
		name    string
		lookups []SRVLookup
		want    bool
	}

	tests := []testCase{
		{"no lookups", nil, true},
		{"no records", []SRVLookup{{Kind: XMPPClient}, {Kind: XMPPSClient}}, true},
		{"failures do not count as answers", []SRVLookup{{Kind: XMPPClient, Err: ErrDNSTimeout}}, true},
		{"targets", []SRVLookup{{Kind: XMPPClient}, {Kind: XMPPSClient, Targets: []SRVTarget{{Port: 5223, Host: "x"}}}}, false},
		{"unavailable is an answer", []SRVLookup{{Kind: XMPPClient, Unavailable: true}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NeedsFallback(tc.lookups))
		})
	}
}

func TestFallbackTargets(t *testing.T) {
	got := FallbackTargets("example.org", AllServiceKinds)
	assert.Equal(t, map[ServiceKind][]SRVTarget{
		XMPPClient: {{Port: 5222, Host: "example.org"}},
		XMPPServer: {{Port: 5269, Host: "example.org"}},
	}, got)
}

func TestSRVResolverResolve(t *testing.T) {
	lookuper := &lookuperStub{
		srv: map[string][]*dns.SRV{
			"_xmpp-client._tcp.example.org": {
				newSRV(10, 10, 5222, "b.example.org"),
				newSRV(5, 0, 5222, "a.example.org"),
			},
			"_xmpps-client._tcp.example.org": {newSRV(0, 0, 0, ".")},
		},
		srvErr: map[string]error{
			"_xmpp-server._tcp.example.org": ErrDNSServerFailure,
		},
	}
	resolver := NewSRVResolver(lookuper, logger.NewNop())

	lookups := resolver.Resolve(context.Background(), "example.org", AllServiceKinds)
	require.Len(t, lookups, 4)

	t.Run("targets are sorted without trailing dot", func(t *testing.T) {
		sl := lookups[0]
		assert.Equal(t, XMPPClient, sl.Kind)
		assert.Equal(t, "_xmpp-client._tcp.example.org", sl.Name)
		assert.Equal(t, []SRVTarget{
			{Priority: 5, Weight: 0, Port: 5222, Host: "a.example.org"},
			{Priority: 10, Weight: 10, Port: 5222, Host: "b.example.org"},
		}, sl.Targets)
		assert.NoError(t, sl.Err)
		assert.True(t, sl.Answered())
	})

	t.Run("failure is recorded", func(t *testing.T) {
		sl := lookups[1]
		assert.Equal(t, XMPPServer, sl.Kind)
		assert.ErrorIs(t, sl.Err, ErrDNSServerFailure)
		assert.False(t, sl.Answered())
	})

	t.Run("dot target means unavailable", func(t *testing.T) {
		sl := lookups[2]
		assert.Equal(t, XMPPSClient, sl.Kind)
		assert.True(t, sl.Unavailable)
		assert.Empty(t, sl.Targets)
		assert.True(t, sl.Answered())
	})

	t.Run("no records is not an error", func(t *testing.T) {
		sl := lookups[3]
		assert.Equal(t, XMPPSServer, sl.Kind)
		assert.NoError(t, sl.Err)
		assert.False(t, sl.Answered())
	})
}
