// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialerSplitHostPortFailure(t *testing.T) {
	dialer := NewDialer(&netstub.FuncDialer{}, &lookuperStub{})
	_, err := dialer.DialContext(context.Background(), "tcp", "bad-address")
	require.Error(t, err)
}

func TestDialerInvalidPort(t *testing.T) {
	dialer := NewDialer(&netstub.FuncDialer{}, &lookuperStub{})
	_, err := dialer.DialContext(context.Background(), "tcp", "dns.example:https")
	require.Error(t, err)
}

func TestDialerLookupHostFailure(t *testing.T) {
	expectedErr := errors.New("lookup failed")
	resolver := &lookuperStub{
		aErr:    map[string]error{"dns.example": expectedErr},
		aaaaErr: map[string]error{"dns.example": expectedErr},
	}
	dialer := NewDialer(&netstub.FuncDialer{}, resolver)
	_, err := dialer.DialContext(context.Background(), "tcp", "dns.example:443")
	require.ErrorIs(t, err, expectedErr)
}

func TestDialerNoAddresses(t *testing.T) {
	dialer := NewDialer(&netstub.FuncDialer{}, &lookuperStub{})
	_, err := dialer.DialContext(context.Background(), "tcp", "dns.example:443")
	require.ErrorIs(t, err, ErrDNSNoRecords)
}

func TestDialerSequentialConnectFailure(t *testing.T) {
	expectedErr := errors.New("dial failed")
	resolver := &lookuperStub{
		a:    map[string][]netip.Addr{"dns.example": addrs("203.0.113.1", "203.0.113.2")},
		aaaa: map[string][]netip.Addr{"dns.example": addrs("2001:db8::1")},
	}
	var dialed []string
	dialer := NewDialer(&netstub.FuncDialer{
		DialContextFunc: func(_ context.Context, _, address string) (net.Conn, error) {
			dialed = append(dialed, address)
			return nil, expectedErr
		},
	}, resolver)
	_, err := dialer.DialContext(context.Background(), "tcp", "dns.example:443")
	require.ErrorIs(t, err, expectedErr)
	assert.Equal(t, []string{"203.0.113.1:443", "203.0.113.2:443", "[2001:db8::1]:443"}, dialed)
}

func TestDialerHonoursNetworkFamily(t *testing.T) {
	resolver := &lookuperStub{
		a:    map[string][]netip.Addr{"dns.example": addrs("203.0.113.1")},
		aaaa: map[string][]netip.Addr{"dns.example": addrs("2001:db8::1")},
	}
	client, server := net.Pipe()
	defer server.Close()
	var dialed string
	dialer := NewDialer(&netstub.FuncDialer{
		DialContextFunc: func(_ context.Context, _, address string) (net.Conn, error) {
			dialed = address
			return client, nil
		},
	}, resolver)

	conn, err := dialer.DialContext(context.Background(), "tcp6", "dns.example:443")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "[2001:db8::1]:443", dialed)
	assert.Equal(t, 0, resolver.callsFor("A dns.example"))
}

func TestDialerIPLiteral(t *testing.T) {
	resolver := &lookuperStub{}
	client, server := net.Pipe()
	defer server.Close()
	dialer := NewDialer(&netstub.FuncDialer{
		DialContextFunc: func(context.Context, string, string) (net.Conn, error) {
			return client, nil
		},
	}, resolver)

	conn, err := dialer.DialContext(context.Background(), "tcp", "8.8.8.8:443")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 0, resolver.callsFor("A 8.8.8.8"))
}
