// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"syscall"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/xmppdiag/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackEndpoint returns an [Endpoint] for the given loopback address.
func loopbackEndpoint(t *testing.T, kind ServiceKind, address string) Endpoint {
	t.Helper()
	addrport, err := netip.ParseAddrPort(address)
	require.NoError(t, err)
	return Endpoint{
		Domain:  "example.org",
		Service: kind,
		Host:    "xmpp.example.org",
		Port:    addrport.Port(),
		Address: addrport.Addr(),
		Family:  familyOf(addrport.Addr()),
	}
}

func TestProberLoopback(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	prober := NewProber(&net.Dialer{}, logger.NewNop())
	ep := loopbackEndpoint(t, XMPPClient, listener.Addr().String())

	t.Run("connected", func(t *testing.T) {
		result := prober.Probe(context.Background(), ep)
		assert.True(t, result.Connected)
		assert.NoError(t, result.Err)
		assert.Equal(t, ep, result.Endpoint)
		assert.Nil(t, result.Handshake)
		assert.Equal(t, "ok", result.Status())
	})

	t.Run("refused", func(t *testing.T) {
		closed, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		address := closed.Addr().String()
		require.NoError(t, closed.Close())

		result := prober.Probe(context.Background(), loopbackEndpoint(t, XMPPClient, address))
		assert.False(t, result.Connected)
		assert.ErrorIs(t, result.Err, ErrConnectRefused)
		assert.Equal(t, "failed", result.Status())
	})
}

func TestProberErrorClassification(t *testing.T) {
	type testCase struct {
		name string
		err  error
		want error
	}

	tests := []testCase{
		{"refused", newSyscallDialError(syscall.ECONNREFUSED), ErrConnectRefused},
		{"network unreachable", newSyscallDialError(syscall.ENETUNREACH), ErrNetworkUnreachable},
		{"host unreachable", newSyscallDialError(syscall.EHOSTUNREACH), ErrHostUnreachable},
		{"timeout", &net.OpError{Op: "dial", Net: "tcp", Err: timeoutError{}}, ErrConnectTimeout},
		{"other", errors.New("mocked error"), ErrConnectFailed},
	}

	ep := loopbackEndpoint(t, XMPPServer, "[2001:db8::1]:5269")
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var network string
			prober := NewProber(&netstub.FuncDialer{
				DialContextFunc: func(_ context.Context, n, _ string) (net.Conn, error) {
					network = n
					return nil, tc.err
				},
			}, logger.NewNop())

			result := prober.Probe(context.Background(), ep)
			assert.False(t, result.Connected)
			assert.ErrorIs(t, result.Err, tc.want)
			assert.Equal(t, "tcp6", network)
		})
	}
}

func TestProberTimeout(t *testing.T) {
	prober := NewProber(&netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, _, _ string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}, logger.NewNop())
	prober.Timeout = 10 * time.Millisecond

	result := prober.Probe(context.Background(), loopbackEndpoint(t, XMPPClient, "192.0.2.1:5222"))
	assert.False(t, result.Connected)
	assert.ErrorIs(t, result.Err, ErrConnectTimeout)
	assert.GreaterOrEqual(t, result.Latency, 10*time.Millisecond)
}

func TestProberExpiredContext(t *testing.T) {
	var called bool
	prober := NewProber(&netstub.FuncDialer{
		DialContextFunc: func(context.Context, string, string) (net.Conn, error) {
			called = true
			return nil, errors.New("should not be called")
		},
	}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := prober.Probe(ctx, loopbackEndpoint(t, XMPPClient, "192.0.2.1:5222"))
	assert.False(t, called)
	assert.False(t, result.Connected)
	assert.ErrorIs(t, result.Err, ErrConnectTimeout)
}
