//
// SPDX-License-Identifier: BSD-3-Clause
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/doudp.go
// Adapted from: https://github.com/ooni/probe-engine/blob/v0.23.0/netx/resolver/dnsoverudp.go
//

package xmppdiag

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// NetDialer abstracts over [*net.Dialer].
type NetDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DNSOverUDPTransport implements [DNSTransport] for DNS over UDP.
//
// Construct using [NewDNSOverUDPTransport].
type DNSOverUDPTransport struct {
	// Dialer is the [NetDialer] to use to create connections.
	//
	// Set by [NewDNSOverUDPTransport] to the user-provided value.
	Dialer NetDialer

	// Endpoint is the server endpoint to use to query.
	//
	// Set by [NewDNSOverUDPTransport] to the user-provided value.
	Endpoint netip.AddrPort
}

// NewDNSOverUDPTransport creates a new [*DNSOverUDPTransport].
func NewDNSOverUDPTransport(dialer NetDialer, endpoint netip.AddrPort) *DNSOverUDPTransport {
	return &DNSOverUDPTransport{
		Dialer:   dialer,
		Endpoint: endpoint,
	}
}

// Ensure that [*DNSOverUDPTransport] implements [DNSTransport].
var _ DNSTransport = &DNSOverUDPTransport{}

// String implements [fmt.Stringer].
func (dt *DNSOverUDPTransport) String() string {
	return "udp://" + dt.Endpoint.String()
}

// Exchange implements [DNSTransport].
func (dt *DNSOverUDPTransport) Exchange(ctx context.Context, query *Query) (*Response, error) {
	// 1. create the connection
	conn, err := dt.Dialer.DialContext(ctx, "udp", dt.Endpoint.String())
	if err != nil {
		return nil, err
	}

	// 2. Make sure we react to context being canceled early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer conn.Close()
		<-ctx.Done()
	}()

	// 3. defer to ExchangeWithConn.
	return dt.ExchangeWithConn(ctx, conn, query)
}

// SendQuery sends a [*Query] using a [net.Conn].
//
// We only honor deadlines from the context; canceling the context without a
// deadline does not interrupt I/O.
func (dt *DNSOverUDPTransport) SendQuery(ctx context.Context, conn net.Conn, query *Query) (*dns.Msg, error) {
	// 1. Use the context deadline to limit the lifetime.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	// 2. Mutate and serialize the query.
	query = query.Clone()
	query.ID = dns.Id()
	query.MaxSize = QueryMaxResponseSizeUDP
	queryMsg, err := query.NewMsg()
	if err != nil {
		return nil, err
	}
	rawQuery, err := queryMsg.Pack()
	if err != nil {
		return nil, err
	}

	// 3. Send the query.
	if _, err := conn.Write(rawQuery); err != nil {
		return nil, err
	}
	return queryMsg, nil
}

// RecvResponse receives a [*Response] using a [net.Conn].
//
// A truncated response yields [ErrTruncated] so that the [*Resolver]
// moves on to the next (stream) transport.
func (dt *DNSOverUDPTransport) RecvResponse(
	ctx context.Context, conn net.Conn, queryMsg *dns.Msg) (*Response, error) {
	// 1. Use the context deadline to limit the lifetime.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	// 2. Read the response message.
	buff := make([]byte, QueryMaxResponseSizeUDP)
	count, err := conn.Read(buff)
	if err != nil {
		return nil, err
	}

	// 3. Parse and validate the response.
	respMsg := new(dns.Msg)
	if err := respMsg.Unpack(buff[:count]); err != nil {
		return nil, err
	}
	return NewResponse(queryMsg, respMsg)
}

// ExchangeWithConn sends a [*Query] and receives a [*Response] using
// an already connected conn.
func (dt *DNSOverUDPTransport) ExchangeWithConn(ctx context.Context,
	conn net.Conn, query *Query) (*Response, error) {
	queryMsg, err := dt.SendQuery(ctx, conn, query)
	if err != nil {
		return nil, err
	}
	return dt.RecvResponse(ctx, conn, queryMsg)
}
