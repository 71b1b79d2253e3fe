//
// SPDX-License-Identifier: BSD-3-Clause
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/dotcp.go
// Adapted from: https://github.com/ooni/probe-engine/blob/v0.23.0/netx/resolver/dnsovertcp.go
//

package xmppdiag

import (
	"bufio"
	"context"
	"io"
	"math"
	"net/netip"

	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
)

// StreamTransport implements [DNSTransport] for DNS over TCP.
//
// Construct using [NewStreamTransport].
type StreamTransport struct {
	// Dialer is the [NetDialer] to use to create connections.
	//
	// Set by [NewStreamTransport] to the user-provided value.
	Dialer NetDialer

	// Endpoint is the server endpoint to use to query.
	//
	// Set by [NewStreamTransport] to the user-provided value.
	Endpoint netip.AddrPort
}

// NewStreamTransport creates a new [*StreamTransport].
func NewStreamTransport(dialer NetDialer, endpoint netip.AddrPort) *StreamTransport {
	return &StreamTransport{
		Dialer:   dialer,
		Endpoint: endpoint,
	}
}

// Ensure that [*StreamTransport] implements [DNSTransport].
var _ DNSTransport = &StreamTransport{}

// String implements [fmt.Stringer].
func (st *StreamTransport) String() string {
	return "tcp://" + st.Endpoint.String()
}

// Exchange implements [DNSTransport].
func (st *StreamTransport) Exchange(ctx context.Context, query *Query) (*Response, error) {
	// 1. create the connection
	conn, err := st.Dialer.DialContext(ctx, "tcp", st.Endpoint.String())
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

	// 3. Use the context deadline to limit the query lifetime.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// 4. Mutate and serialize the query.
	query = query.Clone()
	query.ID = dns.Id()
	query.MaxSize = QueryMaxResponseSizeTCP
	queryMsg, err := query.NewMsg()
	if err != nil {
		return nil, err
	}
	rawQuery, err := queryMsg.Pack()
	if err != nil {
		return nil, err
	}

	// 5. Send the query wrapped into a frame.
	if _, err := conn.Write(newStreamMsgFrame(rawQuery)); err != nil {
		return nil, err
	}

	// 6. Read the response header and message.
	br := bufio.NewReader(conn)
	header := make([]byte, 2)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, err
	}
	length := int(header[0])<<8 | int(header[1])
	rawResp := make([]byte, length)
	if _, err := io.ReadFull(br, rawResp); err != nil {
		return nil, err
	}

	// 7. Parse and validate the response.
	respMsg := new(dns.Msg)
	if err := respMsg.Unpack(rawResp); err != nil {
		return nil, err
	}
	return NewResponse(queryMsg, respMsg)
}

// newStreamMsgFrame creates a new raw frame for sending a message over a stream.
func newStreamMsgFrame(rawMsg []byte) []byte {
	runtimex.Assert(len(rawMsg) <= math.MaxUint16)
	rawMsgFrame := []byte{byte(len(rawMsg) >> 8), byte(len(rawMsg))}
	return append(rawMsgFrame, rawMsg...)
}
