// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

// Response is a validated DNS response.
//
// Construct using [NewResponse].
type Response struct {
	// Parsed contains the messages and the answers belonging to the
	// CNAME chain of the question.
	Parsed *dnscodec.Response
}

// NewResponse validates the response message against the query message.
//
// The returned error wraps [ErrTruncated], [ErrDNSNoRecords], or
// [ErrDNSServerFailure]. A successful response has at least one answer.
func NewResponse(queryMsg, respMsg *dns.Msg) (*Response, error) {
	parsed, err := dnscodec.ParseResponse(queryMsg, respMsg)
	switch {
	case errors.Is(err, dnscodec.ErrInvalidResponse), errors.Is(err, dnscodec.ErrInvalidQuery):
		return nil, fmt.Errorf("%w: %w", ErrDNSServerFailure, err)

	// A truncated answer is incomplete whatever its RCODE says
	case respMsg.Truncated:
		return nil, ErrTruncated

	case errors.Is(err, dnscodec.ErrNoName):
		return nil, fmt.Errorf("%w: NXDOMAIN", ErrDNSNoRecords)

	case errors.Is(err, dnscodec.ErrNoData):
		return nil, fmt.Errorf("%w: %w", ErrDNSNoRecords, err)

	case err != nil:
		return nil, fmt.Errorf("%w: %s", ErrDNSServerFailure, dns.RcodeToString[respMsg.Rcode])
	}
	return &Response{Parsed: parsed}, nil
}

// RecordsSRV returns the SRV records in the response, in wire order.
func (r *Response) RecordsSRV() ([]*dns.SRV, error) {
	var out []*dns.SRV
	for _, rr := range r.Parsed.ValidRRs {
		if srv, ok := rr.(*dns.SRV); ok {
			out = append(out, srv)
		}
	}
	if len(out) < 1 {
		return nil, ErrDNSNoRecords
	}
	return out, nil
}

// RecordsA returns the IPv4 addresses in the response.
func (r *Response) RecordsA() ([]netip.Addr, error) {
	return responseParseAddrs(r.Parsed.RecordsA())
}

// RecordsAAAA returns the IPv6 addresses in the response.
func (r *Response) RecordsAAAA() ([]netip.Addr, error) {
	return responseParseAddrs(r.Parsed.RecordsAAAA())
}

func responseParseAddrs(values []string, err error) ([]netip.Addr, error) {
	if errors.Is(err, dnscodec.ErrNoData) {
		return nil, fmt.Errorf("%w: %w", ErrDNSNoRecords, err)
	}
	if err != nil {
		return nil, err
	}
	out := make([]netip.Addr, 0, len(values))
	for _, value := range values {
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDNSServerFailure, err)
		}
		out = append(out, addr)
	}
	if len(out) < 1 {
		return nil, ErrDNSNoRecords
	}
	return out, nil
}
