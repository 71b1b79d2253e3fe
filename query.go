//
// SPDX-License-Identifier: BSD-3-Clause
//
// Adapted from: https://github.com/ooni/probe-engine/blob/v0.23.0/netx/resolver/encoder.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/query.go
//

package xmppdiag

import (
	"errors"

	"github.com/miekg/dns"
)

const (
	// QueryFlagBlockLengthPadding enables using RFC8467 block length padding.
	QueryFlagBlockLengthPadding = 1 << iota

	// QueryFlagDNSSec enables requesting for DNSSEC signatures.
	QueryFlagDNSSec
)

const (
	// QueryMaxResponseSizeUDP is the maximum response size when using UDP
	// and is consistent with what the standard library uses.
	QueryMaxResponseSizeUDP = 1232

	// QueryMaxResponseSizeTCP is the maximum response size when using TCP
	// and is consistent with what the standard library uses.
	QueryMaxResponseSizeTCP = 4096
)

var (
	// errQueryNotASCII indicates a query name that was not normalized.
	errQueryNotASCII = errors.New("dns: query name is not ASCII")

	// errQueryInvalidName indicates a malformed query name.
	errQueryInvalidName = errors.New("dns: invalid query name")
)

// Query is a DNS query.
//
// We build our own messages rather than delegating to IDNA-aware
// encoders because SRV owner names contain underscore labels. Names
// are expected to be normalized by [NormalizeDomain] beforehand.
//
// Construct using [NewQuery].
type Query struct {
	// Name is the MANDATORY domain name to query.
	Name string

	// Type is the query type.
	Type uint16

	// Flags OPTIONALLY modify the query flags.
	Flags uint16

	// ID is the OPTIONAL query ID.
	ID uint16

	// MaxSize is the OPTIONAL maximum response size
	// to include in the query using EDNS(0).
	MaxSize uint16
}

// NewQuery constructs a new [*Query].
func NewQuery(name string, qtype uint16) *Query {
	return &Query{
		Name:    name,
		Type:    qtype,
		MaxSize: QueryMaxResponseSizeUDP,
	}
}

// Clone returns a copy of the query.
func (q *Query) Clone() *Query {
	c := *q
	return &c
}

// NewMsg creates a new [*dns.Msg] from the [*Query].
func (q *Query) NewMsg() (*dns.Msg, error) {
	for idx := 0; idx < len(q.Name); idx++ {
		switch c := q.Name[idx]; {
		case c >= 0x80:
			return nil, errQueryNotASCII
		case c <= ' ', c == 0x7f, c == '\\':
			return nil, errQueryInvalidName
		}
	}
	if _, ok := dns.IsDomainName(q.Name); !ok {
		return nil, errQueryInvalidName
	}

	msg := new(dns.Msg)
	msg.Id = q.ID
	msg.RecursionDesired = true
	msg.Question = []dns.Question{{
		Name:   dns.Fqdn(q.Name),
		Qtype:  q.Type,
		Qclass: dns.ClassINET,
	}}
	msg.SetEdns0(q.MaxSize, q.Flags&QueryFlagDNSSec != 0)

	// Clients SHOULD pad queries to the closest multiple of
	// 128 octets RFC8467#section-4.1. We inflate the query
	// length by the size of the option (i.e. 4 octets).
	if q.Flags&QueryFlagBlockLengthPadding != 0 {
		const desiredSize = 128
		remainder := (desiredSize - uint16(msg.Len()+4)) % desiredSize
		opt := new(dns.EDNS0_PADDING)
		opt.Padding = make([]byte, remainder)
		msg.IsEdns0().Option = append(msg.IsEdns0().Option, opt)
	}

	return msg, nil
}
