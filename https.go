//
// SPDX-License-Identifier: BSD-3-Clause
//
// Adapted from: https://github.com/ooni/probe-engine/blob/v0.23.0/netx/resolver/dnsoverhttps.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/dohttps.go
//

package xmppdiag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/miekg/dns"
)

// HTTPSClient abstracts over [*http.Client].
type HTTPSClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSTransport implements [DNSTransport] for DNS over HTTPS.
//
// Construct using [NewHTTPSTransport].
type HTTPSTransport struct {
	// Client is the [HTTPSClient] to use to query.
	//
	// Set by [NewHTTPSTransport] to the user-provided value.
	Client HTTPSClient

	// URL is the server URL to use to query.
	//
	// Set by [NewHTTPSTransport] to the user-provided value.
	URL string
}

// NewHTTPSTransport creates a new [*HTTPSTransport].
func NewHTTPSTransport(client HTTPSClient, URL string) *HTTPSTransport {
	return &HTTPSTransport{
		Client: client,
		URL:    URL,
	}
}

// Ensure that [*HTTPSTransport] implements [DNSTransport].
var _ DNSTransport = &HTTPSTransport{}

// String implements [fmt.Stringer].
func (ht *HTTPSTransport) String() string {
	return ht.URL
}

// Exchange implements [DNSTransport].
func (ht *HTTPSTransport) Exchange(ctx context.Context, query *Query) (*Response, error) {
	// 1. Mutate and serialize the query
	//
	// For DoH, by default we leave the query ID to zero, which
	// is what the RFC suggests to do.
	query = query.Clone()
	query.Flags |= QueryFlagBlockLengthPadding
	query.ID = 0
	query.MaxSize = QueryMaxResponseSizeTCP
	queryMsg, err := query.NewMsg()
	if err != nil {
		return nil, err
	}
	rawQuery, err := queryMsg.Pack()
	if err != nil {
		return nil, err
	}

	// 2. Create HTTP request
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ht.URL, bytes.NewReader(rawQuery))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/dns-message")
	httpReq.Header.Set("Accept", "application/dns-message")

	// 3. Do the HTTP round trip
	httpResp, err := ht.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	// 4. Ensure that the response makes sense
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP status %d", ErrDNSServerFailure, httpResp.StatusCode)
	}
	if ctype := httpResp.Header.Get("Content-Type"); ctype != "application/dns-message" {
		return nil, fmt.Errorf("%w: unexpected content-type %q", ErrDNSServerFailure, ctype)
	}

	// 5. Limit response body to a reasonable size and read it
	rawResp, err := io.ReadAll(io.LimitReader(httpResp.Body, QueryMaxResponseSizeTCP))
	if err != nil {
		return nil, err
	}

	// 6. Parse and validate the response
	respMsg := &dns.Msg{}
	if err := respMsg.Unpack(rawResp); err != nil {
		return nil, err
	}
	return NewResponse(queryMsg, respMsg)
}
