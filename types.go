// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// ServiceKind identifies the SRV service an [Endpoint] was discovered with.
//
// The declaration order is the canonical result order.
type ServiceKind int

const (
	// XMPPClient is the _xmpp-client._tcp service (RFC 6120).
	XMPPClient ServiceKind = iota

	// XMPPServer is the _xmpp-server._tcp service (RFC 6120).
	XMPPServer

	// XMPPSClient is the _xmpps-client._tcp service (XEP-0368).
	XMPPSClient

	// XMPPSServer is the _xmpps-server._tcp service (XEP-0368).
	XMPPSServer
)

// AllServiceKinds lists every [ServiceKind] in canonical order.
var AllServiceKinds = []ServiceKind{XMPPClient, XMPPServer, XMPPSClient, XMPPSServer}

// Default ports used when no SRV record exists.
const (
	// DefaultClientPort is the xmpp-client fallback port.
	DefaultClientPort = 5222

	// DefaultServerPort is the xmpp-server fallback port.
	DefaultServerPort = 5269
)

// String returns the SRV service label (e.g., "xmpp-client").
func (k ServiceKind) String() string {
	switch k {
	case XMPPClient:
		return "xmpp-client"
	case XMPPServer:
		return "xmpp-server"
	case XMPPSClient:
		return "xmpps-client"
	case XMPPSServer:
		return "xmpps-server"
	default:
		return fmt.Sprintf("ServiceKind(%d)", int(k))
	}
}

// SRVName returns the name to query for this service at the given domain.
func (k ServiceKind) SRVName(domain string) string {
	return "_" + k.String() + "._tcp." + strings.TrimSuffix(domain, ".")
}

// IsClient returns whether this is a client-to-server service.
func (k ServiceKind) IsClient() bool {
	return k == XMPPClient || k == XMPPSClient
}

// Transport returns the transport implied by the SRV service name.
func (k ServiceKind) Transport() TransportType {
	switch k {
	case XMPPSClient, XMPPSServer:
		return DirectTLS
	default:
		return StartTLS
	}
}

// FallbackPort returns the port to use when no SRV record exists and
// whether a fallback exists at all (XEP-0368 defines none).
func (k ServiceKind) FallbackPort() (uint16, bool) {
	switch k {
	case XMPPClient:
		return DefaultClientPort, true
	case XMPPServer:
		return DefaultServerPort, true
	default:
		return 0, false
	}
}

// TransportType is the way TLS is (or is not) established.
type TransportType int

const (
	// Plain is an unencrypted stream.
	Plain TransportType = iota

	// StartTLS upgrades a plain stream in-protocol.
	StartTLS

	// DirectTLS starts TLS before the XMPP stream.
	DirectTLS
)

// String implements [fmt.Stringer].
func (t TransportType) String() string {
	switch t {
	case Plain:
		return "plain"
	case StartTLS:
		return "starttls"
	case DirectTLS:
		return "tls"
	default:
		return fmt.Sprintf("TransportType(%d)", int(t))
	}
}

// AddressFamily is either [IPv4] or [IPv6].
type AddressFamily int

const (
	// IPv4 selects A records and tcp4 dialing.
	IPv4 AddressFamily = iota

	// IPv6 selects AAAA records and tcp6 dialing.
	IPv6
)

// String implements [fmt.Stringer].
func (f AddressFamily) String() string {
	if f == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// network returns the dial network for the family.
func (f AddressFamily) network() string {
	if f == IPv6 {
		return "tcp6"
	}
	return "tcp4"
}

// SRVTarget is a single SRV record.
type SRVTarget struct {
	Priority uint16
	Weight   uint16
	Port     uint16

	// Host is the target name without the trailing dot.
	Host string
}

// Endpoint is a concrete (service, host, address, port) to probe.
//
// Constructed by [*Runner.Expand]. Treat as immutable.
type Endpoint struct {
	// Domain is the XMPP domain under test.
	Domain string

	// Service is the SRV service the endpoint comes from.
	Service ServiceKind

	// Host is the SRV target or the bare domain on fallback.
	Host string

	// Port is the TCP port.
	Port uint16

	// Address is the resolved IP address.
	Address netip.Addr

	// Family is the address family of Address.
	Family AddressFamily

	// Priority and Weight are copied from the SRV record.
	Priority uint16
	Weight   uint16

	// Fallback is true when the endpoint comes from the A/AAAA fallback.
	Fallback bool
}

// AddrPort returns the address and port to dial.
func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Address, e.Port)
}

// String implements [fmt.Stringer].
func (e Endpoint) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Service, e.AddrPort(), e.Host)
}

// Handshake is the outcome of the basic XMPP connection probe.
type Handshake struct {
	// Transport is the transport actually observed.
	Transport TransportType

	// StreamID is the id attribute of the server stream header.
	StreamID string

	// StartTLSOffered is true when stream features advertise STARTTLS.
	StartTLSOffered bool

	// StartTLSRequired is true when STARTTLS is marked as required.
	StartTLSRequired bool

	// TLSVersion is the negotiated TLS version for direct TLS.
	TLSVersion string

	// Err is nil on success and wraps [ErrHandshakeRejected] otherwise.
	Err error
}

// ProbeResult is the outcome of probing a single [Endpoint].
type ProbeResult struct {
	Endpoint Endpoint

	// Connected is true when the TCP connection succeeded.
	Connected bool

	// Err is nil when Connected and otherwise wraps one of the
	// ErrConnect* sentinels.
	Err error

	// Latency is the time it took to connect.
	Latency time.Duration

	// Handshake is only set by [*BasicProber].
	Handshake *Handshake
}

// Status returns "ok", "rejected", or "failed".
func (r ProbeResult) Status() string {
	switch {
	case !r.Connected:
		return "failed"
	case r.Handshake != nil && r.Handshake.Err != nil:
		return "rejected"
	default:
		return "ok"
	}
}

// Record returns the formatter view of the result.
func (r ProbeResult) Record() Record {
	var errmsg string
	switch {
	case r.Err != nil:
		errmsg = r.Err.Error()
	case r.Handshake != nil && r.Handshake.Err != nil:
		errmsg = r.Handshake.Err.Error()
	}
	return Record{
		{Key: "srv", Value: r.Endpoint.Service.String()},
		{Key: "host", Value: r.Endpoint.Host},
		{Key: "ip", Value: r.Endpoint.Address.String()},
		{Key: "port", Value: r.Endpoint.Port},
		{Key: "status", Value: r.Status()},
		{Key: "error", Value: errmsg},
	}
}

// Level is the severity of a [Tag].
type Level int

// Tag levels in increasing severity.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// String implements [fmt.Stringer].
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Tag is an advisory message derived by the [*TagEngine].
type Tag struct {
	Level   Level
	Message string

	// Kind is the service the tag concerns, if any.
	Kind *ServiceKind

	// Endpoint is the endpoint the tag concerns, if any.
	Endpoint *Endpoint
}

// Record returns the formatter view of the tag.
func (t Tag) Record() Record {
	return Record{
		{Key: "level", Value: t.Level.String()},
		{Key: "message", Value: t.Message},
	}
}
