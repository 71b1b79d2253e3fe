// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bassosimone/xmppdiag/internal/logger"
)

// XML namespaces used by the basic probe.
const (
	nsStreams       = "http://etherx.jabber.org/streams"
	nsStreamErrors  = "urn:ietf:params:xml:ns:xmpp-streams"
	nsClient        = "jabber:client"
	nsServer        = "jabber:server"
	nsDialback      = "jabber:server:dialback"
	basicProbeClose = "</stream:stream>"
)

// BasicProber is an [EndpointProber] that, after connecting, opens a
// minimal XMPP stream and waits for the server stream features.
//
// Direct TLS kinds perform the TLS handshake first. Certificates are not
// verified.
//
// Construct using [NewBasicProber].
type BasicProber struct {
	*Prober

	// TLSConfig is the OPTIONAL base TLS config, cloned per probe.
	TLSConfig *tls.Config
}

// NewBasicProber creates a new [*BasicProber].
func NewBasicProber(dialer NetDialer, log logger.Logger) *BasicProber {
	return &BasicProber{Prober: NewProber(dialer, log)}
}

// Ensure that [*BasicProber] implements [EndpointProber].
var _ EndpointProber = &BasicProber{}

// Probe implements [EndpointProber].
//
// Connect and handshake share a single Timeout budget.
func (bp *BasicProber) Probe(ctx context.Context, ep Endpoint) ProbeResult {
	deadline := time.Now().Add(bp.Timeout)
	conn, result := bp.connect(ctx, ep)
	if conn == nil {
		return result
	}
	defer conn.Close()

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	result.Handshake = bp.handshake(ctx, conn, ep)

	if err := result.Handshake.Err; err != nil {
		bp.Logger.Info("handshake rejected", logger.Stringer("endpoint", ep), logger.Error(err))
	} else {
		bp.Logger.Debug("handshake succeeded", logger.Stringer("endpoint", ep),
			logger.String("stream_id", result.Handshake.StreamID),
			logger.Stringer("transport", result.Handshake.Transport))
	}
	return result
}

// handshake runs the minimal stream negotiation over conn.
func (bp *BasicProber) handshake(ctx context.Context, conn net.Conn, ep Endpoint) *Handshake {
	hs := &Handshake{Transport: Plain}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// 1. start TLS right away for xmpps
	if ep.Service.Transport() == DirectTLS {
		tconn := tls.Client(conn, bp.newTLSConfig(ep))
		if err := tconn.HandshakeContext(ctx); err != nil {
			hs.Err = fmt.Errorf("%w: tls: %w", ErrHandshakeRejected, err)
			return hs
		}
		hs.Transport = DirectTLS
		hs.TLSVersion = tls.VersionName(tconn.ConnectionState().Version)
		conn = tconn
	}

	// 2. open the stream
	if _, err := io.WriteString(conn, basicStreamHeader(ep)); err != nil {
		hs.Err = fmt.Errorf("%w: %w", ErrHandshakeRejected, err)
		return hs
	}

	// 3. read the server stream header
	dec := xml.NewDecoder(conn)
	start, err := basicNextStart(dec)
	if err != nil {
		hs.Err = fmt.Errorf("%w: %w", ErrHandshakeRejected, err)
		return hs
	}
	if start.Name.Space != nsStreams || start.Name.Local != "stream" {
		hs.Err = fmt.Errorf("%w: unexpected element <%s>", ErrHandshakeRejected, start.Name.Local)
		return hs
	}
	for _, attr := range start.Attr {
		if attr.Name.Space == "" && attr.Name.Local == "id" {
			hs.StreamID = attr.Value
		}
	}

	// 4. read either the features or a stream error
	next, err := basicNextStart(dec)
	if err != nil {
		hs.Err = fmt.Errorf("%w: %w", ErrHandshakeRejected, err)
		return hs
	}
	switch {
	case next.Name.Space == nsStreams && next.Name.Local == "error":
		var serr basicStreamError
		_ = dec.DecodeElement(&serr, &next)
		hs.Err = fmt.Errorf("%w: stream error: %s", ErrHandshakeRejected, serr.condition())
		return hs

	case next.Name.Space == nsStreams && next.Name.Local == "features":
		var features basicStreamFeatures
		if err := dec.DecodeElement(&features, &next); err != nil {
			hs.Err = fmt.Errorf("%w: %w", ErrHandshakeRejected, err)
			return hs
		}
		if features.StartTLS != nil {
			hs.StartTLSOffered = true
			hs.StartTLSRequired = features.StartTLS.Required != nil
		}

	default:
		hs.Err = fmt.Errorf("%w: unexpected element <%s>", ErrHandshakeRejected, next.Name.Local)
		return hs
	}

	if hs.Transport == Plain && hs.StartTLSOffered {
		hs.Transport = StartTLS
	}

	// 5. be polite and close the stream
	_, _ = io.WriteString(conn, basicProbeClose)
	return hs
}

// newTLSConfig returns the TLS config for a direct TLS endpoint.
//
// XEP-0368 uses the XMPP domain as SNI and the service name as ALPN.
func (bp *BasicProber) newTLSConfig(ep Endpoint) *tls.Config {
	config := &tls.Config{}
	if bp.TLSConfig != nil {
		config = bp.TLSConfig.Clone()
	}
	config.ServerName = ep.Domain
	config.InsecureSkipVerify = true
	if ep.Service.IsClient() {
		config.NextProtos = []string{"xmpp-client"}
	} else {
		config.NextProtos = []string{"xmpp-server"}
	}
	if config.MinVersion == 0 {
		config.MinVersion = tls.VersionTLS12
	}
	return config
}

// basicStreamHeader returns the initial stream header sent to the server.
func basicStreamHeader(ep Endpoint) string {
	var to bytes.Buffer
	_ = xml.EscapeText(&to, []byte(ep.Domain))

	var buf bytes.Buffer
	buf.WriteString("<?xml version='1.0'?><stream:stream to='")
	buf.Write(to.Bytes())
	buf.WriteString("' version='1.0' xml:lang='en' xmlns:stream='" + nsStreams + "'")
	if ep.Service.IsClient() {
		buf.WriteString(" xmlns='" + nsClient + "'>")
	} else {
		buf.WriteString(" xmlns='" + nsServer + "' xmlns:db='" + nsDialback + "'>")
	}
	return buf.String()
}

// basicNextStart returns the next start element, skipping prologue
// tokens, character data, and comments.
func basicNextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		switch tok := tok.(type) {
		case xml.StartElement:
			return tok, nil
		case xml.EndElement:
			return xml.StartElement{}, errors.New("stream closed by server")
		}
	}
}

// basicStreamFeatures is the subset of <stream:features> we care about.
type basicStreamFeatures struct {
	StartTLS *struct {
		Required *struct{} `xml:"required"`
	} `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
}

// basicStreamError is a <stream:error> element.
type basicStreamError struct {
	Children []struct {
		XMLName xml.Name
	} `xml:",any"`
}

// condition returns the defined condition of the stream error.
func (se basicStreamError) condition() string {
	for _, child := range se.Children {
		if child.XMLName.Space == nsStreamErrors && child.XMLName.Local != "text" {
			return child.XMLName.Local
		}
	}
	return "undefined-condition"
}
