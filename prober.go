// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"context"
	"net"
	"time"

	"github.com/bassosimone/xmppdiag/internal/logger"
)

// DefaultProbeTimeout is the default timeout of a single probe.
//
// [*BasicProber] spends it on both the connect and the handshake.
const DefaultProbeTimeout = 5 * time.Second

// EndpointProber probes a single [Endpoint].
//
// Implementations must capture every failure inside the [ProbeResult].
type EndpointProber interface {
	Probe(ctx context.Context, ep Endpoint) ProbeResult
}

// Prober is the plain socket [EndpointProber].
//
// It only checks whether a TCP connection can be established.
//
// Construct using [NewProber].
type Prober struct {
	// Dialer is the underlying dialer.
	//
	// Set by [NewProber] to the user-provided value.
	Dialer NetDialer

	// Timeout bounds each connect attempt.
	//
	// Set by [NewProber] to [DefaultProbeTimeout].
	Timeout time.Duration

	// Logger is the logger to use.
	Logger logger.Logger
}

// NewProber creates a new [*Prober].
func NewProber(dialer NetDialer, log logger.Logger) *Prober {
	return &Prober{
		Dialer:  dialer,
		Timeout: DefaultProbeTimeout,
		Logger:  log,
	}
}

// Ensure that [*Prober] implements [EndpointProber].
var _ EndpointProber = &Prober{}

// Probe implements [EndpointProber].
func (p *Prober) Probe(ctx context.Context, ep Endpoint) ProbeResult {
	conn, result := p.connect(ctx, ep)
	if conn != nil {
		conn.Close()
	}
	return result
}

// connect dials the endpoint and returns the live connection on success.
func (p *Prober) connect(ctx context.Context, ep Endpoint) (net.Conn, ProbeResult) {
	result := ProbeResult{Endpoint: ep}

	// 1. the run deadline may have already expired
	if err := ctx.Err(); err != nil {
		result.Err = classifyDialError(err)
		return nil, result
	}

	// 2. honour the per-probe timeout
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	// 3. attempt to connect using the endpoint family
	t0 := time.Now()
	conn, err := p.Dialer.DialContext(ctx, ep.Family.network(), ep.AddrPort().String())
	result.Latency = time.Since(t0)
	if err != nil {
		result.Err = classifyDialError(err)
		p.Logger.Debug("probe failed", logger.Stringer("endpoint", ep),
			logger.Duration("latency", result.Latency), logger.Error(result.Err))
		return nil, result
	}

	result.Connected = true
	p.Logger.Debug("probe succeeded", logger.Stringer("endpoint", ep),
		logger.Duration("latency", result.Latency))
	return conn, result
}
