// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// DNS lookup errors.
var (
	// ErrDNSTimeout indicates that no server answered in time.
	ErrDNSTimeout = errors.New("dns: query timeout")

	// ErrDNSServerFailure indicates SERVFAIL, REFUSED, another non-zero
	// RCODE, an invalid response, or a transport failure.
	ErrDNSServerFailure = errors.New("dns: server failure")

	// ErrDNSNoRecords indicates NXDOMAIN or an empty answer.
	//
	// Lookups return it as an error but callers treat it as valid
	// empty data.
	ErrDNSNoRecords = errors.New("dns: no records found")

	// ErrTruncated indicates a truncated UDP response.
	ErrTruncated = errors.New("dns: truncated response")

	// ErrNoTransport indicates a [*Resolver] without transports.
	ErrNoTransport = errors.New("dns: no configured transport")
)

// Endpoint probing errors.
var (
	// ErrConnectTimeout indicates that the connect did not complete
	// in time or was abandoned when the run deadline expired.
	ErrConnectTimeout = errors.New("connect: timed out")

	// ErrConnectRefused indicates ECONNREFUSED.
	ErrConnectRefused = errors.New("connect: connection refused")

	// ErrNetworkUnreachable indicates ENETUNREACH.
	ErrNetworkUnreachable = errors.New("connect: network unreachable")

	// ErrHostUnreachable indicates EHOSTUNREACH.
	ErrHostUnreachable = errors.New("connect: host unreachable")

	// ErrConnectFailed indicates any other connect failure.
	ErrConnectFailed = errors.New("connect: failed")

	// ErrHandshakeRejected indicates that the server did not answer
	// the basic probe with a valid XMPP stream.
	ErrHandshakeRejected = errors.New("xmpp: handshake rejected")
)

// ErrUsage indicates invalid user input.
var ErrUsage = errors.New("usage error")

// isTimeout returns whether err is (or wraps) a timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// classifyLookupError maps a failed lookup onto [ErrDNSTimeout] or
// [ErrDNSServerFailure], leaving already classified errors alone.
func classifyLookupError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDNSNoRecords), errors.Is(err, ErrDNSServerFailure):
		return err
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrDNSTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrDNSServerFailure, err)
	}
}

// classifyDialError wraps a dial error with the matching ErrConnect* class.
//
// A canceled context means the run deadline abandoned the probe, which
// we report as a timeout.
func classifyDialError(err error) error {
	var class error
	switch {
	case isTimeout(err), errors.Is(err, context.Canceled):
		class = ErrConnectTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		class = ErrConnectRefused
	case errors.Is(err, syscall.ENETUNREACH):
		class = ErrNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		class = ErrHostUnreachable
	default:
		class = ErrConnectFailed
	}
	return fmt.Errorf("%w: %w", class, err)
}
