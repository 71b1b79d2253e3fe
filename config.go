// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/bassosimone/xmppdiag/internal/logger"
	"github.com/miekg/dns"
	"golang.org/x/net/idna"
	"gopkg.in/yaml.v3"
)

// Check selects which side of XMPP to test.
type Check string

const (
	// CheckClient tests the client-to-server kinds.
	CheckClient Check = "client"

	// CheckServer tests the server-to-server kinds.
	CheckServer Check = "server"
)

// Supported values of [Config.DNSTransport].
const (
	DNSTransportUDP   = "udp"
	DNSTransportTCP   = "tcp"
	DNSTransportHTTPS = "https"
)

// DefaultResolvConf is where system nameservers are read from.
const DefaultResolvConf = "/etc/resolv.conf"

// Config holds the diagnosis settings.
type Config struct {
	// Check is either "client" or "server".
	Check Check `yaml:"check"`

	// IPv4 and IPv6 enable probing the respective address families.
	IPv4 bool `yaml:"ipv4"`
	IPv6 bool `yaml:"ipv6"`

	// XMPPS enables XEP-0368 _xmpps-*._tcp lookups.
	XMPPS bool `yaml:"xmpps"`

	// ProbeTimeout bounds each connect attempt.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// ResolverTimeout bounds each DNS lookup.
	ResolverTimeout time.Duration `yaml:"resolver_timeout"`

	// Deadline bounds the whole run.
	Deadline time.Duration `yaml:"deadline"`

	// Concurrency bounds the in-flight probes and lookups.
	Concurrency int `yaml:"concurrency"`

	// Nameservers are "ip" or "ip:port" strings. When empty, the
	// nameservers in ResolvConf are used.
	Nameservers []string `yaml:"nameservers"`

	// ResolvConf is the resolv.conf file to read nameservers from.
	ResolvConf string `yaml:"resolv_conf"`

	// DNSTransport is one of "udp", "tcp", and "https".
	DNSTransport string `yaml:"dns_transport"`

	// DoHURL is the DNS-over-HTTPS URL used with the "https" transport.
	DoHURL string `yaml:"doh_url"`

	LogLevel  string `yaml:"log_level"`  // "debug" | "info" | "warn" | "error"
	PrettyLog bool   `yaml:"pretty_log"` // true => zap dev (color), false => zap prod (JSON)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Check:           CheckClient,
		IPv4:            true,
		IPv6:            true,
		XMPPS:           true,
		ProbeTimeout:    DefaultProbeTimeout,
		ResolverTimeout: DefaultResolverTimeout,
		Deadline:        DefaultDeadline,
		Concurrency:     DefaultConcurrency,
		ResolvConf:      DefaultResolvConf,
		DNSTransport:    DNSTransportUDP,
		LogLevel:        "warn",
	}
}

// LoadConfig reads a YAML file on top of [DefaultConfig] and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %w", ErrUsage, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration, returning an error wrapping [ErrUsage].
func (c *Config) Validate() error {
	var errv []error
	if c.Check != CheckClient && c.Check != CheckServer {
		errv = append(errv, fmt.Errorf("invalid check %q", c.Check))
	}
	if !c.IPv4 && !c.IPv6 {
		errv = append(errv, errors.New("both IPv4 and IPv6 are disabled"))
	}
	if c.ProbeTimeout <= 0 {
		errv = append(errv, errors.New("probe_timeout must be positive"))
	}
	if c.ResolverTimeout <= 0 {
		errv = append(errv, errors.New("resolver_timeout must be positive"))
	}
	if c.Deadline <= 0 {
		errv = append(errv, errors.New("deadline must be positive"))
	}
	if c.Concurrency <= 0 {
		errv = append(errv, errors.New("concurrency must be positive"))
	}
	switch c.DNSTransport {
	case DNSTransportUDP, DNSTransportTCP:
		for _, ns := range c.Nameservers {
			if _, err := parseNameserver(ns); err != nil {
				errv = append(errv, err)
			}
		}
	case DNSTransportHTTPS:
		if !strings.HasPrefix(c.DoHURL, "https://") {
			errv = append(errv, fmt.Errorf("invalid doh_url %q", c.DoHURL))
		}
	default:
		errv = append(errv, fmt.Errorf("invalid dns_transport %q", c.DNSTransport))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errv = append(errv, err)
	}
	if len(errv) > 0 {
		return fmt.Errorf("%w: %w", ErrUsage, errors.Join(errv...))
	}
	return nil
}

// Kinds returns the kinds selected by the configuration.
func (c *Config) Kinds() []ServiceKind {
	return RequestedKinds(c.Check == CheckClient, c.Check == CheckServer, c.XMPPS)
}

// NewResolver builds the [*Resolver] described by the configuration.
//
// For "udp" every nameserver gets a UDP transport followed by a TCP
// transport, which is used when the UDP answer is truncated.
//
// For "https" the name of the DoH server is resolved through the
// configured nameservers, if any, and otherwise by the system.
func (c *Config) NewResolver() (*Resolver, error) {
	if c.DNSTransport == DNSTransportHTTPS {
		client := &http.Client{Timeout: c.ResolverTimeout}
		if servers, err := c.nameservers(); err == nil {
			bootstrap := c.newPlainResolver(servers, true)
			client.Transport = &http.Transport{
				DialContext:         NewDialer(&net.Dialer{}, bootstrap).DialContext,
				ForceAttemptHTTP2:   true,
				TLSHandshakeTimeout: c.ResolverTimeout,
			}
		}
		reso := NewResolver(NewHTTPSTransport(client, c.DoHURL))
		reso.Timeout = c.ResolverTimeout
		return reso, nil
	}

	servers, err := c.nameservers()
	if err != nil {
		return nil, err
	}
	return c.newPlainResolver(servers, c.DNSTransport == DNSTransportUDP), nil
}

// newPlainResolver returns a resolver using DNS over TCP for every
// server, preceded by DNS over UDP when udp is true.
func (c *Config) newPlainResolver(servers []netip.AddrPort, udp bool) *Resolver {
	var transports []DNSTransport
	dialer := &net.Dialer{}
	for _, server := range servers {
		if udp {
			transports = append(transports, NewDNSOverUDPTransport(dialer, server))
		}
		transports = append(transports, NewStreamTransport(dialer, server))
	}
	reso := NewResolver(transports...)
	reso.Timeout = c.ResolverTimeout
	return reso
}

// nameservers returns the configured or system nameservers.
func (c *Config) nameservers() ([]netip.AddrPort, error) {
	values := c.Nameservers
	if len(values) <= 0 {
		cc, err := dns.ClientConfigFromFile(c.ResolvConf)
		if err != nil {
			return nil, fmt.Errorf("cannot read system nameservers: %w", err)
		}
		for _, server := range cc.Servers {
			values = append(values, net.JoinHostPort(server, cc.Port))
		}
	}
	var out []netip.AddrPort
	for _, value := range values {
		server, err := parseNameserver(value)
		if err != nil {
			return nil, err
		}
		out = append(out, server)
	}
	if len(out) <= 0 {
		return nil, ErrNoTransport
	}
	return out, nil
}

// parseNameserver parses "ip", "ip:port", or "[ipv6]:port".
func parseNameserver(value string) (netip.AddrPort, error) {
	if addr, err := netip.ParseAddr(value); err == nil {
		return netip.AddrPortFrom(addr, 53), nil
	}
	server, err := netip.ParseAddrPort(value)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid nameserver %q", value)
	}
	return server, nil
}

// NormalizeDomain converts domain to its lowercase ASCII form without the
// trailing dot, returning an error wrapping [ErrUsage] when invalid.
func NormalizeDomain(domain string) (string, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" {
		return "", fmt.Errorf("%w: empty domain", ErrUsage)
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("%w: invalid domain %q: %w", ErrUsage, domain, err)
	}
	ascii = strings.ToLower(ascii)
	if _, ok := dns.IsDomainName(ascii); !ok || !strings.Contains(ascii, ".") {
		return "", fmt.Errorf("%w: invalid domain %q", ErrUsage, domain)
	}
	return ascii, nil
}
