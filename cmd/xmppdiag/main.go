// SPDX-License-Identifier: GPL-3.0-or-later

// Command xmppdiag diagnoses the reachability of an XMPP service.
//
// Usage:
//
//	xmppdiag [flags] <dns|socket|basic> <domain>
//
// The dns command probes every endpoint and derives advisory tags, the
// socket command only probes, and the basic command also opens a
// minimal XMPP stream with each endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bassosimone/xmppdiag"
	"github.com/bassosimone/xmppdiag/internal/logger"
	"github.com/bassosimone/xmppdiag/internal/output"
)

// Exit codes.
const (
	exitOK         = 0
	exitUnresolved = 1
	exitUsage      = 2
)

// Commands.
const (
	commandDNS    = "dns"
	commandSocket = "socket"
	commandBasic  = "basic"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// options contains the parsed command line.
type options struct {
	client       bool
	server       bool
	noXMPPS      bool
	noIPv4       bool
	noIPv6       bool
	format       string
	configPath   string
	timeout      time.Duration
	deadline     time.Duration
	concurrency  int
	nameservers  []string
	dnsTransport string
	dohURL       string
	logLevel     string
	prettyLog    bool

	// set contains the names of the flags given on the command line.
	set map[string]bool
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("xmppdiag", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.client, "c", false, "Test XMPP client connections (the default)")
	fs.BoolVar(&opts.server, "s", false, "Test XMPP server connections")
	fs.BoolVar(&opts.noXMPPS, "no-xmpps", false, "Do not test XEP-0368 SRV records")
	fs.BoolVar(&opts.noIPv4, "no-ipv4", false, "Do not test IPv4 connections")
	fs.BoolVar(&opts.noIPv6, "no-ipv6", false, "Do not test IPv6 connections")
	fs.StringVar(&opts.format, "f", string(output.FormatTable), "Output format (table, csv, json)")
	fs.StringVar(&opts.configPath, "config", "", "Path to an optional YAML configuration file")
	fs.DurationVar(&opts.timeout, "timeout", xmppdiag.DefaultProbeTimeout, "Per-endpoint connect timeout")
	fs.DurationVar(&opts.deadline, "deadline", xmppdiag.DefaultDeadline, "Deadline of the whole run")
	fs.IntVar(&opts.concurrency, "concurrency", xmppdiag.DefaultConcurrency, "Maximum number of in-flight probes")
	fs.Func("nameserver", "Nameserver to use as ip[:port] (repeatable, default: system)", func(value string) error {
		opts.nameservers = append(opts.nameservers, value)
		return nil
	})
	fs.StringVar(&opts.dnsTransport, "dns-transport", xmppdiag.DNSTransportUDP, "DNS transport (udp, tcp, https)")
	fs.StringVar(&opts.dohURL, "doh-url", "", "DNS-over-HTTPS URL used with -dns-transport https")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	fs.BoolVar(&opts.prettyLog, "pretty-log", false, "Use colored console logs instead of JSON")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: xmppdiag [flags] <%s|%s|%s> <domain>\n\n",
			commandDNS, commandSocket, commandBasic)
		fs.PrintDefaults()
	}
	return fs
}

// loadConfiguration builds the configuration with the following precedence:
// 1. start with the config file or the defaults
// 2. apply the flags given on the command line
// 3. validate the final configuration
func loadConfiguration(opts *options) (*xmppdiag.Config, error) {
	cfg := xmppdiag.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = xmppdiag.LoadConfig(opts.configPath); err != nil {
			return nil, err
		}
	}

	if opts.client && opts.server {
		return nil, fmt.Errorf("%w: -c and -s are mutually exclusive", xmppdiag.ErrUsage)
	}
	if opts.client {
		cfg.Check = xmppdiag.CheckClient
	}
	if opts.server {
		cfg.Check = xmppdiag.CheckServer
	}
	if opts.noXMPPS {
		cfg.XMPPS = false
	}
	if opts.noIPv4 {
		cfg.IPv4 = false
	}
	if opts.noIPv6 {
		cfg.IPv6 = false
	}
	if opts.set["timeout"] {
		cfg.ProbeTimeout = opts.timeout
	}
	if opts.set["deadline"] {
		cfg.Deadline = opts.deadline
	}
	if opts.set["concurrency"] {
		cfg.Concurrency = opts.concurrency
	}
	if len(opts.nameservers) > 0 {
		cfg.Nameservers = opts.nameservers
	}
	if opts.set["dns-transport"] {
		cfg.DNSTransport = opts.dnsTransport
	}
	if opts.set["doh-url"] {
		cfg.DoHURL = opts.dohURL
	}
	if opts.set["log-level"] {
		cfg.LogLevel = opts.logLevel
	}
	if opts.prettyLog {
		cfg.PrettyLog = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run executes the command line in args and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// 1. parse the command line
	opts := &options{set: map[string]bool{}}
	fs := newFlagSet(opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})
	if fs.NArg() != 2 {
		fs.Usage()
		return exitUsage
	}
	command := fs.Arg(0)
	switch command {
	case commandDNS, commandSocket, commandBasic:
	default:
		fmt.Fprintf(stderr, "xmppdiag: unknown command %q\n", command)
		fs.Usage()
		return exitUsage
	}

	// 2. validate everything before doing any I/O
	domain, err := xmppdiag.NormalizeDomain(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(stderr, "xmppdiag: %s\n", err)
		return exitUsage
	}
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		fmt.Fprintf(stderr, "xmppdiag: %s\n", err)
		return exitUsage
	}
	cfg, err := loadConfiguration(opts)
	if err != nil {
		fmt.Fprintf(stderr, "xmppdiag: %s\n", err)
		return exitUsage
	}

	// 3. setup logging
	log, err := logger.New(cfg.LogLevel, cfg.PrettyLog)
	if err != nil {
		fmt.Fprintf(stderr, "xmppdiag: %s\n", err)
		return exitUsage
	}
	defer log.Sync()
	log = log.With(logger.String("command", command))

	// 4. create the runner
	runner, err := newRunner(cfg, command, log)
	if err != nil {
		log.Error("cannot create the resolver", logger.Error(err))
		fmt.Fprintf(stderr, "xmppdiag: %s\n", err)
		return exitUnresolved
	}

	// 5. diagnose and print the report
	report := runner.Run(ctx, domain)
	if err := output.WriteReport(stdout, format, report); err != nil {
		log.Error("cannot write the report", logger.Error(err))
		return exitUnresolved
	}
	if !report.Resolved() {
		fmt.Fprintf(stderr, "xmppdiag: cannot resolve any %s endpoint for %s\n",
			strings.Join(kindNames(cfg.Kinds()), "/"), domain)
		return exitUnresolved
	}
	return exitOK
}

// newRunner creates the [*xmppdiag.Runner] for command.
func newRunner(cfg *xmppdiag.Config, command string, log logger.Logger) (*xmppdiag.Runner, error) {
	reso, err := cfg.NewResolver()
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{}
	var prober xmppdiag.EndpointProber
	if command == commandBasic {
		bp := xmppdiag.NewBasicProber(dialer, log)
		bp.Timeout = cfg.ProbeTimeout
		prober = bp
	} else {
		p := xmppdiag.NewProber(dialer, log)
		p.Timeout = cfg.ProbeTimeout
		prober = p
	}

	runner := xmppdiag.NewRunner(reso, prober, log)
	runner.Kinds = cfg.Kinds()
	runner.IPv4 = cfg.IPv4
	runner.IPv6 = cfg.IPv6
	runner.Concurrency = cfg.Concurrency
	runner.Deadline = cfg.Deadline
	if command == commandSocket {
		runner.Tags = nil
	}
	return runner, nil
}

func kindNames(kinds []xmppdiag.ServiceKind) []string {
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, kind.String())
	}
	return names
}
