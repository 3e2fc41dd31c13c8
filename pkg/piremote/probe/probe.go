// Package probe checks a single address for liveness and, when the host
// answers, names it and summarises its open ports.
//
// A probe never fails: refused connections, timeouts, unreachable networks,
// missing privileges and resolver errors all collapse into "not found" or
// "unresolved".
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/marcuoli/go-piremote/pkg/piremote/arp"
	"github.com/marcuoli/go-piremote/pkg/piremote/oui"
)

// Defaults mirror a sweep for SSH-reachable boards.
const (
	DefaultDialTimeout = 150 * time.Millisecond
	DefaultNameTimeout = time.Second
	DefaultPingTimeout = 500 * time.Millisecond
)

// DefaultPorts are probed when Options.Ports is empty.
var DefaultPorts = []int{22}

// DebugLogger is a callback for debug logging.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// Options configures a Prober.
type Options struct {
	// Ports are TCP-connected in order; every port is tried.
	Ports []int
	// DialTimeout bounds each TCP connect.
	DialTimeout time.Duration
	// NameTimeout bounds the whole resolver chain.
	NameTimeout time.Duration
	// Ping sends one ICMP echo when no port is open.
	Ping        bool
	PingTimeout time.Duration
	// LookupMAC adds an ARP lookup and OUI vendor to live hosts.
	LookupMAC  bool
	ARPTimeout time.Duration
	// Resolvers are asked in order; nil means DefaultResolvers.
	Resolvers []Resolver
}

// DefaultOptions returns the options used by a plain SSH sweep.
func DefaultOptions() Options {
	return Options{
		Ports:       append([]int(nil), DefaultPorts...),
		DialTimeout: DefaultDialTimeout,
		NameTimeout: DefaultNameTimeout,
		PingTimeout: DefaultPingTimeout,
		ARPTimeout:  arp.DefaultTimeout,
	}
}

// Result describes a live host.
type Result struct {
	Address     string
	Hostname    string // equals Address when Resolved is false
	Resolved    bool
	ResolvedBy  string
	OpenPorts   []int
	PortSummary string
	MAC         string
	Vendor      string
	Latency     time.Duration
}

// Prober runs probes. It is safe for concurrent use.
type Prober struct {
	opts      Options
	resolvers []Resolver
	arp       *arp.Discovery

	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	ping   func(ctx context.Context, ip string, timeout time.Duration) (time.Duration, error)
	vendor func(mac string) string
}

// New creates a Prober, filling zero options with defaults.
func New(opts Options) *Prober {
	if len(opts.Ports) == 0 {
		opts.Ports = append([]int(nil), DefaultPorts...)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.NameTimeout <= 0 {
		opts.NameTimeout = DefaultNameTimeout
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if opts.ARPTimeout <= 0 {
		opts.ARPTimeout = arp.DefaultTimeout
	}
	resolvers := opts.Resolvers
	if resolvers == nil {
		resolvers = DefaultResolvers(opts.NameTimeout)
	}

	p := &Prober{
		opts:      opts,
		resolvers: resolvers,
		ping:      pingHost,
		vendor:    oui.LookupName,
	}
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	p.dial = dialer.DialContext
	if opts.LookupMAC {
		p.arp = &arp.Discovery{Timeout: opts.ARPTimeout}
	}
	return p
}

// Options returns the effective options.
func (p *Prober) Options() Options {
	return p.opts
}

// Budget is the longest a single Probe can take.
func (p *Prober) Budget() time.Duration {
	b := time.Duration(len(p.opts.Ports))*p.opts.DialTimeout + p.opts.NameTimeout
	if p.opts.Ping {
		b += p.opts.PingTimeout
	}
	if p.opts.LookupMAC {
		b += p.opts.ARPTimeout
	}
	return b
}

// Check reports whether the prober can detect anything at all.
func (p *Prober) Check() error {
	for _, port := range p.opts.Ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid probe port %d", port)
		}
	}
	if len(p.opts.Ports) == 0 && !p.opts.Ping {
		return errors.New("no probe method configured")
	}
	return nil
}

// Probe checks ip. The boolean is false when nothing answered or ctx ended
// before the probe finished.
func (p *Prober) Probe(ctx context.Context, ip string) (Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.Budget())
	defer cancel()

	start := time.Now()
	open := p.scanPorts(ctx, ip)
	alive := len(open) > 0
	if !alive && p.opts.Ping && ctx.Err() == nil {
		pctx, pcancel := context.WithTimeout(ctx, p.opts.PingTimeout)
		_, err := p.ping(pctx, ip, p.opts.PingTimeout)
		pcancel()
		alive = err == nil
		if err != nil {
			debugLog("%s: ping: %v", ip, err)
		}
	}
	if !alive || ctx.Err() != nil {
		return Result{}, false
	}

	res := Result{
		Address:     ip,
		Hostname:    ip,
		OpenPorts:   open,
		PortSummary: PortSummary(open),
		Latency:     time.Since(start),
	}
	if name, by := p.resolveName(ctx, ip); name != "" {
		res.Hostname, res.Resolved, res.ResolvedBy = name, true, by
	}
	if p.arp != nil {
		if r, err := p.arp.LookupAddr(ctx, ip); err == nil {
			res.MAC = r.MACAddress
			res.Vendor = p.vendor(r.MACAddress)
		}
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{}, false
	}
	debugLog("%s alive: name=%q ports=%q", ip, res.Hostname, res.PortSummary)
	return res, true
}

func (p *Prober) scanPorts(ctx context.Context, ip string) []int {
	var open []int
	for _, port := range p.opts.Ports {
		if ctx.Err() != nil {
			break
		}
		dctx, cancel := context.WithTimeout(ctx, p.opts.DialTimeout)
		conn, err := p.dial(dctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
		cancel()
		if err != nil {
			continue
		}
		conn.Close()
		open = append(open, port)
	}
	return open
}

func (p *Prober) resolveName(ctx context.Context, ip string) (string, string) {
	nctx, cancel := context.WithTimeout(ctx, p.opts.NameTimeout)
	defer cancel()
	for _, r := range p.resolvers {
		if nctx.Err() != nil {
			break
		}
		if name := r.Resolve(nctx, ip); name != "" && name != ip {
			return name, r.Name()
		}
	}
	return "", ""
}
