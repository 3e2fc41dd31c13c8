// Package llmnr provides LLMNR (Link-Local Multicast Name Resolution) reverse
// lookups. Boards running systemd-resolved answer these when neither DNS nor
// mDNS knows their name.
//
// Uses github.com/miekg/dns for DNS packet handling.
package llmnr

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// Port is the LLMNR port
	Port = 5355
	// MulticastAddr is the LLMNR multicast address
	MulticastAddr = "224.0.0.252"
	// DefaultTimeout is the default timeout for LLMNR lookups
	DefaultTimeout = 2 * time.Second
)

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from LLMNR operations.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// Result contains the result of an LLMNR lookup.
type Result struct {
	IP       string
	Hostname string
	Error    error
}

// Discovery performs LLMNR-based hostname discovery.
type Discovery struct {
	Timeout time.Duration
	// Port overrides the destination port; zero means Port.
	Port int
}

// NewDiscovery creates a new LLMNR discovery helper with defaults.
func NewDiscovery() *Discovery {
	return &Discovery{Timeout: DefaultTimeout}
}

// LookupAddr performs a reverse LLMNR lookup for the given IP address.
// LLMNR has no standard reverse mapping, so the PTR question is sent to the
// host itself first and then to the multicast group, filtering on sender.
func (l *Discovery) LookupAddr(ctx context.Context, ip string) (*Result, error) {
	res := &Result{IP: ip}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		res.Error = fmt.Errorf("invalid IP address: %s", ip)
		return res, res.Error
	}
	if parsedIP.To4() == nil {
		res.Error = fmt.Errorf("IPv6 not supported")
		return res, res.Error
	}

	reverseName, err := dns.ReverseAddr(ip)
	if err != nil {
		res.Error = err
		return res, err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(reverseName, dns.TypePTR)
	msg.RecursionDesired = false
	data, err := msg.Pack()
	if err != nil {
		res.Error = fmt.Errorf("pack query: %w", err)
		return res, res.Error
	}

	port := l.Port
	if port == 0 {
		port = Port
	}
	targets := []*net.UDPAddr{{IP: parsedIP, Port: port}}
	if !parsedIP.IsLoopback() {
		targets = append(targets, &net.UDPAddr{IP: net.ParseIP(MulticastAddr), Port: Port})
	}

	for _, dst := range targets {
		if hostname := l.query(ctx, data, dst, parsedIP); hostname != "" {
			res.Hostname = hostname
			debugLog("%s -> %s (via %s)", ip, hostname, dst.IP)
			return res, nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	res.Error = fmt.Errorf("no LLMNR response from %s", ip)
	debugLog("%s: no response", ip)
	return res, res.Error
}

func (l *Discovery) query(ctx context.Context, data []byte, dst *net.UDPAddr, targetIP net.IP) string {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return ""
	}
	defer conn.Close()

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.WriteTo(data, dst); err != nil {
		return ""
	}

	buf := make([]byte, 4096)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return ""
		}
		if udpAddr, ok := from.(*net.UDPAddr); ok && udpAddr.IP.Equal(targetIP) {
			if hostname := parsePTRResponse(buf[:n]); hostname != "" {
				return hostname
			}
		}
	}
}

func parsePTRResponse(data []byte) string {
	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil {
		return ""
	}
	if !msg.Response {
		return ""
	}
	for _, rr := range msg.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}
