// Package mdns resolves hostnames over Multicast DNS (Bonjour / Avahi).
//
// Raspberry Pi OS ships Avahi, so a freshly imaged board usually answers
// reverse queries for its address as "raspberrypi.local" even when the
// router publishes no PTR record for it.
//
// Reverse lookups are packed with github.com/miekg/dns; service browsing
// uses github.com/grandcat/zeroconf.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/miekg/dns"
)

const (
	// Port is the mDNS port
	Port = 5353
	// MulticastAddr is the mDNS multicast address
	MulticastAddr = "224.0.0.251"
	// DefaultTimeout is the default timeout for mDNS lookups
	DefaultTimeout = 2 * time.Second
)

// DefaultBrowseServices are the service types advertised by a stock
// Raspberry Pi OS image and by most Linux boards with SSH enabled.
var DefaultBrowseServices = []string{
	"_ssh._tcp",
	"_sftp-ssh._tcp",
	"_workstation._tcp",
}

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from mDNS operations.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// Result contains the result of an mDNS lookup.
type Result struct {
	IP       string
	Hostname string
	Error    error
}

// Discovery performs mDNS-based hostname discovery.
type Discovery struct {
	Timeout time.Duration
	// Port overrides the unicast query port; zero means Port.
	Port int
	// Multicast also asks the multicast group when the host stays silent
	// on unicast.
	Multicast bool
}

// NewDiscovery creates a new mDNS discovery helper with defaults.
func NewDiscovery() *Discovery {
	return &Discovery{Timeout: DefaultTimeout, Multicast: true}
}

// LookupAddr asks a host for the PTR name of its own address. The host is
// queried directly first, then (if enabled) through the multicast group.
func (m *Discovery) LookupAddr(ctx context.Context, ip string) (*Result, error) {
	res := &Result{IP: ip}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil || parsedIP.To4() == nil {
		res.Error = fmt.Errorf("invalid IPv4 address: %s", ip)
		return res, res.Error
	}

	reverseName, err := dns.ReverseAddr(ip)
	if err != nil {
		res.Error = err
		return res, err
	}
	query, err := buildQuery(reverseName)
	if err != nil {
		res.Error = err
		return res, err
	}

	port := m.Port
	if port == 0 {
		port = Port
	}
	if hostname := m.exchange(ctx, query, &net.UDPAddr{IP: parsedIP, Port: port}, nil); hostname != "" {
		res.Hostname = hostname
		debugLog("%s -> %s (unicast)", ip, hostname)
		return res, nil
	}

	if m.Multicast && !parsedIP.IsLoopback() {
		mcast := &net.UDPAddr{IP: net.ParseIP(MulticastAddr), Port: Port}
		if hostname := m.exchange(ctx, query, mcast, parsedIP); hostname != "" {
			res.Hostname = hostname
			debugLog("%s -> %s (multicast)", ip, hostname)
			return res, nil
		}
	}

	res.Error = fmt.Errorf("no mDNS response from %s", ip)
	return res, res.Error
}

func buildQuery(reverseName string) ([]byte, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(reverseName, dns.TypePTR)
	msg.RecursionDesired = false
	return msg.Pack()
}

// exchange sends query to dst and reads answers until the deadline. With a
// non-nil from only datagrams sent by that address are considered.
func (m *Discovery) exchange(ctx context.Context, query []byte, dst *net.UDPAddr, from net.IP) string {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return ""
	}
	defer conn.Close()

	timeout := m.Timeout
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

	if _, err := conn.WriteTo(query, dst); err != nil {
		return ""
	}

	buf := make([]byte, 4096)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return ""
		}
		if from != nil {
			if udpAddr, ok := addr.(*net.UDPAddr); !ok || !udpAddr.IP.Equal(from) {
				continue
			}
		}
		if hostname := parsePTRResponse(buf[:n]); hostname != "" {
			return hostname
		}
	}
}

func parsePTRResponse(data []byte) string {
	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil || !msg.Response {
		return ""
	}
	for _, rr := range msg.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}

// Browse listens for zeroconf announcements of the given service types and
// returns an address -> hostname table. The first name seen for an address
// is kept. Browsing lasts for the discovery timeout or until ctx ends.
func (m *Discovery) Browse(ctx context.Context, services ...string) (map[string]string, error) {
	if len(services) == 0 {
		services = DefaultBrowseServices
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		errs    []error
		started int
	)
	hosts := make(map[string]string)

	for _, service := range services {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", service, err))
			continue
		}
		entries := make(chan *zeroconf.ServiceEntry, 16)
		if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", service, err))
			continue
		}
		started++

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case entry, ok := <-entries:
					if !ok {
						return
					}
					name := entryHostname(entry)
					if name == "" {
						continue
					}
					mu.Lock()
					for _, ip := range entry.AddrIPv4 {
						if _, seen := hosts[ip.String()]; !seen {
							hosts[ip.String()] = name
							debugLog("browse %s: %s -> %s", service, ip, name)
						}
					}
					mu.Unlock()
				}
			}
		}()
	}

	if started == 0 {
		return nil, errors.Join(errs...)
	}

	<-ctx.Done()
	wg.Wait()
	debugLog("browse finished: %d hosts", len(hosts))
	return hosts, nil
}

func entryHostname(e *zeroconf.ServiceEntry) string {
	if e == nil {
		return ""
	}
	if name := strings.TrimSuffix(e.HostName, "."); name != "" {
		return name
	}
	return e.Instance
}
