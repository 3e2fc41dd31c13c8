package probe

import (
	"context"
	"sync"
	"time"

	"github.com/marcuoli/go-piremote/pkg/piremote/dns"
	"github.com/marcuoli/go-piremote/pkg/piremote/llmnr"
	"github.com/marcuoli/go-piremote/pkg/piremote/mdns"
	"github.com/marcuoli/go-piremote/pkg/piremote/netbios"
)

// Resolver names an address. An empty string means "no answer".
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, ip string) string
}

// DefaultResolvers returns the DNS, mDNS, LLMNR and NetBIOS chain, in that
// order.
func DefaultResolvers(timeout time.Duration) []Resolver {
	d := dns.NewDiscovery()
	d.Timeout = timeout
	m := mdns.NewDiscovery()
	m.Timeout = timeout
	l := llmnr.NewDiscovery()
	l.Timeout = timeout
	n := netbios.NewDiscovery()
	n.Timeout = timeout
	return []Resolver{DNSResolver{d}, MDNSResolver{m}, LLMNRResolver{l}, NetBIOSResolver{n}}
}

// DNSResolver asks the system resolver for a PTR record.
type DNSResolver struct{ D *dns.Discovery }

func (DNSResolver) Name() string { return "dns" }

func (r DNSResolver) Resolve(ctx context.Context, ip string) string {
	res, err := r.D.LookupAddr(ctx, ip)
	if err != nil {
		return ""
	}
	return res.Hostname
}

// MDNSResolver asks the host over Multicast DNS.
type MDNSResolver struct{ D *mdns.Discovery }

func (MDNSResolver) Name() string { return "mdns" }

func (r MDNSResolver) Resolve(ctx context.Context, ip string) string {
	res, err := r.D.LookupAddr(ctx, ip)
	if err != nil {
		return ""
	}
	return res.Hostname
}

// LLMNRResolver asks the host over LLMNR.
type LLMNRResolver struct{ D *llmnr.Discovery }

func (LLMNRResolver) Name() string { return "llmnr" }

func (r LLMNRResolver) Resolve(ctx context.Context, ip string) string {
	res, err := r.D.LookupAddr(ctx, ip)
	if err != nil {
		return ""
	}
	return res.Hostname
}

// NetBIOSResolver asks the host for its NetBIOS node status. Samba answers
// with an upper-case name, which is returned as is.
type NetBIOSResolver struct{ D *netbios.Discovery }

func (NetBIOSResolver) Name() string { return "netbios" }

func (r NetBIOSResolver) Resolve(ctx context.Context, ip string) string {
	res, err := r.D.LookupAddr(ctx, ip)
	if err != nil {
		return ""
	}
	return res.Hostname
}

// Hints is a concurrent address -> name table filled by passive sources
// (zeroconf browsing, SSDP) while a pass runs. The first name stored for
// an address is kept.
type Hints struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewHints creates an empty table.
func NewHints() *Hints {
	return &Hints{names: make(map[string]string)}
}

func (h *Hints) Name() string { return "hints" }

// Resolve returns the stored name for ip.
func (h *Hints) Resolve(_ context.Context, ip string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.names[ip]
}

// Merge adds names for addresses not yet known and returns how many were new.
func (h *Hints) Merge(names map[string]string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	added := 0
	for ip, name := range names {
		if name == "" {
			continue
		}
		if _, ok := h.names[ip]; !ok {
			h.names[ip] = name
			added++
		}
	}
	return added
}

// Len returns the number of known addresses.
func (h *Hints) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.names)
}
