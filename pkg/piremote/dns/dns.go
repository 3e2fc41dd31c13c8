// Package dns provides reverse DNS (PTR) lookups through the system resolver.
package dns

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout is the default timeout for DNS lookups.
	DefaultTimeout = 2 * time.Second
	// DefaultWorkers bounds concurrent lookups in LookupMultiple.
	DefaultWorkers = 16
)

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from DNS operations.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// Result contains the result of a reverse DNS lookup.
type Result struct {
	IP       string
	Hostname string   // first PTR answer
	All      []string // every PTR answer
	Error    error
}

// Discovery performs reverse DNS lookups.
type Discovery struct {
	Timeout  time.Duration
	Resolver *net.Resolver // nil uses net.DefaultResolver
	Workers  int           // LookupMultiple concurrency; zero means DefaultWorkers
}

// NewDiscovery creates a new DNS discovery helper with defaults.
func NewDiscovery() *Discovery {
	return &Discovery{Timeout: DefaultTimeout}
}

// LookupAddr performs a reverse DNS (PTR) lookup for the given IP address.
// Only named answers count: a lookup that yields nothing is an error.
func (d *Discovery) LookupAddr(ctx context.Context, ip string) (*Result, error) {
	res := &Result{IP: ip}

	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names, err := resolver.LookupAddr(lookupCtx, ip)
	if err != nil {
		res.Error = err
		debugLog("%s: lookup failed: %v", ip, err)
		return res, err
	}

	res.All = cleanNames(names)
	if len(res.All) == 0 {
		res.Error = &net.DNSError{Err: "no PTR record", Name: ip, IsNotFound: true}
		return res, res.Error
	}
	res.Hostname = res.All[0]
	debugLog("%s -> %s", ip, res.Hostname)
	return res, nil
}

// LookupMultiple resolves ips concurrently. Results keep the order of ips;
// addresses never looked up because ctx ended carry ctx's error.
func (d *Discovery) LookupMultiple(ctx context.Context, ips []string) []*Result {
	if len(ips) == 0 {
		return nil
	}
	workers := d.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]*Result, len(ips))
	jobs := make(chan int)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range jobs {
			results[idx], _ = d.LookupAddr(ctx, ips[idx])
		}
	}
	for i := 0; i < workers && i < len(ips); i++ {
		wg.Add(1)
		go worker()
	}

enqueue:
	for i := range ips {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break enqueue
		}
	}
	close(jobs)
	wg.Wait()

	for i, r := range results {
		if r == nil {
			results[i] = &Result{IP: ips[i], Error: ctx.Err()}
		}
	}
	return results
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSuffix(strings.TrimSpace(name), ".")
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
