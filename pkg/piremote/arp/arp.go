//go:build linux || darwin || freebsd || netbsd || openbsd

// Package arp looks up the MAC address behind an IPv4 address.
// Sending ARP requests usually needs raw-socket privileges; callers treat
// every failure as "unknown MAC".
package arp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/j-keck/arping"
)

// DefaultTimeout is the default timeout for ARP lookups.
const DefaultTimeout = 500 * time.Millisecond

// Errors
var (
	// ErrNotSupported is returned when ARP is called on unsupported platforms.
	ErrNotSupported = errors.New("ARP lookup is not supported on this platform")
	// ErrInvalidIP is returned for anything that is not an IPv4 address.
	ErrInvalidIP = errors.New("invalid IPv4 address")
)

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from ARP operations.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// arping keeps its timeout in a package global.
var (
	timeoutMu  sync.Mutex
	timeoutSet time.Duration
)

func setTimeout(d time.Duration) {
	timeoutMu.Lock()
	defer timeoutMu.Unlock()
	if d != timeoutSet {
		arping.SetTimeout(d)
		timeoutSet = d
	}
}

// Result contains the result of an ARP lookup.
type Result struct {
	IP         string
	MACAddress string
	Duration   time.Duration
}

// Discovery performs ARP lookups.
type Discovery struct {
	Timeout time.Duration
}

// NewDiscovery creates a new ARP discovery helper with defaults.
func NewDiscovery() *Discovery {
	return &Discovery{Timeout: DefaultTimeout}
}

// LookupAddr sends an ARP request for ip and returns the responder's MAC.
func (a *Discovery) LookupAddr(ctx context.Context, ip string) (*Result, error) {
	result := &Result{IP: ip}

	parsedIP := net.ParseIP(ip).To4()
	if parsedIP == nil {
		return result, ErrInvalidIP
	}

	type reply struct {
		mac net.HardwareAddr
		dur time.Duration
		err error
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	setTimeout(timeout)

	ch := make(chan reply, 1)
	go func() {
		mac, dur, err := arping.Ping(parsedIP)
		ch <- reply{mac, dur, err}
	}()

	select {
	case <-ctx.Done():
		return result, ctx.Err()
	case r := <-ch:
		result.Duration = r.dur
		if r.err != nil {
			debugLog("%s: %v", ip, r.err)
			return result, r.err
		}
		result.MACAddress = r.mac.String()
		debugLog("%s -> %s (%.2fms)", ip, result.MACAddress, float64(r.dur.Microseconds())/1000)
		return result, nil
	}
}

// IsSupported returns true if ARP is supported on this platform.
func IsSupported() bool {
	return true
}
