//go:build windows

// Package arp looks up the MAC address behind an IPv4 address.
// Windows builds return ErrNotSupported.
package arp

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout is the default timeout for ARP lookups.
const DefaultTimeout = 500 * time.Millisecond

// Errors
var (
	// ErrNotSupported is returned when ARP is called on unsupported platforms.
	ErrNotSupported = errors.New("ARP lookup is not supported on Windows")
	// ErrInvalidIP is returned for anything that is not an IPv4 address.
	ErrInvalidIP = errors.New("invalid IPv4 address")
)

// DebugLogger is a callback for debug logging.
var DebugLogger func(format string, args ...interface{})

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

// NewDiscovery creates a new ARP discovery helper.
func NewDiscovery() *Discovery {
	return &Discovery{Timeout: DefaultTimeout}
}

// LookupAddr always returns ErrNotSupported.
func (a *Discovery) LookupAddr(ctx context.Context, ip string) (*Result, error) {
	return &Result{IP: ip}, ErrNotSupported
}

// IsSupported returns true if ARP is supported on this platform.
func IsSupported() bool {
	return false
}
