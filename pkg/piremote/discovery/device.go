// Package discovery sweeps an address range for hosts, keeps a deduplicated
// list of what it found and reports progress while a pass runs.
package discovery

import (
	"strings"
	"time"

	"github.com/marcuoli/go-piremote/pkg/piremote/probe"
)

// DefaultTargetPatterns match the hostnames Raspberry Pi images ship with
// ("raspberrypi", "pi-zero", "octopi", ...).
var DefaultTargetPatterns = []string{"raspberry", "pi"}

// Device is one discovered host. Its identity is Address.
type Device struct {
	Address     string    `json:"address"`
	Hostname    string    `json:"hostname"`
	OpenPorts   string    `json:"open_ports"`
	TargetClass bool      `json:"target_class"`
	MAC         string    `json:"mac,omitempty"`
	Vendor      string    `json:"vendor,omitempty"`
	FoundAt     time.Time `json:"found_at"`
}

// Resolved reports whether the hostname came from a name source.
func (d Device) Resolved() bool {
	return d.Hostname != "" && d.Hostname != d.Address
}

// IsTargetClass reports whether a resolved hostname contains one of the
// patterns, ignoring case. Unresolved hosts never match.
func IsTargetClass(hostname string, resolved bool, patterns []string) bool {
	if !resolved || hostname == "" {
		return false
	}
	if patterns == nil {
		patterns = DefaultTargetPatterns
	}
	lower := strings.ToLower(hostname)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func newDevice(r probe.Result, patterns []string, now time.Time) Device {
	hostname := r.Hostname
	if hostname == "" {
		hostname = r.Address
	}
	return Device{
		Address:     r.Address,
		Hostname:    hostname,
		OpenPorts:   r.PortSummary,
		TargetClass: IsTargetClass(hostname, r.Resolved, patterns),
		MAC:         r.MAC,
		Vendor:      r.Vendor,
		FoundAt:     now,
	}
}
