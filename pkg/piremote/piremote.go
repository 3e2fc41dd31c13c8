// Package piremote finds Raspberry Pi class boards on the local network and
// drives them over SSH.
//
// Discovery lives in the discovery subpackage (a /24 sweep built on the
// probe, dns, mdns, llmnr, netbios, ssdp, arp and oui packages); remote
// control lives in the session subpackage. This package ties their debug
// output to one logger and offers shortcuts for the common cases.
package piremote

import (
	"context"

	"github.com/marcuoli/go-piremote/pkg/piremote/arp"
	"github.com/marcuoli/go-piremote/pkg/piremote/discovery"
	"github.com/marcuoli/go-piremote/pkg/piremote/dns"
	"github.com/marcuoli/go-piremote/pkg/piremote/llmnr"
	"github.com/marcuoli/go-piremote/pkg/piremote/mdns"
	"github.com/marcuoli/go-piremote/pkg/piremote/netbios"
	"github.com/marcuoli/go-piremote/pkg/piremote/network"
	"github.com/marcuoli/go-piremote/pkg/piremote/oui"
	"github.com/marcuoli/go-piremote/pkg/piremote/probe"
	"github.com/marcuoli/go-piremote/pkg/piremote/session"
	"github.com/marcuoli/go-piremote/pkg/piremote/ssdp"
)

// Aliases for the types most callers need.
type (
	Device        = discovery.Device
	Engine        = discovery.Engine
	Manager       = session.Manager
	CommandResult = session.CommandResult
)

// NewEngine creates a discovery engine.
func NewEngine(opts discovery.Options) *Engine {
	return discovery.NewEngine(opts)
}

// NewManager creates an SSH session manager.
func NewManager(opts session.Options) *Manager {
	return session.NewManager(opts)
}

// Scan runs one pass over prefix with default options and returns what it
// found. An empty prefix scans the local /24.
func Scan(ctx context.Context, prefix string) ([]Device, error) {
	if prefix == "" {
		prefix = network.LocalPrefix()
	}
	return NewEngine(discovery.DefaultOptions()).Collect(ctx, prefix)
}

// Targets returns the target-class devices of devices.
func Targets(devices []Device) []Device {
	var out []Device
	for _, d := range devices {
		if d.TargetClass {
			out = append(out, d)
		}
	}
	return out
}

func init() {
	// Per-host protocol traffic is verbose; passes and sessions are basic.
	dns.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(ComponentDNS, format, args...)
	}
	mdns.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(ComponentMDNS, format, args...)
	}
	llmnr.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(ComponentLLMNR, format, args...)
	}
	netbios.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(ComponentNetBIOS, format, args...)
	}
	ssdp.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(ComponentSSDP, format, args...)
	}
	arp.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(ComponentARP, format, args...)
	}
	oui.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(ComponentVendor, format, args...)
	}
	probe.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(ComponentProbe, format, args...)
	}
	discovery.DebugLogger = func(format string, args ...interface{}) {
		debugLog(ComponentDiscovery, format, args...)
	}
	session.DebugLogger = func(format string, args ...interface{}) {
		debugLog(ComponentSession, format, args...)
	}
}
