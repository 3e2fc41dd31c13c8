// Package piremote: Log prefix constants for consistent log tagging.
// Consumers can use them in their SetDebugLogger callback, or ignore them.
package piremote

// Component names the part of the library a debug message comes from.
type Component string

const (
	ComponentDiscovery Component = "discovery"
	ComponentProbe     Component = "probe"
	ComponentDNS       Component = "dns"
	ComponentMDNS      Component = "mdns"
	ComponentLLMNR     Component = "llmnr"
	ComponentNetBIOS   Component = "netbios"
	ComponentSSDP      Component = "ssdp"
	ComponentARP       Component = "arp"
	ComponentVendor    Component = "vendor"
	ComponentSession   Component = "session"
)

// Log prefix constants.
// Format follows [Component] or [Component:Subcomponent] pattern.
const (
	LogPrefixDiscovery = "[Discovery]"
	LogPrefixProbe     = "[Discovery:Probe]"
	LogPrefixDNS       = "[Discovery:DNS]"
	LogPrefixMDNS      = "[Discovery:mDNS]"
	LogPrefixLLMNR     = "[Discovery:LLMNR]"
	LogPrefixNetBIOS   = "[Discovery:NetBIOS]"
	LogPrefixSSDP      = "[Discovery:SSDP]"
	LogPrefixARP       = "[Discovery:ARP]"
	LogPrefixOUI       = "[Discovery:OUI]"
	LogPrefixSession   = "[PiRemote:Session]"

	// Debug prefix - use as "[DEBUG][Discovery:*]" format
	LogPrefixDebug = "[DEBUG]"
)

// ComponentPrefix returns the log prefix for a component.
func ComponentPrefix(c Component) string {
	switch c {
	case ComponentProbe:
		return LogPrefixProbe
	case ComponentDNS:
		return LogPrefixDNS
	case ComponentMDNS:
		return LogPrefixMDNS
	case ComponentLLMNR:
		return LogPrefixLLMNR
	case ComponentNetBIOS:
		return LogPrefixNetBIOS
	case ComponentSSDP:
		return LogPrefixSSDP
	case ComponentARP:
		return LogPrefixARP
	case ComponentVendor:
		return LogPrefixOUI
	case ComponentSession:
		return LogPrefixSession
	default:
		return LogPrefixDiscovery
	}
}
