// Package network resolves scan targets: address prefixes, CIDR enumeration
// and the local /24 the host sits on.
package network

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// DefaultPrefix is used when no local IPv4 address can be found.
	DefaultPrefix = "192.168.1"
	// MinPrefixBits is the shortest mask accepted (a /16, 65534 hosts).
	// Every address of a range is materialised before a pass starts.
	MinPrefixBits = 16
)

// ErrInvalidPrefix is returned for prefixes that do not describe an IPv4 range.
var ErrInvalidPrefix = errors.New("invalid address prefix")

// EnumerateIPs returns all usable host IPs in a CIDR (excludes network and broadcast).
func EnumerateIPs(cidr string) ([]net.IP, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	if err := checkWidth(ipnet); err != nil {
		return nil, err
	}
	return enumerateIPsFromNet(ipnet), nil
}

// EnumerateIPStrings returns all usable host IPs in a CIDR as strings.
func EnumerateIPStrings(cidr string) ([]string, error) {
	ips, err := EnumerateIPs(cidr)
	if err != nil {
		return nil, err
	}
	result := make([]string, len(ips))
	for i, ip := range ips {
		result[i] = ip.String()
	}
	return result, nil
}

// PrefixCIDR normalises an address prefix into IPv4 CIDR notation.
// Accepted forms:
//   - "192.168.1"        three octets, expanded to 192.168.1.0/24
//   - "192.168.1.0/24"   any IPv4 CIDR
//   - "192.168.1.37"     a host address, widened to its /24
func PrefixCIDR(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPrefix)
	}

	if strings.Contains(prefix, "/") {
		_, ipnet, err := net.ParseCIDR(prefix)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
		}
		if ipnet.IP.To4() == nil {
			return "", fmt.Errorf("%w: %s is not IPv4", ErrInvalidPrefix, prefix)
		}
		if err := checkWidth(ipnet); err != nil {
			return "", err
		}
		return ipnet.String(), nil
	}

	parts := strings.Split(strings.TrimSuffix(prefix, "."), ".")
	switch len(parts) {
	case 3:
		for _, p := range parts {
			v, err := strconv.Atoi(p)
			if err != nil || v < 0 || v > 255 {
				return "", fmt.Errorf("%w: bad octet %q in %s", ErrInvalidPrefix, p, prefix)
			}
		}
		return strings.Join(parts, ".") + ".0/24", nil
	case 4:
		ip := net.ParseIP(prefix).To4()
		if ip == nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidPrefix, prefix)
		}
		return fmt.Sprintf("%d.%d.%d.0/24", ip[0], ip[1], ip[2]), nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidPrefix, prefix)
}

// ResolvePrefix returns the candidate host addresses for a prefix in
// ascending order. A three-octet prefix yields .1 through .254.
func ResolvePrefix(prefix string) ([]string, error) {
	cidr, err := PrefixCIDR(prefix)
	if err != nil {
		return nil, err
	}
	ips, err := EnumerateIPStrings(cidr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s has no host addresses", ErrInvalidPrefix, cidr)
	}
	return ips, nil
}

// LocalIPv4 returns the first IPv4 address of an up, non-loopback interface.
func LocalIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := firstIPv4(addrs); ip != nil {
			return ip, nil
		}
	}
	return nil, errors.New("no IPv4 interface address found")
}

// LocalPrefix returns the three-octet prefix of the local address,
// or DefaultPrefix when none is available.
func LocalPrefix() string {
	ip, err := LocalIPv4()
	if err != nil {
		return DefaultPrefix
	}
	return PrefixOf(ip)
}

// PrefixOf strips the last octet of an IPv4 address ("10.0.4.17" -> "10.0.4").
func PrefixOf(ip net.IP) string {
	ip4 := ip.To4()
	if ip4 == nil {
		return DefaultPrefix
	}
	return fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2])
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() && !ip4.IsLinkLocalUnicast() {
			return ip4
		}
	}
	return nil
}

// checkWidth rejects IPv4 ranges wider than MinPrefixBits.
func checkWidth(n *net.IPNet) error {
	ones, bits := n.Mask.Size()
	if bits == 32 && ones < MinPrefixBits {
		return fmt.Errorf("%w: %s is wider than /%d", ErrInvalidPrefix, n, MinPrefixBits)
	}
	return nil
}

func enumerateIPsFromNet(n *net.IPNet) []net.IP {
	var res []net.IP
	base := n.IP.To4()
	if base == nil {
		return res
	}
	mask := net.IP(n.Mask).To4()
	if mask == nil {
		return res
	}
	network := ipToUint32(base) & ipToUint32(mask)
	broadcast := network | ^ipToUint32(mask)
	for u := network + 1; u < broadcast; u++ {
		res = append(res, uint32ToIP(u))
	}
	return res
}

func ipToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(u uint32) net.IP {
	return net.IPv4(byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// IsLoopback reports whether ip is a loopback address.
func IsLoopback(ip net.IP) bool {
	return ip.IsLoopback()
}

// IsPrivateIP checks if an IP address is in private (RFC 1918) address space.
func IsPrivateIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 10 ||
			(ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31) ||
			(ip4[0] == 192 && ip4[1] == 168)
	}
	return false
}
