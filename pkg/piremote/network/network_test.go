// Package network tests for prefix resolution.
package network

import (
	"errors"
	"net"
	"testing"
)

func TestEnumerateIPs(t *testing.T) {
	tests := []struct {
		cidr     string
		expected int
	}{
		{"192.168.1.0/30", 2},
		{"192.168.1.0/28", 14},
		{"192.168.1.0/24", 254},
		{"10.0.0.0/23", 510},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			ips, err := EnumerateIPs(tt.cidr)
			if err != nil {
				t.Fatalf("EnumerateIPs(%s) failed: %v", tt.cidr, err)
			}
			if len(ips) != tt.expected {
				t.Errorf("EnumerateIPs(%s) returned %d IPs, expected %d", tt.cidr, len(ips), tt.expected)
			}
		})
	}
}

func TestEnumerateIPs_Invalid(t *testing.T) {
	for _, cidr := range []string{"invalid", "192.168.1.0", "192.168.1.0/abc", ""} {
		t.Run(cidr, func(t *testing.T) {
			if _, err := EnumerateIPs(cidr); err == nil {
				t.Errorf("Expected error for invalid CIDR %q", cidr)
			}
		})
	}
}

func TestPrefixCIDR(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"192.168.1", "192.168.1.0/24"},
		{"192.168.1.", "192.168.1.0/24"},
		{" 10.0.4 ", "10.0.4.0/24"},
		{"192.168.1.37", "192.168.1.0/24"},
		{"192.168.1.0/24", "192.168.1.0/24"},
		{"192.168.1.77/28", "192.168.1.64/28"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got, err := PrefixCIDR(tt.prefix)
			if err != nil {
				t.Fatalf("PrefixCIDR(%q) failed: %v", tt.prefix, err)
			}
			if got != tt.want {
				t.Errorf("PrefixCIDR(%q) = %q, want %q", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestPrefixCIDR_Invalid(t *testing.T) {
	for _, prefix := range []string{"", "192.168", "192.168.300", "a.b.c", "1.2.3.4.5", "fe80::/64", "192.168.1.999"} {
		t.Run(prefix, func(t *testing.T) {
			_, err := PrefixCIDR(prefix)
			if !errors.Is(err, ErrInvalidPrefix) {
				t.Errorf("PrefixCIDR(%q) error = %v, want ErrInvalidPrefix", prefix, err)
			}
		})
	}
}

func TestResolvePrefix(t *testing.T) {
	ips, err := ResolvePrefix("192.168.1")
	if err != nil {
		t.Fatalf("ResolvePrefix failed: %v", err)
	}
	if len(ips) != 254 {
		t.Fatalf("Expected 254 addresses, got %d", len(ips))
	}
	if ips[0] != "192.168.1.1" {
		t.Errorf("First address = %s, want 192.168.1.1", ips[0])
	}
	if ips[253] != "192.168.1.254" {
		t.Errorf("Last address = %s, want 192.168.1.254", ips[253])
	}
}

func TestResolvePrefix_NoHosts(t *testing.T) {
	if _, err := ResolvePrefix("192.168.1.5/32"); !errors.Is(err, ErrInvalidPrefix) {
		t.Errorf("Expected ErrInvalidPrefix for /32, got %v", err)
	}
}

func TestPrefixOf(t *testing.T) {
	tests := []struct {
		ip   net.IP
		want string
	}{
		{net.ParseIP("10.0.4.17"), "10.0.4"},
		{net.ParseIP("192.168.1.254"), "192.168.1"},
		{net.ParseIP("2001:db8::1"), DefaultPrefix},
		{nil, DefaultPrefix},
	}
	for _, tt := range tests {
		if got := PrefixOf(tt.ip); got != tt.want {
			t.Errorf("PrefixOf(%v) = %q, want %q", tt.ip, got, tt.want)
		}
	}
}

func TestFirstIPv4(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPNet{IP: net.ParseIP("169.254.3.3"), Mask: net.CIDRMask(16, 32)},
		&net.IPNet{IP: net.ParseIP("192.168.7.20"), Mask: net.CIDRMask(24, 32)},
	}
	ip := firstIPv4(addrs)
	if ip == nil || ip.String() != "192.168.7.20" {
		t.Errorf("firstIPv4 = %v, want 192.168.7.20", ip)
	}
	if firstIPv4(addrs[:2]) != nil {
		t.Error("Expected nil when only link-local addresses are present")
	}
}

func TestLocalPrefix(t *testing.T) {
	p := LocalPrefix()
	if _, err := PrefixCIDR(p); err != nil {
		t.Errorf("LocalPrefix returned unusable prefix %q: %v", p, err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.0.1", true},
		{"172.32.0.1", false},
		{"8.8.8.8", false},
		{"127.0.0.1", false},
		{"::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := IsPrivateIP(net.ParseIP(tt.ip)); got != tt.private {
				t.Errorf("IsPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
			}
		})
	}
}

func TestUint32RoundTrip(t *testing.T) {
	original := "192.168.1.100"
	u := ipToUint32(net.ParseIP(original))
	if u != 3232235876 {
		t.Errorf("ipToUint32(%s) = %d", original, u)
	}
	if got := uint32ToIP(u).String(); got != original {
		t.Errorf("Round trip failed: %s -> %d -> %s", original, u, got)
	}
}

func BenchmarkResolvePrefix(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = ResolvePrefix("192.168.1")
	}
}

func TestPrefixCIDR_TooWide(t *testing.T) {
	for _, prefix := range []string{"0.0.0.0/0", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/15"} {
		t.Run(prefix, func(t *testing.T) {
			if _, err := PrefixCIDR(prefix); !errors.Is(err, ErrInvalidPrefix) {
				t.Errorf("PrefixCIDR(%q) error = %v, want ErrInvalidPrefix", prefix, err)
			}
			if _, err := ResolvePrefix(prefix); !errors.Is(err, ErrInvalidPrefix) {
				t.Errorf("ResolvePrefix(%q) error = %v, want ErrInvalidPrefix", prefix, err)
			}
			if _, err := EnumerateIPs(prefix); !errors.Is(err, ErrInvalidPrefix) {
				t.Errorf("EnumerateIPs(%q) error = %v, want ErrInvalidPrefix", prefix, err)
			}
		})
	}
}

func TestResolvePrefix_WidestAccepted(t *testing.T) {
	ips, err := ResolvePrefix("10.20.0.0/16")
	if err != nil {
		t.Fatalf("ResolvePrefix(/16) failed: %v", err)
	}
	if len(ips) != 65534 {
		t.Errorf("Expected 65534 addresses, got %d", len(ips))
	}
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"127.4.5.6", true},
		{"::1", true},
		{"192.168.1.10", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := IsLoopback(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("IsLoopback(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}
