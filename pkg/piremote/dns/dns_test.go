// Package dns tests for reverse lookups.
package dns

import (
	"context"
	"testing"
	"time"
)

func TestNewDiscovery(t *testing.T) {
	d := NewDiscovery()
	if d == nil {
		t.Fatal("NewDiscovery returned nil")
	}
	if d.Timeout != DefaultTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultTimeout, d.Timeout)
	}
}

func TestCleanNames(t *testing.T) {
	got := cleanNames([]string{"raspberrypi.lan.", "", " pi4.home. ", "."})
	want := []string{"raspberrypi.lan", "pi4.home"}
	if len(got) != len(want) {
		t.Fatalf("cleanNames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cleanNames[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLookupAddr_InvalidIP(t *testing.T) {
	d := NewDiscovery()
	d.Timeout = 100 * time.Millisecond

	result, err := d.LookupAddr(context.Background(), "invalid-ip")
	if err == nil {
		t.Fatalf("Expected error, got %+v", result)
	}
	if result.IP != "invalid-ip" {
		t.Errorf("Expected IP to be set to input, got %s", result.IP)
	}
}

func TestLookupAddr_Cancelled(t *testing.T) {
	d := NewDiscovery()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if _, err := d.LookupAddr(ctx, "192.0.2.1"); err == nil {
		t.Error("Expected error for cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Error("Cancelled lookup should return promptly")
	}
}

func TestLookupAddr_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping resolver test in short mode")
	}
	d := NewDiscovery()
	res, err := d.LookupAddr(context.Background(), "127.0.0.1")
	if err != nil {
		t.Skipf("no PTR for loopback on this host: %v", err)
	}
	if res.Hostname == "" || res.Hostname[len(res.Hostname)-1] == '.' {
		t.Errorf("Unexpected hostname %q", res.Hostname)
	}
}

func TestLookupMultiple(t *testing.T) {
	d := NewDiscovery()
	d.Workers = 2
	ips := []string{"not-an-ip", "also-bad", "nope", ""}

	results := d.LookupMultiple(context.Background(), ips)
	if len(results) != len(ips) {
		t.Fatalf("Expected %d results, got %d", len(ips), len(results))
	}
	for i, r := range results {
		if r == nil {
			t.Fatalf("result %d is nil", i)
		}
		if r.IP != ips[i] {
			t.Errorf("result %d IP = %q, want %q", i, r.IP, ips[i])
		}
		if r.Error == nil {
			t.Errorf("result %d: expected error for %q", i, ips[i])
		}
	}

	if got := d.LookupMultiple(context.Background(), nil); got != nil {
		t.Errorf("LookupMultiple(nil) = %v, want nil", got)
	}
}

func TestLookupMultiple_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ips := []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}
	start := time.Now()
	results := NewDiscovery().LookupMultiple(ctx, ips)
	if time.Since(start) > time.Second {
		t.Error("Cancelled batch should return promptly")
	}
	for i, r := range results {
		if r == nil || r.Error == nil {
			t.Errorf("result %d: expected an error after cancellation, got %+v", i, r)
		}
	}
}
