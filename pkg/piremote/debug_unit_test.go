package piremote

import (
	"testing"

	"github.com/marcuoli/go-piremote/pkg/piremote/probe"
	"github.com/marcuoli/go-piremote/pkg/piremote/session"
)

func TestDebugLog_Gating(t *testing.T) {
	oldLogger := debugLogger
	oldLevel := debugLevel
	defer func() {
		SetDebugLogger(oldLogger)
		SetDebugLevel(oldLevel)
	}()

	var calls []struct {
		component Component
		msg       string
	}

	SetDebugLogger(func(component Component, format string, args ...interface{}) {
		calls = append(calls, struct {
			component Component
			msg       string
		}{component: component, msg: format})
	})

	SetDebugLevel(DebugOff)
	debugLog(ComponentSession, "a")
	debugLogVerbose(ComponentDNS, "b")
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls with DebugOff, got %d", len(calls))
	}

	SetDebugLevel(DebugBasic)
	debugLog(ComponentSession, "c")
	debugLogVerbose(ComponentDNS, "d")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call with DebugBasic, got %d", len(calls))
	}
	if calls[0].component != ComponentSession || calls[0].msg != "c" {
		t.Fatalf("unexpected call: %#v", calls[0])
	}

	SetDebugLevel(DebugVerbose)
	debugLogVerbose(ComponentMDNS, "e")
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls with DebugVerbose, got %d", len(calls))
	}
	if calls[1].component != ComponentMDNS || calls[1].msg != "e" {
		t.Fatalf("unexpected call: %#v", calls[1])
	}
}

func TestSubpackageWiring(t *testing.T) {
	oldLogger := debugLogger
	oldLevel := debugLevel
	defer func() {
		SetDebugLogger(oldLogger)
		SetDebugLevel(oldLevel)
	}()

	var got []Component
	SetDebugLogger(func(component Component, format string, args ...interface{}) {
		got = append(got, component)
	})

	SetDebugLevel(DebugBasic)
	session.DebugLogger("connected to %s", "10.0.0.1")
	probe.DebugLogger("port %d open", 22)
	if len(got) != 1 || got[0] != ComponentSession {
		t.Fatalf("Basic level should pass session and drop probe, got %v", got)
	}

	SetDebugLevel(DebugVerbose)
	probe.DebugLogger("port %d open", 22)
	if len(got) != 2 || got[1] != ComponentProbe {
		t.Fatalf("Verbose level should pass probe, got %v", got)
	}
}

func TestParseDebugLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    DebugLevel
		wantErr bool
	}{
		{"", DebugOff, false},
		{"off", DebugOff, false},
		{"basic", DebugBasic, false},
		{"verbose", DebugVerbose, false},
		{"loud", DebugOff, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDebugLevel(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseDebugLevel(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
	if DebugVerbose.String() != "verbose" {
		t.Errorf("String() = %q", DebugVerbose.String())
	}
}

func TestComponentPrefix(t *testing.T) {
	tests := map[Component]string{
		ComponentSession:   "[PiRemote:Session]",
		ComponentMDNS:      "[Discovery:mDNS]",
		ComponentNetBIOS:   "[Discovery:NetBIOS]",
		ComponentVendor:    "[Discovery:OUI]",
		Component("other"): "[Discovery]",
	}
	for c, want := range tests {
		if got := ComponentPrefix(c); got != want {
			t.Errorf("ComponentPrefix(%q) = %q, want %q", c, got, want)
		}
	}
}

func TestVersionInfo(t *testing.T) {
	if got := VersionInfo(); got != "go-piremote v"+Version {
		t.Errorf("VersionInfo() = %q", got)
	}
}

func TestTargets(t *testing.T) {
	devices := []Device{
		{Address: "10.0.0.2", Hostname: "raspberrypi", TargetClass: true},
		{Address: "10.0.0.3", Hostname: "nas"},
		{Address: "10.0.0.4", Hostname: "pi-zero", TargetClass: true},
	}
	got := Targets(devices)
	if len(got) != 2 || got[0].Address != "10.0.0.2" || got[1].Address != "10.0.0.4" {
		t.Errorf("Targets() = %+v", got)
	}
}
