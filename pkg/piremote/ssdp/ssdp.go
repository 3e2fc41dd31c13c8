// Package ssdp collects UPnP (SSDP) announcements on the local network.
//
// Many single-board media and automation images (Kodi, Home Assistant,
// MiniDLNA) advertise over SSDP with a friendly name in their device
// description. The discovery engine uses those names as a last resort when
// a host publishes nothing over DNS, mDNS or LLMNR.
//
// This implementation uses github.com/koron/go-ssdp.
package ssdp

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gossdp "github.com/koron/go-ssdp"
)

// DebugLogger is the callback function for debug logging.
// Set this to enable debug output for SSDP operations.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

const (
	// DefaultTimeout is the default timeout for SSDP discovery
	DefaultTimeout = 2 * time.Second

	// All searches for all devices and services
	All = gossdp.All
	// RootDevice searches for UPnP root devices only
	RootDevice = gossdp.RootDevice
)

// Result is one SSDP response.
type Result struct {
	IP           string
	Location     string // URL to device description XML
	Server       string // Server header (OS/device info)
	USN          string
	ST           string
	MaxAge       int
	FriendlyName string // from the device description, when fetched
	Manufacturer string
	ModelName    string
}

// Discovery performs SSDP searches.
type Discovery struct {
	Timeout time.Duration
	// Search replaces the M-SEARCH implementation; nil uses go-ssdp.
	Search func(searchType string, waitSec int) ([]gossdp.Service, error)
	// Client fetches device descriptions; nil uses a client bounded by Timeout.
	Client *http.Client
}

// NewDiscovery creates a new SSDP discovery helper with defaults.
func NewDiscovery() *Discovery {
	return &Discovery{Timeout: DefaultTimeout}
}

// Discover sends an M-SEARCH for searchTarget (All when empty) and returns
// the unique responders, keyed by USN.
func (s *Discovery) Discover(ctx context.Context, searchTarget string) ([]*Result, error) {
	if searchTarget == "" {
		searchTarget = All
	}
	waitSec := int(s.Timeout.Seconds())
	if waitSec < 1 {
		waitSec = 1
	}
	debugLog("M-SEARCH target=%s wait=%ds", searchTarget, waitSec)

	search := s.Search
	if search == nil {
		search = func(st string, wait int) ([]gossdp.Service, error) {
			return gossdp.Search(st, wait, "")
		}
	}

	type reply struct {
		services []gossdp.Service
		err      error
	}
	ch := make(chan reply, 1)
	go func() {
		services, err := search(searchTarget, waitSec)
		ch <- reply{services, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("SSDP search: %w", r.err)
		}
		results := convertServices(r.services)
		debugLog("M-SEARCH found %d devices", len(results))
		return results, nil
	}
}

// Hints searches the network, fetches device descriptions and returns an
// address -> friendly name table. Responders without a friendly name are
// skipped.
func (s *Discovery) Hints(ctx context.Context) (map[string]string, error) {
	results, err := s.Discover(ctx, RootDevice)
	if err != nil {
		return nil, err
	}
	s.EnrichResults(ctx, results)

	hints := make(map[string]string)
	for _, r := range results {
		if r.IP == "" || r.FriendlyName == "" {
			continue
		}
		if _, ok := hints[r.IP]; !ok {
			hints[r.IP] = r.FriendlyName
		}
	}
	return hints, nil
}

type deviceDescription struct {
	Device struct {
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
	} `xml:"device"`
}

// GetDeviceInfo fetches the device description behind a Location URL.
func (s *Discovery) GetDeviceInfo(ctx context.Context, locationURL string) (*Result, error) {
	if locationURL == "" {
		return nil, fmt.Errorf("no location URL")
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: s.Timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locationURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device description %s: %s", locationURL, resp.Status)
	}

	var desc deviceDescription
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&desc); err != nil {
		return nil, fmt.Errorf("decode device description: %w", err)
	}
	return &Result{
		Location:     locationURL,
		FriendlyName: strings.TrimSpace(desc.Device.FriendlyName),
		Manufacturer: strings.TrimSpace(desc.Device.Manufacturer),
		ModelName:    strings.TrimSpace(desc.Device.ModelName),
	}, nil
}

// EnrichResults fills FriendlyName, Manufacturer and ModelName in place.
func (s *Discovery) EnrichResults(ctx context.Context, results []*Result) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, 5)

	for _, r := range results {
		if r.Location == "" {
			continue
		}
		wg.Add(1)
		go func(result *Result) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			info, err := s.GetDeviceInfo(ctx, result.Location)
			if err != nil {
				debugLog("%s: %v", result.Location, err)
				return
			}
			result.FriendlyName = info.FriendlyName
			result.Manufacturer = info.Manufacturer
			result.ModelName = info.ModelName
		}(r)
	}
	wg.Wait()
}

func convertServices(services []gossdp.Service) []*Result {
	seen := make(map[string]bool)
	results := make([]*Result, 0, len(services))
	for _, svc := range services {
		key := svc.USN
		if key == "" {
			key = svc.Location
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		results = append(results, &Result{
			IP:       extractIPFromURL(svc.Location),
			Location: svc.Location,
			Server:   svc.Server,
			USN:      svc.USN,
			ST:       svc.Type,
			MaxAge:   svc.MaxAge(),
		})
	}
	return results
}

// extractIPFromURL extracts the IP address from a URL like "http://192.168.1.1:8080/desc.xml"
func extractIPFromURL(url string) string {
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "https://")
	if idx := strings.Index(url, "/"); idx > 0 {
		url = url[:idx]
	}
	host, _, err := net.SplitHostPort(url)
	if err != nil {
		host = url
	}
	if ip := net.ParseIP(host); ip != nil {
		return host
	}
	return ""
}
