// Package oui resolves MAC addresses to manufacturer names using an IEEE
// OUI database file (oui.txt) loaded through github.com/klauspost/oui.
//
// Until a database is loaded only the Raspberry Pi prefixes are known, so
// the probe can still label boards that publish no name at all.
package oui

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/klauspost/oui"
)

// ErrNoDatabase is returned by Lookup before SetDatabase succeeded, for
// prefixes outside the built-in table.
var ErrNoDatabase = errors.New("OUI database not loaded")

// builtin maps Raspberry Pi OUIs to their registered owner.
var builtin = map[string]string{
	"b8:27:eb": "Raspberry Pi Foundation",
	"dc:a6:32": "Raspberry Pi Trading Ltd",
	"e4:5f:01": "Raspberry Pi Trading Ltd",
	"28:cd:c1": "Raspberry Pi Trading Ltd",
	"d8:3a:dd": "Raspberry Pi Trading Ltd",
	"2c:cf:67": "Raspberry Pi (Trading) Ltd",
}

var (
	dbMu   sync.RWMutex
	db     oui.OuiDB
	dbPath string
)

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from OUI operations.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// VendorInfo contains information about a MAC address vendor.
type VendorInfo struct {
	Manufacturer string
	Address      []string
	Country      string
	Prefix       string
}

// SetDatabase loads the OUI database at path and makes it current.
func SetDatabase(path string) error {
	loaded, err := oui.OpenStaticFile(path)
	if err != nil {
		return fmt.Errorf("open OUI database %s: %w", path, err)
	}
	dbMu.Lock()
	db, dbPath = loaded, path
	dbMu.Unlock()
	debugLog("OUI database loaded from %s", path)
	return nil
}

// DatabasePath returns the path of the loaded database, or "".
func DatabasePath() string {
	dbMu.RLock()
	defer dbMu.RUnlock()
	return dbPath
}

// IsLoaded returns true if an OUI database has been loaded.
func IsLoaded() bool {
	dbMu.RLock()
	defer dbMu.RUnlock()
	return db != nil
}

// Lookup looks up the vendor information for a MAC address.
// Accepted formats: "00:11:22:33:44:55", "00-11-22-33-44-55", "001122334455".
// An unknown prefix yields (nil, nil).
func Lookup(mac string) (*VendorInfo, error) {
	normalized := NormalizeMAC(mac)
	if normalized == "" {
		return nil, fmt.Errorf("invalid MAC address %q", mac)
	}

	dbMu.RLock()
	current := db
	dbMu.RUnlock()
	if current == nil {
		if name, ok := builtin[normalized[:8]]; ok {
			return &VendorInfo{Manufacturer: name, Prefix: normalized[:8]}, nil
		}
		return nil, ErrNoDatabase
	}
	hwAddr, err := net.ParseMAC(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse MAC address: %w", err)
	}

	entry, err := current.Query(hwAddr.String())
	if errors.Is(err, oui.ErrNotFound) {
		debugLog("%s: vendor not found", normalized)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("OUI lookup failed: %w", err)
	}

	debugLog("%s -> %s", normalized, entry.Manufacturer)
	return &VendorInfo{
		Manufacturer: entry.Manufacturer,
		Address:      entry.Address,
		Country:      entry.Country,
		Prefix:       entry.Prefix.String(),
	}, nil
}

// LookupName returns just the manufacturer name, or "" when unknown.
func LookupName(mac string) string {
	vendor, err := Lookup(mac)
	if err != nil || vendor == nil {
		return ""
	}
	return vendor.Manufacturer
}

// NormalizeMAC normalizes various MAC address formats to standard format.
// Returns empty string if invalid.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(mac)
	mac = strings.NewReplacer("-", "", ":", "", ".", "").Replace(mac)
	if len(mac) != 12 {
		return ""
	}
	for _, c := range mac {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return ""
		}
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		mac[0:2], mac[2:4], mac[4:6], mac[6:8], mac[8:10], mac[10:12])
}
