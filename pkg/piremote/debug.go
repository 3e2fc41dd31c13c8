// Package piremote: Debug logging support.
package piremote

import (
	"fmt"
	"sync"
)

// DebugLevel represents the verbosity level for debug logging.
type DebugLevel int

const (
	// DebugOff disables all debug logging.
	DebugOff DebugLevel = iota
	// DebugBasic logs passes, connections, commands and failures.
	DebugBasic
	// DebugVerbose adds per-host protocol chatter.
	DebugVerbose
)

// ParseDebugLevel maps "off", "basic" and "verbose" to a level.
func ParseDebugLevel(s string) (DebugLevel, error) {
	switch s {
	case "", "off", "none":
		return DebugOff, nil
	case "basic", "on":
		return DebugBasic, nil
	case "verbose", "all":
		return DebugVerbose, nil
	}
	return DebugOff, fmt.Errorf("unknown debug level %q", s)
}

func (l DebugLevel) String() string {
	switch l {
	case DebugOff:
		return "off"
	case DebugBasic:
		return "basic"
	case DebugVerbose:
		return "verbose"
	default:
		return fmt.Sprintf("DebugLevel(%d)", int(l))
	}
}

// DebugLogger is a callback function for debug logging.
// The component parameter indicates which part of the library generated the message.
type DebugLogger func(component Component, format string, args ...interface{})

var (
	debugLogger DebugLogger
	debugLevel  DebugLevel
	debugMu     sync.RWMutex
)

// SetDebugLogger sets a custom debug logger callback.
// Pass nil to disable debug logging.
func SetDebugLogger(logger DebugLogger) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugLogger = logger
}

// SetDebugLevel sets the debug verbosity level.
func SetDebugLevel(level DebugLevel) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugLevel = level
}

// GetDebugLevel returns the current debug level.
func GetDebugLevel() DebugLevel {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugLevel
}

// debugLog logs a message if debug logging is enabled.
func debugLog(component Component, format string, args ...interface{}) {
	debugMu.RLock()
	logger := debugLogger
	level := debugLevel
	debugMu.RUnlock()

	if logger != nil && level >= DebugBasic {
		logger(component, format, args...)
	}
}

// debugLogVerbose logs a verbose message if verbose debug logging is enabled.
func debugLogVerbose(component Component, format string, args ...interface{}) {
	debugMu.RLock()
	logger := debugLogger
	level := debugLevel
	debugMu.RUnlock()

	if logger != nil && level >= DebugVerbose {
		logger(component, format, args...)
	}
}
