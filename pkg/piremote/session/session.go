// Package session keeps one SSH connection to a remote board alive and runs
// commands and file uploads over it.
//
// A Manager owns the connection. Callers never see it: every operation first
// makes sure the link is up, redialing with the stored credentials when the
// transport has dropped.
//
// The default transport uses golang.org/x/crypto/ssh for the connection and
// exec channels and github.com/pkg/sftp for uploads.
package session

import (
	"errors"
	"time"

	"golang.org/x/crypto/ssh"
)

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from session operations.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

const (
	// DefaultPort is the SSH port used when Credentials.Port is zero.
	DefaultPort = 22

	DefaultConnectTimeout   = 5 * time.Second
	DefaultReconnectTimeout = 10 * time.Second
	DefaultKeepAlive        = 60 * time.Second
	DefaultExecTimeout      = 30 * time.Second
	DefaultUploadAttempts   = 3
	DefaultUploadDelay      = 1 * time.Second
)

var (
	// ErrNotConnected is returned when no connection could be established.
	ErrNotConnected = errors.New("not connected")
	// ErrNoCredentials is returned when reconnecting before any Connect.
	ErrNoCredentials = errors.New("no stored credentials")
)

// Credentials identify the remote account.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns host:port.
func (c Credentials) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return joinHostPort(c.Host, port)
}

// Options tunes a Manager. Zero fields take the Default values.
type Options struct {
	// ConnectTimeout bounds the dial made by Connect.
	ConnectTimeout time.Duration
	// ReconnectTimeout bounds dials made to restore a dropped link.
	ReconnectTimeout time.Duration
	// KeepAlive is the interval between keepalive requests; negative disables.
	KeepAlive time.Duration
	// ExecTimeout is the ceiling for one command.
	ExecTimeout    time.Duration
	UploadAttempts int
	// UploadDelay separates upload attempts; negative means none.
	UploadDelay time.Duration
	// HostKeyCallback verifies the server key; nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
}

// DefaultOptions returns the Manager defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   DefaultConnectTimeout,
		ReconnectTimeout: DefaultReconnectTimeout,
		KeepAlive:        DefaultKeepAlive,
		ExecTimeout:      DefaultExecTimeout,
		UploadAttempts:   DefaultUploadAttempts,
		UploadDelay:      DefaultUploadDelay,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.ReconnectTimeout <= 0 {
		o.ReconnectTimeout = d.ReconnectTimeout
	}
	if o.KeepAlive == 0 {
		o.KeepAlive = d.KeepAlive
	}
	if o.ExecTimeout <= 0 {
		o.ExecTimeout = d.ExecTimeout
	}
	if o.UploadAttempts <= 0 {
		o.UploadAttempts = d.UploadAttempts
	}
	switch {
	case o.UploadDelay == 0:
		o.UploadDelay = d.UploadDelay
	case o.UploadDelay < 0:
		o.UploadDelay = 0
	}
	if o.HostKeyCallback == nil {
		o.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return o
}
