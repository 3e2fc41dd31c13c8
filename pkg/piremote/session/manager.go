package session

import (
	"context"
	"sync"
	"time"
)

// Manager holds at most one connection and the credentials to restore it.
// Connects and reconnects are serialized; commands and uploads run
// concurrently over the current connection.
type Manager struct {
	opts   Options
	dialer Dialer

	mu      sync.Mutex // held across dials
	creds   *Credentials
	conn    Conn
	lastErr error
}

// NewManager creates a Manager using SSHDialer.
func NewManager(opts Options) *Manager {
	return NewManagerWithDialer(opts, SSHDialer{})
}

// NewManagerWithDialer creates a Manager around a custom Dialer.
func NewManagerWithDialer(opts Options, d Dialer) *Manager {
	return &Manager{opts: opts.withDefaults(), dialer: d}
}

// Options returns the effective options.
func (m *Manager) Options() Options {
	return m.opts
}

// Connect stores the credentials, drops any existing connection and dials
// on the default port. It reports whether the connection is up.
func (m *Manager) Connect(ctx context.Context, host, username, password string) bool {
	return m.ConnectWith(ctx, Credentials{Host: host, Username: username, Password: password})
}

// ConnectWith is Connect with full credentials.
func (m *Manager) ConnectWith(ctx context.Context, creds Credentials) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds = &creds
	m.disposeLocked()
	return m.dialLocked(ctx, m.opts.ConnectTimeout) == nil
}

// EnsureConnected returns true at once when the connection is up, and
// otherwise redials with the stored credentials.
func (m *Manager) EnsureConnected(ctx context.Context) bool {
	_, err := m.ensure(ctx)
	return err == nil
}

// Reconnect drops the current connection and dials again.
func (m *Manager) Reconnect(ctx context.Context) bool {
	_, err := m.reconnect(ctx)
	return err == nil
}

// Connected reports whether a live connection is held. It never dials.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.conn.Connected()
}

// LastError returns the cause of the most recent failed dial, or nil once a
// dial succeeds.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Host returns the stored host, or "" before the first Connect.
func (m *Manager) Host() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return ""
	}
	return m.creds.Host
}

// Close drops the connection. The credentials are kept, so a later
// operation reconnects.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

func (m *Manager) ensure(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil && m.conn.Connected() {
		return m.conn, nil
	}
	if m.creds == nil {
		return nil, ErrNoCredentials
	}
	if m.conn != nil {
		debugLog("connection to %s lost, reconnecting", m.creds.Host)
	}
	m.disposeLocked()
	if err := m.dialLocked(ctx, m.opts.ReconnectTimeout); err != nil {
		return nil, err
	}
	return m.conn, nil
}

func (m *Manager) reconnect(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.creds == nil {
		return nil, ErrNoCredentials
	}
	m.disposeLocked()
	if err := m.dialLocked(ctx, m.opts.ReconnectTimeout); err != nil {
		return nil, err
	}
	return m.conn, nil
}

func (m *Manager) disposeLocked() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Close(); err != nil {
		debugLog("close stale connection: %v", err)
	}
	m.conn = nil
}

func (m *Manager) dialLocked(ctx context.Context, timeout time.Duration) error {
	creds := *m.creds
	start := time.Now()
	conn, err := m.dialer.Dial(ctx, creds, DialOptions{
		Timeout:         timeout,
		KeepAlive:       m.opts.KeepAlive,
		HostKeyCallback: m.opts.HostKeyCallback,
	})
	if err != nil {
		debugLog("connect %s@%s failed after %v: %v", creds.Username, creds.Addr(), time.Since(start).Round(time.Millisecond), err)
		m.lastErr = err
		return err
	}
	m.conn = conn
	m.lastErr = nil
	return nil
}
