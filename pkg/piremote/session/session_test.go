package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeChannel struct {
	done   chan struct{}
	err    error
	closed atomic.Bool
}

func (c *fakeChannel) Done() <-chan struct{} { return c.done }
func (c *fakeChannel) Err() error           { <-c.done; return c.err }
func (c *fakeChannel) Close() error         { c.closed.Store(true); return nil }

type fakeConn struct {
	id     int
	alive  atomic.Bool
	starts atomic.Int64
	// run emulates the remote command; nil completes with no output.
	run    func(cmd string, stdout, stderr io.Writer, ch *fakeChannel)
	upload func(conn int, data []byte, remote string) error

	mu       sync.Mutex
	received map[string][]byte
	closed   bool
	last     *fakeChannel
}

func (c *fakeConn) Connected() bool { return c.alive.Load() }

func (c *fakeConn) Start(cmd string, stdout, stderr io.Writer) (Channel, error) {
	c.starts.Add(1)
	ch := &fakeChannel{done: make(chan struct{})}
	c.mu.Lock()
	c.last = ch
	c.mu.Unlock()
	if c.run == nil {
		close(ch.done)
		return ch, nil
	}
	go c.run(cmd, stdout, stderr, ch)
	return ch, nil
}

func (c *fakeConn) Upload(r io.Reader, remote string) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if c.upload != nil {
		if err := c.upload(c.id, data, remote); err != nil {
			return 0, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.received == nil {
		c.received = make(map[string][]byte)
	}
	c.received[remote] = data
	return int64(len(data)), nil
}

func (c *fakeConn) Close() error {
	c.alive.Store(false)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	last  DialOptions
	creds Credentials
	fail  func(dial int) error
	setup func(c *fakeConn)
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, creds Credentials, opts DialOptions) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.last = opts
	d.creds = creds
	if d.fail != nil {
		if err := d.fail(d.dials); err != nil {
			return nil, err
		}
	}
	c := &fakeConn{id: d.dials}
	c.alive.Store(true)
	if d.setup != nil {
		d.setup(c)
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) current() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func fastOptions() Options {
	return Options{UploadDelay: time.Millisecond, ExecTimeout: time.Second}
}

func TestCredentialsAddr(t *testing.T) {
	tests := []struct {
		creds Credentials
		want  string
	}{
		{Credentials{Host: "192.168.1.42"}, "192.168.1.42:22"},
		{Credentials{Host: "pi.local", Port: 2222}, "pi.local:2222"},
		{Credentials{Host: "fe80::1"}, "[fe80::1]:22"},
	}
	for _, tt := range tests {
		if got := tt.creds.Addr(); got != tt.want {
			t.Errorf("Addr() = %q, want %q", got, tt.want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.ConnectTimeout != 5*time.Second || o.ReconnectTimeout != 10*time.Second {
		t.Errorf("Unexpected dial timeouts: %v / %v", o.ConnectTimeout, o.ReconnectTimeout)
	}
	if o.KeepAlive != 60*time.Second || o.ExecTimeout != 30*time.Second {
		t.Errorf("Unexpected keepalive/exec: %v / %v", o.KeepAlive, o.ExecTimeout)
	}
	if o.UploadAttempts != 3 || o.UploadDelay != time.Second {
		t.Errorf("Unexpected upload policy: %d x %v", o.UploadAttempts, o.UploadDelay)
	}
	if o.HostKeyCallback == nil {
		t.Error("HostKeyCallback should default to accepting any key")
	}
	if got := (Options{KeepAlive: -1}).withDefaults().KeepAlive; got != -1 {
		t.Errorf("Negative keepalive should stay disabled, got %v", got)
	}
}

func TestConnect(t *testing.T) {
	d := &fakeDialer{}
	m := NewManagerWithDialer(fastOptions(), d)

	if m.Connected() || m.Host() != "" {
		t.Fatal("New manager should be disconnected with no host")
	}
	if !m.Connect(context.Background(), "192.168.1.42", "pi", "raspberry") {
		t.Fatal("Connect failed")
	}
	if !m.Connected() || m.Host() != "192.168.1.42" {
		t.Errorf("Connected=%v Host=%q", m.Connected(), m.Host())
	}
	if d.last.Timeout != DefaultConnectTimeout {
		t.Errorf("Connect should dial with the connect timeout, got %v", d.last.Timeout)
	}
	if d.creds.Username != "pi" || d.creds.Password != "raspberry" {
		t.Errorf("Unexpected credentials %+v", d.creds)
	}

	first := d.current()
	if !m.Connect(context.Background(), "192.168.1.43", "pi", "raspberry") {
		t.Fatal("second Connect failed")
	}
	if !first.closed {
		t.Error("Connect should discard the previous connection")
	}
	if m.Host() != "192.168.1.43" {
		t.Errorf("Host = %q", m.Host())
	}
}

func TestConnect_Failure(t *testing.T) {
	d := &fakeDialer{fail: func(int) error { return errors.New("connection refused") }}
	m := NewManagerWithDialer(fastOptions(), d)
	if m.Connect(context.Background(), "10.0.0.1", "pi", "x") {
		t.Fatal("Connect should report failure")
	}
	if m.Connected() {
		t.Error("Failed connect must leave the manager disconnected")
	}
	if m.Host() != "10.0.0.1" {
		t.Error("Credentials should be stored even when the dial fails")
	}
	if err := m.LastError(); err == nil || err.Error() != "connection refused" {
		t.Errorf("LastError = %v, want the dial cause", err)
	}
}

func TestLastError_ClearedOnSuccess(t *testing.T) {
	d := &fakeDialer{fail: func(n int) error {
		if n == 1 {
			return errors.New("no route to host")
		}
		return nil
	}}
	m := NewManagerWithDialer(fastOptions(), d)
	if m.LastError() != nil {
		t.Fatal("LastError must be nil before any dial")
	}
	if m.Connect(context.Background(), "10.0.0.2", "pi", "pw") {
		t.Fatal("First dial should fail")
	}
	if m.LastError() == nil {
		t.Fatal("LastError should hold the first failure")
	}
	if !m.EnsureConnected(context.Background()) {
		t.Fatal("Second dial should succeed")
	}
	if err := m.LastError(); err != nil {
		t.Errorf("LastError = %v after a successful dial", err)
	}
}

func TestEnsureConnected(t *testing.T) {
	d := &fakeDialer{}
	m := NewManagerWithDialer(fastOptions(), d)

	if m.EnsureConnected(context.Background()) {
		t.Error("EnsureConnected without credentials should fail")
	}
	if d.count() != 0 {
		t.Errorf("No dial expected without credentials, got %d", d.count())
	}

	m.Connect(context.Background(), "10.0.0.2", "pi", "pw")
	for i := 0; i < 2; i++ {
		if !m.EnsureConnected(context.Background()) {
			t.Fatal("EnsureConnected failed on a live connection")
		}
	}
	if d.count() != 1 {
		t.Errorf("Live connection should not be redialed, dials=%d", d.count())
	}

	d.current().alive.Store(false)
	if !m.EnsureConnected(context.Background()) {
		t.Fatal("EnsureConnected should restore a dropped link")
	}
	if d.count() != 2 {
		t.Errorf("Expected one redial, dials=%d", d.count())
	}
	if d.last.Timeout != DefaultReconnectTimeout || d.last.KeepAlive != DefaultKeepAlive {
		t.Errorf("Reconnect dial options = %+v", d.last)
	}
}

func TestEnsureConnected_Serialized(t *testing.T) {
	d := &fakeDialer{}
	m := NewManagerWithDialer(fastOptions(), d)
	m.Connect(context.Background(), "10.0.0.3", "pi", "pw")
	d.current().alive.Store(false)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.EnsureConnected(context.Background())
		}()
	}
	wg.Wait()
	if d.count() != 2 {
		t.Errorf("Concurrent callers should share one redial, dials=%d", d.count())
	}
}

func TestClose(t *testing.T) {
	d := &fakeDialer{}
	m := NewManagerWithDialer(fastOptions(), d)
	if err := m.Close(); err != nil {
		t.Errorf("Close on idle manager: %v", err)
	}
	m.Connect(context.Background(), "10.0.0.4", "pi", "pw")
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if m.Connected() {
		t.Error("Connected after Close")
	}
	if !m.EnsureConnected(context.Background()) || d.count() != 2 {
		t.Error("Stored credentials should allow reconnecting after Close")
	}
}

func TestRun(t *testing.T) {
	d := &fakeDialer{setup: func(c *fakeConn) {
		c.run = func(cmd string, stdout, stderr io.Writer, ch *fakeChannel) {
			switch cmd {
			case "uname -n":
				io.WriteString(stdout, "raspberrypi\n")
			case "ls /nope":
				io.WriteString(stderr, "ls: cannot access '/nope'\n")
				ch.err = exitErr(2)
			case "broken":
				ch.err = errors.New("channel reset")
			case "partial":
				io.WriteString(stdout, "half")
				ch.err = io.EOF
			}
			close(ch.done)
		}
	}}
	m := NewManagerWithDialer(fastOptions(), d)
	m.Connect(context.Background(), "10.0.0.5", "pi", "pw")

	tests := []struct {
		cmd     string
		outcome Outcome
		status  int
		stdout  string
		stderr  string
		wantErr bool
	}{
		{"uname -n", OutcomeCompleted, 0, "raspberrypi\n", "", false},
		{"ls /nope", OutcomeCompleted, 2, "", "ls: cannot access '/nope'\n", false},
		{"broken", OutcomeFailed, -1, "", "", true},
		{"partial", OutcomeFailed, -1, "half", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			res := m.Run(context.Background(), tt.cmd)
			if res.Outcome != tt.outcome || res.ExitStatus != tt.status {
				t.Errorf("Outcome=%v ExitStatus=%d, want %v %d", res.Outcome, res.ExitStatus, tt.outcome, tt.status)
			}
			if res.Stdout != tt.stdout || res.Stderr != tt.stderr {
				t.Errorf("Stdout=%q Stderr=%q", res.Stdout, res.Stderr)
			}
			if (res.Err != nil) != tt.wantErr {
				t.Errorf("Err = %v", res.Err)
			}
		})
	}
}

type exitErr int

func (e exitErr) Error() string   { return "process exited" }
func (e exitErr) ExitStatus() int { return int(e) }

func TestRun_TimeoutKeepsPartialOutput(t *testing.T) {
	d := &fakeDialer{setup: func(c *fakeConn) {
		c.run = func(cmd string, stdout, stderr io.Writer, fc *fakeChannel) {
			io.WriteString(stdout, "tick 1\n")
		}
	}}
	opts := fastOptions()
	opts.ExecTimeout = 100 * time.Millisecond
	m := NewManagerWithDialer(opts, d)
	m.Connect(context.Background(), "10.0.0.6", "pi", "pw")

	start := time.Now()
	res := m.Run(context.Background(), "tail -f /var/log/syslog")
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("Outcome = %v, want timed out", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Ceiling not enforced: %v", elapsed)
	}
	if res.Stdout != "tick 1\n" {
		t.Errorf("Partial output lost: %q", res.Stdout)
	}
	conn := d.current()
	conn.mu.Lock()
	ch := conn.last
	conn.mu.Unlock()
	if ch == nil || !ch.closed.Load() {
		t.Error("Timed out channel should be torn down")
	}
}

func TestRun_ContextCancel(t *testing.T) {
	d := &fakeDialer{setup: func(c *fakeConn) {
		c.run = func(string, io.Writer, io.Writer, *fakeChannel) {}
	}}
	m := NewManagerWithDialer(fastOptions(), d)
	m.Connect(context.Background(), "10.0.0.7", "pi", "pw")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	res := m.Run(ctx, "sleep 60")
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Outcome=%v Err=%v", res.Outcome, res.Err)
	}
}

func TestExecute(t *testing.T) {
	d := &fakeDialer{setup: func(c *fakeConn) {
		c.run = func(cmd string, stdout, stderr io.Writer, ch *fakeChannel) {
			io.WriteString(stdout, "out\n")
			io.WriteString(stderr, "warn\n")
			close(ch.done)
		}
	}}
	m := NewManagerWithDialer(fastOptions(), d)
	m.Connect(context.Background(), "10.0.0.8", "pi", "pw")

	if got := m.Execute(context.Background(), "vcgencmd measure_temp"); got != "out\nwarn\n" {
		t.Errorf("Execute = %q, want stdout then stderr", got)
	}
}

func TestExecute_NotConnected(t *testing.T) {
	d := &fakeDialer{fail: func(int) error { return errors.New("no route to host") }}
	m := NewManagerWithDialer(fastOptions(), d)

	if got := m.Execute(context.Background(), "uptime"); got != FailureOutput {
		t.Errorf("Execute without credentials = %q, want %q", got, FailureOutput)
	}
	m.Connect(context.Background(), "10.0.0.9", "pi", "pw")
	if got := m.Execute(context.Background(), "uptime"); got != FailureOutput {
		t.Errorf("Execute with failing dial = %q, want %q", got, FailureOutput)
	}
	res := m.Run(context.Background(), "uptime")
	if !errors.Is(res.Err, ErrNotConnected) || res.Outcome != OutcomeFailed {
		t.Errorf("Run without connection: %v %v", res.Outcome, res.Err)
	}
	if len(d.conns) != 0 {
		t.Error("No channel may be opened without a connection")
	}
}

type startFailConn struct{ fakeConn }

func (c *startFailConn) Start(string, io.Writer, io.Writer) (Channel, error) {
	return nil, errors.New("administratively prohibited")
}

type startFailDialer struct{}

func (startFailDialer) Dial(context.Context, Credentials, DialOptions) (Conn, error) {
	c := &startFailConn{}
	c.alive.Store(true)
	return c, nil
}

func TestExecute_ChannelError(t *testing.T) {
	m := NewManagerWithDialer(fastOptions(), startFailDialer{})
	m.Connect(context.Background(), "10.0.0.10", "pi", "pw")
	got := m.Execute(context.Background(), "reboot")
	if !strings.Contains(got, "administratively prohibited") {
		t.Errorf("Execute = %q, want channel error text", got)
	}
}

func TestUpload_RetriesWithReconnect(t *testing.T) {
	var attempts atomic.Int64
	d := &fakeDialer{setup: func(c *fakeConn) {
		c.upload = func(int, []byte, string) error {
			if attempts.Add(1) <= 2 {
				return errors.New("sftp: connection lost")
			}
			return nil
		}
	}}
	m := NewManagerWithDialer(fastOptions(), d)
	m.Connect(context.Background(), "10.0.0.11", "pi", "pw")

	payload := []byte("JFIF image bytes")
	r := bytes.NewReader(payload)
	if err := m.UploadReader(context.Background(), r, DefaultImagePath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
	if reconnects := d.count() - 1; reconnects != 2 {
		t.Errorf("Expected 2 reconnects, got %d", reconnects)
	}
	got := d.current().received[DefaultImagePath]
	if !bytes.Equal(got, payload) {
		t.Errorf("Remote content = %q, want full payload after rewind", got)
	}
}

func TestUpload_GivesUp(t *testing.T) {
	var attempts atomic.Int64
	d := &fakeDialer{setup: func(c *fakeConn) {
		c.upload = func(int, []byte, string) error {
			attempts.Add(1)
			return errors.New("permission denied")
		}
	}}
	m := NewManagerWithDialer(fastOptions(), d)
	m.Connect(context.Background(), "10.0.0.12", "pi", "pw")

	err := m.UploadReader(context.Background(), strings.NewReader("RIFF"), DefaultAudioPath)
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("Expected ErrUploadFailed, got %v", err)
	}
	var ue *UploadError
	if !errors.As(err, &ue) || ue.Attempts != 3 || ue.Remote != DefaultAudioPath {
		t.Errorf("Unexpected upload error: %+v", ue)
	}
	if !strings.Contains(err.Error(), "failed after 3 attempts: permission denied") {
		t.Errorf("Error message = %q", err.Error())
	}
	if attempts.Load() != 3 {
		t.Errorf("No attempt beyond the third expected, got %d", attempts.Load())
	}
	if reconnects := d.count() - 1; reconnects != 2 {
		t.Errorf("Expected 2 reconnects, got %d", reconnects)
	}
}

func TestUpload_ReconnectFails(t *testing.T) {
	d := &fakeDialer{
		fail: func(dial int) error {
			if dial > 1 {
				return errors.New("host down")
			}
			return nil
		},
		setup: func(c *fakeConn) {
			c.upload = func(int, []byte, string) error { return errors.New("broken pipe") }
		},
	}
	m := NewManagerWithDialer(fastOptions(), d)
	m.Connect(context.Background(), "10.0.0.13", "pi", "pw")

	err := m.UploadReader(context.Background(), strings.NewReader("x"), "/tmp/x")
	if !errors.Is(err, ErrUploadFailed) || !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected upload failure caused by lost connection, got %v", err)
	}
	if d.count() != 3 {
		t.Errorf("Expected initial dial plus 2 reconnects, got %d dials", d.count())
	}
}

func TestUpload_MissingLocalFile(t *testing.T) {
	d := &fakeDialer{}
	m := NewManagerWithDialer(fastOptions(), d)
	m.Connect(context.Background(), "10.0.0.14", "pi", "pw")

	err := m.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), DefaultImagePath)
	var ue *UploadError
	if !errors.As(err, &ue) || ue.Attempts != 0 {
		t.Fatalf("Expected UploadError with 0 attempts, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Cause should be the missing file, got %v", err)
	}
	if d.count() != 1 {
		t.Error("Missing local file must not trigger reconnects")
	}
}

func TestUpload_File(t *testing.T) {
	d := &fakeDialer{}
	m := NewManagerWithDialer(fastOptions(), d)
	m.Connect(context.Background(), "10.0.0.15", "pi", "pw")

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.Upload(context.Background(), path, DefaultAudioPath); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := string(d.current().received[DefaultAudioPath]); got != "RIFF....WAVE" {
		t.Errorf("Remote content = %q", got)
	}
}
