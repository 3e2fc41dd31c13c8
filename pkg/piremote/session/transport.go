package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Conn is an established connection.
type Conn interface {
	// Connected reports whether the transport is still usable.
	Connected() bool
	// Start runs cmd on a new exec channel, streaming its output.
	Start(cmd string, stdout, stderr io.Writer) (Channel, error)
	// Upload writes r to remotePath, creating or truncating it.
	Upload(r io.Reader, remotePath string) (int64, error)
	Close() error
}

// Channel is one running remote command.
type Channel interface {
	// Done is closed when the remote side closes the channel.
	Done() <-chan struct{}
	// Err is the command's completion error, valid after Done.
	Err() error
	Close() error
}

// DialOptions are passed to a Dialer for one dial.
type DialOptions struct {
	Timeout         time.Duration
	KeepAlive       time.Duration
	HostKeyCallback ssh.HostKeyCallback
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials, opts DialOptions) (Conn, error)
}

// SSHDialer dials with password authentication over SSH.
type SSHDialer struct{}

// Dial connects and authenticates. The TCP dial and the handshake are both
// bounded by opts.Timeout and ctx.
func (SSHDialer) Dial(ctx context.Context, creds Credentials, opts DialOptions) (Conn, error) {
	addr := creds.Addr()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	hostKey := opts.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	config := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: hostKey,
		Timeout:         opts.Timeout,
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })

	cc, chans, reqs, err := ssh.NewClientConn(nc, addr, config)
	interrupted := !stop()
	if err != nil {
		nc.Close()
		if interrupted {
			return nil, fmt.Errorf("ssh handshake %s: %w", addr, ctx.Err())
		}
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	if interrupted {
		cc.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, ctx.Err())
	}
	_ = nc.SetDeadline(time.Time{})

	debugLog("connected to %s as %s", addr, creds.Username)
	return newSSHConn(ssh.NewClient(cc, chans, reqs), opts.KeepAlive), nil
}

type sshConn struct {
	client *ssh.Client
	alive  atomic.Bool
	done   chan struct{}
}

func newSSHConn(client *ssh.Client, keepAlive time.Duration) *sshConn {
	c := &sshConn{client: client, done: make(chan struct{})}
	c.alive.Store(true)
	go func() {
		err := client.Wait()
		c.alive.Store(false)
		close(c.done)
		debugLog("connection to %s closed: %v", client.RemoteAddr(), err)
	}()
	if keepAlive > 0 {
		go c.keepAlive(keepAlive)
	}
	return c
}

// keepAlive sends keepalive@openssh.com every interval. A request that
// fails or gets no answer within the interval drops the connection.
func (c *sshConn) keepAlive(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
		}

		errc := make(chan error, 1)
		go func() {
			_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
			errc <- err
		}()

		timer := time.NewTimer(interval)
		select {
		case err := <-errc:
			timer.Stop()
			if err == nil {
				continue
			}
			debugLog("keepalive to %s failed: %v", c.client.RemoteAddr(), err)
		case <-timer.C:
			debugLog("keepalive to %s timed out", c.client.RemoteAddr())
		case <-c.done:
			timer.Stop()
			return
		}
		c.alive.Store(false)
		c.client.Close()
		return
	}
}

func (c *sshConn) Connected() bool {
	return c.alive.Load()
}

func (c *sshConn) Start(cmd string, stdout, stderr io.Writer) (Channel, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	sess.Stdout = stdout
	sess.Stderr = stderr
	if err := sess.Start(cmd); err != nil {
		sess.Close()
		return nil, err
	}
	ch := &sshChannel{sess: sess, done: make(chan struct{})}
	go func() {
		ch.err = sess.Wait()
		close(ch.done)
	}()
	return ch, nil
}

func (c *sshConn) Upload(r io.Reader, remotePath string) (int64, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return 0, fmt.Errorf("open sftp channel: %w", err)
	}
	defer client.Close()

	f, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", remotePath, err)
	}
	n, err := f.ReadFrom(r)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", remotePath, err)
	}
	return n, nil
}

func (c *sshConn) Close() error {
	c.alive.Store(false)
	return c.client.Close()
}

type sshChannel struct {
	sess      *ssh.Session
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

func (c *sshChannel) Done() <-chan struct{} { return c.done }

func (c *sshChannel) Err() error {
	<-c.done
	return c.err
}

func (c *sshChannel) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.sess.Close() })
	return err
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
