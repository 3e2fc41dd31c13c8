package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FailureOutput is what Execute returns when no connection is available.
const FailureOutput = "false"

// Outcome classifies how a command ended.
type Outcome int

const (
	// OutcomeCompleted means the remote side closed the channel.
	OutcomeCompleted Outcome = iota
	// OutcomeTimedOut means the exec ceiling was hit; output is partial.
	OutcomeTimedOut
	// OutcomeFailed means the command could not run to completion.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed out"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CommandResult is the outcome of one remote command.
type CommandResult struct {
	Command string
	Stdout  string
	Stderr  string
	Outcome Outcome
	// ExitStatus is the remote exit code, or -1 when none was received.
	ExitStatus int
	Err        error
	Duration   time.Duration
}

// Output returns stdout followed by stderr.
func (r CommandResult) Output() string {
	return r.Stdout + r.Stderr
}

// Run executes command on a new channel and waits for it to close, for the
// exec ceiling, or for ctx. A non-zero exit status is still
// OutcomeCompleted; a channel that closes without one is OutcomeFailed.
func (m *Manager) Run(ctx context.Context, command string) CommandResult {
	start := time.Now()
	res := CommandResult{Command: command, ExitStatus: -1, Outcome: OutcomeFailed}

	conn, err := m.ensure(ctx)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrNotConnected, err)
		res.Duration = time.Since(start)
		return res
	}

	var stdout, stderr lockedBuffer
	ch, err := conn.Start(command, &stdout, &stderr)
	if err != nil {
		res.Err = fmt.Errorf("open exec channel: %w", err)
		res.Duration = time.Since(start)
		return res
	}

	timer := time.NewTimer(m.opts.ExecTimeout)
	defer timer.Stop()

	select {
	case <-ch.Done():
		res.Outcome = OutcomeCompleted
		res.ExitStatus, res.Err = exitStatus(ch.Err())
		if res.Err != nil {
			// the link died before an exit status arrived
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("exec channel: %w", res.Err)
		}
	case <-timer.C:
		_ = ch.Close()
		res.Outcome = OutcomeTimedOut
		res.Err = fmt.Errorf("command timed out after %v", m.opts.ExecTimeout)
	case <-ctx.Done():
		_ = ch.Close()
		res.Err = ctx.Err()
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if res.Stderr != "" {
		debugLog("%q stderr: %s", command, strings.TrimSpace(res.Stderr))
	}
	res.Duration = time.Since(start)
	return res
}

// Execute runs command and returns its output as one string. It never
// fails: without a connection it returns FailureOutput, and when the
// channel cannot be opened it returns the error text.
func (m *Manager) Execute(ctx context.Context, command string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			debugLog("execute %q: panic: %v", command, r)
			out = FailureOutput
		}
	}()

	res := m.Run(ctx, command)
	switch {
	case errors.Is(res.Err, ErrNotConnected):
		debugLog("execute %q: %v", command, res.Err)
		return FailureOutput
	case res.Outcome == OutcomeFailed && res.Output() == "":
		return res.Err.Error()
	case res.Outcome == OutcomeTimedOut:
		debugLog("execute %q: %v", command, res.Err)
	}
	return res.Output()
}

type exitStatuser interface {
	ExitStatus() int
}

// exitStatus maps a channel completion error to an exit code. Exit errors
// carry a status and are not failures.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var es exitStatuser
	if errors.As(err, &es) {
		return es.ExitStatus(), nil
	}
	return -1, err
}

// lockedBuffer is written by the transport while Run reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
