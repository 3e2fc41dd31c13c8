package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/marcuoli/go-piremote/internal/retry"
)

// Well-known remote paths for media pushed to a board.
const (
	DefaultImagePath = "/tmp/piremote_image.jpg"
	DefaultAudioPath = "/tmp/piremote_audio.wav"
)

// ErrUploadFailed matches every *UploadError.
var ErrUploadFailed = errors.New("upload failed")

// UploadError reports an upload that did not succeed within its attempts.
type UploadError struct {
	Remote   string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed after %d attempts: %v", e.Remote, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() []error {
	return []error{ErrUploadFailed, e.Err}
}

// Upload copies localPath to remotePath. A missing local file fails with
// zero attempts.
func (m *Manager) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &UploadError{Remote: remotePath, Err: err}
	}
	defer f.Close()
	return m.UploadReader(ctx, f, remotePath)
}

// UploadReader streams r to remotePath. Every attempt after the first is
// preceded by the upload delay and a forced reconnect, and r is rewound to
// its starting offset.
func (m *Manager) UploadReader(ctx context.Context, r io.ReadSeeker, remotePath string) error {
	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return &UploadError{Remote: remotePath, Err: err}
	}

	var conn Conn
	var connErr error
	policy := retry.Policy{Attempts: m.opts.UploadAttempts, Delay: m.opts.UploadDelay}

	attempts, err := retry.Do(ctx, policy,
		func(attempt int) error {
			if attempt == 1 {
				conn, connErr = m.ensure(ctx)
			}
			if connErr != nil {
				debugLog("upload %s attempt %d: %v", remotePath, attempt, connErr)
				return fmt.Errorf("%w: %w", ErrNotConnected, connErr)
			}
			if _, err := r.Seek(offset, io.SeekStart); err != nil {
				return err
			}
			n, err := conn.Upload(r, remotePath)
			if err != nil {
				debugLog("upload %s attempt %d: %v", remotePath, attempt, err)
				return err
			}
			debugLog("uploaded %d bytes to %s (attempt %d)", n, remotePath, attempt)
			return nil
		},
		func(attempt int) {
			debugLog("reconnecting before upload attempt %d", attempt)
			conn, connErr = m.reconnect(ctx)
		})
	if err != nil {
		return &UploadError{Remote: remotePath, Attempts: attempts, Err: err}
	}
	return nil
}
