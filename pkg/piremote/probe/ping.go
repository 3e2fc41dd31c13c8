package probe

import (
	"context"
	"errors"
	"runtime"
	"time"

	ping "github.com/go-ping/ping"
)

var (
	errNoReply    = errors.New("no echo reply")
	errEmptyPorts = errors.New("ports list is empty")
)

// pingHost sends a single ICMP echo. Unprivileged (UDP) sockets are used
// except on Windows, which only supports raw ICMP.
func pingHost(ctx context.Context, ip string, timeout time.Duration) (time.Duration, error) {
	pinger, err := ping.NewPinger(ip)
	if err != nil {
		return 0, err
	}
	pinger.SetPrivileged(runtime.GOOS == "windows")
	pinger.Count = 1
	pinger.Timeout = timeout

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case <-ctx.Done():
		pinger.Stop()
		return 0, ctx.Err()
	case err := <-done:
		if err != nil {
			return 0, err
		}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, errNoReply
	}
	return stats.AvgRtt, nil
}
