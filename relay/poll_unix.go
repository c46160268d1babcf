//go:build linux
// +build linux

package relay

import (
	"fmt"
	"github.com/fzft/pollrelay/config"
	"golang.org/x/sys/unix"
	"time"
)

const (
	pollReadEvents  = unix.POLLIN | unix.POLLHUP
	pollErrorEvents = unix.POLLERR | unix.POLLNVAL
)

// PollMultiplexer is the dynamic strategy: one pollfd per member, no bound on member
// count or descriptor value.
type PollMultiplexer struct {
	pfds []unix.PollFd
}

func NewPollMultiplexer() *PollMultiplexer {
	return &PollMultiplexer{}
}

func (m *PollMultiplexer) Strategy() config.Strategy {
	return config.StrategyDynamic
}

func (m *PollMultiplexer) Wait(snap Snapshot, timeout time.Duration) (Report, error) {
	m.pfds = m.pfds[:0]
	for _, fd := range snap.Fds() {
		m.pfds = append(m.pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}

	n, err := retryWait(timeout, func(d time.Duration) (int, error) {
		return unix.Poll(m.pfds, pollTimeout(d))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: poll: %v", ErrWaitFailed, err)
	}

	report := make(Report, 0, n)
	if n == 0 {
		return report, nil
	}
	// pfds follows the snapshot, which is already ascending
	for _, pfd := range m.pfds {
		if pfd.Revents == 0 {
			continue
		}
		report = append(report, Readiness{
			Fd:       int(pfd.Fd),
			Readable: pfd.Revents&pollReadEvents != 0,
			Errored:  pfd.Revents&pollErrorEvents != 0,
		})
	}
	return report, nil
}
