//go:build linux
// +build linux

package relay

import (
	"fmt"
	"github.com/fzft/pollrelay/config"
	"golang.org/x/sys/unix"
	"time"
	"unsafe"
)

// SelectFdLimit is the first descriptor value select(2) cannot represent (FD_SETSIZE).
const SelectFdLimit = int(unsafe.Sizeof(unix.FdSet{})) * 8

// SelectMultiplexer is the bitset strategy. The read set is rebuilt from the
// snapshot before every select call, select overwrites it in place.
type SelectMultiplexer struct {
	set unix.FdSet
}

func NewSelectMultiplexer() *SelectMultiplexer {
	return &SelectMultiplexer{}
}

func (m *SelectMultiplexer) Strategy() config.Strategy {
	return config.StrategyBitset
}

func (m *SelectMultiplexer) Wait(snap Snapshot, timeout time.Duration) (Report, error) {
	fds := snap.Fds()
	maxFd := -1
	for _, fd := range fds {
		if fd < 0 || fd >= SelectFdLimit {
			return nil, fmt.Errorf("%w: fd %d outside select range", ErrCapacityExceeded, fd)
		}
		if fd > maxFd {
			maxFd = fd
		}
	}

	n, err := retryWait(timeout, func(d time.Duration) (int, error) {
		m.set.Zero()
		for _, fd := range fds {
			m.set.Set(fd)
		}
		var tv *unix.Timeval
		if d >= 0 {
			t := unix.NsecToTimeval(d.Nanoseconds())
			tv = &t
		}
		return unix.Select(maxFd+1, &m.set, nil, nil, tv)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", ErrWaitFailed, err)
	}

	report := make(Report, 0, n)
	if n == 0 {
		return report, nil
	}
	for _, fd := range fds {
		if m.set.IsSet(fd) {
			report = append(report, Readiness{Fd: fd, Readable: true})
		}
	}
	return report, nil
}
