//go:build linux
// +build linux

package relay

import (
	"golang.org/x/sys/unix"
	"time"
)

// readOnce performs the single read a readiness event allows.
func readOnce(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// writeFull keeps writing until data is flushed, an unrecoverable error occurs, or
// the socket stays unwritable past timeout.
func writeFull(fd int, data []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(data) > 0 {
		n, err := unix.SendmsgN(fd, data, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			if err := waitWritable(fd, deadline); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}
		data = data[n:]
	}
	return nil
}

func waitWritable(fd int, deadline time.Time) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errFlushTimeout
		}
		n, err := unix.Poll(pfd, pollTimeout(remaining))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n > 0 {
			// POLLERR or POLLHUP surface as an error on the next send
			return nil
		}
	}
}
