//go:build linux
// +build linux

package relay

import (
	"errors"
	"golang.org/x/sys/unix"
	"net"
	"time"
)

func isFDValid(fd int) bool {
	// Try to get the flags of the file descriptor
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// IsTemporaryError reports whether err only means "try again later".
func IsTemporaryError(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// isTransientAcceptError lists the accept failures that leave the listener usable.
func isTransientAcceptError(err error) bool {
	switch {
	case IsTemporaryError(err),
		errors.Is(err, unix.ECONNABORTED),
		errors.Is(err, unix.EMFILE),
		errors.Is(err, unix.ENFILE),
		errors.Is(err, unix.ENOBUFS),
		errors.Is(err, unix.ENOMEM),
		errors.Is(err, unix.EPROTO),
		errors.Is(err, unix.EPERM):
		return true
	}
	return false
}

func CloseFd(fd int) error {
	if isFDValid(fd) {
		if err := unix.Close(fd); err != nil {
			return err
		}
	}
	return nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]), Port: addr.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, addr.Addr[:])
		return &net.TCPAddr{IP: ip, Port: addr.Port}
	default:
		return nil
	}
}

// pollTimeout converts a wait duration to poll(2) milliseconds, rounding up so a
// short positive timeout never turns into a non blocking poll.
func pollTimeout(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
