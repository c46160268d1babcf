//go:build linux
// +build linux

package relay

import (
	"fmt"
	"golang.org/x/sys/unix"
	"net"
	"os"
	"strconv"
)

const listenBacklog = 10

// Listen creates a non blocking TCP listening socket with SO_REUSEADDR set. An empty
// host listens on every IPv4 interface; port 0 picks a free port, reported through
// the returned address.
func Listen(host string, port int) (int, *net.TCPAddr, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return -1, nil, err
	}

	family, sa := tcpAddrToSockaddr(addr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}

	if err := setupListener(fd, sa); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, os.NewSyscallError("getsockname", err)
	}
	local := sockaddrToTCPAddr(bound)
	if local == nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("unexpected listener address %T", bound)
	}
	return fd, local, nil
}

func setupListener(fd int, sa unix.Sockaddr) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

func tcpAddrToSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if addr.IP == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return unix.AF_INET6, sa
}
