//go:build linux
// +build linux

package relay

import (
	"golang.org/x/sys/unix"
	"sync"
	"unsafe"
)

// Waker is an eventfd the loop polls next to the listener so another goroutine can
// interrupt a wait that would otherwise block forever.
type Waker struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

func NewWaker() (*Waker, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Waker{fd: efd}, nil
}

func (w *Waker) Fd() int {
	return w.fd
}

// Wake makes the eventfd readable. Calling it after Close is a no-op.
func (w *Waker) Wake() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	one := uint64(1)
	_, err := unix.Write(w.fd, (*(*[8]byte)(unsafe.Pointer(&one)))[:])
	if err == unix.EAGAIN {
		// counter saturated, the loop has not drained yet
		return nil
	}
	return err
}

// Drain resets the counter so the eventfd stops reporting readable.
func (w *Waker) Drain() error {
	var buf uint64
	_, err := unix.Read(w.fd, (*(*[8]byte)(unsafe.Pointer(&buf)))[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (w *Waker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return unix.Close(w.fd)
}
