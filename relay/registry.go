//go:build linux
// +build linux

package relay

import (
	"fmt"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"slices"
	"sync/atomic"
)

// Snapshot is the frozen membership handed to one readiness wait. It holds the
// descriptors in ascending order and is never modified after creation.
type Snapshot struct {
	fds []int
}

func NewSnapshot(fds ...int) Snapshot {
	s := slices.Clone(fds)
	slices.Sort(s)
	return Snapshot{fds: s}
}

func (s Snapshot) Fds() []int {
	return s.fds
}

func (s Snapshot) Len() int {
	return len(s.fds)
}

func (s Snapshot) Contains(fd int) bool {
	_, ok := slices.BinarySearch(s.fds, fd)
	return ok
}

// Registry owns the listening socket and every live connection.
//
// Connections live in stable slots: a removal frees its slot without moving any
// other entry, an addition reuses a free slot or appends one. A *Connection or slot
// index handed out during dispatch therefore stays valid until the connection itself
// is committed away.
type Registry struct {
	listenFd int
	wakeFd   int

	slots []*Connection
	free  []int
	index map[int]int

	// capacity bounds the number of data connections, 0 means unbounded.
	capacity int
	// fdLimit is an exclusive bound on descriptor values, 0 means unbounded.
	fdLimit int

	count atomic.Int64
}

// NewRegistry creates a registry around an already listening socket. wakeFd is the
// loop's wakeup descriptor or -1.
func NewRegistry(listenFd, wakeFd, capacity, fdLimit int) *Registry {
	return &Registry{
		listenFd: listenFd,
		wakeFd:   wakeFd,
		index:    make(map[int]int),
		capacity: capacity,
		fdLimit:  fdLimit,
	}
}

func (r *Registry) IsListener(fd int) bool {
	return r.listenFd >= 0 && fd == r.listenFd
}

func (r *Registry) IsWaker(fd int) bool {
	return r.wakeFd >= 0 && fd == r.wakeFd
}

func (r *Registry) ListenFd() int {
	return r.listenFd
}

// Len returns the number of data connections. Safe to call from any goroutine.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

func (r *Registry) Bounded() bool {
	return r.capacity > 0 || r.fdLimit > 0
}

func (r *Registry) Get(fd int) (*Connection, bool) {
	i, ok := r.index[fd]
	if !ok {
		return nil, false
	}
	return r.slots[i], true
}

// Snapshot returns the current membership, listener and waker included.
func (r *Registry) Snapshot() Snapshot {
	fds := make([]int, 0, len(r.index)+2)
	if r.listenFd >= 0 {
		fds = append(fds, r.listenFd)
	}
	if r.wakeFd >= 0 {
		fds = append(fds, r.wakeFd)
	}
	for fd := range r.index {
		fds = append(fds, fd)
	}
	slices.Sort(fds)
	return Snapshot{fds: fds}
}

// Peers returns the data connections in ascending descriptor order.
func (r *Registry) Peers() []*Connection {
	peers := make([]*Connection, 0, len(r.index))
	for _, conn := range r.slots {
		if conn != nil {
			peers = append(peers, conn)
		}
	}
	slices.SortFunc(peers, func(a, b *Connection) int {
		return a.Fd - b.Fd
	})
	return peers
}

// Admit checks whether fd may join, given the additions already pending this
// iteration. The unbounded registry only refuses descriptors it already holds.
func (r *Registry) Admit(fd int, pending int) error {
	if _, ok := r.index[fd]; ok || r.IsListener(fd) || r.IsWaker(fd) {
		return fmt.Errorf("%w: fd %d", errDuplicateFd, fd)
	}
	if r.fdLimit > 0 && fd >= r.fdLimit {
		return fmt.Errorf("%w: fd %d is not below %d", ErrCapacityExceeded, fd, r.fdLimit)
	}
	if r.capacity > 0 && len(r.index)+pending >= r.capacity {
		return fmt.Errorf("%w: %d connections", ErrCapacityExceeded, r.capacity)
	}
	return nil
}

// Commit applies a batch: additions first, then removals. Removed descriptors are
// closed here. An addition that can no longer be admitted is closed and reported in
// the returned error; the rest of the batch is still applied.
func (r *Registry) Commit(p *PendingChanges) error {
	var errs error
	adds, removes := p.drain()

	for _, conn := range adds {
		if err := r.Admit(conn.Fd, 0); err != nil {
			errs = multierr.Append(errs, err)
			errs = multierr.Append(errs, CloseFd(conn.Fd))
			continue
		}
		r.insert(conn)
	}

	for _, fd := range removes {
		if _, ok := r.index[fd]; !ok {
			continue
		}
		r.remove(fd)
		if err := CloseFd(fd); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close fd %d: %w", fd, err))
		}
	}

	return errs
}

func (r *Registry) insert(conn *Connection) {
	var i int
	if n := len(r.free); n > 0 {
		i = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[i] = conn
	} else {
		i = len(r.slots)
		r.slots = append(r.slots, conn)
	}
	r.index[conn.Fd] = i
	r.count.Add(1)
}

func (r *Registry) remove(fd int) {
	i := r.index[fd]
	r.slots[i] = nil
	r.free = append(r.free, i)
	delete(r.index, fd)
	r.count.Add(-1)
}

// CloseAll closes the listener and every connection. The waker belongs to the loop
// and is left alone.
func (r *Registry) CloseAll() error {
	var errs error

	if r.listenFd >= 0 {
		if err := CloseFd(r.listenFd); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close listener fd %d: %w", r.listenFd, err))
		}
		r.listenFd = -1
	}

	for fd := range r.index {
		r.remove(fd)
		if err := unix.Close(fd); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close fd %d: %w", fd, err))
		}
	}
	r.slots = nil
	r.free = nil

	return errs
}
