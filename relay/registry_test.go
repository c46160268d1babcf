//go:build linux
// +build linux

package relay

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"testing"
)

// socketPair returns a connected pair of non blocking stream sockets, closed at the
// end of the test unless the test closes them first.
func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		CloseFd(fds[0])
		CloseFd(fds[1])
	})
	return fds[0], fds[1]
}

func commitAdd(t *testing.T, r *Registry, fds ...int) {
	t.Helper()
	p := NewPendingChanges()
	for _, fd := range fds {
		p.Add(NewConnection(fd, nil))
	}
	require.NoError(t, r.Commit(p))
}

func TestRegistrySnapshotOrdered(t *testing.T) {
	lnA, lnB := socketPair(t)
	a, _ := socketPair(t)
	b, _ := socketPair(t)

	r := NewRegistry(lnB, lnA, 0, 0)
	commitAdd(t, r, b, a)

	snap := r.Snapshot()
	assert.Equal(t, NewSnapshot(lnA, lnB, a, b).Fds(), snap.Fds())
	assert.True(t, r.IsListener(lnB))
	assert.True(t, r.IsWaker(lnA))
	assert.False(t, r.IsListener(a))
	assert.Equal(t, 2, r.Len())

	peers := r.Peers()
	require.Len(t, peers, 2)
	assert.Less(t, peers[0].Fd, peers[1].Fd)
}

func TestRegistrySnapshotIsFrozen(t *testing.T) {
	ln, _ := socketPair(t)
	a, _ := socketPair(t)
	b, _ := socketPair(t)

	r := NewRegistry(ln, -1, 0, 0)
	commitAdd(t, r, a)
	snap := r.Snapshot()

	p := NewPendingChanges()
	p.Add(NewConnection(b, nil))
	p.Remove(a)
	require.NoError(t, r.Commit(p))

	assert.Equal(t, NewSnapshot(ln, a).Fds(), snap.Fds())
	assert.True(t, r.Snapshot().Contains(b))
	assert.False(t, r.Snapshot().Contains(a))
}

func TestRegistryCommitAddsBeforeRemoves(t *testing.T) {
	ln, _ := socketPair(t)
	a, _ := socketPair(t)

	r := NewRegistry(ln, -1, 0, 0)

	// an addition and a removal of the same descriptor in one batch ends removed
	p := NewPendingChanges()
	p.Add(NewConnection(a, nil))
	p.Remove(a)
	require.NoError(t, r.Commit(p))

	_, ok := r.Get(a)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.False(t, isFDValid(a), "removed descriptors are closed at commit")
}

func TestRegistryStableSlots(t *testing.T) {
	ln, _ := socketPair(t)
	a, _ := socketPair(t)
	b, _ := socketPair(t)
	c, _ := socketPair(t)
	d, _ := socketPair(t)

	r := NewRegistry(ln, -1, 0, 0)
	commitAdd(t, r, a, b, c)

	connB, ok := r.Get(b)
	require.True(t, ok)
	slotB := r.index[b]
	slotC := r.index[c]

	p := NewPendingChanges()
	p.Remove(a)
	p.Add(NewConnection(d, nil))
	require.NoError(t, r.Commit(p))

	got, ok := r.Get(b)
	require.True(t, ok)
	assert.Same(t, connB, got)
	assert.Equal(t, slotB, r.index[b])
	assert.Equal(t, slotC, r.index[c])

	// the next addition reuses the freed slot instead of growing
	e, _ := socketPair(t)
	commitAdd(t, r, e)
	assert.Len(t, r.slots, 4)
	assert.Equal(t, 4, r.Len())
}

func TestRegistryRemoveUnknownIsNoop(t *testing.T) {
	ln, _ := socketPair(t)
	a, _ := socketPair(t)

	r := NewRegistry(ln, -1, 0, 0)
	commitAdd(t, r, a)

	p := NewPendingChanges()
	p.Remove(9999)
	assert.NoError(t, r.Commit(p))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryCapacity(t *testing.T) {
	ln, _ := socketPair(t)
	a, _ := socketPair(t)
	b, _ := socketPair(t)
	c, _ := socketPair(t)

	r := NewRegistry(ln, -1, 2, SelectFdLimit)
	assert.True(t, r.Bounded())

	require.NoError(t, r.Admit(a, 0))
	require.NoError(t, r.Admit(b, 1))
	assert.ErrorIs(t, r.Admit(c, 2), ErrCapacityExceeded, "pending additions count against capacity")

	commitAdd(t, r, a, b)
	assert.ErrorIs(t, r.Admit(c, 0), ErrCapacityExceeded)
	assert.ErrorIs(t, r.Admit(SelectFdLimit, 0), ErrCapacityExceeded)

	// an over capacity addition at commit is closed, the others are untouched
	p := NewPendingChanges()
	p.Add(NewConnection(c, nil))
	assert.ErrorIs(t, r.Commit(p), ErrCapacityExceeded)
	assert.False(t, isFDValid(c))
	assert.Equal(t, 2, r.Len())
	assert.True(t, isFDValid(a))
	assert.True(t, isFDValid(b))
}

func TestRegistryUnboundedAdmit(t *testing.T) {
	ln, _ := socketPair(t)
	a, _ := socketPair(t)

	r := NewRegistry(ln, -1, 0, 0)
	assert.False(t, r.Bounded())
	assert.NoError(t, r.Admit(a, 100000))
	assert.NoError(t, r.Admit(SelectFdLimit+10, 0))

	commitAdd(t, r, a)
	assert.ErrorIs(t, r.Admit(a, 0), errDuplicateFd)
	assert.ErrorIs(t, r.Admit(ln, 0), errDuplicateFd)
}

func TestRegistryCloseAll(t *testing.T) {
	ln, _ := socketPair(t)
	a, _ := socketPair(t)
	b, _ := socketPair(t)

	r := NewRegistry(ln, -1, 0, 0)
	commitAdd(t, r, a, b)

	assert.NoError(t, r.CloseAll())
	assert.Equal(t, 0, r.Len())
	assert.False(t, isFDValid(ln))
	assert.False(t, isFDValid(a))
	assert.False(t, isFDValid(b))
	assert.Equal(t, 0, r.Snapshot().Len())
}
