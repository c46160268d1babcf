//go:build linux
// +build linux

package relay

import (
	"errors"
	"fmt"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"net"
	"sync/atomic"
	"time"
)

type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateDispatching
	StateCommitting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateDispatching:
		return "dispatching"
	case StateCommitting:
		return "committing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type LoopOptions struct {
	BufferSize   int
	Timeout      time.Duration
	FlushTimeout time.Duration
	// AcceptDrain accepts until the listener would block instead of once per event.
	AcceptDrain bool
	Waker       *Waker
	Observer    Observer
	Logger      *zap.Logger
}

// Loop relays bytes between the members of a Registry. It is single threaded: only
// the goroutine calling Run touches the registry.
//
// Each iteration waits on a snapshot of the registry, dispatches the ready
// descriptors in ascending order while queueing membership changes, and only then
// commits them. Connections accepted during dispatch therefore miss the broadcasts
// of their own iteration, and a removal never disturbs the pass that decided it.
type Loop struct {
	registry     *Registry
	mux          Multiplexer
	waker        *Waker
	observer     Observer
	logger       *zap.Logger
	pending      *PendingChanges
	buf          []byte
	timeout      time.Duration
	flushTimeout time.Duration
	drain        bool

	state    atomic.Int32
	shutdown atomic.Bool
}

func NewLoop(registry *Registry, mux Multiplexer, opts LoopOptions) *Loop {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Loop{
		registry:     registry,
		mux:          mux,
		waker:        opts.Waker,
		observer:     opts.Observer,
		logger:       opts.Logger,
		pending:      NewPendingChanges(),
		buf:          make([]byte, opts.BufferSize),
		timeout:      opts.Timeout,
		flushTimeout: opts.FlushTimeout,
		drain:        opts.AcceptDrain,
	}
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Shutdown asks the loop to stop before its next wait. Safe from any goroutine.
func (l *Loop) Shutdown() {
	l.shutdown.Store(true)
	if l.waker != nil {
		if err := l.waker.Wake(); err != nil {
			l.logger.Warn("failed to wake loop", zap.Error(err))
		}
	}
}

// Run iterates until Shutdown is called or a fatal error occurs. Either way the
// listener and every connection are closed before it returns. A nil error means
// an explicit shutdown.
func (l *Loop) Run() (err error) {
	defer func() {
		if closeErr := l.stop(); closeErr != nil {
			l.logger.Debug("errors while closing descriptors", zap.Error(closeErr))
		}
	}()

	l.logger.Debug("relay loop started",
		zap.String("strategy", string(l.mux.Strategy())),
		zap.Bool("bounded", l.registry.Bounded()))

	for {
		if l.shutdown.Load() {
			l.logger.Info("shutdown requested, stopping relay loop")
			return nil
		}
		if err := l.Iterate(); err != nil {
			l.logger.Error("relay loop failed", zap.Error(err))
			return err
		}
	}
}

// Iterate runs one wait, dispatch and commit cycle. The returned error is fatal.
func (l *Loop) Iterate() error {
	l.setState(StateWaiting)
	snap := l.registry.Snapshot()
	report, err := l.mux.Wait(snap, l.timeout)
	if err != nil {
		l.observer.WaitFailed()
		return err
	}
	l.observer.Iteration()

	l.setState(StateDispatching)
	for _, r := range report {
		if err := l.dispatch(r); err != nil {
			return err
		}
	}

	l.setState(StateCommitting)
	if err := l.registry.Commit(l.pending); err != nil {
		l.logger.Warn("commit reported errors", zap.Error(err))
	}
	l.observer.Connections(l.registry.Len())

	l.setState(StateIdle)
	return nil
}

func (l *Loop) dispatch(r Readiness) error {
	switch {
	case l.registry.IsWaker(r.Fd):
		if err := l.waker.Drain(); err != nil {
			l.logger.Warn("failed to drain waker", zap.Error(err))
		}
		return nil
	case l.registry.IsListener(r.Fd):
		if r.Errored {
			return fmt.Errorf("%w: error condition on fd %d", ErrListenerFailed, r.Fd)
		}
		return l.accept(r.Fd)
	case l.pending.Removing(r.Fd):
		return nil
	case r.Errored:
		l.drop(r.Fd, "error condition on socket")
		return nil
	case r.Readable:
		l.receive(r.Fd)
		return nil
	}
	return nil
}

// accept takes one connection, or every queued one when draining.
func (l *Loop) accept(listenFd int) error {
	for {
		connFd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return nil
			}
			if isTransientAcceptError(err) {
				l.logger.Warn("accept error", zap.Error(err))
				return nil
			}
			return fmt.Errorf("%w: accept: %w", ErrListenerFailed, err)
		}

		var peer net.Addr
		if addr := sockaddrToTCPAddr(sa); addr != nil {
			peer = addr
		}
		conn := NewConnection(connFd, peer)

		if err := l.registry.Admit(connFd, l.pending.Additions()); err != nil {
			l.logger.Warn("refusing connection",
				zap.String("peer", conn.Peer()), zap.Int("fd", connFd), zap.Error(err))
			if err := unix.Close(connFd); err != nil {
				l.logger.Debug("failed to close refused connection", zap.Error(err))
			}
			l.observer.ConnectionRefused()
		} else {
			l.pending.Add(conn)
			l.observer.ConnectionAccepted()
			l.logger.Info("new connection", zap.String("peer", conn.Peer()), zap.Int("fd", connFd))
		}

		if !l.drain {
			return nil
		}
	}
}

func (l *Loop) receive(fd int) {
	n, err := readOnce(fd, l.buf)
	switch {
	case err != nil && IsTemporaryError(err):
		// spurious wakeup, level triggering reports it again if data shows up
		return
	case err != nil:
		l.drop(fd, "recv error", zap.Error(err))
	case n == 0:
		l.drop(fd, "socket hung up")
	default:
		l.logger.Debug("recv", zap.Int("fd", fd), zap.Int("bytes", n))
		l.broadcast(fd, l.buf[:n])
	}
}

// broadcast writes data to every registered connection except the sender. A failed
// recipient is queued for removal and delivery goes on to the others.
func (l *Loop) broadcast(src int, data []byte) {
	for _, peer := range l.registry.Peers() {
		if peer.Fd == src || l.pending.Removing(peer.Fd) {
			continue
		}
		if err := writeFull(peer.Fd, data, l.flushTimeout); err != nil {
			l.drop(peer.Fd, "send error", zap.Error(err))
			continue
		}
		l.observer.BytesRelayed(len(data))
	}
}

// drop queues fd for removal at commit and logs why, once per connection.
func (l *Loop) drop(fd int, reason string, fields ...zap.Field) {
	if l.pending.Removing(fd) {
		return
	}
	conn, ok := l.registry.Get(fd)
	if !ok {
		return
	}
	l.pending.Remove(fd)
	l.observer.ConnectionClosed()

	fields = append(fields,
		zap.String("peer", conn.Peer()),
		zap.Int("fd", fd),
		zap.Duration("connected", time.Since(conn.JoinedAt)))
	l.logger.Info(reason, fields...)
}

// stop flushes whatever the last pass queued and closes everything.
func (l *Loop) stop() error {
	l.setState(StateStopped)
	errs := l.registry.Commit(l.pending)
	errs = multierr.Append(errs, l.registry.CloseAll())
	l.observer.Connections(l.registry.Len())
	if l.waker != nil {
		errs = multierr.Append(errs, l.waker.Close())
	}
	return errs
}
