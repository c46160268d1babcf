//go:build linux
// +build linux

package relay

import (
	"fmt"
	"github.com/fzft/pollrelay/config"
	"golang.org/x/sys/unix"
	"time"
)

// BlockForever makes Wait block until a descriptor is ready.
const BlockForever time.Duration = -1

// Readiness is one entry of a Report.
type Readiness struct {
	Fd       int
	Readable bool
	Errored  bool
}

// Report lists the ready members of a snapshot in ascending descriptor order.
type Report []Readiness

// Multiplexer waits for read readiness on a snapshot. Both implementations are level
// triggered and rebuild their interest set from the snapshot on every call.
type Multiplexer interface {
	Wait(snap Snapshot, timeout time.Duration) (Report, error)
	Strategy() config.Strategy
}

// NewMultiplexer builds the multiplexer for a strategy.
func NewMultiplexer(strategy config.Strategy) (Multiplexer, error) {
	switch strategy {
	case config.StrategyDynamic:
		return NewPollMultiplexer(), nil
	case config.StrategyBitset:
		return NewSelectMultiplexer(), nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", config.ErrInvalidConfig, strategy)
	}
}

// retryWait calls wait until it returns something other than EINTR, shrinking the
// timeout by the time already spent.
func retryWait(timeout time.Duration, wait func(time.Duration) (int, error)) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		n, err := wait(timeout)
		if err != unix.EINTR {
			return n, err
		}
		if timeout > 0 {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return 0, nil
			}
		}
	}
}
