package relay

import (
	"net"
	"time"
)

// Connection is one accepted peer. It is never modified after accept.
type Connection struct {
	Fd       int
	PeerAddr net.Addr
	JoinedAt time.Time
}

func NewConnection(fd int, peer net.Addr) *Connection {
	return &Connection{
		Fd:       fd,
		PeerAddr: peer,
		JoinedAt: time.Now(),
	}
}

// Peer returns the printable peer address, "unknown" when accept did not report one.
func (c *Connection) Peer() string {
	if c.PeerAddr == nil {
		return "unknown"
	}
	return c.PeerAddr.String()
}
