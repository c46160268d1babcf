package relay

import "github.com/eapache/queue"

type changeKind int

const (
	changeAdd changeKind = iota
	changeRemove
)

type change struct {
	kind changeKind
	conn *Connection
	fd   int
}

// PendingChanges collects membership changes decided during one dispatch pass.
// Nothing here touches the registry; Registry.Commit applies the batch.
type PendingChanges struct {
	q        *queue.Queue
	adds     int
	removing map[int]struct{}
}

func NewPendingChanges() *PendingChanges {
	return &PendingChanges{
		q:        queue.New(),
		removing: make(map[int]struct{}),
	}
}

func (p *PendingChanges) Add(conn *Connection) {
	p.q.Add(change{kind: changeAdd, conn: conn})
	p.adds++
}

// Remove queues fd for removal. It reports false if fd was already queued.
func (p *PendingChanges) Remove(fd int) bool {
	if _, ok := p.removing[fd]; ok {
		return false
	}
	p.removing[fd] = struct{}{}
	p.q.Add(change{kind: changeRemove, fd: fd})
	return true
}

// Removing reports whether fd is already queued for removal this iteration.
func (p *PendingChanges) Removing(fd int) bool {
	_, ok := p.removing[fd]
	return ok
}

// Additions is the number of connections accepted but not yet committed.
func (p *PendingChanges) Additions() int {
	return p.adds
}

func (p *PendingChanges) Len() int {
	return p.q.Length()
}

// drain empties the batch, splitting it into additions and removals while keeping
// the order each kind was queued in.
func (p *PendingChanges) drain() (adds []*Connection, removes []int) {
	for p.q.Length() > 0 {
		c := p.q.Remove().(change)
		switch c.kind {
		case changeAdd:
			adds = append(adds, c.conn)
		case changeRemove:
			removes = append(removes, c.fd)
		}
	}
	p.adds = 0
	clear(p.removing)
	return adds, removes
}
