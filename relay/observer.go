package relay

// Observer receives loop events. Implementations must be cheap and must not block,
// they are called from the loop goroutine.
type Observer interface {
	ConnectionAccepted()
	ConnectionRefused()
	ConnectionClosed()
	// Connections reports the registered peer count after every commit.
	Connections(n int)
	BytesRelayed(n int)
	Iteration()
	WaitFailed()
}

type nopObserver struct{}

func (nopObserver) ConnectionAccepted() {}
func (nopObserver) ConnectionRefused()  {}
func (nopObserver) ConnectionClosed()   {}
func (nopObserver) Connections(int)     {}
func (nopObserver) BytesRelayed(int)    {}
func (nopObserver) Iteration()          {}
func (nopObserver) WaitFailed()         {}
