package terminal

import (
	"net"
	"strconv"
	"sync"
)

// Guard serializes callers per terminal address. The wire protocol has no
// multiplexing, so the API and the poller take the same lock before talking
// to a device. An address is forgotten once nobody holds or waits for it.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*guardEntry
}

type guardEntry struct {
	mu   sync.Mutex
	refs int
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*guardEntry)}
}

// Lock blocks until addr is free and returns the matching unlock.
func (g *Guard) Lock(addr string) func() {
	g.mu.Lock()
	e, ok := g.locks[addr]
	if !ok {
		e = &guardEntry{}
		g.locks[addr] = e
	}
	e.refs++
	g.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		g.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(g.locks, addr)
		}
		g.mu.Unlock()
	}
}

// Addr is the guard key for a terminal. A zero port means DefaultPort.
func Addr(host string, port int) string {
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
