// Package simnet is a simulated, lossy UDP fabric for multi-node
// protocol tests, adapted from mikepb-go-swim's sim_router.go and
// sim_transport.go, but a simnet.Conn satisfies the same blocking-deadline
// read/write shape a real *net.UDPConn does, so a swim.Node can Run()
// against it unchanged.
package simnet

import (
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"time"
)

// errTimeout satisfies net.Error the way a real deadline-exceeded UDP
// read does, so Node's drainSocket loop treats it identically.
type errTimeout struct{}

func (errTimeout) Error() string   { return "simnet: i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

type datagram struct {
	from netip.AddrPort
	data []byte
}

// DropFunc decides whether a datagram from -> to should be silently
// dropped, letting tests model partitions or one-way packet loss (the
// 8's "drop every Ping from A to B" scenario).
type DropFunc func(from, to netip.AddrPort) bool

// Router delivers datagrams between registered Conns with an injected
// delay and jitter, mirroring sim_router.go's SendTo.
type Router struct {
	mu    sync.Mutex
	conns map[netip.AddrPort]*Conn
	rng   *rand.Rand

	meanDelay time.Duration
	jitter    time.Duration
	drop      DropFunc
}

// NewRouter returns a Router that delivers datagrams after meanDelay,
// perturbed by normally distributed noise with standard deviation jitter
// (negative totals are clamped to zero), using rng as the
// source of both the jitter and any DropFunc a test wants to drive
// deterministically.
func NewRouter(rng *rand.Rand, meanDelay, jitter time.Duration) *Router {
	return &Router{
		conns:     make(map[netip.AddrPort]*Conn),
		rng:       rng,
		meanDelay: meanDelay,
		jitter:    jitter,
	}
}

// SetDropFunc installs f as the drop predicate; nil disables dropping.
func (r *Router) SetDropFunc(f DropFunc) {
	r.mu.Lock()
	r.drop = f
	r.mu.Unlock()
}

// NewConn registers and returns a new simulated socket bound to addr.
func (r *Router) NewConn(addr netip.AddrPort) *Conn {
	c := &Conn{
		addr:   addr,
		router: r,
		inbox:  make(chan datagram, 256),
		closed: make(chan struct{}),
	}
	r.mu.Lock()
	r.conns[addr] = c
	r.mu.Unlock()
	return c
}

// Remove unregisters addr, as if the socket had been closed; any
// in-flight deliveries to it are dropped.
func (r *Router) Remove(addr netip.AddrPort) {
	r.mu.Lock()
	delete(r.conns, addr)
	r.mu.Unlock()
}

func (r *Router) deliver(from, to netip.AddrPort, data []byte) {
	r.mu.Lock()
	dst, ok := r.conns[to]
	drop := ok && r.drop != nil && r.drop(from, to)
	delay := r.meanDelay + time.Duration(r.rng.NormFloat64()*float64(r.jitter))
	r.mu.Unlock()

	if !ok || drop {
		return
	}
	if delay < 0 {
		delay = 0
	}

	time.AfterFunc(delay, func() {
		r.mu.Lock()
		registered := r.conns[to] == dst
		r.mu.Unlock()
		if !registered {
			return
		}
		select {
		case dst.inbox <- datagram{from: from, data: data}:
		default:
			// Inbox full: drop silently, the same as a saturated kernel
			// socket buffer would.
		}
	})
}

// Conn is a simulated socket satisfying the same subset of *net.UDPConn
// swim.Node's event loop uses.
type Conn struct {
	addr   netip.AddrPort
	router *Router
	inbox  chan datagram

	mu           sync.Mutex
	readDeadline time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// ReadFromUDPAddrPort blocks until a datagram arrives, the read deadline
// elapses, or the conn is closed.
func (c *Conn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, netip.AddrPort{}, errTimeout{}
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case dg := <-c.inbox:
		n := copy(b, dg.data)
		return n, dg.from, nil
	case <-timeoutCh:
		return 0, netip.AddrPort{}, errTimeout{}
	case <-c.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

// WriteToUDPAddrPort hands data to the router for delayed delivery.
func (c *Conn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	c.router.deliver(c.addr, addr, append([]byte(nil), b...))
	return len(b), nil
}

// SetReadDeadline sets the deadline the next ReadFromUDPAddrPort call
// blocks until.
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

// Close unblocks any pending read with net.ErrClosed and unregisters the
// conn from its router.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.router.Remove(c.addr)
	})
	return nil
}

// AddrPort returns the conn's bound address.
func (c *Conn) AddrPort() netip.AddrPort { return c.addr }
