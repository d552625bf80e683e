package swim

import (
	"math/rand"
	"net/netip"
	"time"
)

func deterministicRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// fakeConn is a minimal udpConn used by handler- and node-level tests
// that exercise protocol logic without opening a real socket.
type fakeConn struct {
	sent   []sentDatagram
	closed bool
}

type sentDatagram struct {
	To   netip.AddrPort
	Data []byte
}

func (f *fakeConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, fakeTimeout{}
}

func (f *fakeConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	f.sent = append(f.sent, sentDatagram{To: addr, Data: append([]byte(nil), b...)})
	return len(b), nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "fake timeout" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }

// fakeClock gives tests full control over the Node's notion of "now".
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// newTestNode builds a Node wired to a fakeConn and fakeClock, with a
// deterministic rng, ready for handler- and tick-level assertions.
func newTestNode(self Endpoint, seedRNG int64) (*Node, *fakeConn, *fakeClock) {
	conn := &fakeConn{}
	fc := &fakeClock{now: time.Unix(0, 0)}
	cfg := DefaultConfig()
	cfg.Self = self

	n := NewNode(cfg, conn,
		WithClock(fc),
		WithRand(deterministicRand(seedRNG)),
	)
	n.lastTick = fc.now
	return n, conn, fc
}
