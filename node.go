package swim

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"time"
)

// Config holds the resolved runtime parameters a Node needs. Everything
// that touches flags, YAML, or the environment lives one layer up in the
// config package; by the time a Config reaches here it is plain values.
type Config struct {
	Self Endpoint
	Seed Endpoint // zero value means "no seed, start alone"

	TickInterval       time.Duration
	ProbeTimeout       time.Duration
	SuspectTimeout     time.Duration
	IndirectProbeCount int

	// AdaptiveTimeout, when true, bounds a peer's effective probe
	// timeout below by mean+4*jitter once a sample exists, per
	// SPEC_FULL's Open Question decision. ProbeTimeout remains the
	// floor and ceiling is TickInterval/3, or ProbeTimeout itself when
	// that is larger.
	AdaptiveTimeout bool
}

// DefaultConfig returns the protocol's default constants.
func DefaultConfig() Config {
	return Config{
		TickInterval:       time.Second,
		ProbeTimeout:       500 * time.Millisecond,
		SuspectTimeout:     3 * time.Second,
		IndirectProbeCount: 3,
	}
}

// udpConn is the subset of *net.UDPConn the event loop needs. It exists
// so tests can substitute a simulated transport without a real socket.
type udpConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// clock abstracts time.Now so tests can drive the event loop with a
// synthetic clock instead of wall time.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Field is a structured logging key/value pair. It exists so this package
// can log structured fields without importing zap directly; internal/
// swimlog adapts Field to zap.Field.
type Field struct {
	Key   string
	Value interface{}
}

// F constructs a Field.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Logger is the narrow logging surface Node needs, satisfied by
// internal/swimlog.Logger. Kept as an interface here so this package
// never imports the logging package directly.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}

// Node runs the SWIM event loop. A single
// goroutine calls Run; no other goroutine may touch the table,
// coordinator, or metrics concurrently except through the exported
// snapshot methods, which take their own locks.
type Node struct {
	cfg Config

	conn   udpConn
	codec  Codec
	rng    *rand.Rand
	clock  clock
	logger Logger

	table   *Table
	coord   *probeCoordinator
	metrics *Metrics

	lastTick time.Time
	stopCh   chan struct{}
}

// NewNode constructs a Node bound to conn. codec defaults to BinaryCodec
// if nil. rng defaults to a time-seeded source if nil.
func NewNode(cfg Config, conn udpConn, opts ...NodeOption) *Node {
	n := &Node{
		cfg:     cfg,
		conn:    conn,
		codec:   BinaryCodec{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		clock:   realClock{},
		logger:  nopLogger{},
		table:   NewTable(cfg.Self),
		coord:   newProbeCoordinator(),
		metrics: NewMetrics(time.Now()),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NodeOption customizes a Node at construction time.
type NodeOption func(*Node)

func WithCodec(c Codec) NodeOption      { return func(n *Node) { n.codec = c } }
func WithRand(r *rand.Rand) NodeOption  { return func(n *Node) { n.rng = r } }
func WithClock(c clock) NodeOption      { return func(n *Node) { n.clock = c } }
func WithLogger(l Logger) NodeOption    { return func(n *Node) { n.logger = l } }
func WithMetrics(m *Metrics) NodeOption { return func(n *Node) { n.metrics = m } }

// Table exposes the member table for read-only inspection (CLI status
// output, tests, telemetry).
func (n *Node) Table() *Table { return n.table }

// Metrics exposes the metrics aggregator for read-only inspection.
func (n *Node) Metrics() *Metrics { return n.metrics }

// Listen opens a UDP socket bound to self and returns a Node ready to
// Run. Bind failure is fatal.
func Listen(cfg Config, opts ...NodeOption) (*Node, error) {
	udpAddr := net.UDPAddrFromAddrPort(cfg.Self.AddrPort())
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("swim: bind %s: %w", cfg.Self, err)
	}
	return NewNode(cfg, conn, opts...), nil
}

// Stop closes the underlying connection and signals Run to return. Safe
// to call from a different goroutine than the one running Run.
func (n *Node) Stop() error {
	select {
	case <-n.stopCh:
	default:
		close(n.stopCh)
	}
	return n.conn.Close()
}

// Run drives the event loop until Stop is called or an unrecoverable
// error occurs. It blocks.
func (n *Node) Run() error {
	now := n.clock.Now()
	n.lastTick = now

	if n.cfg.Seed.IsValid() {
		n.table.InsertOrObserve(n.cfg.Seed, now)
		n.startDirectProbe(n.cfg.Seed, now)
	}

	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-n.stopCh:
			return nil
		default:
		}

		deadline := n.nextDeadline()
		if err := n.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("swim: set read deadline: %w", err)
		}

		stopped, err := n.drainSocket(buf)
		if stopped {
			return nil
		}
		if err != nil {
			n.logger.Warn("read error", F("error", err))
		}

		now = n.clock.Now()
		n.processExpirations(now)

		if !now.Before(n.lastTick.Add(n.cfg.TickInterval)) {
			n.tick(now)
			n.lastTick = n.lastTick.Add(n.cfg.TickInterval)
		}
	}
}

// nextDeadline computes min(last-tick + TICK_INTERVAL, earliest pending
// timer deadline).
func (n *Node) nextDeadline() time.Time {
	next := n.lastTick.Add(n.cfg.TickInterval)
	if d, ok := n.coord.peekDeadline(); ok && d.Before(next) {
		next = d
	}
	return next
}

// drainSocket reads and handles every datagram currently available
// without blocking past the deadline already set by the caller. The
// first read may block up to that deadline; subsequent reads use an
// already-elapsed deadline so they return immediately once the socket
// has no more buffered datagrams.
func (n *Node) drainSocket(buf []byte) (stopped bool, err error) {
	first := true
	for {
		nRead, _, rerr := n.conn.ReadFromUDPAddrPort(buf)
		if rerr != nil {
			if errors.Is(rerr, net.ErrClosed) {
				return true, nil
			}
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				return false, nil
			}
			return false, rerr
		}

		n.handleDatagram(buf[:nRead])

		if first {
			first = false
			if err := n.conn.SetReadDeadline(n.clock.Now()); err != nil {
				return false, err
			}
		}
	}
}

// processExpirations pops and acts on every timer entry whose deadline
// has already passed, then prunes stale relay bookkeeping.
func (n *Node) processExpirations(now time.Time) {
	for {
		entry, ok := n.coord.popExpired(now)
		if !ok {
			break
		}
		switch entry.kind {
		case timerDirect:
			n.expireDirect(entry.id, now)
		case timerIndirect:
			n.expireIndirect(entry.id, now)
		case timerSuspicion:
			if m, ok := n.table.Get(entry.endpoint); ok && m.State == Suspect {
				n.table.MarkDead(entry.endpoint, now)
				if m.State != Dead {
					break
				}
				n.logger.Info("member declared dead", F("endpoint", entry.endpoint.String()))
				n.metrics.ForgetPeer(entry.endpoint)
			}
		}
	}
	n.coord.pruneRelays(now)
}

// tick runs once per TICK_INTERVAL: pick one random live, non-probed
// target and start a direct probe against it.
func (n *Node) tick(now time.Time) {
	exclude := map[Endpoint]bool{n.cfg.Self: true}
	for _, dp := range n.coord.direct {
		exclude[dp.target] = true
	}

	targets := n.table.RandomLiveTargets(n.rng, exclude, 1)
	if len(targets) == 1 {
		n.startDirectProbe(targets[0], now)
	}

	n.logger.Debug("tick",
		F("active", n.table.CountByState(Active)),
		F("suspect", n.table.CountByState(Suspect)),
		F("dead", n.table.CountByState(Dead)))
}

// startDirectProbe sends a Ping to target and schedules its timeout.
func (n *Node) startDirectProbe(target Endpoint, now time.Time) {
	id := n.coord.nextCorrelationID()
	timeout := n.probeTimeoutFor(target)
	deadline := now.Add(timeout)

	n.coord.direct[id] = &directProbe{target: target, sentAt: now, deadline: deadline}
	n.coord.pushTimer(timerEntry{deadline: deadline, kind: timerDirect, id: id})
	n.metrics.RecordPingSent()
	n.send(target, Message{Kind: KindPing, ID: id, From: n.cfg.Self})
}

// probeTimeoutFor returns the configured PROBE_TIMEOUT, or, when
// AdaptiveTimeout is set, an RTT-derived bound for target.
func (n *Node) probeTimeoutFor(target Endpoint) time.Duration {
	if !n.cfg.AdaptiveTimeout {
		return n.cfg.ProbeTimeout
	}
	mean, jitter, ok := n.metrics.PeerRTT(target)
	if !ok {
		return n.cfg.ProbeTimeout
	}
	r := RTT{}
	r.mean, r.jitter, r.samples = mean, jitter, 1
	ceiling := n.cfg.TickInterval / 3
	if ceiling < n.cfg.ProbeTimeout {
		ceiling = n.cfg.ProbeTimeout
	}
	return r.Bound(n.cfg.ProbeTimeout, ceiling)
}

// expireDirect handles a direct probe's deadline: fan out indirect
// probes through up to INDIRECT_PROBE_COUNT relays, or, if none are
// available, suspect the target immediately.
func (n *Node) expireDirect(id uint64, now time.Time) {
	dp, ok := n.coord.direct[id]
	if !ok {
		return
	}
	delete(n.coord.direct, id)
	n.metrics.RecordTimeout()

	exclude := map[Endpoint]bool{n.cfg.Self: true, dp.target: true}
	relays := n.table.RandomLiveTargets(n.rng, exclude, n.cfg.IndirectProbeCount)

	if len(relays) == 0 {
		n.suspect(dp.target, now)
		return
	}

	indirectID := n.coord.nextCorrelationID()
	deadline := now.Add(n.cfg.ProbeTimeout)
	n.coord.indirect[indirectID] = &indirectProbe{target: dp.target, relays: relays, deadline: deadline}
	n.coord.pushTimer(timerEntry{deadline: deadline, kind: timerIndirect, id: indirectID})

	for _, relay := range relays {
		n.send(relay, Message{Kind: KindPingReq, ID: indirectID, From: n.cfg.Self, Target: dp.target})
	}
}

// expireIndirect handles an indirect probe's deadline: no relay's
// forwarded Ack arrived in time, so the target becomes Suspect.
func (n *Node) expireIndirect(id uint64, now time.Time) {
	ip, ok := n.coord.indirect[id]
	if !ok {
		return
	}
	delete(n.coord.indirect, id)
	n.metrics.RecordTimeout()
	n.suspect(ip.target, now)
}

// suspect marks target Suspect and schedules its suspicion timer.
func (n *Node) suspect(target Endpoint, now time.Time) {
	m, ok := n.table.Get(target)
	if !ok || m.State != Active {
		return
	}
	n.table.MarkSuspect(target, now, n.cfg.SuspectTimeout)
	n.logger.Info("member suspected", F("endpoint", target.String()))
	n.coord.pushTimer(timerEntry{deadline: m.SuspicionDeadline, kind: timerSuspicion, endpoint: target})
}

// send encodes and writes msg to to. A send failure is
// logged but never blocks or aborts the probe it belongs to: the
// corresponding timeout still fires on schedule.
func (n *Node) send(to Endpoint, msg Message) {
	data, err := n.codec.Encode(&msg)
	if err != nil {
		n.logger.Error("encode message failed", F("message", msg.String()), F("error", err))
		return
	}
	if _, err := n.conn.WriteToUDPAddrPort(data, to.AddrPort()); err != nil {
		n.logger.Warn("send failed", F("message", msg.String()), F("to", to.String()), F("error", err))
	}
}
