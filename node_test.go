package swim

import (
	"testing"
	"time"
)

func TestTickStartsOneDirectProbe(t *testing.T) {
	self := mustEndpoint(t, "127.0.0.1:1")
	peer := mustEndpoint(t, "127.0.0.1:2")
	n, conn, fc := newTestNode(self, 1)

	n.table.InsertOrObserve(peer, fc.now)
	n.tick(fc.now)

	if len(conn.sent) != 1 {
		t.Fatalf("expected exactly one Ping sent, got %d", len(conn.sent))
	}
	if len(n.coord.direct) != 1 {
		t.Fatalf("expected one pending direct probe, got %d", len(n.coord.direct))
	}
}

func TestTickSkipsTargetsWithPendingProbe(t *testing.T) {
	self := mustEndpoint(t, "127.0.0.1:1")
	peer := mustEndpoint(t, "127.0.0.1:2")
	n, conn, fc := newTestNode(self, 1)

	n.table.InsertOrObserve(peer, fc.now)
	n.tick(fc.now)
	conn.sent = nil

	n.tick(fc.now)
	if len(conn.sent) != 0 {
		t.Fatalf("expected tick to skip a target with a pending probe, got %d sends", len(conn.sent))
	}
}

func TestExpireDirectWithNoRelaysSuspectsImmediately(t *testing.T) {
	self := mustEndpoint(t, "127.0.0.1:1")
	peer := mustEndpoint(t, "127.0.0.1:2")
	n, _, fc := newTestNode(self, 1)

	n.table.InsertOrObserve(peer, fc.now)
	n.startDirectProbe(peer, fc.now)
	fc.Advance(n.cfg.ProbeTimeout)

	n.expireDirect(1, fc.now)

	m, _ := n.table.Get(peer)
	if m.State != Suspect {
		t.Fatalf("expected peer Suspect with no relays available, got %s", m.State)
	}
}

func TestExpireDirectWithRelaysFansOutIndirectProbes(t *testing.T) {
	self := mustEndpoint(t, "127.0.0.1:1")
	target := mustEndpoint(t, "127.0.0.1:2")
	n, conn, fc := newTestNode(self, 1)

	relays := []Endpoint{
		mustEndpoint(t, "127.0.0.1:3"),
		mustEndpoint(t, "127.0.0.1:4"),
		mustEndpoint(t, "127.0.0.1:5"),
	}
	for _, r := range relays {
		n.table.InsertOrObserve(r, fc.now)
	}
	n.table.InsertOrObserve(target, fc.now)
	n.startDirectProbe(target, fc.now)
	conn.sent = nil
	fc.Advance(n.cfg.ProbeTimeout)

	n.expireDirect(1, fc.now)

	m, _ := n.table.Get(target)
	if m.State != Active {
		t.Fatalf("target should remain Active while indirect probes are outstanding, got %s", m.State)
	}
	if len(conn.sent) == 0 || len(conn.sent) > n.cfg.IndirectProbeCount {
		t.Fatalf("expected between 1 and %d PingReq sends, got %d", n.cfg.IndirectProbeCount, len(conn.sent))
	}

	var c BinaryCodec
	for _, s := range conn.sent {
		msg, err := c.Decode(s.Data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Kind != KindPingReq || msg.Target != target {
			t.Fatalf("unexpected relay message %+v", msg)
		}
	}
}

func TestExpireIndirectSuspectsTarget(t *testing.T) {
	self := mustEndpoint(t, "127.0.0.1:1")
	target := mustEndpoint(t, "127.0.0.1:2")
	relay := mustEndpoint(t, "127.0.0.1:3")
	n, _, fc := newTestNode(self, 1)

	n.table.InsertOrObserve(target, fc.now)
	n.coord.indirect[1] = &indirectProbe{target: target, relays: []Endpoint{relay}, deadline: fc.now}

	n.expireIndirect(1, fc.now)

	m, _ := n.table.Get(target)
	if m.State != Suspect {
		t.Fatalf("expected target Suspect after indirect timeout, got %s", m.State)
	}
}

func TestAckDuringIndirectWindowWinsOverExpiry(t *testing.T) {
	self := mustEndpoint(t, "127.0.0.1:1")
	target := mustEndpoint(t, "127.0.0.1:2")
	relay := mustEndpoint(t, "127.0.0.1:3")
	n, _, fc := newTestNode(self, 1)

	n.table.InsertOrObserve(target, fc.now)
	n.table.InsertOrObserve(relay, fc.now)
	n.startDirectProbe(target, fc.now)
	fc.Advance(n.cfg.ProbeTimeout)
	n.expireDirect(1, fc.now)

	var indirectID uint64
	for id := range n.coord.indirect {
		indirectID = id
	}

	n.handleAck(&Message{Kind: KindAck, ID: indirectID, From: target})

	n.expireIndirect(indirectID, fc.now)

	m, _ := n.table.Get(target)
	if m.State != Active {
		t.Fatalf("an Ack that resolves the indirect probe must win over a later expiry, got %s", m.State)
	}
}

func TestSuspicionTimerEventuallyMarksDead(t *testing.T) {
	self := mustEndpoint(t, "127.0.0.1:1")
	peer := mustEndpoint(t, "127.0.0.1:2")
	n, _, fc := newTestNode(self, 1)

	n.table.InsertOrObserve(peer, fc.now)
	n.suspect(peer, fc.now)

	fc.Advance(n.cfg.SuspectTimeout)
	n.processExpirations(fc.now)

	m, _ := n.table.Get(peer)
	if m.State != Dead {
		t.Fatalf("expected peer Dead once the suspicion deadline elapsed, got %s", m.State)
	}
}

func TestSuspicionTimerIsStaleIfAlreadyRefuted(t *testing.T) {
	self := mustEndpoint(t, "127.0.0.1:1")
	peer := mustEndpoint(t, "127.0.0.1:2")
	n, _, fc := newTestNode(self, 1)

	n.table.InsertOrObserve(peer, fc.now)
	n.suspect(peer, fc.now)
	n.table.MarkAlive(peer, fc.now.Add(time.Millisecond))

	fc.Advance(n.cfg.SuspectTimeout)
	n.processExpirations(fc.now)

	m, _ := n.table.Get(peer)
	if m.State != Active {
		t.Fatalf("a stale suspicion timer must not kill a member refuted in the meantime, got %s", m.State)
	}
}

func TestNextDeadlinePrefersEarlierTimer(t *testing.T) {
	self := mustEndpoint(t, "127.0.0.1:1")
	n, _, fc := newTestNode(self, 1)

	soon := fc.now.Add(10 * time.Millisecond)
	n.coord.pushTimer(timerEntry{deadline: soon, kind: timerDirect, id: 1})

	got := n.nextDeadline()
	if got != soon {
		t.Fatalf("nextDeadline = %v, want %v", got, soon)
	}
}

func TestNextDeadlineFallsBackToTick(t *testing.T) {
	self := mustEndpoint(t, "127.0.0.1:1")
	n, _, fc := newTestNode(self, 1)

	got := n.nextDeadline()
	want := fc.now.Add(n.cfg.TickInterval)
	if got != want {
		t.Fatalf("nextDeadline = %v, want %v", got, want)
	}
}
