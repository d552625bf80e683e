package swim

// handleDatagram decodes one datagram and dispatches it. A decode
// failure is a silent drop with a bumped counter.
func (n *Node) handleDatagram(data []byte) {
	msg, err := n.codec.Decode(data)
	if err != nil {
		n.metrics.RecordDecodeFailure()
		return
	}

	switch msg.Kind {
	case KindPing:
		n.handlePing(msg)
	case KindAck:
		n.handleAck(msg)
	case KindPingReq:
		n.handlePingReq(msg)
	default:
		n.metrics.RecordDecodeFailure()
	}
}

// handlePing implements the protocol's join mechanism: any Ping from an
// unknown endpoint inserts it before Acking.
func (n *Node) handlePing(msg *Message) {
	now := n.clock.Now()
	n.table.InsertOrObserve(msg.From, now)
	n.send(msg.From, Message{Kind: KindAck, ID: msg.ID, From: n.cfg.Self})
}

// handleAck resolves a pending direct probe, a pending indirect probe,
// or a relay forward, in that order. An id matching none of the three is
// a late or unknown Ack and is dropped silently.
func (n *Node) handleAck(msg *Message) {
	now := n.clock.Now()

	if dp, ok := n.coord.direct[msg.ID]; ok {
		delete(n.coord.direct, msg.ID)
		n.metrics.RecordRTT(dp.target, now.Sub(dp.sentAt))
		n.table.MarkAlive(dp.target, now)
		return
	}

	if ip, ok := n.coord.indirect[msg.ID]; ok {
		delete(n.coord.indirect, msg.ID)
		n.table.MarkAlive(ip.target, now)
		return
	}

	if rf, ok := n.coord.relays[msg.ID]; ok {
		delete(n.coord.relays, msg.ID)
		if now.Before(rf.deadline) {
			n.send(rf.requester, *msg)
		}
		return
	}
}

// handlePingReq implements the relay side of an indirect probe: if this
// node itself is the named target, it is equivalent to a direct Ping and
// gets a direct Ack; otherwise this node pings the target on the
// requester's behalf and records bookkeeping so a later Ack from the
// target can be forwarded back.
func (n *Node) handlePingReq(msg *Message) {
	now := n.clock.Now()
	n.table.InsertOrObserve(msg.From, now)

	if msg.Target == n.cfg.Self {
		n.send(msg.From, Message{Kind: KindAck, ID: msg.ID, From: n.cfg.Self})
		return
	}

	n.coord.relays[msg.ID] = &relayForward{requester: msg.From, deadline: now.Add(n.cfg.ProbeTimeout)}
	n.send(msg.Target, Message{Kind: KindPing, ID: msg.ID, From: n.cfg.Self})
}
