package transport

import (
	"log"
	"net/netip"

	"github.com/dreamware/lettermatch/internal/storage"
	"github.com/dreamware/lettermatch/internal/wire"
)

func (t *Transport) handleDatagram(b []byte, src netip.AddrPort) {
	d, err := wire.Decode(b)
	if err != nil {
		log.Printf("%s: dropping datagram from %v: %v", t.name, src, err)
		return
	}
	src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())

	switch d := d.(type) {
	case *wire.OneOffDatagram:
		t.handleOneOff(d.Message, src)
	case *wire.FrameDatagram:
		t.handleFrame(d.Frame, src)
	case *wire.HeartbeatDatagram:
		t.handleHeartbeat(d.Frame, src)
	case *wire.NackDatagram:
		t.handleNack(d, src)
	default:
		log.Printf("%s: unhandled datagram %T from %v", t.name, d, src)
	}
}

func (t *Transport) handleOneOff(msg wire.Message, src netip.AddrPort) {
	if msg.Sender() == t.id {
		return
	}
	t.queue.push(Delivery{From: src, Seq: wire.OneOffSeq, Message: msg})
}

func (t *Transport) handleFrame(f wire.Frame, src netip.AddrPort) {
	// Our own stream lives in the sent-log only. Looped back or relayed
	// copies may predate a Reset.
	if f.Sender == t.id {
		return
	}
	if f.Payload == nil {
		log.Printf("%s: ordered frame %d from %v without payload", t.name, f.Seq, src)
		return
	}
	origin := src.Addr()
	if f.Relayed {
		origin = f.OriginalSender.Unmap()
	}
	s := source{origin: origin, id: f.Sender}

	t.mu.Lock()
	pass := newNackPass()

	t.received.PutIfAbsent(storage.Key{Sender: f.Sender, Seq: f.Seq}, f.Payload)

	cur := t.cursorLocked(s)
	switch {
	case f.Seq == cur+1:
		t.deliverLocked(s, f)
	case f.Seq > cur+1:
		hk := heldKey{source: s, seq: f.Seq}
		if _, dup := t.holdback[hk]; !dup {
			t.holdback[hk] = f
		}
		pass.request(s, f.Seq, cur)
	default:
		// duplicate
	}

	t.checkAcksLocked(f.Acks, pass)
	t.sweepLocked()
	nacks := t.admitNacksLocked(pass)
	t.mu.Unlock()

	t.sendNacks(nacks)
}

func (t *Transport) handleHeartbeat(f wire.Frame, src netip.AddrPort) {
	if f.Sender == t.id {
		return
	}
	origin := src.Addr()
	if f.Relayed {
		origin = f.OriginalSender.Unmap()
	}
	s := source{origin: origin, id: f.Sender}

	t.mu.Lock()
	pass := newNackPass()
	cur := t.deliveredLocked(s)
	if c, ok := t.cursors[s]; ok {
		c.touched = t.now()
	}
	if f.Seq > cur {
		pass.request(s, f.Seq, cur)
	}
	t.checkAcksLocked(f.Acks, pass)
	nacks := t.admitNacksLocked(pass)
	t.mu.Unlock()

	t.sendNacks(nacks)

	if t.onHeartbeat != nil {
		t.onHeartbeat(Signal{Origin: origin, Sender: f.Sender, Seq: f.Seq})
	}
}

// checkAcksLocked requests every stream a peer claims to be further along on.
func (t *Transport) checkAcksLocked(acks []wire.Ack, pass *nackPass) {
	for _, a := range acks {
		if a.ID == t.id {
			continue
		}
		s := source{origin: a.Addr.Unmap(), id: a.ID}
		if cur := t.deliveredLocked(s); a.Seq > cur {
			pass.request(s, a.Seq, cur)
		}
	}
}

// sweepLocked drains the holdback set until no entry is deliverable.
func (t *Transport) sweepLocked() {
	for progressed := true; progressed; {
		progressed = false
		for k, f := range t.holdback {
			cur := t.deliveredLocked(k.source)
			switch {
			case k.seq == cur+1:
				delete(t.holdback, k)
				t.deliverLocked(k.source, f)
				progressed = true
			case k.seq <= cur:
				delete(t.holdback, k)
			}
		}
	}
}

// cursorLocked returns the last delivered sequence of s, creating the cursor
// on first contact.
func (t *Transport) cursorLocked(s source) int32 {
	c, ok := t.cursors[s]
	if !ok {
		c = &cursor{}
		t.cursors[s] = c
	}
	c.touched = t.now()
	return c.seq
}

// deliveredLocked is cursorLocked without side effects. Unknown streams are at 0.
func (t *Transport) deliveredLocked(s source) int32 {
	if c, ok := t.cursors[s]; ok {
		return c.seq
	}
	return 0
}

func (t *Transport) deliverLocked(s source, f wire.Frame) {
	c := t.cursors[s]
	c.seq = f.Seq
	c.touched = t.now()
	delete(t.pending, s)
	t.queue.push(Delivery{
		From:    netip.AddrPortFrom(s.origin, t.port),
		Seq:     f.Seq,
		Message: f.Payload,
	})
}
