package transport

import (
	"errors"
	"fmt"
	"log"
	"net/netip"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/storage"
	"github.com/dreamware/lettermatch/internal/wire"
)

// nackPass collects the gaps found while handling one datagram. Each stream
// is requested at most once per pass, with the widest range seen.
type nackPass struct {
	order []source
	reqs  map[source]*wire.NackDatagram
}

func newNackPass() *nackPass {
	return &nackPass{reqs: make(map[source]*wire.NackDatagram)}
}

func (p *nackPass) request(s source, have, expect int32) {
	if r, ok := p.reqs[s]; ok {
		r.Have = max(r.Have, have)
		r.Expect = min(r.Expect, expect)
		return
	}
	p.order = append(p.order, s)
	p.reqs[s] = &wire.NackDatagram{Target: s.origin, ID: s.id, Have: have, Expect: expect}
}

// admitNacksLocked drops requests for a gap that is already outstanding and
// records the rest as pending. A gap is identified by the cursor it starts
// at; the pending entry goes away as soon as the stream delivers again.
func (t *Transport) admitNacksLocked(p *nackPass) []*wire.NackDatagram {
	if len(p.order) == 0 {
		return nil
	}

	now := t.now()
	out := make([]*wire.NackDatagram, 0, len(p.order))
	for _, s := range p.order {
		r := p.reqs[s]
		if prev, ok := t.pending[s]; ok && r.Expect == prev.expect && now.Sub(prev.sent) < t.nackRetry {
			continue
		}
		t.pending[s] = pendingNack{expect: r.Expect, have: r.Have, sent: now}
		out = append(out, r)
	}
	return out
}

// sendNacks multicasts the requests to the group, or unicasts them to the
// stream's origin when not in a group.
func (t *Transport) sendNacks(nacks []*wire.NackDatagram) {
	if len(nacks) == 0 {
		return
	}
	group := t.Group()

	for _, n := range nacks {
		b, err := wire.Encode(n)
		if err != nil {
			log.Printf("%s: encode nack for %s: %v", t.name, n.ID.Short(), err)
			continue
		}
		dest := netip.AddrPortFrom(n.Target, t.port)
		if group.IsValid() {
			dest = netip.AddrPortFrom(group, t.port)
		}
		log.Printf("%s: nack %s@%v have=%d expect=%d", t.name, n.ID.Short(), n.Target, n.Have, n.Expect)
		if err := t.conn.WriteTo(b, dest); err != nil {
			log.Printf("%s: send nack: %v", t.name, err)
		}
	}
}

// handleNack replays Expect+1..Have of the named stream to the requester. The
// original sender serves from its sent-log, everybody else relays from the
// received-log.
func (t *Transport) handleNack(n *wire.NackDatagram, src netip.AddrPort) {
	expect := max(n.Expect, 0)
	if n.Have <= expect {
		return
	}
	// int64 so a Have of MaxInt32 cannot wrap the loop counter.
	first, last := int64(expect)+1, min(int64(n.Have), int64(expect)+maxReplay)
	original := n.ID == t.id

	var replies [][]byte
	t.mu.Lock()
	if t.ownEchoLocked(n) {
		t.mu.Unlock()
		return
	}
	for i := first; i <= last; i++ {
		seq := int32(i)
		msg, err := t.replayPayloadLocked(n.ID, seq, original)
		if err != nil {
			if original {
				log.Printf("%s: %v", t.name, err)
			}
			continue
		}
		f := wire.Frame{Seq: seq, Sender: n.ID, Payload: msg}
		if !original {
			f.Relayed = true
			f.OriginalSender = n.Target
		}
		b, err := wire.Encode(&wire.FrameDatagram{Frame: f})
		if err != nil {
			log.Printf("%s: encode replay %d: %v", t.name, seq, err)
			continue
		}
		replies = append(replies, b)
	}
	t.mu.Unlock()

	for _, b := range replies {
		if err := t.conn.WriteTo(b, src); err != nil {
			log.Printf("%s: replay to %v: %v", t.name, src, err)
			return
		}
	}
}

// ownEchoLocked reports whether n is the looped back copy of a request this
// transport multicast itself. A request is recognised once.
func (t *Transport) ownEchoLocked(n *wire.NackDatagram) bool {
	s := source{origin: n.Target.Unmap(), id: n.ID}
	p, ok := t.pending[s]
	if !ok || p.echoed || p.expect != n.Expect || p.have != n.Have {
		return false
	}
	p.echoed = true
	t.pending[s] = p
	return true
}

func (t *Transport) replayPayloadLocked(id cluster.PeerID, seq int32, original bool) (wire.Message, error) {
	key := storage.Key{Sender: id, Seq: seq}
	frames := t.received
	if original {
		frames = t.sent
	}
	msg, err := frames.Get(key)
	if errors.Is(err, storage.ErrFrameNotFound) {
		return nil, fmt.Errorf("%w: %s seq %d", ErrFrameLost, id.Short(), seq)
	}
	return msg, err
}
