package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/storage"
	"github.com/dreamware/lettermatch/internal/wire"
)

// maxDatagram is the largest UDP payload read from the socket.
const maxDatagram = 64 * 1024

// Delivery is one message handed to the consumer.
type Delivery struct {
	// From is where replies should go: the datagram source for one-off
	// messages, the original sender on the group port for ordered frames.
	From netip.AddrPort

	// Seq is the frame sequence, or wire.OneOffSeq for one-off messages.
	Seq int32

	Message wire.Message
}

// source identifies one ordered stream.
type source struct {
	origin netip.Addr
	id     cluster.PeerID
}

type cursor struct {
	seq     int32
	touched time.Time
}

type heldKey struct {
	source
	seq int32
}

type pendingNack struct {
	expect int32
	have   int32
	sent   time.Time
	echoed bool
}

// Stats is a point-in-time view of transport state.
type Stats struct {
	Group     netip.Addr `json:"group"`
	Seq       int32      `json:"seq"`
	Cursors   int        `json:"cursors"`
	Holdback  int        `json:"holdback"`
	Pending   int        `json:"pending_nacks"`
	Sent      int        `json:"sent_log"`
	Received  int        `json:"received_log"`
	Queued    int        `json:"queued"`
	LocalAddr string     `json:"local_addr"`
}

// Transport is a reliable multicast endpoint. Create it with New.
type Transport struct {
	id   cluster.PeerID
	conn PacketConn
	port uint16
	name string

	nackRetry   time.Duration
	ackTTL      time.Duration
	maxAcks     int
	onHeartbeat func(Signal)
	now         func() time.Time

	mu       sync.Mutex
	group    netip.Addr
	seq      int32
	cursors  map[source]*cursor
	holdback map[heldKey]wire.Frame
	pending  map[source]pendingNack
	sent     storage.Log
	received storage.Log

	queue     *deliveryQueue
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New wraps conn and starts the receive loop. Replies and group sends use
// the port conn is bound to.
func New(id cluster.PeerID, conn PacketConn, opts ...Option) *Transport {
	t := &Transport{
		id:        id,
		conn:      conn,
		port:      conn.LocalAddr().Port(),
		name:      fmt.Sprintf("transport[%s]", id.Short()),
		nackRetry: defaultNackRetry,
		ackTTL:    defaultAckTTL,
		maxAcks:   defaultMaxAcks,
		now:       time.Now,
		cursors:   make(map[source]*cursor),
		holdback:  make(map[heldKey]wire.Frame),
		pending:   make(map[source]pendingNack),
		sent:      storage.NewMemoryLog(),
		received:  storage.NewMemoryLog(),
		queue:     newDeliveryQueue(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.wg.Add(1)
	go t.loop()
	return t
}

// ID returns the identity stamped on outgoing frames.
func (t *Transport) ID() cluster.PeerID {
	return t.id
}

// LocalAddr returns the address of the underlying socket.
func (t *Transport) LocalAddr() netip.AddrPort {
	return t.conn.LocalAddr()
}

// Group returns the joined group, or the zero Addr.
func (t *Transport) Group() netip.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.group
}

// Join subscribes to a multicast group. A transport holds one membership.
func (t *Transport) Join(group netip.Addr) error {
	if !group.IsMulticast() {
		return fmt.Errorf("join %v: not a multicast address", group)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.group.IsValid() {
		return fmt.Errorf("join %v: %w (member of %v)", group, ErrAlreadyInGroup, t.group)
	}
	if err := t.conn.JoinGroup(group); err != nil {
		return fmt.Errorf("join %v: %w", group, err)
	}
	t.group = group
	log.Printf("%s: joined %v:%d", t.name, group, t.port)
	return nil
}

// Leave drops the membership and resets all stream state so the transport can
// join another group.
func (t *Transport) Leave() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.group.IsValid() {
		return ErrNotInGroup
	}
	err := t.conn.LeaveGroup(t.group)
	log.Printf("%s: left %v", t.name, t.group)
	t.group = netip.Addr{}
	t.resetLocked()
	t.queue.clear()
	return err
}

// SendOrderedReliable assigns the next sequence number to msg, logs it for
// replay and multicasts it to the group.
func (t *Transport) SendOrderedReliable(msg wire.Message, opts ...SendOption) error {
	var cfg sendConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	t.mu.Lock()
	if !t.group.IsValid() {
		t.mu.Unlock()
		return fmt.Errorf("send %v: %w", msg.Kind(), ErrNotInGroup)
	}
	seq := t.seq + 1
	b, err := wire.Encode(&wire.FrameDatagram{Frame: wire.Frame{
		Seq:     seq,
		Sender:  t.id,
		Acks:    t.ackSnapshotLocked(),
		Payload: msg,
	}})
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("send %v: %w", msg.Kind(), err)
	}
	t.seq = seq
	_ = t.sent.Put(storage.Key{Sender: t.id, Seq: seq}, msg)
	dest := netip.AddrPortFrom(t.group, t.port)
	t.mu.Unlock()

	if cfg.drop {
		log.Printf("%s: dropping %v seq %d on send", t.name, msg.Kind(), seq)
		return nil
	}
	return t.conn.WriteTo(b, dest)
}

// SendOneOff sends msg to dest without ordering or retransmission.
func (t *Transport) SendOneOff(msg wire.Message, dest netip.AddrPort) error {
	b, err := wire.Encode(&wire.OneOffDatagram{Message: msg})
	if err != nil {
		return fmt.Errorf("send one-off %v: %w", msg.Kind(), err)
	}
	return t.conn.WriteTo(b, dest)
}

// SendOneOffToGroup multicasts msg without ordering or retransmission.
func (t *Transport) SendOneOffToGroup(msg wire.Message) error {
	group := t.Group()
	if !group.IsValid() {
		return fmt.Errorf("send one-off %v: %w", msg.Kind(), ErrNotInGroup)
	}
	return t.SendOneOff(msg, netip.AddrPortFrom(group, t.port))
}

// SendHeartbeat multicasts an empty frame at the current sequence so peers
// can detect trailing losses and read the piggybacked acks.
func (t *Transport) SendHeartbeat() error {
	t.mu.Lock()
	if !t.group.IsValid() {
		t.mu.Unlock()
		return fmt.Errorf("send heartbeat: %w", ErrNotInGroup)
	}
	b, err := wire.Encode(&wire.HeartbeatDatagram{Frame: wire.Frame{
		Seq:    t.seq,
		Sender: t.id,
		Acks:   t.ackSnapshotLocked(),
	}})
	dest := netip.AddrPortFrom(t.group, t.port)
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	return t.conn.WriteTo(b, dest)
}

// Receive blocks until a message is deliverable, ctx is done or the
// transport is closed.
func (t *Transport) Receive(ctx context.Context) (Delivery, error) {
	return t.queue.pop(ctx, t.done)
}

// Reset forgets every stream: holdback, cursors, outbound sequence, logs,
// pending NACKs and undelivered messages. The membership is kept.
func (t *Transport) Reset() {
	t.mu.Lock()
	t.resetLocked()
	t.mu.Unlock()
	t.queue.clear()
	log.Printf("%s: reset", t.name)
}

func (t *Transport) resetLocked() {
	t.seq = 0
	t.cursors = make(map[source]*cursor)
	t.holdback = make(map[heldKey]wire.Frame)
	t.pending = make(map[source]pendingNack)
	t.sent.Clear()
	t.received.Clear()
}

// Close stops the receive loop and releases the socket.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		if t.group.IsValid() {
			_ = t.conn.LeaveGroup(t.group)
		}
		t.mu.Unlock()
		err = t.conn.Close()
		t.wg.Wait()
	})
	return err
}

// Stats snapshots stream state for /status and tests.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Group:     t.group,
		Seq:       t.seq,
		Cursors:   len(t.cursors),
		Holdback:  len(t.holdback),
		Pending:   len(t.pending),
		Sent:      t.sent.Stats().Frames,
		Received:  t.received.Stats().Frames,
		Queued:    t.queue.len(),
		LocalAddr: t.conn.LocalAddr().String(),
	}
}

func (t *Transport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Transport) loop() {
	defer t.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, src, err := t.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.closed() {
				return
			}
			log.Printf("%s: read: %v", t.name, err)
			continue
		}
		t.handleDatagram(buf[:n], src)
	}
}

// ackSnapshotLocked lists the streams delivered from recently, newest first.
func (t *Transport) ackSnapshotLocked() []wire.Ack {
	type entry struct {
		ack     wire.Ack
		touched time.Time
	}

	now := t.now()
	entries := make([]entry, 0, len(t.cursors))
	for s, c := range t.cursors {
		if c.seq == 0 || !s.origin.Unmap().Is4() {
			continue
		}
		if t.ackTTL > 0 && now.Sub(c.touched) > t.ackTTL {
			continue
		}
		entries = append(entries, entry{
			ack:     wire.Ack{Addr: s.origin, ID: s.id, Seq: c.seq},
			touched: c.touched,
		})
	}

	slices.SortFunc(entries, func(a, b entry) int {
		return b.touched.Compare(a.touched)
	})
	if t.maxAcks > 0 && len(entries) > t.maxAcks {
		entries = entries[:t.maxAcks]
	}

	if len(entries) == 0 {
		return nil
	}
	acks := make([]wire.Ack, len(entries))
	for i, e := range entries {
		acks[i] = e.ack
	}
	return acks
}
