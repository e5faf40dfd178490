package transport

import (
	"context"
	"math"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/netsim"
	"github.com/dreamware/lettermatch/internal/wire"
)

var group = netip.MustParseAddr("239.0.0.1")

const port = 1337

func newPeer(t *testing.T, n *netsim.Network, ip string, opts ...Option) *Transport {
	t.Helper()
	conn := n.MustListen(netip.AddrPortFrom(netip.MustParseAddr(ip), port))
	tr := New(cluster.NewPeerID(), conn, opts...)
	require.NoError(t, tr.Join(group))
	t.Cleanup(func() { tr.Close() })
	return tr
}

// numbered is an ordered payload whose City field carries its send order.
func numbered(from *Transport, i int) wire.Message {
	return &wire.SubmitWords{Header: wire.Header{From: from.ID()}, City: strconv.Itoa(i)}
}

func order(t *testing.T, d Delivery) int {
	t.Helper()
	m, ok := d.Message.(*wire.SubmitWords)
	require.True(t, ok, "unexpected message %T", d.Message)
	i, err := strconv.Atoi(m.City)
	require.NoError(t, err)
	return i
}

func receive(t *testing.T, tr *Transport) Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := tr.Receive(ctx)
	require.NoError(t, err)
	return d
}

func expectNothing(t *testing.T, tr *Transport) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	d, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "unexpected delivery %+v", d)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGroupMembershipMisuse(t *testing.T) {
	n := netsim.New()
	conn := n.MustListen(netip.MustParseAddrPort("10.0.0.1:1337"))
	tr := New(cluster.NewPeerID(), conn)
	defer tr.Close()

	msg := numbered(tr, 1)
	assert.ErrorIs(t, tr.SendOrderedReliable(msg), ErrNotInGroup)
	assert.ErrorIs(t, tr.SendHeartbeat(), ErrNotInGroup)
	assert.ErrorIs(t, tr.SendOneOffToGroup(msg), ErrNotInGroup)
	assert.ErrorIs(t, tr.Leave(), ErrNotInGroup)

	assert.Error(t, tr.Join(netip.MustParseAddr("10.0.0.2")), "unicast address cannot be joined")
	require.NoError(t, tr.Join(group))
	assert.ErrorIs(t, tr.Join(group), ErrAlreadyInGroup)
	assert.ErrorIs(t, tr.Join(netip.MustParseAddr("239.1.2.3")), ErrAlreadyInGroup)

	require.NoError(t, tr.Leave())
	assert.NoError(t, tr.Join(netip.MustParseAddr("239.1.2.3")))
}

func TestOrderedDelivery(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")

	for i := 1; i <= 3; i++ {
		require.NoError(t, a.SendOrderedReliable(numbered(a, i)))
	}

	for i := 1; i <= 3; i++ {
		d := receive(t, b)
		assert.Equal(t, i, order(t, d))
		assert.Equal(t, int32(i), d.Seq)
		assert.Equal(t, a.LocalAddr(), d.From)
	}
	expectNothing(t, b)
	expectNothing(t, a)
}

// TestFIFOUnderReorderingAndDuplication holds back a stream, then releases it
// newest first with every packet doubled.
func TestFIFOUnderReorderingAndDuplication(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")

	var mu sync.Mutex
	var held []netsim.Packet
	n.SetFault(func(p netsim.Packet) []netsim.Packet {
		if p.From == a.LocalAddr() && p.Dest == b.LocalAddr() && p.Data[0] == byte(wire.DatagramFrame) {
			mu.Lock()
			held = append(held, p)
			mu.Unlock()
			return nil
		}
		return []netsim.Packet{p}
	})

	const count = 6
	for i := 1; i <= count; i++ {
		require.NoError(t, a.SendOrderedReliable(numbered(a, i)))
	}
	n.SetFault(nil)

	mu.Lock()
	packets := append([]netsim.Packet(nil), held...)
	mu.Unlock()
	require.Len(t, packets, count)

	for i := len(packets) - 1; i >= 0; i-- {
		n.Inject(packets[i])
		n.Inject(packets[i])
	}

	for i := 1; i <= count; i++ {
		assert.Equal(t, i, order(t, receive(t, b)))
	}
	expectNothing(t, b)
}

func TestDuplicateSuppression(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")

	n.SetFault(func(p netsim.Packet) []netsim.Packet {
		return []netsim.Packet{p, p, p}
	})

	require.NoError(t, a.SendOrderedReliable(numbered(a, 1)))
	assert.Equal(t, 1, order(t, receive(t, b)))
	expectNothing(t, b)
}

func TestGapRecoveredBeforeSuccessor(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")

	require.NoError(t, a.SendOrderedReliable(numbered(a, 1), DropOnSend()))
	require.NoError(t, a.SendOrderedReliable(numbered(a, 2)))

	assert.Equal(t, 1, order(t, receive(t, b)))
	assert.Equal(t, 2, order(t, receive(t, b)))
	expectNothing(t, b)
}

func TestHeartbeatRevealsTrailingLoss(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")

	require.NoError(t, a.SendOrderedReliable(numbered(a, 1), DropOnSend()))
	expectNothing(t, b)

	require.NoError(t, a.SendHeartbeat())
	d := receive(t, b)
	assert.Equal(t, 1, order(t, d))
	assert.Equal(t, a.LocalAddr(), d.From)
}

// TestRelayAfterOriginalSenderLeaves checks that a peer learns about a missed
// frame from someone else's piggyback acks and gets it relayed.
func TestRelayAfterOriginalSenderLeaves(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")
	c := newPeer(t, n, "10.0.0.3")

	n.SetFault(func(p netsim.Packet) []netsim.Packet {
		if p.From == a.LocalAddr() && p.Dest == c.LocalAddr() {
			return nil
		}
		return []netsim.Packet{p}
	})

	require.NoError(t, a.SendOrderedReliable(numbered(a, 7)))
	assert.Equal(t, 7, order(t, receive(t, b)))
	require.NoError(t, a.Close())

	require.NoError(t, b.SendOrderedReliable(numbered(b, 1)))

	got := map[netip.AddrPort]int{}
	for i := 0; i < 2; i++ {
		d := receive(t, c)
		got[d.From] = order(t, d)
	}
	assert.Equal(t, map[netip.AddrPort]int{
		a.LocalAddr(): 7,
		b.LocalAddr(): 1,
	}, got)
	expectNothing(t, c)
}

func TestNackNotReissuedWhileWaiting(t *testing.T) {
	n := netsim.New()
	clock := newFakeClock()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2", WithClock(clock.Now), WithNackRetry(time.Second))

	var nacks atomic.Int32
	n.SetFault(func(p netsim.Packet) []netsim.Packet {
		if p.Data[0] == byte(wire.DatagramNack) {
			if p.From == b.LocalAddr() && p.Dest == a.LocalAddr() {
				nacks.Add(1)
			}
			return nil
		}
		return []netsim.Packet{p}
	})

	require.NoError(t, a.SendOrderedReliable(numbered(a, 1), DropOnSend()))
	for i := 2; i <= 6; i++ {
		require.NoError(t, a.SendOrderedReliable(numbered(a, i)))
	}
	require.Eventually(t, func() bool { return b.Stats().Holdback == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), nacks.Load())

	clock.Advance(2 * time.Second)
	require.NoError(t, a.SendHeartbeat())
	require.Eventually(t, func() bool { return nacks.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestResetReplaysFromSequenceOne(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")

	run := func() []int32 {
		for i := 1; i <= 3; i++ {
			require.NoError(t, a.SendOrderedReliable(numbered(a, i)))
		}
		var seqs []int32
		for i := 1; i <= 3; i++ {
			d := receive(t, b)
			assert.Equal(t, i, order(t, d))
			seqs = append(seqs, d.Seq)
		}
		return seqs
	}

	first := run()
	a.Reset()
	b.Reset()
	assert.Equal(t, Stats{Group: group, LocalAddr: a.LocalAddr().String()}, a.Stats())

	second := run()
	assert.Equal(t, []int32{1, 2, 3}, first)
	assert.Equal(t, first, second)
}

func readRaw(t *testing.T, c *netsim.Conn, wait time.Duration) ([]byte, bool) {
	t.Helper()
	ch := make(chan []byte, 1)
	go func() {
		buf := make([]byte, maxDatagram)
		n, _, err := c.ReadFrom(buf)
		if err == nil {
			ch <- buf[:n]
		}
	}()
	select {
	case b := <-ch:
		return b, true
	case <-time.After(wait):
		return nil, false
	}
}

func TestNackForUnloggedFrameIsSkipped(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	raw := n.MustListen(netip.MustParseAddrPort("10.0.0.9:1337"))
	defer raw.Close()

	require.NoError(t, a.SendOrderedReliable(numbered(a, 1)))

	b, err := wire.Encode(&wire.NackDatagram{
		Target: netip.MustParseAddr("10.0.0.1"), ID: a.ID(), Have: 3, Expect: 0,
	})
	require.NoError(t, err)
	require.NoError(t, raw.WriteTo(b, a.LocalAddr()))

	data, ok := readRaw(t, raw, time.Second)
	require.True(t, ok, "expected replay of the logged frame")
	d, err := wire.Decode(data)
	require.NoError(t, err)
	f := d.(*wire.FrameDatagram).Frame
	assert.Equal(t, int32(1), f.Seq)
	assert.False(t, f.Relayed)

	_, ok = readRaw(t, raw, 100*time.Millisecond)
	assert.False(t, ok, "frames 2 and 3 were never sent and must not be replayed")
}

func TestOneOffDelivery(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")

	msg := &wire.Heartbeat{Header: wire.Header{From: a.ID()}}
	require.NoError(t, a.SendOneOff(msg, b.LocalAddr()))

	d := receive(t, b)
	assert.Equal(t, wire.OneOffSeq, d.Seq)
	assert.Equal(t, a.LocalAddr(), d.From)
	assert.Equal(t, msg, d.Message)

	require.NoError(t, a.SendOneOffToGroup(msg))
	assert.Equal(t, msg, receive(t, b).Message)
	expectNothing(t, a)
}

func TestHeartbeatHook(t *testing.T) {
	n := netsim.New()
	signals := make(chan Signal, 4)
	a := newPeer(t, n, "10.0.0.1")
	newPeer(t, n, "10.0.0.2", WithHeartbeatHook(func(s Signal) { signals <- s }))

	require.NoError(t, a.SendHeartbeat())

	select {
	case s := <-signals:
		assert.Equal(t, Signal{Origin: netip.MustParseAddr("10.0.0.1"), Sender: a.ID(), Seq: 0}, s)
	case <-time.After(time.Second):
		t.Fatal("heartbeat hook not called")
	}
}

func TestMalformedDatagramIsDropped(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")
	raw := n.MustListen(netip.MustParseAddrPort("10.0.0.9:1337"))
	defer raw.Close()

	require.NoError(t, raw.WriteTo([]byte{byte(wire.DatagramFrame), 0x01}, b.LocalAddr()))
	require.NoError(t, raw.WriteTo([]byte{0x00}, b.LocalAddr()))
	require.NoError(t, a.SendOrderedReliable(numbered(a, 1)))

	assert.Equal(t, 1, order(t, receive(t, b)))
}

func TestAckSnapshotEviction(t *testing.T) {
	n := netsim.New()
	clock := newFakeClock()
	conn := n.MustListen(netip.MustParseAddrPort("10.0.0.1:1337"))
	tr := New(cluster.NewPeerID(), conn, WithClock(clock.Now), WithAckTTL(10*time.Second), WithMaxAcks(2))
	defer tr.Close()

	now := clock.Now()
	ids := make([]cluster.PeerID, 5)
	for i := range ids {
		ids[i] = cluster.NewPeerID()
	}
	addr := func(i int) netip.Addr { return netip.AddrFrom4([4]byte{10, 0, 1, byte(i)}) }

	tr.mu.Lock()
	tr.cursors[source{addr(0), ids[0]}] = &cursor{seq: 4, touched: now.Add(-time.Second)}
	tr.cursors[source{addr(1), ids[1]}] = &cursor{seq: 2, touched: now.Add(-20 * time.Second)}
	tr.cursors[source{addr(2), ids[2]}] = &cursor{seq: 7, touched: now}
	tr.cursors[source{addr(3), ids[3]}] = &cursor{seq: 0, touched: now}
	tr.cursors[source{addr(4), ids[4]}] = &cursor{seq: 1, touched: now.Add(-2 * time.Second)}
	acks := tr.ackSnapshotLocked()
	tr.mu.Unlock()

	assert.Equal(t, []wire.Ack{
		{Addr: addr(2), ID: ids[2], Seq: 7},
		{Addr: addr(0), ID: ids[0], Seq: 4},
	}, acks)
}

func TestReceiveCancellationAndClose(t *testing.T) {
	n := netsim.New()
	conn := n.MustListen(netip.MustParseAddrPort("10.0.0.1:1337"))
	tr := New(cluster.NewPeerID(), conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	_, err = tr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

// TestResetIgnoresOwnFramesInFlight releases looped back copies of a's
// pre-reset frames after both peers reset.
func TestResetIgnoresOwnFramesInFlight(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")

	var (
		mu      sync.Mutex
		held    []netsim.Packet
		holding atomic.Bool
	)
	holding.Store(true)
	n.SetFault(func(p netsim.Packet) []netsim.Packet {
		if holding.Load() && p.From == a.LocalAddr() && p.Dest == a.LocalAddr() && p.Data[0] == byte(wire.DatagramFrame) {
			mu.Lock()
			held = append(held, p)
			mu.Unlock()
			return nil
		}
		return []netsim.Packet{p}
	})

	for i := 1; i <= 3; i++ {
		require.NoError(t, a.SendOrderedReliable(numbered(a, i)))
	}
	for i := 1; i <= 3; i++ {
		assert.Equal(t, i, order(t, receive(t, b)))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(held) == 3
	}, time.Second, 5*time.Millisecond)

	a.Reset()
	b.Reset()
	holding.Store(false)
	mu.Lock()
	for _, p := range held {
		n.Inject(p)
	}
	mu.Unlock()

	// a's inbox is FIFO, so the held frames are handled before this one-off.
	ping := &wire.Heartbeat{Header: wire.Header{From: b.ID()}}
	require.NoError(t, b.SendOneOff(ping, a.LocalAddr()))
	assert.Equal(t, ping, receive(t, a).Message)

	st := a.Stats()
	assert.Zero(t, st.Seq)
	assert.Zero(t, st.Sent)
	assert.Zero(t, st.Queued)

	require.NoError(t, a.SendOrderedReliable(numbered(a, 100)))
	d := receive(t, b)
	assert.Equal(t, 100, order(t, d))
	assert.Equal(t, int32(1), d.Seq)
	expectNothing(t, b)
	expectNothing(t, a)
}

// TestStaleAckForResetPeerIgnored checks that acks naming our own stream do
// not make a reset transport chase frames it no longer owns.
func TestStaleAckForResetPeerIgnored(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")

	var nacks atomic.Int32
	n.SetFault(func(p netsim.Packet) []netsim.Packet {
		if p.Data[0] == byte(wire.DatagramNack) && p.From == a.LocalAddr() {
			nacks.Add(1)
		}
		return []netsim.Packet{p}
	})

	for i := 1; i <= 3; i++ {
		require.NoError(t, a.SendOrderedReliable(numbered(a, i)))
		assert.Equal(t, i, order(t, receive(t, b)))
	}

	a.Reset()
	// b still acks a's stream at 3
	require.NoError(t, b.SendOrderedReliable(numbered(b, 1)))
	assert.Equal(t, 1, order(t, receive(t, a)))
	require.NoError(t, b.SendHeartbeat())

	expectNothing(t, a)
	assert.Zero(t, nacks.Load())
	assert.Zero(t, a.Stats().Pending)
	assert.Zero(t, a.Stats().Seq)
}

func TestNackAtSequenceLimit(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	raw := n.MustListen(netip.MustParseAddrPort("10.0.0.9:1337"))
	defer raw.Close()

	b, err := wire.Encode(&wire.NackDatagram{
		Target: netip.MustParseAddr("10.0.0.1"), ID: a.ID(), Have: math.MaxInt32, Expect: math.MaxInt32 - 1,
	})
	require.NoError(t, err)
	require.NoError(t, raw.WriteTo(b, a.LocalAddr()))

	done := make(chan Stats, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		done <- a.Stats()
	}()
	select {
	case st := <-done:
		assert.Zero(t, st.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("transport still busy with the NACK")
	}
	require.NoError(t, a.SendOrderedReliable(numbered(a, 1)))
}

// TestOwnNackEchoNotServed replays a's NACK back to it from the interface
// address, the way a real socket bound to the wildcard address sees it.
func TestOwnNackEchoNotServed(t *testing.T) {
	n := netsim.New()
	a := newPeer(t, n, "10.0.0.1")
	b := newPeer(t, n, "10.0.0.2")
	iface := n.MustListen(netip.MustParseAddrPort("192.168.0.2:1337"))
	defer iface.Close()

	nacks := make(chan netsim.Packet, 4)
	n.SetFault(func(p netsim.Packet) []netsim.Packet {
		if p.Data[0] == byte(wire.DatagramNack) && p.From == b.LocalAddr() {
			if p.Dest == b.LocalAddr() {
				select {
				case nacks <- p:
				default:
				}
			}
			return nil
		}
		return []netsim.Packet{p}
	})

	require.NoError(t, a.SendOrderedReliable(numbered(a, 1), DropOnSend()))
	for i := 2; i <= 4; i++ {
		require.NoError(t, a.SendOrderedReliable(numbered(a, i)))
	}
	require.Eventually(t, func() bool { return b.Stats().Holdback == 3 }, time.Second, 5*time.Millisecond)

	var echo netsim.Packet
	select {
	case echo = <-nacks:
	case <-time.After(time.Second):
		t.Fatal("b sent no NACK")
	}
	echo.From = iface.LocalAddr()
	echo.Dest = b.LocalAddr()
	n.Inject(echo)

	_, ok := readRaw(t, iface, 200*time.Millisecond)
	assert.False(t, ok, "b relayed its held frames to itself")
}
