package match

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/transport"
	"github.com/dreamware/lettermatch/internal/wire"
)

type oneOff struct {
	msg  wire.Message
	dest netip.AddrPort
}

type fakeSender struct {
	mu       sync.Mutex
	reliable []wire.Message
	oneOffs  []oneOff
	resets   int
}

func (f *fakeSender) SendOrderedReliable(msg wire.Message, _ ...transport.SendOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reliable = append(f.reliable, msg)
	return nil
}

func (f *fakeSender) SendOneOff(msg wire.Message, dest netip.AddrPort) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oneOffs = append(f.oneOffs, oneOff{msg: msg, dest: dest})
	return nil
}

func (f *fakeSender) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

// sent returns the reliable messages of kind k.
func (f *fakeSender) sent(k wire.Kind) []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.Message
	for _, m := range f.reliable {
		if m.Kind() == k {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) lastResponse(t *testing.T) (*wire.MatchJoinResponse, netip.AddrPort) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.oneOffs)
	last := f.oneOffs[len(f.oneOffs)-1]
	resp, ok := last.msg.(*wire.MatchJoinResponse)
	require.True(t, ok, "last one-off is %v", last.msg.Kind())
	return resp, last.dest
}

type timer struct {
	d    time.Duration
	fire func()
}

type manualTimers struct {
	mu      sync.Mutex
	pending []timer
}

func (m *manualTimers) schedule(d time.Duration, fire func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, timer{d: d, fire: fire})
}

func (m *manualTimers) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

type harness struct {
	t      *testing.T
	o      *Orchestrator
	out    *fakeSender
	timers *manualTimers
	cfg    Config
}

var matchGroup = netip.MustParseAddr("239.1.2.3")

func newHarness(t *testing.T, rounds int) *harness {
	t.Helper()
	h := &harness{t: t, out: &fakeSender{}, timers: &manualTimers{}}
	h.cfg = DefaultConfig(matchGroup)
	h.cfg.Rounds = rounds
	h.o = New(cluster.NewPeerID(), h.out, testWords, h.cfg,
		WithLetters(func() string { return "b" }),
		WithScheduler(h.timers.schedule))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.o.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func playerAddr(i int) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 1, byte(i + 1)}), 1338)
}

// sync waits until every event posted so far has been handled.
func (h *harness) sync() {
	b := barrier{done: make(chan struct{})}
	h.o.post(b)
	<-b.done
}

func (h *harness) deliver(from netip.AddrPort, msg wire.Message) {
	h.o.Handle(transport.Delivery{From: from, Seq: 1, Message: msg})
	h.sync()
}

func (h *harness) join(i int, player cluster.PeerID) {
	h.deliver(playerAddr(i), &wire.MatchJoin{Header: wire.Header{From: player}})
}

func (h *harness) finish(player cluster.PeerID) {
	h.deliver(playerAddr(0), &wire.RoundFinish{Header: wire.Header{From: player}, MatchID: h.o.Status().MatchID})
}

func (h *harness) submit(player cluster.PeerID, city, country, river string) {
	m := submission(player, city, country, river)
	m.MatchID = h.o.Status().MatchID
	h.deliver(playerAddr(0), m)
}

// fire runs the oldest pending timer, checking its delay.
func (h *harness) fire(want time.Duration) {
	h.t.Helper()
	h.timers.mu.Lock()
	require.NotEmpty(h.t, h.timers.pending, "no timer pending")
	next := h.timers.pending[0]
	h.timers.pending = h.timers.pending[1:]
	h.timers.mu.Unlock()

	assert.Equal(h.t, want, next.d)
	next.fire()
	h.sync()
}

func TestJoinStartsMatch(t *testing.T) {
	h := newHarness(t, 3)
	ids := players(1)

	h.join(0, ids[0])

	resp, dest := h.out.lastResponse(t)
	assert.True(t, resp.Accepted)
	assert.Equal(t, "239.1.2.3", resp.MatchGroup)
	assert.Equal(t, playerAddr(0), dest)

	st := h.o.Status()
	assert.Equal(t, RoundInProgress, st.State)
	assert.True(t, st.HasMatch)
	assert.Equal(t, resp.MatchID, st.MatchID)
	assert.Equal(t, []cluster.PeerID{ids[0]}, st.Players)
	assert.Equal(t, 1, st.Round)
	assert.Equal(t, "b", st.Letter)
	assert.Equal(t, 2, st.MaxPlayers)

	announce := h.out.sent(wire.KindPlayerJoinAnnouncement)
	require.Len(t, announce, 1)
	assert.Equal(t, ids[0], announce[0].(*wire.PlayerJoinAnnouncement).Player)

	starts := h.out.sent(wire.KindRoundStart)
	require.Len(t, starts, 1)
	start := starts[0].(*wire.RoundStart)
	assert.Equal(t, int32(1), start.Round)
	assert.Equal(t, "b", start.Letter)
	assert.Equal(t, st.MatchID, start.MatchID)
}

func TestJoinFullMatch(t *testing.T) {
	h := newHarness(t, 3)
	ids := players(3)

	h.join(0, ids[0])
	h.join(1, ids[1])
	h.join(2, ids[2])

	resp, dest := h.out.lastResponse(t)
	assert.False(t, resp.Accepted)
	assert.Empty(t, resp.MatchGroup)
	assert.Equal(t, playerAddr(2), dest)

	// A known player is always let back in.
	h.join(0, ids[0])
	resp, _ = h.out.lastResponse(t)
	assert.True(t, resp.Accepted)

	assert.Len(t, h.out.sent(wire.KindPlayerJoinAnnouncement), 2)
	assert.Len(t, h.out.sent(wire.KindRoundStart), 1)
	assert.Equal(t, []cluster.PeerID{ids[0], ids[1]}, h.o.Status().Players)
}

func TestRoundResultScoring(t *testing.T) {
	h := newHarness(t, 3)
	ids := players(2)
	a, b := ids[0], ids[1]
	h.join(0, a)
	h.join(1, b)

	// Answers before anybody finished are not collected.
	h.submit(a, "Bonn", "Brazil", "Bode")

	h.finish(b)
	h.finish(a)
	assert.Equal(t, 1, h.timers.len(), "only the first RoundFinish opens the window")
	assert.True(t, h.o.Status().Accepting)
	assert.Equal(t, CollectingAnswers, h.o.Status().State)

	h.submit(a, "Berlin", "Belgium", "Rhine")
	h.submit(b, "", "Belgium", "")
	h.fire(h.cfg.CollectWindow)

	results := h.out.sent(wire.KindRoundResult)
	require.Len(t, results, 1)
	rr := results[0].(*wire.RoundResult)
	assert.Equal(t, int32(1), rr.Round)
	assert.Equal(t, "b", rr.Letter)
	require.Len(t, rr.Results, 2)
	assert.Equal(t, wire.PlayerResult{
		Player: a, City: "Berlin", CityAccepted: true,
		Country: "Belgium", CountryAccepted: true,
		River: "Rhine", RiverAccepted: false,
		Score: 25,
	}, rr.Results[0])
	assert.Equal(t, b, rr.Results[1].Player)
	assert.Equal(t, int32(5), rr.Results[1].Score)
	assert.False(t, h.o.Status().Accepting)
}

func TestLateAnswerExcluded(t *testing.T) {
	h := newHarness(t, 3)
	ids := players(2)
	a, b := ids[0], ids[1]
	h.join(0, a)
	h.join(1, b)

	h.finish(a)
	h.submit(a, "Berlin", "", "")
	h.timers.mu.Lock()
	closeWindow := h.timers.pending[0].fire
	h.timers.pending = nil
	h.timers.mu.Unlock()

	// The timer event is queued before the late answer arrives.
	closeWindow()
	h.submit(b, "Bonn", "", "")

	results := h.out.sent(wire.KindRoundResult)
	require.Len(t, results, 1)
	rr := results[0].(*wire.RoundResult)
	require.Len(t, rr.Results, 1)
	assert.Equal(t, a, rr.Results[0].Player)
	assert.Equal(t, int32(20), rr.Results[0].Score)
}

func TestFullMatch(t *testing.T) {
	h := newHarness(t, 2)
	ids := players(2)
	a, b := ids[0], ids[1]
	h.join(0, a)
	h.join(1, b)
	matchID := h.o.Status().MatchID

	for round := 1; round <= 2; round++ {
		assert.Equal(t, round, h.o.Status().Round)
		h.finish(a)
		h.submit(a, "Berlin", "Brazil", "")
		h.fire(h.cfg.CollectWindow)
		h.fire(h.cfg.ResultPause)
	}

	starts := h.out.sent(wire.KindRoundStart)
	require.Len(t, starts, 2)
	assert.Equal(t, int32(2), starts[1].(*wire.RoundStart).Round)

	ends := h.out.sent(wire.KindMatchEnd)
	require.Len(t, ends, 1)
	end := ends[0].(*wire.MatchEnd)
	assert.Equal(t, matchID, end.MatchID)
	assert.Equal(t, []wire.PlayerScore{{Player: a, Score: 80}, {Player: b, Score: 0}}, end.Scores)

	st := h.o.Status()
	assert.Equal(t, NoMatch, st.State)
	assert.False(t, st.HasMatch)
	assert.Empty(t, st.Players)
	assert.Equal(t, 1, st.Finished)
	assert.Equal(t, 1, h.out.resets)

	// The next join starts a fresh match.
	h.join(0, b)
	resp, _ := h.out.lastResponse(t)
	assert.True(t, resp.Accepted)
	assert.NotEqual(t, matchID, resp.MatchID)
	assert.Equal(t, RoundInProgress, h.o.Status().State)
}

func TestForeignMatchIgnored(t *testing.T) {
	h := newHarness(t, 3)
	ids := players(3)
	h.join(0, ids[0])

	h.deliver(playerAddr(0), &wire.RoundFinish{Header: wire.Header{From: ids[0]}})
	assert.Equal(t, RoundInProgress, h.o.Status().State)
	assert.Equal(t, 0, h.timers.len())

	h.finish(ids[0])
	h.submit(ids[2], "Berlin", "", "")
	h.fire(h.cfg.CollectWindow)

	rr := h.out.sent(wire.KindRoundResult)[0].(*wire.RoundResult)
	assert.Empty(t, rr.Results)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "NO_MATCH", NoMatch.String())
	assert.Equal(t, "ROUND_IN_PROGRESS", RoundInProgress.String())
	assert.Equal(t, "COLLECTING_ANSWERS", CollectingAnswers.String())
	assert.Equal(t, "UNKNOWN", State(9).String())

	var st State
	require.NoError(t, st.UnmarshalText([]byte("COLLECTING_ANSWERS")))
	assert.Equal(t, CollectingAnswers, st)
}
