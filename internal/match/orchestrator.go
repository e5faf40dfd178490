package match

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/transport"
	"github.com/dreamware/lettermatch/internal/wire"
	"github.com/dreamware/lettermatch/internal/words"
)

const letters = "abcdefghijklmnopqrstuvwxyz"

// State is the phase of the hosted match.
type State int

const (
	NoMatch State = iota
	RoundInProgress
	CollectingAnswers
)

// String returns the upper-case state name used in logs and /status.
func (s State) String() string {
	switch s {
	case NoMatch:
		return "NO_MATCH"
	case RoundInProgress:
		return "ROUND_IN_PROGRESS"
	case CollectingAnswers:
		return "COLLECTING_ANSWERS"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{NoMatch, RoundInProgress, CollectingAnswers} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Sender is the part of the match transport the orchestrator drives.
type Sender interface {
	SendOrderedReliable(msg wire.Message, opts ...transport.SendOption) error
	SendOneOff(msg wire.Message, dest netip.AddrPort) error
	Reset()
}

// Config sets the shape and pacing of a match.
type Config struct {
	// Group is the match multicast group handed to joining players.
	Group         netip.Addr
	MaxPlayers    int
	Rounds        int
	CollectWindow time.Duration
	ResultPause   time.Duration
}

// DefaultConfig returns the production match settings for a match hosted on group.
func DefaultConfig(group netip.Addr) Config {
	return Config{
		Group:         group,
		MaxPlayers:    2,
		Rounds:        3,
		CollectWindow: 2 * time.Second,
		ResultPause:   5 * time.Second,
	}
}

// Status is a snapshot of the match for heartbeat responses and /status.
type Status struct {
	State      State            `json:"state"`
	MatchID    uuid.UUID        `json:"match_id"`
	HasMatch   bool             `json:"has_match"`
	Round      int              `json:"round"`
	Letter     string           `json:"letter"`
	Accepting  bool             `json:"accepting"`
	MaxPlayers int              `json:"max_players"`
	Players    []cluster.PeerID `json:"players"`
	Finished   int              `json:"matches_finished"`
}

// Option customises an Orchestrator, mostly for tests.
type Option func(*Orchestrator)

// WithLetters replaces the random letter chooser.
func WithLetters(next func() string) Option {
	return func(o *Orchestrator) { o.letter = next }
}

// WithScheduler replaces time.AfterFunc for the collection window and the
// result pause. fire posts the timer event into the orchestrator.
func WithScheduler(schedule func(d time.Duration, fire func())) Option {
	return func(o *Orchestrator) { o.schedule = schedule }
}

// Orchestrator runs matches on one server. Network deliveries and timer
// expirations are events processed one at a time by Run; only Status may be
// called from other goroutines without going through the event queue.
type Orchestrator struct {
	id       cluster.PeerID
	out      Sender
	words    words.Validator
	cfg      Config
	letter   func() string
	schedule func(time.Duration, func())
	name     string

	events chan any
	done   chan struct{}
	once   sync.Once

	// owned by Run
	state     State
	matchID   uuid.UUID
	players   []cluster.PeerID
	round     *Round
	history   []*Round
	accepting bool
	finished  int

	mu     sync.Mutex
	status Status
}

type deliveryEvent struct{ d transport.Delivery }

type windowClosed struct {
	match uuid.UUID
	round int
}

type pauseOver struct {
	match uuid.UUID
	round int
}

type barrier struct{ done chan struct{} }

// New returns an idle orchestrator. Nothing happens until Run is called.
func New(id cluster.PeerID, out Sender, v words.Validator, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		id:     id,
		out:    out,
		words:  v,
		cfg:    cfg,
		letter: randomLetter,
		schedule: func(d time.Duration, fire func()) {
			time.AfterFunc(d, fire)
		},
		name:   "match[" + id.Short() + "]",
		events: make(chan any, 64),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.publish()
	return o
}

func randomLetter() string {
	i := rand.IntN(len(letters))
	return letters[i : i+1]
}

// Run processes events until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.once.Do(func() { close(o.done) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.events:
			o.dispatch(ev)
			o.publish()
		}
	}
}

// Handle queues a delivery from the match transport. It blocks while the
// queue is full and returns immediately once Run has stopped.
func (o *Orchestrator) Handle(d transport.Delivery) {
	o.post(deliveryEvent{d: d})
}

func (o *Orchestrator) post(ev any) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// Status returns the snapshot published after the last handled event.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status
	s.Players = slices.Clone(s.Players)
	return s
}

func (o *Orchestrator) publish() {
	s := Status{
		State:      o.state,
		MatchID:    o.matchID,
		HasMatch:   o.state != NoMatch,
		Accepting:  o.accepting,
		MaxPlayers: o.cfg.MaxPlayers,
		Players:    slices.Clone(o.players),
		Finished:   o.finished,
	}
	if o.round != nil {
		s.Round = o.round.Number
		s.Letter = o.round.Letter
	}
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func (o *Orchestrator) dispatch(ev any) {
	switch e := ev.(type) {
	case deliveryEvent:
		o.handleDelivery(e.d)
	case windowClosed:
		o.closeWindow(e)
	case pauseOver:
		o.nextRound(e)
	case barrier:
		close(e.done)
	}
}

func (o *Orchestrator) handleDelivery(d transport.Delivery) {
	switch m := d.Message.(type) {
	case *wire.MatchJoin:
		o.join(d.From, m.From)
	case *wire.RoundFinish:
		o.roundFinished(m)
	case *wire.SubmitWords:
		o.submit(m)
	default:
		// own broadcasts looped back, or traffic for players only
	}
}

func (o *Orchestrator) join(from netip.AddrPort, player cluster.PeerID) {
	known := slices.Contains(o.players, player)
	accept := known || len(o.players) < o.cfg.MaxPlayers
	if !o.cfg.Group.IsValid() {
		log.Printf("%s: no match group, rejecting %s", o.name, player.Short())
		accept = false
	}

	if accept && o.state == NoMatch {
		o.matchID = uuid.New()
		log.Printf("%s: starting match %s", o.name, o.matchID)
	}

	resp := &wire.MatchJoinResponse{
		Header:   wire.Header{From: o.id},
		Accepted: accept,
	}
	if accept {
		resp.MatchGroup = o.cfg.Group.String()
		resp.MatchID = o.matchID
	}
	if err := o.out.SendOneOff(resp, from); err != nil {
		log.Printf("%s: join response to %v: %v", o.name, from, err)
	}
	if !accept {
		log.Printf("%s: rejected %s, match is full", o.name, player.Short())
		return
	}

	if !known {
		o.players = append(o.players, player)
		log.Printf("%s: player %s joined (%d/%d)", o.name, player.Short(), len(o.players), o.cfg.MaxPlayers)
		o.broadcast(&wire.PlayerJoinAnnouncement{
			Header:  wire.Header{From: o.id},
			MatchID: o.matchID,
			Player:  player,
		})
	}
	if o.state == NoMatch {
		o.startRound(1)
	}
}

func (o *Orchestrator) startRound(n int) {
	if o.round != nil {
		o.history = append(o.history, o.round)
	}
	o.round = NewRound(n, o.letter())
	o.state = RoundInProgress
	o.accepting = false

	log.Printf("%s: round %d/%d with letter %q", o.name, n, o.cfg.Rounds, o.round.Letter)
	o.broadcast(&wire.RoundStart{
		Header:  wire.Header{From: o.id},
		MatchID: o.matchID,
		Letter:  o.round.Letter,
		Round:   int32(n),
	})
}

func (o *Orchestrator) roundFinished(m *wire.RoundFinish) {
	if o.state != RoundInProgress || m.MatchID != o.matchID {
		return
	}
	o.state = CollectingAnswers
	o.accepting = true

	ev := windowClosed{match: o.matchID, round: o.round.Number}
	o.schedule(o.cfg.CollectWindow, func() { o.post(ev) })
}

func (o *Orchestrator) submit(m *wire.SubmitWords) {
	if !o.accepting || m.MatchID != o.matchID {
		return
	}
	if !slices.Contains(o.players, m.From) {
		log.Printf("%s: ignoring answers from non-player %s", o.name, m.From.Short())
		return
	}
	o.round.Record(m.From, Validate(o.words, o.round.Letter, m))
}

func (o *Orchestrator) closeWindow(e windowClosed) {
	if e.match != o.matchID || o.round == nil || e.round != o.round.Number {
		return
	}
	o.accepting = false

	o.broadcast(&wire.RoundResult{
		Header:  wire.Header{From: o.id},
		MatchID: o.matchID,
		Round:   int32(o.round.Number),
		Letter:  o.round.Letter,
		Results: o.round.Results(),
	})

	ev := pauseOver{match: o.matchID, round: o.round.Number}
	o.schedule(o.cfg.ResultPause, func() { o.post(ev) })
}

func (o *Orchestrator) nextRound(e pauseOver) {
	if e.match != o.matchID || o.round == nil || e.round != o.round.Number {
		return
	}
	if o.round.Number < o.cfg.Rounds {
		o.startRound(o.round.Number + 1)
		return
	}
	o.endMatch()
}

func (o *Orchestrator) endMatch() {
	o.history = append(o.history, o.round)
	end := &wire.MatchEnd{
		Header:  wire.Header{From: o.id},
		MatchID: o.matchID,
		Scores:  Totals(o.players, o.history),
	}
	log.Printf("%s: match %s over after %d rounds", o.name, o.matchID, len(o.history))

	o.state = NoMatch
	o.matchID = uuid.Nil
	o.players = nil
	o.round = nil
	o.history = nil
	o.accepting = false
	o.finished++

	o.broadcast(end)
	o.out.Reset()
}

func (o *Orchestrator) broadcast(msg wire.Message) {
	if err := o.out.SendOrderedReliable(msg); err != nil {
		log.Printf("%s: send %v: %v", o.name, msg.Kind(), err)
	}
}
