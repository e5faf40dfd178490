package election

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/heartbeat"
	"github.com/dreamware/lettermatch/internal/wire"
)

// State is the elector's position in an election.
type State int

const (
	Starting State = iota
	ElectionStarted
	Running
)

// String returns the upper-case state name used in logs and /status.
func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case ElectionStarted:
		return "ELECTION_STARTED"
	case Running:
		return "RUNNING"
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
	for _, st := range []State{Starting, ElectionStarted, Running} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Leader is the coordinator record.
type Leader struct {
	ID   cluster.PeerID `json:"id"`
	Addr netip.Addr     `json:"addr"`
}

// Channel delivers election messages point to point.
type Channel interface {
	Send(ctx context.Context, to netip.Addr, msg wire.Message) error
}

// Announcer multicasts a message to the server group.
type Announcer func(msg wire.Message) error

// Config holds the election timings.
type Config struct {
	// Wait is how long an election waits for a greater server to answer.
	Wait time.Duration
	// LeaderTimeout is how long a follower tolerates coordinator silence.
	LeaderTimeout time.Duration
	// SendTimeout bounds one direct send.
	SendTimeout time.Duration
}

// DefaultConfig returns the timings of a production fleet.
func DefaultConfig() Config {
	return Config{
		Wait:          time.Second,
		LeaderTimeout: 2 * time.Second,
		SendTimeout:   time.Second,
	}
}

// Option configures an Elector.
type Option func(*Elector)

// WithLeaderChange registers fn to run on every change of the leader record.
// fn runs with the elector locked and must not call back into it.
func WithLeaderChange(fn func(leader Leader, ok bool)) Option {
	return func(e *Elector) { e.onChange = fn }
}

// Elector runs the bully algorithm for one server.
// Thread-safe: all methods may be called concurrently.
type Elector struct {
	self     cluster.PeerID
	selfAddr netip.Addr
	cfg      Config
	direct   Channel
	announce Announcer
	watchdog *heartbeat.Watchdog
	onChange func(Leader, bool)
	name     string

	mu        sync.Mutex
	state     State
	leader    Leader
	hasLeader bool
	known     map[cluster.PeerID]netip.Addr
	round     uint64
	elections int
	stopped   bool
}

// New creates an elector in the Starting state. selfAddr is the address
// other servers reach this one at and is recorded when it becomes leader.
func New(self cluster.PeerID, selfAddr netip.Addr, direct Channel, announce Announcer, cfg Config, opts ...Option) *Elector {
	e := &Elector{
		self:     self,
		selfAddr: selfAddr,
		cfg:      cfg,
		direct:   direct,
		announce: announce,
		known:    make(map[cluster.PeerID]netip.Addr),
		name:     "election[" + self.Short() + "]",
	}
	e.watchdog = heartbeat.NewWatchdog(cfg.LeaderTimeout, func() {
		e.StartElection("coordinator timed out")
	})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the initial election.
func (e *Elector) Start() {
	e.StartElection("startup")
}

// Stop disarms every timer. Later events are ignored.
func (e *Elector) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.round++
	e.mu.Unlock()
	e.watchdog.Stop()
}

// StartElection clears the leader record and challenges every greater
// known server.
func (e *Elector) StartElection(reason string) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	log.Printf("%s: starting election: %s", e.name, reason)
	e.setLeaderLocked(Leader{}, false)
	e.watchdog.Stop()
	e.state = ElectionStarted
	e.round++
	e.elections++
	round := e.round

	var targets []netip.Addr
	for id, addr := range e.known {
		if id.Greater(e.self) {
			targets = append(targets, addr)
		}
	}
	e.mu.Unlock()

	for _, addr := range targets {
		go e.send(addr, &wire.StartElection{Header: wire.Header{From: e.self}})
	}
	time.AfterFunc(e.cfg.Wait, func() { e.waitElapsed(round) })
}

func (e *Elector) waitElapsed(round uint64) {
	e.mu.Lock()
	if e.stopped || round != e.round || e.state != ElectionStarted || e.hasLeader {
		e.mu.Unlock()
		return
	}
	log.Printf("%s: no greater server answered, taking over as coordinator", e.name)
	e.setLeaderLocked(Leader{ID: e.self, Addr: e.selfAddr}, true)
	e.state = Running
	e.mu.Unlock()

	e.announceSelf()
}

func (e *Elector) announceSelf() {
	if err := e.announce(&wire.LeaderAnnouncement{Header: wire.Header{From: e.self}}); err != nil {
		log.Printf("%s: announce: %v", e.name, err)
	}
}

// HandleDirect processes a message from the direct channel.
func (e *Elector) HandleDirect(from netip.Addr, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.StartElection:
		e.handleChallenge(from, m.From)
	case *wire.ElectionResponse:
		e.handleResponse(from, m.From)
	default:
		log.Printf("%s: unexpected %v on election channel from %v", e.name, msg.Kind(), from)
	}
}

func (e *Elector) handleChallenge(from netip.Addr, challenger cluster.PeerID) {
	if challenger == e.self || e.self.Compare(challenger) < 0 {
		return
	}
	e.AddKnown(challenger, from)
	go e.send(from, &wire.ElectionResponse{Header: wire.Header{From: e.self}})

	e.mu.Lock()
	state, leading := e.state, e.hasLeader && e.leader.ID == e.self
	e.mu.Unlock()

	switch {
	case leading:
		e.announceSelf()
	case state == ElectionStarted:
		// own election already running
	default:
		e.StartElection("challenged by " + challenger.Short())
	}
}

func (e *Elector) handleResponse(from netip.Addr, responder cluster.PeerID) {
	if !responder.Greater(e.self) {
		return
	}
	e.AddKnown(responder, from)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != ElectionStarted || e.stopped {
		return
	}
	e.setLeaderLocked(Leader{ID: responder, Addr: from}, true)
	e.watchdog.Arm()
}

// HandleAnnouncement processes a LeaderAnnouncement from the server group.
func (e *Elector) HandleAnnouncement(from netip.Addr, sender cluster.PeerID) {
	if sender == e.self {
		return
	}
	e.AddKnown(sender, from)
	if sender.Compare(e.self) < 0 {
		e.StartElection("announcement from smaller " + sender.Short())
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.setLeaderLocked(Leader{ID: sender, Addr: from}, true)
	e.state = Running
	e.watchdog.Arm()
}

// ObserveHeartbeat processes a coordinator Heartbeat. It reports whether the
// sender is the current coordinator, in which case the caller answers it.
func (e *Elector) ObserveHeartbeat(from netip.Addr, sender cluster.PeerID) bool {
	e.AddKnown(sender, from)

	e.mu.Lock()
	if e.hasLeader && e.leader.ID == sender {
		if sender != e.self && !e.watchdog.Renew() {
			e.watchdog.Arm()
		}
		e.mu.Unlock()
		return true
	}
	electing := e.state == ElectionStarted
	e.mu.Unlock()

	if !electing {
		e.StartElection("heartbeat from unexpected coordinator " + sender.Short())
	}
	return false
}

// ObserveSignal renews the watchdog for any liveness signal from the
// coordinator, such as a transport heartbeat.
func (e *Elector) ObserveSignal(sender cluster.PeerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasLeader && e.leader.ID == sender && sender != e.self {
		e.watchdog.Renew()
	}
}

// AddKnown records a server as a possible election target.
func (e *Elector) AddKnown(id cluster.PeerID, addr netip.Addr) {
	if id == e.self || id.IsNil() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.known[id] = addr
}

// Leader returns the current coordinator record, if any.
func (e *Elector) Leader() (Leader, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader, e.hasLeader
}

// IsLeader reports whether this server is the running coordinator.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Running && e.hasLeader && e.leader.ID == e.self
}

// State returns the current election state.
func (e *Elector) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Known returns the known servers ordered by identity.
func (e *Elector) Known() []cluster.PeerInfo {
	e.mu.Lock()
	out := make([]cluster.PeerInfo, 0, len(e.known))
	for id, addr := range e.known {
		out = append(out, cluster.PeerInfo{ID: id, Addr: addr})
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b cluster.PeerInfo) int { return a.ID.Compare(b.ID) })
	return out
}

// Elections returns how many elections this server started.
func (e *Elector) Elections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elections
}

func (e *Elector) setLeaderLocked(l Leader, ok bool) {
	if ok == e.hasLeader && l == e.leader {
		return
	}
	e.leader, e.hasLeader = l, ok
	if ok {
		log.Printf("%s: coordinator is now %s at %v", e.name, l.ID.Short(), l.Addr)
	}
	if e.onChange != nil {
		e.onChange(l, ok)
	}
}

func (e *Elector) send(to netip.Addr, msg wire.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SendTimeout)
	defer cancel()
	if err := e.direct.Send(ctx, to, msg); err != nil {
		log.Printf("%s: send %v to %v: %v", e.name, msg.Kind(), to, err)
	}
}
