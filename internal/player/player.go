package player

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/config"
	"github.com/dreamware/lettermatch/internal/transport"
	"github.com/dreamware/lettermatch/internal/wire"
)

var (
	// ErrNoMatch is returned by round operations outside a match.
	ErrNoMatch = errors.New("not in a match")
	// ErrBusy is returned by RequestMatch while a request or match is active.
	ErrBusy = errors.New("match already requested")
)

// Kind tells which event a Notification reports.
type Kind int

const (
	MatchAssigned Kind = iota
	JoinAccepted
	JoinDenied
	PlayerJoined
	RoundStarted
	RoundFinished
	RoundResults
	MatchEnded
	CoordinatorLost
)

var kindNames = map[Kind]string{
	MatchAssigned:   "match assigned",
	JoinAccepted:    "join accepted",
	JoinDenied:      "join denied",
	PlayerJoined:    "player joined",
	RoundStarted:    "round started",
	RoundFinished:   "round finished",
	RoundResults:    "round results",
	MatchEnded:      "match ended",
	CoordinatorLost: "coordinator lost",
}

// String returns a lower-case description of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Notification is one event for the user interface. Only the fields that
// belong to Kind are set.
type Notification struct {
	Kind       Kind
	Server     cluster.PeerID
	ServerAddr netip.Addr
	Reason     string
	MatchID    uuid.UUID
	Player     cluster.PeerID
	Round      int
	Letter     string
	Results    []wire.PlayerResult
	Scores     []wire.PlayerScore
}

// Deps are the sockets a Client runs on.
type Deps struct {
	// Control is bound to any free port.
	Control transport.PacketConn
	// Match is bound to the match port.
	Match transport.PacketConn
}

// Client plays matches for one player identity.
type Client struct {
	id      cluster.PeerID
	cfg     config.Config
	control *transport.Transport
	match   *transport.Transport
	notes   chan Notification
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	requested bool
	assignGen uint64
	server    netip.AddrPort
	matchID   uuid.UUID
	round     int
	open      bool // the current round has not been finished yet
}

// New returns a client for identity id. Call Run before RequestMatch.
func New(id cluster.PeerID, cfg config.Config, deps Deps) *Client {
	short := id.Short()
	match := transport.New(id, deps.Match,
		transport.WithName("play["+short+"]"),
		transport.WithNackRetry(cfg.NackRetry),
		transport.WithAckTTL(cfg.AckTTL),
		transport.WithMaxAcks(cfg.MaxAcks),
	)
	return &Client{
		id:      id,
		cfg:     cfg,
		control: transport.New(id, deps.Control, transport.WithName("control["+short+"]")),
		match:   match,
		notes:   make(chan Notification, 64),
		done:    make(chan struct{}),
	}
}

// ID returns the player identity.
func (c *Client) ID() cluster.PeerID {
	return c.id
}

// Notifications delivers events in the order they happened.
func (c *Client) Notifications() <-chan Notification {
	return c.notes
}

// MatchID returns the current match, or uuid.Nil.
func (c *Client) MatchID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchID
}

// Run serves both transports until ctx is done, then closes them.
func (c *Client) Run(ctx context.Context) error {
	defer c.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.receive(ctx, c.control, c.handleControl) })
	g.Go(func() error { return c.receive(ctx, c.match, c.handleMatch) })
	g.Go(func() error {
		beat := time.NewTicker(c.cfg.HeartbeatInterval)
		defer beat.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-beat.C:
				if c.MatchID() != uuid.Nil {
					// keeps the server's view of our stream current
					_ = c.match.SendHeartbeat()
				}
			}
		}
	})
	return g.Wait()
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
	c.control.Close()
	c.match.Close()
}

func (c *Client) receive(ctx context.Context, t *transport.Transport, handle func(transport.Delivery)) error {
	for {
		d, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		handle(d)
	}
}

func (c *Client) notify(n Notification) {
	select {
	case c.notes <- n:
	case <-c.done:
	}
}

// RequestMatch asks the coordinator for a match server. If no answer arrives
// within the assignment timeout a CoordinatorLost notification follows.
func (c *Client) RequestMatch() error {
	c.mu.Lock()
	if c.requested || c.matchID != uuid.Nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.requested = true
	c.assignGen++
	gen := c.assignGen
	c.mu.Unlock()

	dest := netip.AddrPortFrom(c.cfg.Group(), c.cfg.GroupPort)
	if err := c.control.SendOneOff(&wire.RequestMatchAssignment{Header: wire.Header{From: c.id}}, dest); err != nil {
		c.mu.Lock()
		c.requested = false
		c.mu.Unlock()
		return fmt.Errorf("request match: %w", err)
	}

	time.AfterFunc(c.cfg.AssignTimeout, func() {
		c.mu.Lock()
		lost := c.requested && c.assignGen == gen
		if lost {
			c.requested = false
		}
		c.mu.Unlock()
		if lost {
			c.notify(Notification{Kind: CoordinatorLost, Reason: "no answer from the server group"})
		}
	})
	return nil
}

// FinishRound tells everybody in the match that this player is done.
func (c *Client) FinishRound() error {
	id, err := c.currentMatch()
	if err != nil {
		return err
	}
	return c.match.SendOrderedReliable(&wire.RoundFinish{Header: wire.Header{From: c.id}, MatchID: id})
}

// SubmitWords sends this round's answers.
func (c *Client) SubmitWords(city, country, river string) error {
	id, err := c.currentMatch()
	if err != nil {
		return err
	}
	return c.match.SendOrderedReliable(&wire.SubmitWords{
		Header:  wire.Header{From: c.id},
		MatchID: id,
		City:    city,
		Country: country,
		River:   river,
	})
}

func (c *Client) currentMatch() (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.matchID == uuid.Nil {
		return uuid.Nil, ErrNoMatch
	}
	return c.matchID, nil
}

func (c *Client) handleControl(d transport.Delivery) {
	m, ok := d.Message.(*wire.MatchAssignment)
	if !ok {
		return
	}

	c.mu.Lock()
	if !c.requested {
		c.mu.Unlock()
		return
	}
	c.requested = false
	c.mu.Unlock()

	if !m.Success {
		c.notify(Notification{Kind: JoinDenied, Reason: m.Reason})
		return
	}
	addr, err := netip.ParseAddr(m.ServerAddr)
	if err != nil {
		c.notify(Notification{Kind: JoinDenied, Reason: "bad server address " + m.ServerAddr})
		return
	}
	server := netip.AddrPortFrom(addr, c.cfg.MatchPort)

	c.mu.Lock()
	c.server = server
	c.mu.Unlock()
	c.notify(Notification{Kind: MatchAssigned, Server: m.ServerID, ServerAddr: addr})

	if err := c.match.SendOneOff(&wire.MatchJoin{Header: wire.Header{From: c.id}}, server); err != nil {
		log.Printf("player[%s]: join %v: %v", c.id.Short(), server, err)
	}
}

func (c *Client) handleMatch(d transport.Delivery) {
	if resp, ok := d.Message.(*wire.MatchJoinResponse); ok {
		c.joined(resp)
		return
	}

	c.mu.Lock()
	current := c.matchID
	c.mu.Unlock()

	switch m := d.Message.(type) {
	case *wire.PlayerJoinAnnouncement:
		if m.MatchID == current {
			c.notify(Notification{Kind: PlayerJoined, MatchID: m.MatchID, Player: m.Player})
		}
	case *wire.RoundStart:
		if m.MatchID != current {
			return
		}
		c.mu.Lock()
		c.round, c.open = int(m.Round), true
		c.mu.Unlock()
		c.notify(Notification{Kind: RoundStarted, MatchID: m.MatchID, Round: int(m.Round), Letter: m.Letter})
	case *wire.RoundFinish:
		if m.MatchID != current {
			return
		}
		c.mu.Lock()
		first, round := c.open, c.round
		c.open = false
		c.mu.Unlock()
		if first {
			c.notify(Notification{Kind: RoundFinished, MatchID: m.MatchID, Player: m.From, Round: round})
		}
	case *wire.RoundResult:
		if m.MatchID == current {
			c.notify(Notification{Kind: RoundResults, MatchID: m.MatchID, Round: int(m.Round), Letter: m.Letter, Results: m.Results})
		}
	case *wire.MatchEnd:
		if m.MatchID != current {
			return
		}
		c.leave()
		c.notify(Notification{Kind: MatchEnded, MatchID: m.MatchID, Scores: m.Scores})
	}
}

func (c *Client) joined(resp *wire.MatchJoinResponse) {
	if !resp.Accepted {
		c.notify(Notification{Kind: JoinDenied, Server: resp.From, Reason: "match is full"})
		return
	}
	group, err := netip.ParseAddr(resp.MatchGroup)
	if err != nil || !group.IsMulticast() {
		c.notify(Notification{Kind: JoinDenied, Server: resp.From, Reason: "bad match group " + resp.MatchGroup})
		return
	}

	if g := c.match.Group(); g.IsValid() && g != group {
		c.match.Leave()
	}
	if !c.match.Group().IsValid() {
		if err := c.match.Join(group); err != nil {
			c.notify(Notification{Kind: JoinDenied, Server: resp.From, Reason: err.Error()})
			return
		}
	}

	c.mu.Lock()
	c.matchID = resp.MatchID
	c.mu.Unlock()
	c.notify(Notification{Kind: JoinAccepted, Server: resp.From, MatchID: resp.MatchID})
}

func (c *Client) leave() {
	c.mu.Lock()
	c.matchID = uuid.Nil
	c.round, c.open = 0, false
	c.mu.Unlock()

	// Leave also drops the match's stream state.
	if err := c.match.Leave(); err != nil {
		log.Printf("player[%s]: leave match group: %v", c.id.Short(), err)
	}
}

// LoadIdentity returns the player identity stored at path, creating the file
// with a fresh identity if it does not exist. An empty path yields a fresh,
// unsaved identity.
func LoadIdentity(path string) (cluster.PeerID, error) {
	if path == "" {
		return cluster.NewPeerID(), nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		id := cluster.NewPeerID()
		if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o600); err != nil {
			return cluster.Nil, fmt.Errorf("save identity: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return cluster.Nil, fmt.Errorf("read identity: %w", err)
	}
	id, err := cluster.ParsePeerID(strings.TrimSpace(string(b)))
	if err != nil {
		return cluster.Nil, fmt.Errorf("identity file %s: %w", path, err)
	}
	return id, nil
}
