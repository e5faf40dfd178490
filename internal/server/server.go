package server

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/config"
	"github.com/dreamware/lettermatch/internal/coordinator"
	"github.com/dreamware/lettermatch/internal/election"
	"github.com/dreamware/lettermatch/internal/heartbeat"
	"github.com/dreamware/lettermatch/internal/match"
	"github.com/dreamware/lettermatch/internal/transport"
	"github.com/dreamware/lettermatch/internal/wire"
	"github.com/dreamware/lettermatch/internal/words"
)

const directSendTimeout = time.Second

// Deps are the sockets and collaborators a Server runs on.
type Deps struct {
	// Group is bound to the server group port.
	Group transport.PacketConn
	// Match is bound to the match port.
	Match transport.PacketConn
	// Direct carries election traffic. Incoming direct messages must be
	// passed to Server.HandleDirect.
	Direct election.Channel
	Words  words.Validator
	// MatchGroup overrides the random match group.
	MatchGroup netip.Addr
}

// Server is one member of the fleet. Create it with New and run it with Run.
type Server struct {
	id         cluster.PeerID
	cfg        config.Config
	advertise  netip.Addr
	matchGroup netip.Addr
	started    time.Time

	group        *transport.Transport
	match        *transport.Transport
	elector      *election.Elector
	registry     *coordinator.Registry
	monitor      *coordinator.HealthMonitor
	orchestrator *match.Orchestrator
	beacons      map[string]*heartbeat.Beacon
}

// Status is the JSON view served on /status.
type Status struct {
	ID             cluster.PeerID                   `json:"id"`
	Advertise      netip.Addr                       `json:"advertise"`
	ElectionState  election.State                   `json:"election_state"`
	Leader         *election.Leader                 `json:"leader,omitempty"`
	IsLeader       bool                             `json:"is_leader"`
	Elections      int                              `json:"elections"`
	Known          []cluster.PeerInfo               `json:"known_servers"`
	Servers        []coordinator.ServerStatus       `json:"live_servers,omitempty"`
	MatchGroup     netip.Addr                       `json:"match_group"`
	Match          match.Status                     `json:"match"`
	GroupTransport transport.Stats                  `json:"group_transport"`
	MatchTransport transport.Stats                  `json:"match_transport"`
	Beacons        map[string]heartbeat.BeaconStats `json:"beacons"`
	Uptime         string                           `json:"uptime"`
}

// RandomMatchGroup picks an address in 239.0.0.0/8 other than exclude.
func RandomMatchGroup(exclude netip.Addr) netip.Addr {
	for {
		a := netip.AddrFrom4([4]byte{239, byte(rand.IntN(256)), byte(rand.IntN(256)), byte(1 + rand.IntN(254))})
		if a != exclude {
			return a
		}
	}
}

// New wires a server on deps. Nothing is sent until Run is called.
func New(id cluster.PeerID, cfg config.Config, deps Deps) *Server {
	s := &Server{
		id:         id,
		cfg:        cfg,
		advertise:  cfg.Advertise(),
		matchGroup: deps.MatchGroup,
		started:    time.Now(),
		registry:   coordinator.NewRegistry(cfg.StatusWindow),
	}
	if !s.matchGroup.IsValid() {
		s.matchGroup = RandomMatchGroup(cfg.Group())
	}

	tuning := []transport.Option{
		transport.WithNackRetry(cfg.NackRetry),
		transport.WithAckTTL(cfg.AckTTL),
		transport.WithMaxAcks(cfg.MaxAcks),
	}
	s.group = transport.New(id, deps.Group, append(tuning,
		transport.WithName("group["+id.Short()+"]"),
		transport.WithHeartbeatHook(s.onGroupSignal))...)
	s.match = transport.New(id, deps.Match, append(tuning,
		transport.WithName("match["+id.Short()+"]"))...)

	s.elector = election.New(id, s.advertise, deps.Direct, s.group.SendOneOffToGroup, election.Config{
		Wait:          cfg.ElectionWait,
		LeaderTimeout: cfg.LeaderTimeout,
		SendTimeout:   directSendTimeout,
	}, election.WithLeaderChange(s.leaderChanged))

	s.monitor = coordinator.NewHealthMonitor(s.registry, cfg.HeartbeatInterval)
	s.monitor.SetOnUnhealthy(func(serverID cluster.PeerID) {
		log.Printf("server[%s]: %s dropped from the live set", id.Short(), serverID.Short())
	})

	s.orchestrator = match.New(id, s.match, deps.Words, match.Config{
		Group:         s.matchGroup,
		MaxPlayers:    cfg.MaxPlayers,
		Rounds:        cfg.Rounds,
		CollectWindow: cfg.CollectWindow,
		ResultPause:   cfg.ResultPause,
	})

	s.beacons = map[string]*heartbeat.Beacon{
		"group":       heartbeat.NewBeacon("group", cfg.HeartbeatInterval, s.group.SendHeartbeat),
		"match":       heartbeat.NewBeacon("match", cfg.HeartbeatInterval, s.match.SendHeartbeat),
		"coordinator": heartbeat.NewBeacon("coordinator", cfg.HeartbeatInterval, s.sendCoordinatorHeartbeat),
	}
	return s
}

// ID returns the server identity.
func (s *Server) ID() cluster.PeerID {
	return s.id
}

// MatchGroup returns the multicast group this server hosts its match on.
func (s *Server) MatchGroup() netip.Addr {
	return s.matchGroup
}

// IsLeader reports whether this server is the running coordinator.
func (s *Server) IsLeader() bool {
	return s.elector.IsLeader()
}

// Leader returns the coordinator this server follows, if any.
func (s *Server) Leader() (election.Leader, bool) {
	return s.elector.Leader()
}

// Match returns the hosted match.
func (s *Server) Match() match.Status {
	return s.orchestrator.Status()
}

// HandleDirect receives a message from the election channel.
func (s *Server) HandleDirect(from netip.Addr, msg wire.Message) {
	s.elector.HandleDirect(from, msg)
}

// Run joins both groups, starts the election and serves until ctx is done.
// The transports are closed when Run returns.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	if err := s.group.Join(s.cfg.Group()); err != nil {
		return err
	}
	if err := s.match.Join(s.matchGroup); err != nil {
		return err
	}
	log.Printf("server[%s]: serving, match group %v", s.id.Short(), s.matchGroup)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receive(ctx, s.group, s.dispatchGroup) })
	g.Go(func() error { return s.receive(ctx, s.match, s.orchestrator.Handle) })
	g.Go(func() error { return s.orchestrator.Run(ctx) })
	g.Go(func() error {
		s.monitor.Start(ctx)
		return nil
	})
	for _, b := range s.beacons {
		g.Go(func() error {
			b.Start(ctx)
			return nil
		})
	}

	s.elector.Start()
	err := g.Wait()
	s.elector.Stop()
	return err
}

func (s *Server) close() {
	if err := s.group.Close(); err != nil {
		log.Printf("server[%s]: close group transport: %v", s.id.Short(), err)
	}
	if err := s.match.Close(); err != nil {
		log.Printf("server[%s]: close match transport: %v", s.id.Short(), err)
	}
}

func (s *Server) receive(ctx context.Context, t *transport.Transport, handle func(transport.Delivery)) error {
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

func (s *Server) dispatchGroup(d transport.Delivery) {
	from := d.From.Addr()
	switch m := d.Message.(type) {
	case *wire.RequestMatchAssignment:
		s.assign(d.From, m.From)
	case *wire.Heartbeat:
		if s.elector.ObserveHeartbeat(from, m.From) {
			s.answerHeartbeat()
		}
	case *wire.HeartbeatResponse:
		s.elector.AddKnown(m.From, from)
		if s.elector.IsLeader() {
			s.registry.Update(from, m)
		}
	case *wire.LeaderAnnouncement:
		s.elector.HandleAnnouncement(from, m.From)
	default:
		s.elector.AddKnown(m.Sender(), from)
		log.Printf("server[%s]: unexpected %v on the server group from %v", s.id.Short(), m.Kind(), d.From)
	}
}

// onGroupSignal sees every transport heartbeat on the server group. Only
// servers emit those.
func (s *Server) onGroupSignal(sig transport.Signal) {
	s.elector.AddKnown(sig.Sender, sig.Origin)
	s.elector.ObserveSignal(sig.Sender)
}

func (s *Server) leaderChanged(election.Leader, bool) {
	s.registry.Clear()
}

func (s *Server) sendCoordinatorHeartbeat() error {
	if !s.elector.IsLeader() {
		return nil
	}
	return s.group.SendOneOffToGroup(&wire.Heartbeat{Header: wire.Header{From: s.id}})
}

func (s *Server) answerHeartbeat() {
	st := s.orchestrator.Status()
	resp := &wire.HeartbeatResponse{
		Header:     wire.Header{From: s.id},
		HasMatch:   st.HasMatch,
		MatchID:    st.MatchID,
		MaxPlayers: int32(st.MaxPlayers),
		Players:    st.Players,
	}
	if err := s.group.SendOneOffToGroup(resp); err != nil {
		log.Printf("server[%s]: heartbeat response: %v", s.id.Short(), err)
	}
}

func (s *Server) localStatus() coordinator.ServerStatus {
	st := s.orchestrator.Status()
	return coordinator.ServerStatus{
		ServerID:   s.id,
		Addr:       s.advertise,
		HasMatch:   st.HasMatch,
		MatchID:    st.MatchID,
		MaxPlayers: st.MaxPlayers,
		Players:    st.Players,
		LastSeen:   time.Now(),
	}
}

func (s *Server) assign(from netip.AddrPort, player cluster.PeerID) {
	if !s.elector.IsLeader() {
		return
	}

	resp := &wire.MatchAssignment{Header: wire.Header{From: s.id}}
	a, err := s.registry.Assign(player, s.localStatus())
	if err != nil {
		log.Printf("server[%s]: denying %s: %v", s.id.Short(), player.Short(), err)
		resp.Reason = coordinator.NoFreeSlotsReason
	} else {
		log.Printf("server[%s]: assigning %s to %s", s.id.Short(), player.Short(), a.ServerID.Short())
		resp.Success = true
		resp.Reason = "success"
		resp.ServerID = a.ServerID
		resp.ServerAddr = a.Addr.String()
	}
	if err := s.group.SendOneOff(resp, from); err != nil {
		log.Printf("server[%s]: assignment reply to %v: %v", s.id.Short(), from, err)
	}
}

// Status snapshots the server for /status.
func (s *Server) Status() Status {
	st := Status{
		ID:             s.id,
		Advertise:      s.advertise,
		ElectionState:  s.elector.State(),
		IsLeader:       s.elector.IsLeader(),
		Elections:      s.elector.Elections(),
		Known:          s.elector.Known(),
		MatchGroup:     s.matchGroup,
		Match:          s.orchestrator.Status(),
		GroupTransport: s.group.Stats(),
		MatchTransport: s.match.Stats(),
		Beacons:        make(map[string]heartbeat.BeaconStats, len(s.beacons)),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
	}
	if l, ok := s.elector.Leader(); ok {
		st.Leader = &l
	}
	if st.IsLeader {
		st.Servers = s.registry.Live()
	}
	for name, b := range s.beacons {
		st.Beacons[name] = b.Stats()
	}
	return st
}
