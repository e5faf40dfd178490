package wire

import (
	"github.com/google/uuid"

	"github.com/dreamware/lettermatch/internal/cluster"
)

func init() {
	Register(KindRequestMatchAssignment, func(r *Reader, h Header) Message {
		return &RequestMatchAssignment{Header: h}
	})
	Register(KindMatchAssignment, decodeMatchAssignment)
	Register(KindMatchJoin, func(r *Reader, h Header) Message {
		return &MatchJoin{Header: h}
	})
	Register(KindMatchJoinResponse, decodeMatchJoinResponse)
	Register(KindPlayerJoinAnnouncement, func(r *Reader, h Header) Message {
		return &PlayerJoinAnnouncement{Header: h, MatchID: r.UUID(), Player: r.ID()}
	})
	Register(KindRoundStart, func(r *Reader, h Header) Message {
		return &RoundStart{Header: h, MatchID: r.UUID(), Letter: r.String(), Round: r.Int32()}
	})
	Register(KindRoundFinish, func(r *Reader, h Header) Message {
		return &RoundFinish{Header: h, MatchID: r.UUID()}
	})
	Register(KindSubmitWords, decodeSubmitWords)
	Register(KindRoundResult, decodeRoundResult)
	Register(KindStartElection, func(r *Reader, h Header) Message {
		return &StartElection{Header: h}
	})
	Register(KindLeaderAnnouncement, func(r *Reader, h Header) Message {
		return &LeaderAnnouncement{Header: h}
	})
	Register(KindElectionResponse, func(r *Reader, h Header) Message {
		return &ElectionResponse{Header: h}
	})
	Register(KindMatchEnd, decodeMatchEnd)
	Register(KindHeartbeat, func(r *Reader, h Header) Message {
		return &Heartbeat{Header: h}
	})
	Register(KindHeartbeatResponse, decodeHeartbeatResponse)
}

// RequestMatchAssignment asks the coordinator which server should host a player.
type RequestMatchAssignment struct {
	Header
}

func (*RequestMatchAssignment) Kind() Kind            { return KindRequestMatchAssignment }
func (*RequestMatchAssignment) EncodeFields(*Writer) {}

// MatchAssignment answers RequestMatchAssignment. ServerAddr is empty when
// Success is false.
type MatchAssignment struct {
	Header
	Success    bool
	Reason     string
	ServerID   cluster.PeerID
	ServerAddr string
}

func (*MatchAssignment) Kind() Kind { return KindMatchAssignment }

// EncodeFields writes the MatchAssignment fields in wire order.
func (m *MatchAssignment) EncodeFields(w *Writer) {
	w.Bool(m.Success)
	w.String(m.Reason)
	w.ID(m.ServerID)
	w.String(m.ServerAddr)
}

func decodeMatchAssignment(r *Reader, h Header) Message {
	return &MatchAssignment{
		Header:     h,
		Success:    r.Bool(),
		Reason:     r.String(),
		ServerID:   r.ID(),
		ServerAddr: r.String(),
	}
}

// MatchJoin is sent by a player to the server it was assigned to.
type MatchJoin struct {
	Header
}

func (*MatchJoin) Kind() Kind            { return KindMatchJoin }
func (*MatchJoin) EncodeFields(*Writer) {}

// MatchJoinResponse answers a MatchJoin. MatchGroup and MatchID are set only
// when Accepted.
type MatchJoinResponse struct {
	Header
	Accepted   bool
	MatchGroup string
	MatchID    uuid.UUID
}

func (*MatchJoinResponse) Kind() Kind { return KindMatchJoinResponse }

// EncodeFields writes the MatchJoinResponse fields in wire order.
func (m *MatchJoinResponse) EncodeFields(w *Writer) {
	w.Bool(m.Accepted)
	w.String(m.MatchGroup)
	w.UUID(m.MatchID)
}

func decodeMatchJoinResponse(r *Reader, h Header) Message {
	return &MatchJoinResponse{
		Header:     h,
		Accepted:   r.Bool(),
		MatchGroup: r.String(),
		MatchID:    r.UUID(),
	}
}

// PlayerJoinAnnouncement tells the match that Player joined.
type PlayerJoinAnnouncement struct {
	Header
	MatchID uuid.UUID
	Player  cluster.PeerID
}

func (*PlayerJoinAnnouncement) Kind() Kind { return KindPlayerJoinAnnouncement }

// EncodeFields writes the PlayerJoinAnnouncement fields in wire order.
func (m *PlayerJoinAnnouncement) EncodeFields(w *Writer) {
	w.UUID(m.MatchID)
	w.ID(m.Player)
}

// RoundStart opens round Round with Letter.
type RoundStart struct {
	Header
	MatchID uuid.UUID
	Letter  string
	Round   int32
}

func (*RoundStart) Kind() Kind { return KindRoundStart }

// EncodeFields writes the RoundStart fields in wire order.
func (m *RoundStart) EncodeFields(w *Writer) {
	w.UUID(m.MatchID)
	w.String(m.Letter)
	w.Int32(m.Round)
}

// RoundFinish signals that a player is done with the current round.
type RoundFinish struct {
	Header
	MatchID uuid.UUID
}

func (*RoundFinish) Kind() Kind { return KindRoundFinish }

// EncodeFields writes the RoundFinish fields in wire order.
func (m *RoundFinish) EncodeFields(w *Writer) {
	w.UUID(m.MatchID)
}

// SubmitWords carries one player's answers for the current round.
type SubmitWords struct {
	Header
	MatchID uuid.UUID
	City    string
	Country string
	River   string
}

func (*SubmitWords) Kind() Kind { return KindSubmitWords }

// EncodeFields writes the SubmitWords fields in wire order.
func (m *SubmitWords) EncodeFields(w *Writer) {
	w.UUID(m.MatchID)
	w.String(m.City)
	w.String(m.Country)
	w.String(m.River)
}

func decodeSubmitWords(r *Reader, h Header) Message {
	return &SubmitWords{
		Header:  h,
		MatchID: r.UUID(),
		City:    r.String(),
		Country: r.String(),
		River:   r.String(),
	}
}

// PlayerResult is one player's row in a RoundResult.
type PlayerResult struct {
	Player          cluster.PeerID
	City            string
	CityAccepted    bool
	Country         string
	CountryAccepted bool
	River           string
	RiverAccepted   bool
	Score           int32
}

// RoundResult publishes every answer and score of a finished round.
type RoundResult struct {
	Header
	MatchID uuid.UUID
	Round   int32
	Letter  string
	Results []PlayerResult
}

func (*RoundResult) Kind() Kind { return KindRoundResult }

// EncodeFields writes the RoundResult fields in wire order.
func (m *RoundResult) EncodeFields(w *Writer) {
	w.UUID(m.MatchID)
	w.Int32(m.Round)
	w.String(m.Letter)
	w.Count(len(m.Results))
	for _, p := range m.Results {
		w.ID(p.Player)
		w.String(p.City)
		w.Bool(p.CityAccepted)
		w.String(p.Country)
		w.Bool(p.CountryAccepted)
		w.String(p.River)
		w.Bool(p.RiverAccepted)
		w.Int32(p.Score)
	}
}

// playerResultMin is the smallest encoding of a PlayerResult.
const playerResultMin = 16 + 3*(4+1) + 4

func decodeRoundResult(r *Reader, h Header) Message {
	m := &RoundResult{
		Header:  h,
		MatchID: r.UUID(),
		Round:   r.Int32(),
		Letter:  r.String(),
	}
	n := r.Count(playerResultMin)
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Results = append(m.Results, PlayerResult{
			Player:          r.ID(),
			City:            r.String(),
			CityAccepted:    r.Bool(),
			Country:         r.String(),
			CountryAccepted: r.Bool(),
			River:           r.String(),
			RiverAccepted:   r.Bool(),
			Score:           r.Int32(),
		})
	}
	return m
}

// PlayerScore is one player's total in a MatchEnd.
type PlayerScore struct {
	Player cluster.PeerID
	Score  int32
}

// MatchEnd closes the match with the total scores.
type MatchEnd struct {
	Header
	MatchID uuid.UUID
	Scores  []PlayerScore
}

func (*MatchEnd) Kind() Kind { return KindMatchEnd }

// EncodeFields writes the MatchEnd fields in wire order.
func (m *MatchEnd) EncodeFields(w *Writer) {
	w.UUID(m.MatchID)
	w.Count(len(m.Scores))
	for _, s := range m.Scores {
		w.ID(s.Player)
		w.Int32(s.Score)
	}
}

func decodeMatchEnd(r *Reader, h Header) Message {
	m := &MatchEnd{Header: h, MatchID: r.UUID()}
	n := r.Count(16 + 4)
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Scores = append(m.Scores, PlayerScore{Player: r.ID(), Score: r.Int32()})
	}
	return m
}

// StartElection is sent over the direct channel to every greater identity.
type StartElection struct {
	Header
}

func (*StartElection) Kind() Kind            { return KindStartElection }
func (*StartElection) EncodeFields(*Writer) {}

// LeaderAnnouncement declares the sender coordinator.
type LeaderAnnouncement struct {
	Header
}

func (*LeaderAnnouncement) Kind() Kind            { return KindLeaderAnnouncement }
func (*LeaderAnnouncement) EncodeFields(*Writer) {}

// ElectionResponse tells a smaller challenger to stand down.
type ElectionResponse struct {
	Header
}

func (*ElectionResponse) Kind() Kind            { return KindElectionResponse }
func (*ElectionResponse) EncodeFields(*Writer) {}

// Heartbeat is the coordinator's liveness beacon on the server group.
type Heartbeat struct {
	Header
}

func (*Heartbeat) Kind() Kind            { return KindHeartbeat }
func (*Heartbeat) EncodeFields(*Writer) {}

// HeartbeatResponse reports a follower's match status to the coordinator.
type HeartbeatResponse struct {
	Header
	HasMatch   bool
	MatchID    uuid.UUID
	MaxPlayers int32
	Players    []cluster.PeerID
}

func (*HeartbeatResponse) Kind() Kind { return KindHeartbeatResponse }

// EncodeFields writes the HeartbeatResponse fields in wire order.
func (m *HeartbeatResponse) EncodeFields(w *Writer) {
	w.Bool(m.HasMatch)
	w.UUID(m.MatchID)
	w.Int32(m.MaxPlayers)
	w.IDs(m.Players)
}

func decodeHeartbeatResponse(r *Reader, h Header) Message {
	return &HeartbeatResponse{
		Header:     h,
		HasMatch:   r.Bool(),
		MatchID:    r.UUID(),
		MaxPlayers: r.Int32(),
		Players:    r.IDs(),
	}
}
