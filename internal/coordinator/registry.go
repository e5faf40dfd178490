// Package coordinator implements the leader-side bookkeeping of the server fleet.
// See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/wire"
)

// NoFreeSlotsReason is the reason sent to a player when no server can take them.
const NoFreeSlotsReason = "No free player slots found on any server!"

// ErrNoFreeSlots is returned by Assign when every live server is full.
var ErrNoFreeSlots = errors.New("no free player slots found on any server")

// ServerStatus is the latest self-report of one server, as carried by a
// HeartbeatResponse, plus where and when it was heard.
//
// Thread Safety:
// The registry hands out copies; Players is never shared with the caller.
type ServerStatus struct {
	LastSeen   time.Time        `json:"last_seen"`
	Players    []cluster.PeerID `json:"players"`
	MatchID    uuid.UUID        `json:"match_id"`
	ServerID   cluster.PeerID   `json:"server_id"`
	Addr       netip.Addr       `json:"addr"`
	MaxPlayers int              `json:"max_players"`
	HasMatch   bool             `json:"has_match"`
}

// HasPlayer reports whether the player is part of this server's match.
func (s ServerStatus) HasPlayer(player cluster.PeerID) bool {
	return slices.Contains(s.Players, player)
}

// HasFreeSlot reports whether another player fits on this server.
func (s ServerStatus) HasFreeSlot() bool {
	return len(s.Players) < s.MaxPlayers
}

func (s ServerStatus) clone() ServerStatus {
	s.Players = slices.Clone(s.Players)
	return s
}

// Assignment names the server a player should join.
type Assignment struct {
	ServerID cluster.PeerID
	Addr     netip.Addr
}

// Registry tracks the status of every server that answered the leader's
// heartbeats, and decides where players go.
//
// A status is live while it is younger than the freshness window. Stale
// statuses stay in the map until Expire removes them, but Assign and Live
// never consider them.
//
// Concurrency Model:
//   - Read operations use RLock
//   - Update, Expire and Clear take the write lock
//   - All returned data is copied
type Registry struct {
	statuses map[cluster.PeerID]*ServerStatus
	now      func() time.Time
	window   time.Duration
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry with the given freshness window.
//
// Example:
//
//	registry := NewRegistry(2 * time.Second)
//	registry.Update(addr, heartbeatResponse)
//	assignment, err := registry.Assign(playerID, localStatus)
func NewRegistry(window time.Duration) *Registry {
	return &Registry{
		statuses: make(map[cluster.PeerID]*ServerStatus),
		now:      time.Now,
		window:   window,
	}
}

// Update records a HeartbeatResponse heard from addr.
func (r *Registry) Update(addr netip.Addr, resp *wire.HeartbeatResponse) {
	status := &ServerStatus{
		ServerID:   resp.From,
		Addr:       addr,
		HasMatch:   resp.HasMatch,
		MatchID:    resp.MatchID,
		MaxPlayers: int(resp.MaxPlayers),
		Players:    slices.Clone(resp.Players),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	status.LastSeen = r.now()
	r.statuses[resp.From] = status
}

// Get returns the recorded status of a server, live or not.
func (r *Registry) Get(id cluster.PeerID) (ServerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[id]
	if !ok {
		return ServerStatus{}, false
	}
	return s.clone(), true
}

// Live returns the statuses inside the freshness window, ordered by server id.
func (r *Registry) Live() []ServerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveLocked()
}

func (r *Registry) liveLocked() []ServerStatus {
	now := r.now()
	out := make([]ServerStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		if now.Sub(s.LastSeen) < r.window {
			out = append(out, s.clone())
		}
	}
	slices.SortFunc(out, func(a, b ServerStatus) int { return a.ServerID.Compare(b.ServerID) })
	return out
}

// Expire removes statuses older than the freshness window and returns the
// ids it removed.
func (r *Registry) Expire() []cluster.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var expired []cluster.PeerID
	for id, s := range r.statuses {
		if now.Sub(s.LastSeen) >= r.window {
			delete(r.statuses, id)
			expired = append(expired, id)
		}
	}
	slices.SortFunc(expired, func(a, b cluster.PeerID) int { return a.Compare(b) })
	return expired
}

// Clear forgets every status. A server stepping down as leader calls it.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.statuses)
}

// Len returns the number of tracked servers, live or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.statuses)
}

// Assign picks the server for a player. local describes the leader itself;
// its own heartbeat responses never reach the registry.
//
// Preference order:
//  1. A live server whose match already includes the player
//  2. The leader, if its match includes the player
//  3. A live server with a free slot
//  4. The leader, if it has a free slot
//
// Otherwise ErrNoFreeSlots is returned.
func (r *Registry) Assign(player cluster.PeerID, local ServerStatus) (Assignment, error) {
	r.mu.RLock()
	live := r.liveLocked()
	r.mu.RUnlock()

	live = slices.DeleteFunc(live, func(s ServerStatus) bool { return s.ServerID == local.ServerID })
	self := Assignment{ServerID: local.ServerID, Addr: local.Addr}

	for _, s := range live {
		if s.HasPlayer(player) {
			return Assignment{ServerID: s.ServerID, Addr: s.Addr}, nil
		}
	}
	if local.HasPlayer(player) {
		return self, nil
	}
	for _, s := range live {
		if s.HasFreeSlot() {
			return Assignment{ServerID: s.ServerID, Addr: s.Addr}, nil
		}
	}
	if local.HasFreeSlot() {
		return self, nil
	}
	return Assignment{}, ErrNoFreeSlots
}
