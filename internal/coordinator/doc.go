// Package coordinator implements the bookkeeping the elected leader keeps
// about the server fleet and the match assignment decision built on it.
//
// # Overview
//
// Every heartbeat interval the leader multicasts a Heartbeat to the server
// group. Each follower answers with a HeartbeatResponse describing its match:
// whether one is running, its id, the player limit and the current players.
// The leader feeds those answers into a Registry.
//
//	┌──────────┐  Heartbeat          ┌──────────┐
//	│  leader  │ ──────────────────► │ follower │
//	│          │ ◄────────────────── │          │
//	└──────────┘  HeartbeatResponse  └──────────┘
//	     │
//	     ▼
//	┌─────────────────────────────────────┐
//	│  Registry                           │
//	│  serverID → (addr, status, seen)    │
//	└─────────────────────────────────────┘
//	     ▲
//	     │ Expire every interval
//	┌─────────────────┐
//	│  HealthMonitor  │
//	└─────────────────┘
//
// # Match Assignment
//
// A player asks the leader where to play with RequestMatchAssignment. The
// leader consults only statuses heard within the freshness window (2s by
// default) and prefers, in order:
//
//  1. A live server whose match already includes the player, so a restarted
//     client rejoins its match
//  2. The leader itself when its own match includes the player
//  3. Any live server with a free slot
//  4. The leader itself when it has a free slot
//
// When nothing qualifies the request is denied with NoFreeSlotsReason.
// Live servers are considered in server id order, which makes assignment
// deterministic for a given registry content.
//
// # Leadership Changes
//
// The registry is only meaningful on the leader. A server that loses
// leadership clears it, and a new leader starts from an empty registry that
// fills within one heartbeat interval.
package coordinator
