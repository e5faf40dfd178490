// Package server composes one match-hosting server.
//
// A server owns two reliable multicast transports. The group transport is
// joined to the server group shared by the whole fleet and carries election
// announcements, coordinator heartbeats and match assignment requests. The
// match transport is joined to a multicast group private to this server and
// carries the game traffic of the match it hosts.
//
//	        server group 239.0.0.1:1337
//	   ┌──────────────┬──────────────┬──────────────┐
//	   │              │              │              │
//	┌──────┐       ┌──────┐       ┌──────┐       players
//	│ srv1 │       │ srv2 │       │ srv3 │  (assignment requests)
//	└──────┘       └──────┘       └──────┘
//	   │              │              │
//	 239.a.b.c      239.d.e.f      239.g.h.i    match groups, port 1338
//
// Election runs over a direct channel on top of that. While a server is
// coordinator it multicasts a Heartbeat every interval, collects the
// HeartbeatResponse of every follower in a coordinator.Registry and answers
// RequestMatchAssignment. Every server, coordinator or not, hosts at most one
// match through its match.Orchestrator.
package server
