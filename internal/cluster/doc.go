// Package cluster provides the identity and addressing types shared by every
// member of a lettermatch fleet: match-hosting servers and the transient player
// clients that connect to them.
//
// # Overview
//
// Every process picks a PeerID once at startup. The identity is a 128-bit value
// that is stable for the life of the process and doubles as the tie-break key of
// the bully election: when two identities are compared, the numerically larger
// one wins. Identities travel inside every wire frame, inside piggyback acks and
// inside the application messages themselves.
//
// # Topology
//
//	             server group 239.0.0.1:1337
//	   ┌────────────────┬────────────────┬────────────────┐
//	   │                │                │                │
//	┌──▼───────┐   ┌────▼─────┐    ┌─────▼────┐     ┌─────▼────┐
//	│ Server A │   │ Server B │    │ Server C │     │  Player  │
//	│ (leader) │   │          │    │          │     │ (one-off)│
//	└──┬───────┘   └────┬─────┘    └──────────┘     └──────────┘
//	   │ match group    │ match group
//	   │ 239.x.y.z:1338 │ 239.u.v.w:1338
//
// Servers share one multicast group for election and coordination traffic.
// Every server additionally owns a private match group that its players join.
//
// # Ordering
//
// PeerID.Compare orders identities as big-endian unsigned integers, so the
// comparison is identical on every host regardless of its architecture.
//
// # Helpers
//
// GetJSON is the small HTTP helper used by tooling to read a server's status
// endpoint.
package cluster
