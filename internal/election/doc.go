// Package election implements bully leader election for the server fleet.
//
// # States
//
//	          startup / coordinator lost
//	┌──────────┐          ┌──────────────────┐   announcement or   ┌─────────┐
//	│ Starting │ ───────► │ ElectionStarted  │ ──────────────────► │ Running │
//	└──────────┘          └──────────────────┘   wait elapsed      └─────────┘
//	                              ▲                                     │
//	                              └──────── watchdog expiry ────────────┘
//
// An election clears the leader record and sends StartElection over the direct
// channel to every known server with a greater identity. A greater server
// answers with ElectionResponse and runs its own election, so only the maximum
// identity stays unanswered. A server that hears no answer within the wait
// declares itself coordinator, multicasts LeaderAnnouncement and starts
// heartbeating.
//
// A server adopting an announcement arms its watchdog. Heartbeats and
// transport heartbeats from the coordinator renew it; expiry starts a new
// election. Announcements from a smaller identity, and heartbeats from a
// server other than the current coordinator, are treated as inconsistencies
// and also start an election.
//
// Election traffic uses a direct connection-oriented channel so it survives
// the multicast loss that may have caused the election.
package election
