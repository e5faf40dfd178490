// Package heartbeat provides the two timers of the failure detector.
//
// A Beacon emits on a fixed interval. Servers run one that sends transport
// heartbeats, so piggybacked acks surface gaps even without application
// traffic, and the coordinator runs one that sends its liveness message to the
// server group.
//
// A Watchdog is the follower side: it is armed when a coordinator is adopted,
// renewed by every signal from that coordinator and calls its expiry function
// once if no renewal arrives within the timeout. Expiry starts an election.
//
//	coordinator                          follower
//	┌────────┐  Heartbeat every 500ms   ┌──────────┐
//	│ Beacon │ ───────────────────────► │ Watchdog │──► 2s silence ──► election
//	└────────┘                          └──────────┘
package heartbeat
