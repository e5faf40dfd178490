// Package transport turns best-effort multicast datagrams into per-source
// ordered, eventually delivered channels.
//
// # Overview
//
// A Transport owns one socket and at most one multicast membership. Ordered
// frames carry a per-sender sequence number. The receive loop keeps a delivery
// cursor per (origin address, identity), buffers frames that arrive early in a
// holdback set and asks for the missing range with a NACK. Every ordered frame
// and every heartbeat piggybacks a snapshot of the sender's cursors, so a node
// that missed a multicast learns about the gap from any peer, not only from the
// original sender.
//
//	 socket ──► receive loop ──► decode ──► cursor check ──┬─► deliver ──► FIFO ──► Receive
//	                                                       ├─► holdback + NACK
//	                                                       └─► duplicate, drop
//
// # Retransmission
//
// NACKs are multicast to the group and name the stream they are about. The
// original sender answers from its sent-log; any other member answers from its
// received-log with a relayed frame that carries the original sender's address.
// Replays are unicast to whoever asked. A range nobody holds any more is logged
// as permanently lost and the requesting stream stalls at the gap.
//
// A gap that is already being waited on is not NACK'd again until the stream
// makes progress or the retry interval passes, and each delivery pass NACKs a
// stream at most once.
//
// # Guarantees
//
// For frames s1 < s2 from the same (origin, identity), Receive yields s1 first
// and never yields a sequence twice. There is no total order across sources
// and no real-time bound on delivery.
//
// # Concurrency
//
// One goroutine per Transport reads the socket and runs the whole per-datagram
// algorithm under the transport mutex. Senders and timers take the same mutex.
// The delivery FIFO is the only structure shared with consumers.
package transport
