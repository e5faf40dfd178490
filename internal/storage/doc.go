// Package storage holds the frame logs behind NACK retransmission.
//
// Every transport owns two logs:
//
//	┌──────────────────────────────┐   ┌──────────────────────────────┐
//	│           sent-log           │   │         received-log         │
//	│ own ordered frames, by seq   │   │ other senders' frames, by    │
//	│ replayed as the original     │   │ (sender, seq), replayed as   │
//	│ sender                       │   │ a relay                      │
//	└──────────────────────────────┘   └──────────────────────────────┘
//
// Entries are keyed by (sender identity, sequence). A frame received twice
// keeps the first logged payload, so relays always serve what was originally
// sent. Both logs are cleared when the owning transport is reset.
//
// MemoryLog is the only implementation. Protocol state is not persisted across
// restarts, so nothing heavier is needed.
package storage
