// Package wire implements the byte layout exchanged between lettermatch peers.
//
// Every UDP datagram starts with one discriminator byte:
//
//	0xBD  one-off       message, no ordering, no retransmission
//	0xBE  frame         ordered reliable frame
//	0xBF  NACK          retransmission request for a sequence range
//	0xC0  heartbeat     frame at the sender's current sequence, no payload
//
// Integers are big-endian and fixed width regardless of host architecture.
// Strings and arrays carry an int32 length prefix, identities are 16 raw bytes
// and addresses inside piggyback acks are 4 IPv4 bytes.
//
// A frame looks like:
//
//	┌─────────┬──────────────┬─────┬────────┬───────┬──────────┬─────────┬─────────┐
//	│ relayed │ [orig. addr] │ seq │ sender │ #acks │ acks ... │ has msg │ [msg]   │
//	│ bool    │ string       │ i32 │ 16 B   │ i32   │ 4+16+4 B │ bool    │         │
//	└─────────┴──────────────┴─────┴────────┴───────┴──────────┴─────────┴─────────┘
//
// An application message is one kind byte, the sender identity and then the
// fields of that kind in declared order. Kinds are resolved through an explicit
// registry filled by Register during package initialisation; decoding never
// falls back to reflection.
//
// Decoding is total: truncated, garbled or trailing input fails with
// ErrMalformedFrame and never yields a partially populated value. An
// unregistered kind fails with ErrUnknownMessageType. Values the layout cannot
// represent fail encoding with ErrUnsupportedField.
package wire
