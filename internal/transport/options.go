package transport

import (
	"net/netip"
	"time"

	"github.com/dreamware/lettermatch/internal/cluster"
)

const (
	defaultNackRetry = 250 * time.Millisecond
	defaultAckTTL    = 30 * time.Second
	defaultMaxAcks   = 64

	// maxReplay caps the frames served for a single NACK.
	maxReplay = 512
)

// Signal describes a heartbeat frame seen on the group.
type Signal struct {
	Origin netip.Addr
	Sender cluster.PeerID
	Seq    int32
}

// Option configures a Transport.
type Option func(*Transport)

// WithNackRetry sets how long an outstanding NACK suppresses an identical one.
func WithNackRetry(d time.Duration) Option {
	return func(t *Transport) { t.nackRetry = d }
}

// WithAckTTL drops cursors not touched within d from piggyback snapshots.
// Zero disables the age limit.
func WithAckTTL(d time.Duration) Option {
	return func(t *Transport) { t.ackTTL = d }
}

// WithMaxAcks caps the number of piggyback entries per frame.
func WithMaxAcks(n int) Option {
	return func(t *Transport) { t.maxAcks = n }
}

// WithHeartbeatHook registers fn to run for every heartbeat from another peer.
// fn runs on the receive goroutine without the transport lock held.
func WithHeartbeatHook(fn func(Signal)) Option {
	return func(t *Transport) { t.onHeartbeat = fn }
}

// WithName sets the log prefix.
func WithName(name string) Option {
	return func(t *Transport) { t.name = name }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

type sendConfig struct {
	drop bool
}

// SendOption configures a single ordered send.
type SendOption func(*sendConfig)

// DropOnSend logs and sequences the frame but never puts it on the wire.
// Receivers recover it through NACKs. Used for fault injection.
func DropOnSend() SendOption {
	return func(c *sendConfig) { c.drop = true }
}
