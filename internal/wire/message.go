package wire

import (
	"fmt"

	"github.com/dreamware/lettermatch/internal/cluster"
)

// Kind is the discriminator byte of an application message.
type Kind byte

const (
	KindRequestMatchAssignment Kind = 1
	KindMatchAssignment        Kind = 3
	KindMatchJoin              Kind = 4
	KindMatchJoinResponse      Kind = 5
	KindPlayerJoinAnnouncement Kind = 6
	KindRoundStart             Kind = 7
	KindRoundFinish            Kind = 8
	KindSubmitWords            Kind = 9
	KindRoundResult            Kind = 10
	KindStartElection          Kind = 100
	KindLeaderAnnouncement     Kind = 101
	KindElectionResponse       Kind = 102
	KindMatchEnd               Kind = 188
	KindHeartbeat              Kind = 250
	KindHeartbeatResponse      Kind = 251
)

var kindNames = map[Kind]string{
	KindRequestMatchAssignment: "RequestMatchAssignment",
	KindMatchAssignment:        "MatchAssignment",
	KindMatchJoin:              "MatchJoin",
	KindMatchJoinResponse:      "MatchJoinResponse",
	KindPlayerJoinAnnouncement: "PlayerJoinAnnouncement",
	KindRoundStart:             "RoundStart",
	KindRoundFinish:            "RoundFinish",
	KindSubmitWords:            "SubmitWords",
	KindRoundResult:            "RoundResult",
	KindStartElection:          "StartElection",
	KindLeaderAnnouncement:     "LeaderAnnouncement",
	KindElectionResponse:       "ElectionResponse",
	KindMatchEnd:               "MatchEnd",
	KindHeartbeat:              "Heartbeat",
	KindHeartbeatResponse:      "HeartbeatResponse",
}

// String names the message kind for logs.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// Message is an application payload carried by a datagram.
type Message interface {
	Kind() Kind
	Sender() cluster.PeerID
	// EncodeFields appends the kind specific fields in declared order.
	EncodeFields(w *Writer)
}

// Header carries the fields shared by every message.
type Header struct {
	From cluster.PeerID
}

// Sender returns the identity that created the message.
func (h Header) Sender() cluster.PeerID {
	return h.From
}

// DecodeFunc reads the kind specific fields of one message. It reports errors
// through the Reader.
type DecodeFunc func(r *Reader, h Header) Message

// registry is written only from init functions and read-only afterwards.
var registry = make(map[Kind]DecodeFunc)

// Register binds a kind to its decoder. It must be called during package
// initialisation and panics if the kind is already bound.
func Register(k Kind, fn DecodeFunc) {
	if _, dup := registry[k]; dup {
		panic(fmt.Sprintf("wire: %v registered twice", k))
	}
	registry[k] = fn
}

// Registered reports whether a decoder is bound to k.
func Registered(k Kind) bool {
	_, ok := registry[k]
	return ok
}

// EncodeMessage serialises a message without a datagram discriminator.
func EncodeMessage(m Message) ([]byte, error) {
	w := NewWriter()
	writeMessage(w, m)
	return w.Bytes()
}

// DecodeMessage parses exactly one message and rejects trailing bytes.
func DecodeMessage(b []byte) (Message, error) {
	r := NewReader(b)
	m, err := readMessage(r)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return m, nil
}

func writeMessage(w *Writer, m Message) {
	if !Registered(m.Kind()) {
		w.fail(fmt.Errorf("%w: %v", ErrUnknownMessageType, m.Kind()))
		return
	}
	w.Byte(byte(m.Kind()))
	w.ID(m.Sender())
	m.EncodeFields(w)
}

func readMessage(r *Reader) (Message, error) {
	k := Kind(r.Byte())
	from := r.ID()
	if err := r.Err(); err != nil {
		return nil, err
	}
	fn, ok := registry[k]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, byte(k))
	}
	m := fn(r, Header{From: from})
	if err := r.Err(); err != nil {
		return nil, err
	}
	return m, nil
}
