package wire

import (
	"fmt"
	"net/netip"

	"github.com/dreamware/lettermatch/internal/cluster"
)

// DatagramKind is the leading byte of every datagram.
type DatagramKind byte

const (
	DatagramOneOff    DatagramKind = 0xBD
	DatagramFrame     DatagramKind = 0xBE
	DatagramNack      DatagramKind = 0xBF
	DatagramHeartbeat DatagramKind = 0xC0
)

// String names the datagram kind for logs.
func (k DatagramKind) String() string {
	switch k {
	case DatagramOneOff:
		return "one-off"
	case DatagramFrame:
		return "frame"
	case DatagramNack:
		return "nack"
	case DatagramHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("DatagramKind(%#x)", byte(k))
	}
}

// OneOffSeq is the sequence reported for messages that bypass ordering.
const OneOffSeq int32 = -1

// Ack is a piggybacked statement "I delivered up to Seq from ID at Addr".
type Ack struct {
	Addr netip.Addr
	ID   cluster.PeerID
	Seq  int32
}

// Frame is the envelope of ordered traffic and heartbeats.
//
// Relayed frames are retransmissions served by a peer other than the original
// sender; OriginalSender is set exactly when Relayed is true.
type Frame struct {
	Relayed        bool
	OriginalSender netip.Addr
	Seq            int32
	Sender         cluster.PeerID
	Acks           []Ack
	Payload        Message
}

const ackSize = 4 + 16 + 4

func (f *Frame) encode(w *Writer) {
	if f.Relayed != f.OriginalSender.IsValid() {
		w.fail(fmt.Errorf("%w: relayed=%t with original sender %v", ErrUnsupportedField, f.Relayed, f.OriginalSender))
		return
	}
	w.Bool(f.Relayed)
	if f.Relayed {
		w.Addr(f.OriginalSender)
	}
	w.Int32(f.Seq)
	w.ID(f.Sender)
	w.Count(len(f.Acks))
	for _, a := range f.Acks {
		w.IPv4(a.Addr)
		w.ID(a.ID)
		w.Int32(a.Seq)
	}
	w.Bool(f.Payload != nil)
	if f.Payload != nil {
		writeMessage(w, f.Payload)
	}
}

func readFrame(r *Reader) (Frame, error) {
	var f Frame
	f.Relayed = r.Bool()
	if f.Relayed {
		f.OriginalSender = r.Addr()
	}
	f.Seq = r.Int32()
	f.Sender = r.ID()
	n := r.Count(ackSize)
	for i := 0; i < n && r.Err() == nil; i++ {
		f.Acks = append(f.Acks, Ack{Addr: r.IPv4(), ID: r.ID(), Seq: r.Int32()})
	}
	if r.Bool() {
		m, err := readMessage(r)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = m
	}
	if err := r.Err(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Datagram is the closed set of things that travel in one UDP packet:
// *OneOffDatagram, *FrameDatagram, *HeartbeatDatagram and *NackDatagram.
type Datagram interface {
	DatagramKind() DatagramKind
}

// OneOffDatagram carries a message outside any ordered stream.
type OneOffDatagram struct {
	Message Message
}

// FrameDatagram carries one ordered frame.
type FrameDatagram struct {
	Frame Frame
}

// HeartbeatDatagram carries an empty frame announcing the sender's sequence.
type HeartbeatDatagram struct {
	Frame Frame
}

// NackDatagram asks for Expect+1..Have from the stream of ID at Target.
type NackDatagram struct {
	Target netip.Addr
	ID     cluster.PeerID
	Have   int32
	Expect int32
}

func (*OneOffDatagram) DatagramKind() DatagramKind    { return DatagramOneOff }
func (*FrameDatagram) DatagramKind() DatagramKind     { return DatagramFrame }
func (*HeartbeatDatagram) DatagramKind() DatagramKind { return DatagramHeartbeat }
func (*NackDatagram) DatagramKind() DatagramKind      { return DatagramNack }

// Encode serialises a datagram including its leading discriminator.
func Encode(d Datagram) ([]byte, error) {
	w := NewWriter()
	w.Byte(byte(d.DatagramKind()))
	switch d := d.(type) {
	case *OneOffDatagram:
		if d.Message == nil {
			return nil, fmt.Errorf("%w: one-off without message", ErrUnsupportedField)
		}
		writeMessage(w, d.Message)
	case *FrameDatagram:
		d.Frame.encode(w)
	case *HeartbeatDatagram:
		d.Frame.encode(w)
	case *NackDatagram:
		w.Addr(d.Target)
		w.ID(d.ID)
		w.Int32(d.Have)
		w.Int32(d.Expect)
	default:
		return nil, fmt.Errorf("%w: datagram %T", ErrUnsupportedField, d)
	}
	return w.Bytes()
}

// Decode parses one datagram. The result is never partially populated.
func Decode(b []byte) (Datagram, error) {
	r := NewReader(b)
	kind := DatagramKind(r.Byte())
	if err := r.Err(); err != nil {
		return nil, err
	}

	var d Datagram
	switch kind {
	case DatagramOneOff:
		m, err := readMessage(r)
		if err != nil {
			return nil, err
		}
		d = &OneOffDatagram{Message: m}
	case DatagramFrame:
		f, err := readFrame(r)
		if err != nil {
			return nil, err
		}
		d = &FrameDatagram{Frame: f}
	case DatagramHeartbeat:
		f, err := readFrame(r)
		if err != nil {
			return nil, err
		}
		d = &HeartbeatDatagram{Frame: f}
	case DatagramNack:
		d = &NackDatagram{Target: r.Addr(), ID: r.ID(), Have: r.Int32(), Expect: r.Int32()}
	default:
		return nil, fmt.Errorf("%w: leading byte %#x", ErrMalformedFrame, byte(kind))
	}

	if err := r.Finish(); err != nil {
		return nil, err
	}
	return d, nil
}
