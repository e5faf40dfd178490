package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dreamware/lettermatch/internal/cluster"
)

// MaxFieldLen bounds the length prefix of any single string or array.
const MaxFieldLen = 1 << 16

// Writer appends big-endian fields to a buffer. The first error sticks and
// every later call is a no-op.
type Writer struct {
	buf []byte
	err error
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 128)}
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Err returns the first encoding error, if any.
func (w *Writer) Err() error {
	return w.err
}

// Bytes returns the encoded buffer or the first error.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// Byte appends a single byte.
func (w *Writer) Byte(b byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b)
}

// Bool appends v as one byte, 1 for true.
func (w *Writer) Bool(v bool) {
	if v {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

// Int32 appends v big-endian.
func (w *Writer) Int32(v int32) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

// Count writes an array length prefix.
func (w *Writer) Count(n int) {
	if n < 0 || n > MaxFieldLen {
		w.fail(fmt.Errorf("%w: length %d out of range", ErrUnsupportedField, n))
		return
	}
	w.Int32(int32(n))
}

// String appends s as UTF-8 with an int32 length prefix.
func (w *Writer) String(s string) {
	if !utf8.ValidString(s) {
		w.fail(fmt.Errorf("%w: string is not valid UTF-8", ErrUnsupportedField))
		return
	}
	w.Count(len(s))
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, s...)
}

// ID appends the 16 identity bytes.
func (w *Writer) ID(id cluster.PeerID) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, id[:]...)
}

// UUID appends the 16 bytes of u.
func (w *Writer) UUID(u uuid.UUID) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, u[:]...)
}

// IPv4 writes a 4 byte address. IPv4-mapped IPv6 addresses are unmapped first.
func (w *Writer) IPv4(a netip.Addr) {
	a = a.Unmap()
	if !a.Is4() {
		w.fail(fmt.Errorf("%w: %v is not an IPv4 address", ErrUnsupportedField, a))
		return
	}
	b := a.As4()
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b[:]...)
}

// Addr writes an address in its textual form.
func (w *Writer) Addr(a netip.Addr) {
	if !a.IsValid() {
		w.fail(fmt.Errorf("%w: invalid address", ErrUnsupportedField))
		return
	}
	w.String(a.Unmap().String())
}

// IDs appends an int32 count followed by each identity.
func (w *Writer) IDs(ids []cluster.PeerID) {
	w.Count(len(ids))
	for _, id := range ids {
		w.ID(id)
	}
}

// Reader consumes big-endian fields from a buffer. The first error sticks and
// every later call returns a zero value.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a reader over b. The first failed read sticks in Err.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Finish reports the first error, or ErrMalformedFrame if bytes are left over.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, r.Remaining())
	}
	return nil
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.fail(fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedFrame, n, r.off, r.Remaining()))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Byte reads a single byte.
func (r *Reader) Byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads a byte written by Writer.Bool.
func (r *Reader) Bool() bool {
	switch r.Byte() {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(fmt.Errorf("%w: bool byte at offset %d", ErrMalformedFrame, r.off-1))
		return false
	}
}

// Int32 reads a big-endian int32.
func (r *Reader) Int32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

// Count reads an array length prefix. Each element occupies at least
// minElem bytes, which bounds the count by the unread input.
func (r *Reader) Count(minElem int) int {
	n := r.Int32()
	if r.err != nil {
		return 0
	}
	if n < 0 || n > MaxFieldLen || int(n)*minElem > r.Remaining() {
		r.fail(fmt.Errorf("%w: length %d at offset %d", ErrMalformedFrame, n, r.off-4))
		return 0
	}
	return int(n)
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() string {
	b := r.take(r.Count(1))
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.fail(fmt.Errorf("%w: string is not valid UTF-8", ErrMalformedFrame))
		return ""
	}
	return string(b)
}

// ID reads a 16 byte identity.
func (r *Reader) ID() cluster.PeerID {
	var id cluster.PeerID
	copy(id[:], r.take(16))
	return id
}

// UUID reads 16 bytes as a UUID.
func (r *Reader) UUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], r.take(16))
	return u
}

// IPv4 reads a 4 byte address.
func (r *Reader) IPv4() netip.Addr {
	b := r.take(4)
	if b == nil {
		return netip.Addr{}
	}
	return netip.AddrFrom4([4]byte(b))
}

// Addr reads an address written by Writer.Addr.
func (r *Reader) Addr() netip.Addr {
	s := r.String()
	if r.err != nil {
		return netip.Addr{}
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		r.fail(fmt.Errorf("%w: address %q", ErrMalformedFrame, s))
		return netip.Addr{}
	}
	return a
}

// IDs reads a list written by Writer.IDs.
func (r *Reader) IDs() []cluster.PeerID {
	n := r.Count(16)
	if n == 0 {
		return nil
	}
	ids := make([]cluster.PeerID, n)
	for i := range ids {
		ids[i] = r.ID()
	}
	return ids
}
