package storage

import (
	"errors"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/wire"
)

// ErrFrameNotFound is returned when no payload is logged under a key
var ErrFrameNotFound = errors.New("frame not found")

// Key addresses one ordered frame: the identity that originally sent it and
// the sequence number it was sent with.
type Key struct {
	Sender cluster.PeerID
	Seq    int32
}

// Log keeps the payloads of ordered frames so they can be replayed on NACK.
// All implementations must be thread-safe for concurrent access
type Log interface {
	// Get retrieves the payload logged under key
	// Returns ErrFrameNotFound if nothing is logged
	Get(key Key) (wire.Message, error)

	// Put logs a payload, overwriting any existing entry
	Put(key Key, msg wire.Message) error

	// PutIfAbsent logs a payload unless the key is already present
	// Reports whether the payload was stored
	PutIfAbsent(key Key, msg wire.Message) bool

	// Delete removes an entry
	// No error if key doesn't exist
	Delete(key Key) error

	// Keys returns all keys ordered by sender, then sequence
	Keys() []Key

	// Clear drops every entry
	Clear()

	// Stats returns log statistics
	Stats() LogStats
}

// LogStats contains statistics about a log
type LogStats struct {
	Frames  int // Number of logged payloads
	Senders int // Number of distinct senders
}

// MemoryLog implements Log with an in-memory map
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryLog struct {
	mu   sync.RWMutex         // Protects concurrent access
	data map[Key]wire.Message // Logged payloads
}

// NewMemoryLog creates a new in-memory log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		data: make(map[Key]wire.Message),
	}
}

// Get retrieves the payload logged under key
// Messages are treated as immutable once logged
func (m *MemoryLog) Get(key Key) (wire.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, exists := m.data[key]
	if !exists {
		return nil, ErrFrameNotFound
	}
	return msg, nil
}

// Put logs msg under key, replacing any earlier entry.
func (m *MemoryLog) Put(key Key, msg wire.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = msg
	return nil
}

// PutIfAbsent logs msg unless key is taken and reports whether it did.
func (m *MemoryLog) PutIfAbsent(key Key, msg wire.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; exists {
		return false
	}
	m.data[key] = msg
	return true
}

// Delete removes an entry
// No error if key doesn't exist (idempotent)
func (m *MemoryLog) Delete(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Keys returns all keys ordered by sender, then sequence
func (m *MemoryLog) Keys() []Key {
	m.mu.RLock()
	keys := make([]Key, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	slices.SortFunc(keys, func(a, b Key) int {
		if c := a.Sender.Compare(b.Sender); c != 0 {
			return c
		}
		return int(a.Seq) - int(b.Seq)
	})
	return keys
}

// Clear drops every entry.
func (m *MemoryLog) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[Key]wire.Message)
}

// Stats returns log statistics
func (m *MemoryLog) Stats() LogStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	senders := make(map[cluster.PeerID]struct{})
	for key := range m.data {
		senders[key.Sender] = struct{}{}
	}

	return LogStats{
		Frames:  len(m.data),
		Senders: len(senders),
	}
}
