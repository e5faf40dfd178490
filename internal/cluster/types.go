package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// PeerID identifies one process for its whole lifetime.
type PeerID uuid.UUID

// Nil is the zero identity. No live process uses it.
var Nil PeerID

// NewPeerID returns a fresh random identity.
func NewPeerID() PeerID {
	return PeerID(uuid.New())
}

// ParsePeerID parses the canonical textual form of an identity.
func ParsePeerID(s string) (PeerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parse peer id %q: %w", s, err)
	}
	return PeerID(u), nil
}

// String returns the canonical UUID form.
func (id PeerID) String() string {
	return uuid.UUID(id).String()
}

// Short returns the first eight hex digits, used in log prefixes.
func (id PeerID) Short() string {
	return id.String()[:8]
}

// Compare orders identities as big-endian unsigned 128-bit integers.
// It returns -1, 0 or +1.
func (id PeerID) Compare(other PeerID) int {
	return bytes.Compare(id[:], other[:])
}

// Greater reports whether id wins an election against other.
func (id PeerID) Greater(other PeerID) bool {
	return id.Compare(other) > 0
}

// IsNil reports whether id is the zero identity.
func (id PeerID) IsNil() bool {
	return id == Nil
}

// MarshalText encodes id in its UUID form, so it can key JSON maps.
func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the UUID form written by MarshalText.
func (id *PeerID) UnmarshalText(b []byte) error {
	parsed, err := ParsePeerID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PeerInfo pairs an identity with the address it was last seen at.
type PeerInfo struct {
	ID   PeerID     `json:"id"`
	Addr netip.Addr `json:"addr"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// GetJSON performs an HTTP GET and decodes the JSON response into out.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - url: Full URL to fetch
//   - out: Pointer to the value receiving the decoded body
//
// Returns an error on transport failure, on a status of 300 or above, or when
// the body is not valid JSON.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
