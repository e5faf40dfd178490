// Package netsim is an in-memory datagram and direct-message network.
//
// It stands in for UDP multicast and the TCP election channel in tests. Every
// packet passes through an optional Fault function that may drop, duplicate,
// rewrite or hold it back, which is how loss, duplication and reordering are
// simulated.
package netsim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/dreamware/lettermatch/internal/wire"
)

// ErrUnreachable is returned by direct sends to an address with no handler.
var ErrUnreachable = errors.New("netsim: host unreachable")

const inboxSize = 4096

// Packet is one datagram in flight to one receiver. To is the address the
// sender wrote to, possibly a group; Dest is the endpoint receiving this copy.
type Packet struct {
	From netip.AddrPort
	To   netip.AddrPort
	Dest netip.AddrPort
	Data []byte
}

// Fault decides the fate of a packet. It sees every receiver's copy of a
// multicast separately. Returning nil drops the copy; returning several
// packets duplicates it.
type Fault func(p Packet) []Packet

// DirectHandler receives direct messages addressed to one host.
type DirectHandler func(from netip.Addr, msg wire.Message)

// Network connects Conns and direct handlers. The zero value is not usable;
// call New.
type Network struct {
	mu       sync.Mutex
	conns    map[netip.AddrPort]*Conn
	direct   map[netip.Addr]DirectHandler
	fault    Fault
	loopback bool
	nextPort uint16
}

// New returns a network with multicast loopback enabled.
func New() *Network {
	return &Network{
		conns:    make(map[netip.AddrPort]*Conn),
		direct:   make(map[netip.Addr]DirectHandler),
		loopback: true,
		nextPort: 40000,
	}
}

// SetFault installs f for all subsequent packets. nil removes it. f runs with
// the network locked and must not call back into it.
func (n *Network) SetFault(f Fault) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fault = f
}

// SetLoopback controls whether multicast senders receive their own packets.
func (n *Network) SetLoopback(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loopback = on
}

// Listen binds a Conn. Port 0 picks an unused ephemeral port.
func (n *Network) Listen(addr netip.AddrPort) (*Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if addr.Port() == 0 {
		for {
			candidate := netip.AddrPortFrom(addr.Addr(), n.nextPort)
			n.nextPort++
			if _, taken := n.conns[candidate]; !taken {
				addr = candidate
				break
			}
		}
	}
	if _, taken := n.conns[addr]; taken {
		return nil, fmt.Errorf("netsim: %v already in use", addr)
	}

	c := &Conn{
		net:    n,
		local:  addr,
		inbox:  make(chan Packet, inboxSize),
		groups: make(map[netip.Addr]bool),
		closed: make(chan struct{}),
	}
	n.conns[addr] = c
	return c, nil
}

// MustListen is Listen for tests that cannot recover from a bind failure.
func (n *Network) MustListen(addr netip.AddrPort) *Conn {
	c, err := n.Listen(addr)
	if err != nil {
		panic(err)
	}
	return c
}

// Inject delivers p to p.Dest without passing it through the fault function.
// Tests use it to release packets a Fault held back.
func (n *Network) Inject(p Packet) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.conns[p.Dest]; ok {
		c.enqueue(p)
	}
}

func (n *Network) route(p Packet) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, dest := range n.receiversLocked(p) {
		q := p
		q.Dest = dest
		out := []Packet{q}
		if n.fault != nil {
			out = n.fault(q)
		}
		for _, r := range out {
			if c, ok := n.conns[r.Dest]; ok {
				c.enqueue(r)
			}
		}
	}
}

func (n *Network) receiversLocked(p Packet) []netip.AddrPort {
	if !p.To.Addr().IsMulticast() {
		if _, ok := n.conns[p.To]; ok {
			return []netip.AddrPort{p.To}
		}
		return nil
	}
	var out []netip.AddrPort
	for addr, c := range n.conns {
		if addr.Port() != p.To.Port() || !c.groups[p.To.Addr()] {
			continue
		}
		if addr == p.From && !n.loopback {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// HandleDirect registers the direct-message handler for a host.
func (n *Network) HandleDirect(addr netip.Addr, h DirectHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct[addr] = h
}

// RemoveDirect makes a host unreachable for direct messages.
func (n *Network) RemoveDirect(addr netip.Addr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.direct, addr)
}

// Direct returns a sender of direct messages originating at local.
func (n *Network) Direct(local netip.Addr) *DirectConn {
	return &DirectConn{net: n, local: local}
}

// DirectConn sends one encoded message per call, like a short-lived TCP
// connection.
type DirectConn struct {
	net   *Network
	local netip.Addr
}

// Send encodes msg, decodes it on the far side and hands it to the target's
// handler on a new goroutine.
func (d *DirectConn) Send(ctx context.Context, to netip.Addr, msg wire.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}

	d.net.mu.Lock()
	h, ok := d.net.direct[to]
	d.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnreachable, to)
	}

	decoded, err := wire.DecodeMessage(b)
	if err != nil {
		return err
	}
	go h(d.local, decoded)
	return nil
}

// Conn is one bound endpoint on a Network.
type Conn struct {
	net       *Network
	local     netip.AddrPort
	inbox     chan Packet
	groups    map[netip.Addr]bool // guarded by net.mu
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *Conn) enqueue(p Packet) {
	select {
	case <-c.closed:
	case c.inbox <- p:
	default:
		// full receive buffer drops, like a kernel socket
	}
}

// ReadFrom blocks until a packet arrives or the conn is closed.
func (c *Conn) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	select {
	case p := <-c.inbox:
		return copy(b, p.Data), p.From, nil
	case <-c.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

// WriteTo routes a copy of b to every receiver of to.
func (c *Conn) WriteTo(b []byte, to netip.AddrPort) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	data := make([]byte, len(b))
	copy(data, b)
	c.net.route(Packet{From: c.local, To: to, Data: data})
	return nil
}

// JoinGroup subscribes the conn to multicasts sent to group on its port.
func (c *Conn) JoinGroup(group netip.Addr) error {
	if !group.IsMulticast() {
		return fmt.Errorf("netsim: %v is not a multicast address", group)
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.groups[group] = true
	return nil
}

// LeaveGroup drops the subscription.
func (c *Conn) LeaveGroup(group netip.Addr) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	delete(c.groups, group)
	return nil
}

// LocalAddr returns the bound address.
func (c *Conn) LocalAddr() netip.AddrPort {
	return c.local
}

// Close unbinds the conn and unblocks ReadFrom.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.net.mu.Lock()
		delete(c.net.conns, c.local)
		c.net.mu.Unlock()
	})
	return nil
}
