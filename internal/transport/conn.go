package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/net/ipv4"
)

// PacketConn is the datagram socket a Transport runs on. *UDPConn is the
// production implementation; netsim provides an in-memory one.
type PacketConn interface {
	ReadFrom(b []byte) (int, netip.AddrPort, error)
	WriteTo(b []byte, addr netip.AddrPort) error
	JoinGroup(group netip.Addr) error
	LeaveGroup(group netip.Addr) error
	LocalAddr() netip.AddrPort
	Close() error
}

type udpOptions struct {
	loopback bool
	ifi      *net.Interface
}

// UDPOption configures ListenUDP.
type UDPOption func(*udpOptions)

// WithMulticastLoopback controls whether the host receives its own multicasts.
// Off by default. Several processes on one host need it on.
func WithMulticastLoopback(on bool) UDPOption {
	return func(o *udpOptions) { o.loopback = on }
}

// WithInterface joins groups on the named interface instead of the default.
func WithInterface(ifi *net.Interface) UDPOption {
	return func(o *udpOptions) { o.ifi = ifi }
}

// UDPConn is an IPv4 UDP socket with multicast membership control.
type UDPConn struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	ifi  *net.Interface
}

// ListenUDP binds all IPv4 addresses on port with address and port reuse
// enabled, so several peers can share a port on one host. Port 0 picks an
// ephemeral port.
func ListenUDP(ctx context.Context, port uint16, opts ...UDPOption) (*UDPConn, error) {
	var o udpOptions
	for _, opt := range opts {
		opt(&o)
	}

	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("listen udp port %d: %w", port, err)
	}
	conn := pc.(*net.UDPConn)

	p := ipv4.NewPacketConn(conn)
	if err := p.SetMulticastLoopback(o.loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}
	if o.ifi != nil {
		if err := p.SetMulticastInterface(o.ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set multicast interface %s: %w", o.ifi.Name, err)
		}
	}

	return &UDPConn{conn: conn, pc: p, ifi: o.ifi}, nil
}

// ReadFrom reads one datagram.
func (c *UDPConn) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	return c.conn.ReadFromUDPAddrPort(b)
}

// WriteTo sends one datagram to addr.
func (c *UDPConn) WriteTo(b []byte, addr netip.AddrPort) error {
	_, err := c.conn.WriteToUDPAddrPort(b, addr)
	return err
}

// JoinGroup joins group on the configured interface.
func (c *UDPConn) JoinGroup(group netip.Addr) error {
	return c.pc.JoinGroup(c.ifi, &net.UDPAddr{IP: group.AsSlice()})
}

// LeaveGroup leaves group on the configured interface.
func (c *UDPConn) LeaveGroup(group netip.Addr) error {
	return c.pc.LeaveGroup(c.ifi, &net.UDPAddr{IP: group.AsSlice()})
}

// LocalAddr returns the bound address, usually the wildcard address.
func (c *UDPConn) LocalAddr() netip.AddrPort {
	return c.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Close releases the socket.
func (c *UDPConn) Close() error {
	return c.conn.Close()
}
