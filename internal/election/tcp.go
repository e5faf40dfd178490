package election

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/dreamware/lettermatch/internal/wire"
)

const (
	maxDirectMessage = 1 << 16
	readTimeout      = 5 * time.Second
)

// Handler receives a message from the direct channel.
type Handler func(from netip.Addr, msg wire.Message)

// TCPSender delivers one encoded message per connection to a fixed port on
// the target host.
type TCPSender struct {
	port   uint16
	dialer net.Dialer
}

// NewTCPSender returns a Channel that dials the election port of each peer.
func NewTCPSender(port uint16) *TCPSender {
	return &TCPSender{port: port}
}

// Send dials to, writes msg and closes the connection.
func (s *TCPSender) Send(ctx context.Context, to netip.Addr, msg wire.Message) error {
	b, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}
	conn, err := s.dialer.DialContext(ctx, "tcp", netip.AddrPortFrom(to, s.port).String())
	if err != nil {
		return fmt.Errorf("dial %v: %w", to, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("write to %v: %w", to, err)
	}
	return nil
}

// TCPListener accepts direct messages and hands each to a Handler.
type TCPListener struct {
	ln      net.Listener
	handler Handler
	wg      sync.WaitGroup
	closed  chan struct{}
	once    sync.Once
}

// ListenTCP binds addr and starts accepting. A zero port picks a free one.
func ListenTCP(ctx context.Context, addr netip.AddrPort, handler Handler) (*TCPListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr.String())
	if err != nil {
		return nil, err
	}
	l := &TCPListener{ln: ln, handler: handler, closed: make(chan struct{})}
	l.wg.Add(1)
	go l.serve()
	return l, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (l *TCPListener) Addr() netip.AddrPort {
	return l.ln.Addr().(*net.TCPAddr).AddrPort()
}

// Close stops accepting and waits for in-flight messages to be handled.
func (l *TCPListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.ln.Close()
		l.wg.Wait()
	})
	return err
}

func (l *TCPListener) serve() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("election: accept: %v", err)
			continue
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(conn)
		}()
	}
}

func (l *TCPListener) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	b, err := io.ReadAll(io.LimitReader(conn, maxDirectMessage))
	if err != nil {
		log.Printf("election: read from %v: %v", conn.RemoteAddr(), err)
		return
	}
	msg, err := wire.DecodeMessage(b)
	if err != nil {
		log.Printf("election: dropping message from %v: %v", conn.RemoteAddr(), err)
		return
	}
	from := conn.RemoteAddr().(*net.TCPAddr).AddrPort().Addr().Unmap()
	l.handler(from, msg)
}
