// Package transport provides the unreliable datagram layer Go-Back-N runs on:
// a Socket with a fixed receive timeout over any net.PacketConn, plus UDP,
// in-memory and WebRTC DataChannel packet conns and a loss/corruption
// simulator.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

var (
	ErrTimeout = errors.New("receive timeout")
	ErrClosed  = errors.New("socket closed")
)

// Resolver turns a textual peer address into a net.Addr for this socket.
type Resolver func(addr string) (net.Addr, error)

// Socket sends and receives whole frames. Send is fire-and-forget; Receive
// blocks for at most the configured timeout. Only one goroutine may call
// Receive at a time; Send is safe for concurrent use.
type Socket struct {
	conn    net.PacketConn
	timeout time.Duration
	buf     []byte
	resolve Resolver
}

// NewSocket wraps conn. bufSize must fit the largest frame a peer may send.
func NewSocket(conn net.PacketConn, timeout time.Duration, bufSize int, resolve Resolver) *Socket {
	return &Socket{
		conn:    conn,
		timeout: timeout,
		buf:     make([]byte, bufSize),
		resolve: resolve,
	}
}

// ListenUDP binds a UDP socket on addr (e.g. ":5555" or "127.0.0.1:0").
func ListenUDP(addr string, timeout time.Duration, bufSize int) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return NewSocket(conn, timeout, bufSize, ResolveUDP), nil
}

// ResolveUDP is the Resolver for UDP sockets.
func ResolveUDP(addr string) (net.Addr, error) {
	return net.ResolveUDPAddr("udp", addr)
}

// Conn exposes the underlying packet conn.
func (s *Socket) Conn() net.PacketConn { return s.conn }

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Resolve maps a textual address to a peer address of this socket's network.
func (s *Socket) Resolve(addr string) (net.Addr, error) {
	if s.resolve == nil {
		return nil, fmt.Errorf("socket cannot resolve %q", addr)
	}
	return s.resolve(addr)
}

// Send transmits one frame. There is no delivery guarantee.
func (s *Socket) Send(frame []byte, addr net.Addr) error {
	if _, err := s.conn.WriteTo(frame, addr); err != nil {
		if isClosed(err) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Receive waits up to the socket timeout for one frame and returns a copy of
// it with its source address.
func (s *Socket) Receive() ([]byte, net.Addr, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		if isClosed(err) {
			return nil, nil, ErrClosed
		}
		return nil, nil, err
	}

	n, addr, err := s.conn.ReadFrom(s.buf)
	if err != nil {
		switch {
		case isTimeout(err):
			return nil, nil, ErrTimeout
		case isClosed(err):
			return nil, nil, ErrClosed
		}
		return nil, nil, err
	}

	frame := make([]byte, n)
	copy(frame, s.buf[:n])
	return frame, addr, nil
}

// Close releases the underlying conn and unblocks Receive.
func (s *Socket) Close() error {
	return s.conn.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
