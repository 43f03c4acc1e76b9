package transport

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/transport/v4/deadline"
)

const memQueueSize = 1024 // per-endpoint inbound datagram capacity

// MemAddr is the address of an endpoint on a MemNetwork.
type MemAddr string

func (a MemAddr) Network() string { return "mem" }
func (a MemAddr) String() string  { return string(a) }

// MemNetwork is an in-process datagram network. Like UDP, writes to unknown
// or closed endpoints and writes to full queues are silently dropped.
type MemNetwork struct {
	mu    sync.Mutex
	conns map[MemAddr]*memConn
}

// NewMemNetwork creates an empty network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{conns: make(map[MemAddr]*memConn)}
}

// Listen attaches a new endpoint at addr.
func (n *MemNetwork) Listen(addr string) (net.PacketConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	a := MemAddr(addr)
	if _, exists := n.conns[a]; exists {
		return nil, fmt.Errorf("mem listen %s: address already in use", addr)
	}
	c := &memConn{
		net:      n,
		addr:     a,
		inbox:    make(chan memDatagram, memQueueSize),
		deadline: deadline.New(),
		closed:   make(chan struct{}),
	}
	n.conns[a] = c
	return c, nil
}

// Resolve is the Resolver for sockets on this network.
func (n *MemNetwork) Resolve(addr string) (net.Addr, error) {
	return MemAddr(addr), nil
}

// Socket is a convenience for NewSocket(Listen(addr)).
func (n *MemNetwork) Socket(addr string, timeout time.Duration, bufSize int) (*Socket, error) {
	conn, err := n.Listen(addr)
	if err != nil {
		return nil, err
	}
	return NewSocket(conn, timeout, bufSize, n.Resolve), nil
}

func (n *MemNetwork) lookup(a MemAddr) *memConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[a]
}

func (n *MemNetwork) remove(c *memConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conns[c.addr] == c {
		delete(n.conns, c.addr)
	}
}

type memDatagram struct {
	data []byte
	from MemAddr
}

type memConn struct {
	net      *MemNetwork
	addr     MemAddr
	inbox    chan memDatagram
	deadline *deadline.Deadline

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *memConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	default:
	}

	select {
	case d := <-c.inbox:
		return copy(p, d.data), d.from, nil
	case <-c.deadline.Done():
		return 0, nil, os.ErrDeadlineExceeded
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *memConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	dst := c.net.lookup(MemAddr(addr.String()))
	if dst == nil {
		return len(p), nil
	}

	data := make([]byte, len(p))
	copy(data, p)
	select {
	case dst.inbox <- memDatagram{data: data, from: c.addr}:
	case <-dst.closed:
	default:
	}
	return len(p), nil
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.net.remove(c)
	})
	return nil
}

func (c *memConn) LocalAddr() net.Addr { return c.addr }

func (c *memConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *memConn) SetReadDeadline(t time.Time) error {
	c.deadline.Set(t)
	return nil
}

func (c *memConn) SetWriteDeadline(time.Time) error { return nil }
