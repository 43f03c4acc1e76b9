package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/transport/v4/packetio"
	"github.com/pion/webrtc/v4"
)

const (
	highWaterMark   = 256 * 1024 // drop outgoing frames while SCTP holds more than this
	inboundBufLimit = 1 << 20    // bytes of undelivered inbound frames before dropping
)

// DataChannelAddr names one end of a DataChannel link.
type DataChannelAddr string

func (a DataChannelAddr) Network() string { return "webrtc" }
func (a DataChannelAddr) String() string  { return string(a) }

// messageChannel is the subset of *webrtc.DataChannel the conn needs.
type messageChannel interface {
	Send(data []byte) error
	BufferedAmount() uint64
	Close() error
}

// DataChannelConn adapts a DataChannel to net.PacketConn. The link is
// point-to-point: every read comes from the remote end, and every write goes
// to it regardless of the address passed.
type DataChannelConn struct {
	dc     messageChannel
	buf    *packetio.Buffer
	local  DataChannelAddr
	remote DataChannelAddr

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDataChannelConn wires dc's message and close callbacks into a new conn.
func NewDataChannelConn(dc *webrtc.DataChannel, local, remote string) *DataChannelConn {
	c := newDataChannelConn(dc, local, remote)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.deliver(msg.Data)
	})
	dc.OnClose(func() {
		c.closed.Store(true)
		c.buf.Close()
	})
	return c
}

func newDataChannelConn(dc messageChannel, local, remote string) *DataChannelConn {
	buf := packetio.NewBuffer()
	buf.SetLimitSize(inboundBufLimit)
	return &DataChannelConn{
		dc:     dc,
		buf:    buf,
		local:  DataChannelAddr(local),
		remote: DataChannelAddr(remote),
	}
}

// deliver queues one inbound message. A full buffer drops it.
func (c *DataChannelConn) deliver(data []byte) {
	_, _ = c.buf.Write(data)
}

// Resolve is the Resolver for sockets on this link: any name maps to the
// remote end.
func (c *DataChannelConn) Resolve(string) (net.Addr, error) {
	return c.remote, nil
}

// ReadFrom reports net.ErrClosed once the conn is closed, even when a past
// read deadline is still set.
func (c *DataChannelConn) ReadFrom(p []byte) (int, net.Addr, error) {
	if c.closed.Load() {
		return 0, nil, net.ErrClosed
	}
	n, err := c.buf.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) || c.closed.Load() {
			return 0, nil, net.ErrClosed
		}
		return 0, nil, err
	}
	return n, c.remote, nil
}

// WriteTo sends p over the channel. While the SCTP send buffer is above the
// high water mark the frame is dropped, as a full socket buffer would.
func (c *DataChannelConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	if c.dc.BufferedAmount() > highWaterMark {
		return len(p), nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	if err := c.dc.Send(data); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *DataChannelConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = errors.Join(c.buf.Close(), c.dc.Close())
	})
	return err
}

func (c *DataChannelConn) LocalAddr() net.Addr { return c.local }

func (c *DataChannelConn) RemoteAddr() net.Addr { return c.remote }

func (c *DataChannelConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *DataChannelConn) SetReadDeadline(t time.Time) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	return c.buf.SetReadDeadline(t)
}

func (c *DataChannelConn) SetWriteDeadline(time.Time) error { return nil }
