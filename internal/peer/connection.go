// Package peer implements one Go-Back-N association with a remote host: the
// handshake, the receive-side state machine and the windowed sender.
package peer

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/1ureka/gobackn/internal/config"
	"github.com/1ureka/gobackn/internal/protocol"
	"github.com/1ureka/gobackn/internal/trace"
	"github.com/1ureka/gobackn/internal/util"
)

const inboxSize = 256 // frames queued between the host reader and the receive loop

// State is the handshake state of a connection.
type State int32

const (
	StateUnconnected State = iota
	StateSynSent
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "UNCONNECTED"
	case StateSynSent:
		return "SYN_SENT"
	case StateEstablished:
		return "ESTABLISHED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Outbound transmits packed frames. *transport.Socket satisfies it.
type Outbound interface {
	Send(frame []byte, addr net.Addr) error
}

// Connection is the per-peer state. Frames from the peer are handed in with
// Deliver and processed by Run; Handshake and Send run on the caller's
// goroutine and coordinate with Run only through signals and the ack window.
type Connection struct {
	addr    net.Addr
	name    string
	cfg     config.Config
	out     Outbound
	sink    trace.Sink
	results chan<- Transfer

	inbox chan []byte
	done  chan struct{}

	state      atomic.Int32
	peerWindow atomic.Int32

	// Set: non-blocking send. Wait: receive. Clear: drain.
	ackCh  chan struct{}
	nackCh chan struct{}
	synCh  chan struct{}

	window  ackWindow
	sending atomic.Bool

	// Receive loop only.
	rx receiverState
}

// NewConnection creates an UNCONNECTED connection to addr. Completed and
// aborted receive sessions are reported on results when it is not nil.
func NewConnection(addr net.Addr, cfg config.Config, out Outbound, sink trace.Sink, results chan<- Transfer) *Connection {
	if sink == nil {
		sink = trace.Discard
	}
	return &Connection{
		addr:    addr,
		name:    addr.String(),
		cfg:     cfg,
		out:     out,
		sink:    sink,
		results: results,
		inbox:   make(chan []byte, inboxSize),
		done:    make(chan struct{}),
		ackCh:   make(chan struct{}, 1),
		nackCh:  make(chan struct{}, 1),
		synCh:   make(chan struct{}, 1),
		rx:      receiverState{lastHandled: -1},
	}
}

func (c *Connection) Addr() net.Addr { return c.addr }

// Peer is the textual peer address the connection is keyed by.
func (c *Connection) Peer() string { return c.name }

func (c *Connection) State() State { return State(c.state.Load()) }

// WindowSize is the local window, which governs outgoing transfers.
func (c *Connection) WindowSize() int { return c.cfg.WindowSize }

// PeerWindow is the window the peer advertised, 0 before the handshake.
func (c *Connection) PeerWindow() int { return int(c.peerWindow.Load()) }

// Done is closed when Run returns.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Deliver queues a raw frame from the peer. A full inbox drops it, which the
// protocol treats like any other loss.
func (c *Connection) Deliver(frame []byte) bool {
	select {
	case c.inbox <- frame:
		return true
	default:
		util.Logf(c.name, "inbox full, dropping frame")
		return false
	}
}

// Run is the per-peer receive loop. It returns when ctx is cancelled, closing
// any open receive session.
func (c *Connection) Run(ctx context.Context) {
	defer close(c.done)
	defer c.abortSession(ErrClosed)

	idle := 0
	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-c.inbox:
			idle = 0
			c.handle(frame)
			timer.Reset(c.cfg.Timeout)

		case <-timer.C:
			idle++
			if c.cfg.IdleTimeouts > 0 && idle == c.cfg.IdleTimeouts {
				util.LogWarning("[%s] no frames for %v", c.name, time.Duration(idle)*c.cfg.Timeout)
			}
			timer.Reset(c.cfg.Timeout)
		}
	}
}

// handle dispatches one raw frame. It is only called from Run.
func (c *Connection) handle(raw []byte) {
	f, err := protocol.Unpack(raw)
	if err != nil {
		util.Logf(c.name, "drop frame: %v", err)
		c.emitReceive(c.rx.expectedSeq(), -1, trace.StatusDataError, len(raw))
		if c.sending.Load() {
			signal(c.nackCh)
		}
		return
	}

	switch f.Type {
	case protocol.TypeHandshake:
		c.handleHandshake(f.Payload)
	case protocol.TypeSyn:
		c.handleSyn(f.Payload)
	case protocol.TypeStart:
		c.handleStart(f.Payload, len(raw))
	case protocol.TypeData:
		c.handleData(f.Payload, len(raw))
	case protocol.TypeAck:
		c.handleAck(f.Payload)
	}
}

func (c *Connection) handleHandshake(payload []byte) {
	ws, err := protocol.ParseHandshake(payload)
	if err != nil {
		util.Logf(c.name, "bad handshake: %v", err)
		return
	}
	c.peerWindow.Store(int32(ws))
	c.state.Store(int32(StateEstablished))
	util.Logf(c.name, "handshake: peer window %d", ws)
	c.sendFrame(protocol.Pack(protocol.TypeSyn, protocol.SynAckPayload(c.cfg.WindowSize)))
}

func (c *Connection) handleSyn(payload []byte) {
	ws, withWindow, err := protocol.ParseSynAck(payload)
	if err != nil {
		util.Logf(c.name, "bad syn: %v", err)
		return
	}
	if withWindow {
		c.peerWindow.Store(int32(ws))
		util.Logf(c.name, "synack: peer window %d", ws)
		c.sendFrame(protocol.Pack(protocol.TypeSyn, protocol.SynAckPayload(0)))
	}
	signal(c.synCh)
}

func (c *Connection) handleAck(payload []byte) {
	ack, err := protocol.ParseAck(payload)
	if err != nil {
		util.Logf(c.name, "bad ack: %v", err)
		return
	}

	switch ack.Kind {
	case protocol.AckSeq:
		if c.window.acknowledge(ack.Seq) {
			signal(c.ackCh)
		}
	case protocol.AckName:
		if c.window.acknowledgeStart() {
			signal(c.ackCh)
		}
	case protocol.AckSyn:
		signal(c.synCh)
	}
}

// Handshake advertises the local window and waits for the peer's SYNACK,
// retrying up to the configured number of attempts.
func (c *Connection) Handshake(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUnconnected), int32(StateSynSent)) {
		return fmt.Errorf("%w: %s is %s", ErrDuplicateConnection, c.name, c.State())
	}
	drain(c.synCh)

	frame := protocol.Pack(protocol.TypeHandshake, protocol.HandshakePayload(c.cfg.WindowSize))
	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	for attempt := 1; attempt <= c.cfg.HandshakeAttempts; attempt++ {
		util.Logf(c.name, "handshake attempt %d/%d", attempt, c.cfg.HandshakeAttempts)
		c.sendFrame(frame)
		timer.Reset(c.cfg.Timeout)

		select {
		case <-c.synCh:
			c.state.Store(int32(StateEstablished))
			return nil
		case <-timer.C:
		case <-ctx.Done():
			c.state.Store(int32(StateUnconnected))
			return ctx.Err()
		case <-c.done:
			c.state.Store(int32(StateUnconnected))
			return ErrClosed
		}
	}

	c.state.Store(int32(StateUnconnected))
	return fmt.Errorf("%w: no reply from %s after %d attempts",
		ErrConnectionEstablishmentFailed, c.name, c.cfg.HandshakeAttempts)
}

func (c *Connection) sendFrame(frame []byte) {
	if err := c.out.Send(frame, c.addr); err != nil {
		util.Logf(c.name, "send: %v", err)
	}
}

func (c *Connection) emitSend(seq int, status trace.SendStatus, size int) {
	c.sink.Send(trace.SendEvent{
		Time:          time.Now(),
		Peer:          c.name,
		Seq:           seq,
		Status:        status,
		CumulativeAck: c.window.lastAcked(),
		Size:          size,
	})
}

func (c *Connection) emitReceive(expected, received int, status trace.RecvStatus, size int) {
	c.sink.Receive(trace.ReceiveEvent{
		Time:     time.Now(),
		Peer:     c.name,
		Expected: expected,
		Received: received,
		Status:   status,
		Size:     size,
	})
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}
