// Package host owns one datagram socket and the Go-Back-N connections that
// share it. A single reader demultiplexes frames by source address; every
// connection runs its own receive loop.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/1ureka/gobackn/internal/config"
	"github.com/1ureka/gobackn/internal/peer"
	"github.com/1ureka/gobackn/internal/protocol"
	"github.com/1ureka/gobackn/internal/trace"
	"github.com/1ureka/gobackn/internal/transport"
	"github.com/1ureka/gobackn/internal/util"
)

const transfersBufferSize = 64

// Host is one endpoint of the file transfer protocol.
type Host struct {
	cfg  config.Config
	sock *transport.Socket
	sink trace.Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	routes    *dispatcher
	transfers chan peer.Transfer

	closeOnce sync.Once
	closeErr  error
}

// Listen binds a UDP socket on cfg.Port and starts a host on it. A loss or
// corruption simulator is installed when the config asks for one.
func Listen(ctx context.Context, cfg config.Config, sink trace.Sink) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	var pc net.PacketConn = conn
	if cfg.Impaired() {
		util.LogWarning("channel impairment enabled: loss %.2f, corruption %.2f", cfg.LossRate, cfg.ErrorRate)
		pc = transport.Impair(conn, transport.Impairment{
			LossRate:  cfg.LossRate,
			ErrorRate: cfg.ErrorRate,
			Seed:      cfg.Seed,
		})
	}

	return New(ctx, cfg, transport.NewSocket(pc, cfg.Timeout, cfg.MaxFrameSize(), transport.ResolveUDP), sink)
}

// New starts a host on sock, which it takes ownership of.
func New(ctx context.Context, cfg config.Config, sock *transport.Socket, sink trace.Sink) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		sock.Close()
		return nil, err
	}
	if sink == nil {
		sink = trace.Discard
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Host{
		cfg:       cfg,
		sock:      sock,
		sink:      sink,
		ctx:       ctx,
		cancel:    cancel,
		routes:    newDispatcher(),
		transfers: make(chan peer.Transfer, transfersBufferSize),
	}

	h.wg.Add(1)
	go h.readLoop()

	util.LogDebug("host listening on %s (window %d, chunk %d, timeout %v)",
		sock.LocalAddr(), cfg.WindowSize, cfg.ChunkSize, cfg.Timeout)
	return h, nil
}

// Addr is the local address of the host socket.
func (h *Host) Addr() net.Addr { return h.sock.LocalAddr() }

func (h *Host) Config() config.Config { return h.cfg }

// Transfers delivers the outcome of every receive session on this host.
func (h *Host) Transfers() <-chan peer.Transfer { return h.transfers }

// Peers lists the addresses of all connections.
func (h *Host) Peers() []string { return h.routes.peers() }

// AddConnection creates a connection to addr and starts its receive loop.
func (h *Host) AddConnection(addr string) (*peer.Connection, error) {
	if h.ctx.Err() != nil {
		return nil, peer.ErrClosed
	}
	remote, err := h.sock.Resolve(addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	c, ok := h.add(remote)
	if !ok {
		return nil, fmt.Errorf("%w: %s", peer.ErrDuplicateConnection, remote)
	}
	return c, nil
}

// Connection returns the connection to addr.
func (h *Host) Connection(addr string) (*peer.Connection, error) {
	key := addr
	if remote, err := h.sock.Resolve(addr); err == nil {
		key = remote.String()
	}
	c, ok := h.routes.route(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", peer.ErrNoConnection, addr)
	}
	return c, nil
}

// Handshake establishes an existing connection.
func (h *Host) Handshake(ctx context.Context, addr string) error {
	c, err := h.Connection(addr)
	if err != nil {
		return err
	}
	return c.Handshake(ctx)
}

// Connect adds a connection to addr if there is none and performs the
// handshake. An already established connection is returned as is.
func (h *Host) Connect(ctx context.Context, addr string) (*peer.Connection, error) {
	c, err := h.Connection(addr)
	if errors.Is(err, peer.ErrNoConnection) {
		c, err = h.AddConnection(addr)
	}
	if err != nil {
		return nil, err
	}
	if c.State() == peer.StateEstablished {
		return c, nil
	}
	if err := c.Handshake(ctx); err != nil {
		return nil, err
	}
	util.LogSuccess("connected to %s (peer window %d)", c.Peer(), c.PeerWindow())
	return c, nil
}

// SendFile transfers the file at path to an established peer.
func (h *Host) SendFile(ctx context.Context, path, addr string) error {
	c, err := h.Connection(addr)
	if err != nil {
		return err
	}
	return c.SendFile(ctx, path)
}

// Send transfers size bytes from r to an established peer as name.
func (h *Host) Send(ctx context.Context, addr, name string, r io.Reader, size int64) error {
	c, err := h.Connection(addr)
	if err != nil {
		return err
	}
	return c.Send(ctx, name, r, size)
}

// Close stops every receive loop and releases the socket. Open receive
// sessions are closed and reported as aborted.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		h.closeErr = h.sock.Close()
		h.wg.Wait()
	})
	return h.closeErr
}

func (h *Host) add(remote net.Addr) (*peer.Connection, bool) {
	c := peer.NewConnection(remote, h.cfg, h.sock, h.sink, h.transfers)
	if !h.routes.register(c) {
		return nil, false
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.Run(h.ctx)
	}()
	util.Logf(c.Peer(), "connection added")
	return c, true
}

// readLoop is the only reader of the socket.
func (h *Host) readLoop() {
	defer h.wg.Done()

	for {
		frame, from, err := h.sock.Receive()
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrTimeout):
			if h.ctx.Err() != nil {
				return
			}
			continue
		case errors.Is(err, transport.ErrClosed):
			return
		default:
			if h.ctx.Err() != nil {
				return
			}
			util.LogWarning("receive: %v", err)
			continue
		}

		c, ok := h.routes.route(from.String())
		if !ok {
			if c = h.accept(from, frame); c == nil {
				continue
			}
		}
		c.Deliver(frame)
	}
}

// accept opens a connection for an unknown peer whose first frame is a valid
// HANDSHAKE. Anything else from an unknown peer is dropped.
func (h *Host) accept(from net.Addr, frame []byte) *peer.Connection {
	f, err := protocol.Unpack(frame)
	if err != nil || f.Type != protocol.TypeHandshake {
		util.Logf(from.String(), "dropping frame from unknown peer")
		return nil
	}
	if !h.cfg.AcceptIncoming {
		util.Logf(from.String(), "incoming connection refused")
		return nil
	}

	c, ok := h.add(from)
	if !ok {
		// Lost a race with AddConnection.
		c, _ = h.routes.route(from.String())
	}
	util.LogInfo("incoming connection from %s", from)
	return c
}
