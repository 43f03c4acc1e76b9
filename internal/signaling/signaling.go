// Package signaling pairs two peers over WebRTC. A WebSocket carries the
// SDP/ICE exchange; once the DataChannel opens, the WebSocket is closed and the
// caller gets a datagram link to run Go-Back-N over.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/gobackn/internal/transport"
	"github.com/1ureka/gobackn/internal/util"
)

// Link endpoint names. Each side sees the other under the remote name.
const (
	OffererAddr  = "offerer"
	AnswererAddr = "answerer"
)

const pinLength = 4

// Link is an open DataChannel between two peers.
type Link struct {
	pc   *webrtc.PeerConnection
	conn *transport.DataChannelConn
}

// Conn returns the link as a net.PacketConn.
func (l *Link) Conn() *transport.DataChannelConn { return l.conn }

// Peer is the address to dial the other side by.
func (l *Link) Peer() string { return l.conn.RemoteAddr().String() }

// Socket wraps the link for the Go-Back-N layer.
func (l *Link) Socket(timeout time.Duration, bufSize int) *transport.Socket {
	return transport.NewSocket(l.conn, timeout, bufSize, l.conn.Resolve)
}

// Close tears down the DataChannel and the PeerConnection.
func (l *Link) Close() error {
	return errors.Join(l.conn.Close(), l.pc.Close())
}

// Options control the signaling phase.
type Options struct {
	ListenAddr  string   // host side WebSocket listen address, ":0" by default
	PIN         string   // host side PIN; generated when empty
	STUNServers []string // defaults to transport.DefaultSTUNServers
}

// EstablishAsHost starts a signaling server, prints its port and PIN, waits
// for one peer and sends it the offer.
func EstablishAsHost(ctx context.Context, opts Options) (*Link, error) {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":0"
	}
	if opts.PIN == "" {
		opts.PIN = generatePIN(pinLength)
	}

	srv := newServer(opts.PIN)
	port, err := srv.start(opts.ListenAddr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\n\nPeers connect with ws://<host>:%d/ws?pin=%s",
			port, opts.PIN, port, opts.PIN))
	util.LogInfo("waiting for peer...")

	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for peer: %w", err)
	}
	defer wsConn.Close()
	util.LogDebug("signaling peer connected")

	return establish(ctx, wsConn, opts.STUNServers, true)
}

// EstablishAsClient dials the host's signaling URL, including its PIN, e.g.
//
//	ws://example.net:41234/ws?pin=1234
func EstablishAsClient(ctx context.Context, url string, opts Options) (*Link, error) {
	wsConn, err := connect(ctx, url)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("signaling connected: %s", url)

	return establish(ctx, wsConn, opts.STUNServers, false)
}

func establish(ctx context.Context, wsConn *websocket.Conn, stun []string, offerer bool) (*Link, error) {
	if stun == nil {
		stun = transport.DefaultSTUNServers
	}
	pc, err := transport.NewPeerConnection(stun)
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}

	// Both sides create the same negotiated channel.
	dc, err := transport.NewDatagramChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create DataChannel: %w", err)
	}

	local, remote := AnswererAddr, OffererAddr
	if offerer {
		local, remote = OffererAddr, AnswererAddr
	}
	conn := transport.NewDataChannelConn(dc, local, remote)

	ready := make(chan struct{})
	var readyOnce sync.Once
	dc.OnOpen(func() {
		readyOnce.Do(func() { close(ready) })
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
	})

	s := &sender{pc: pc, conn: wsConn}
	r := &receiver{pc: pc, conn: wsConn, sender: s}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// Best effort: the exchange fails on its own if nothing gets through.
		_ = s.sendCandidate(c)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch() // exits when wsConn is closed by the caller
	}()

	if offerer {
		if err := s.sendOffer(); err != nil {
			conn.Close()
			pc.Close()
			return nil, fmt.Errorf("send offer: %w", err)
		}
	}

	select {
	case <-ready:
		util.LogSuccess("DataChannel established, closing signaling")
		return &Link{pc: pc, conn: conn}, nil

	case err := <-errCh:
		conn.Close()
		pc.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		conn.Close()
		pc.Close()
		return nil, ctx.Err()
	}
}
