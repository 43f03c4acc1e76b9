package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1ureka/gobackn/internal/config"
	"github.com/1ureka/gobackn/internal/peer"
	"github.com/1ureka/gobackn/internal/trace"
	"github.com/1ureka/gobackn/internal/transport"
	"github.com/1ureka/gobackn/internal/util"
)

func TestMain(m *testing.M) {
	util.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Port = 0
	cfg.ChunkSize = 16
	cfg.WindowSize = 4
	cfg.Timeout = 100 * time.Millisecond
	cfg.IdleTimeouts = 0
	cfg.OutputDir = t.TempDir()
	return cfg
}

func newHost(t *testing.T, mem *transport.MemNetwork, name string, cfg config.Config, sink trace.Sink) *Host {
	t.Helper()
	sock, err := mem.Socket(name, cfg.Timeout, cfg.MaxFrameSize())
	if err != nil {
		t.Fatal(err)
	}
	h, err := New(context.Background(), cfg, sock, sink)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitTransfer(t *testing.T, h *Host) peer.Transfer {
	t.Helper()
	select {
	case tr := <-h.Transfers():
		return tr
	case <-time.After(10 * time.Second):
		t.Fatal("no transfer result")
	}
	return peer.Transfer{}
}

func randomBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/13)
	}
	return data
}

func TestConnectAndSendFile(t *testing.T) {
	mem := transport.NewMemNetwork()
	cfgA, cfgB := testConfig(t), testConfig(t)
	a := newHost(t, mem, "a", cfgA, nil)
	b := newHost(t, mem, "b", cfgB, nil)

	if err := Connect(context.Background(), a, b); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	data := randomBytes(1000)
	src := writeFile(t, "payload.bin", data)
	if err := a.SendFile(context.Background(), src, "b"); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	tr := waitTransfer(t, b)
	if tr.Err != nil || tr.Peer != "a" || tr.Name != "payload.bin" {
		t.Fatalf("transfer = %+v", tr)
	}
	got, err := os.ReadFile(filepath.Join(cfgB.OutputDir, "payload.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("received file differs")
	}
}

func TestPassiveOpen(t *testing.T) {
	mem := transport.NewMemNetwork()
	cfgA, cfgB := testConfig(t), testConfig(t)
	cfgA.WindowSize = 4
	cfgB.WindowSize = 5
	a := newHost(t, mem, "a", cfgA, nil)
	b := newHost(t, mem, "b", cfgB, nil)

	c, err := a.Connect(context.Background(), "b")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.PeerWindow() != 5 {
		t.Errorf("a recorded window %d, want 5", c.PeerWindow())
	}

	back, err := b.Connection("a")
	if err != nil {
		t.Fatalf("b has no connection to a: %v", err)
	}
	if back.PeerWindow() != 4 || back.State() != peer.StateEstablished {
		t.Errorf("b side: window %d, state %s", back.PeerWindow(), back.State())
	}

	// The passively opened side can send too.
	data := randomBytes(100)
	if err := b.Send(context.Background(), "a", "reply.bin", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tr := waitTransfer(t, a); tr.Err != nil || tr.Received != 100 {
		t.Fatalf("transfer = %+v", tr)
	}
}

func TestPassiveOpenDisabled(t *testing.T) {
	mem := transport.NewMemNetwork()
	cfgA, cfgB := testConfig(t), testConfig(t)
	cfgA.Timeout = 20 * time.Millisecond
	cfgA.HandshakeAttempts = 2
	cfgB.AcceptIncoming = false
	a := newHost(t, mem, "a", cfgA, nil)
	b := newHost(t, mem, "b", cfgB, nil)

	if _, err := a.Connect(context.Background(), "b"); !errors.Is(err, peer.ErrConnectionEstablishmentFailed) {
		t.Fatalf("got %v, want ErrConnectionEstablishmentFailed", err)
	}
	if len(b.Peers()) != 0 {
		t.Errorf("b created connections %v", b.Peers())
	}
}

func TestConnectionErrors(t *testing.T) {
	mem := transport.NewMemNetwork()
	a := newHost(t, mem, "a", testConfig(t), nil)
	b := newHost(t, mem, "b", testConfig(t), nil)

	if err := a.SendFile(context.Background(), "x", "b"); !errors.Is(err, peer.ErrNoConnection) {
		t.Errorf("SendFile to unknown peer: %v", err)
	}
	if err := a.Handshake(context.Background(), "b"); !errors.Is(err, peer.ErrNoConnection) {
		t.Errorf("Handshake to unknown peer: %v", err)
	}

	if _, err := a.AddConnection("b"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddConnection("b"); !errors.Is(err, peer.ErrDuplicateConnection) {
		t.Errorf("second AddConnection: %v", err)
	}

	// Added but not established.
	if err := a.Send(context.Background(), "b", "x", bytes.NewReader(nil), 0); !errors.Is(err, peer.ErrNoConnection) {
		t.Errorf("Send before handshake: %v", err)
	}

	if err := a.Handshake(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	if err := a.Handshake(context.Background(), "b"); !errors.Is(err, peer.ErrDuplicateConnection) {
		t.Errorf("second Handshake: %v", err)
	}
	_ = b
}

func TestParallelPeers(t *testing.T) {
	mem := transport.NewMemNetwork()
	hub := newHost(t, mem, "hub", testConfig(t), nil)
	left := newHost(t, mem, "left", testConfig(t), nil)
	right := newHost(t, mem, "right", testConfig(t), nil)

	for _, h := range []*Host{left, right} {
		if err := Connect(context.Background(), hub, h); err != nil {
			t.Fatal(err)
		}
	}

	data := randomBytes(2000)
	errs := make(chan error, 2)
	for _, addr := range []string{"left", "right"} {
		go func() {
			errs <- hub.Send(context.Background(), addr, addr+".bin", bytes.NewReader(data), int64(len(data)))
		}()
	}
	for range 2 {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}

	for _, h := range []*Host{left, right} {
		tr := waitTransfer(t, h)
		got, _ := os.ReadFile(tr.Path)
		if tr.Err != nil || !bytes.Equal(got, data) {
			t.Errorf("%s: transfer %+v, %d bytes", h.Addr(), tr, len(got))
		}
	}
}

func TestBidirectionalTransfer(t *testing.T) {
	mem := transport.NewMemNetwork()
	a := newHost(t, mem, "a", testConfig(t), nil)
	b := newHost(t, mem, "b", testConfig(t), nil)
	if err := Connect(context.Background(), a, b); err != nil {
		t.Fatal(err)
	}

	toB, toA := randomBytes(700), randomBytes(900)
	errs := make(chan error, 2)
	go func() { errs <- a.Send(context.Background(), "b", "to-b", bytes.NewReader(toB), int64(len(toB))) }()
	go func() { errs <- b.Send(context.Background(), "a", "to-a", bytes.NewReader(toA), int64(len(toA))) }()
	for range 2 {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}

	for _, c := range []struct {
		h    *Host
		want []byte
	}{{b, toB}, {a, toA}} {
		tr := waitTransfer(t, c.h)
		got, _ := os.ReadFile(tr.Path)
		if !bytes.Equal(got, c.want) {
			t.Errorf("%s received %d bytes, want %d", c.h.Addr(), len(got), len(c.want))
		}
	}
}

func TestImpairedHosts(t *testing.T) {
	mem := transport.NewMemNetwork()
	cfg := testConfig(t)
	cfg.Timeout = 40 * time.Millisecond
	cfg.HandshakeAttempts = 20

	stats := &util.Stats{}
	open := func(name string, seed uint64, sink trace.Sink) *Host {
		conn, err := mem.Listen(name)
		if err != nil {
			t.Fatal(err)
		}
		pc := transport.Impair(conn, transport.Impairment{LossRate: 0.1, ErrorRate: 0.1, Seed: seed})
		h, err := New(context.Background(), cfg, transport.NewSocket(pc, cfg.Timeout, cfg.MaxFrameSize(), mem.Resolve), sink)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { h.Close() })
		return h
	}
	a, b := open("a", 1, stats), open("b", 2, nil)
	if err := Connect(context.Background(), a, b); err != nil {
		t.Fatal(err)
	}

	data := randomBytes(3000)
	if err := a.Send(context.Background(), "b", "noisy.bin", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatal(err)
	}
	tr := waitTransfer(t, b)
	got, _ := os.ReadFile(tr.Path)
	if !bytes.Equal(got, data) {
		t.Error("received file differs")
	}
	if stats.Retransmits.Load() == 0 {
		t.Error("expected retransmissions on an impaired channel")
	}
}

func TestCloseAbortsSessions(t *testing.T) {
	mem := transport.NewMemNetwork()
	cfg := testConfig(t)
	a := newHost(t, mem, "a", cfg, nil)
	b := newHost(t, mem, "b", cfg, nil)
	if err := Connect(context.Background(), a, b); err != nil {
		t.Fatal(err)
	}

	// Declare more bytes than are sent so the session stays open.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	r := io.MultiReader(bytes.NewReader(randomBytes(32)), blockingReader{ctx})
	go a.Send(ctx, "b", "partial", r, 1000)

	time.Sleep(100 * time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- b.Close() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	tr := waitTransfer(t, b)
	if tr.Err == nil || tr.Received != 32 {
		t.Errorf("transfer = %+v, want aborted after 32 bytes", tr)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := b.AddConnection("c"); !errors.Is(err, peer.ErrClosed) {
		t.Errorf("AddConnection after Close: %v", err)
	}
}

// blockingReader blocks until ctx is done.
type blockingReader struct{ ctx context.Context }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func TestListenUDP(t *testing.T) {
	cfg := testConfig(t)
	a, err := Listen(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Listen(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	bAddr := fmt.Sprintf("127.0.0.1:%d", b.Addr().(*net.UDPAddr).Port)
	if _, err := a.Connect(context.Background(), bAddr); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	data := randomBytes(5000)
	if err := a.Send(context.Background(), bAddr, "udp.bin", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatal(err)
	}
	tr := waitTransfer(t, b)
	got, _ := os.ReadFile(tr.Path)
	if !bytes.Equal(got, data) {
		t.Error("received file differs")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	mem := transport.NewMemNetwork()
	cfg := testConfig(t)
	cfg.WindowSize = 0
	sock, _ := mem.Socket("a", time.Second, 64)
	if _, err := New(context.Background(), cfg, sock, nil); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("got %v, want config.ErrInvalid", err)
	}
}

func TestConnectUDPHosts(t *testing.T) {
	cfg := testConfig(t)
	cfg.HandshakeAttempts = 3
	a, err := Listen(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Listen(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := Connect(context.Background(), a, b); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if peers := b.Peers(); len(peers) != 1 {
		t.Fatalf("b peers = %v, want exactly one", peers)
	}

	bAddr := reachable(b.Addr())
	data := randomBytes(3000)
	if err := a.Send(context.Background(), bAddr, "pair.bin", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatal(err)
	}
	tr := waitTransfer(t, b)
	got, _ := os.ReadFile(tr.Path)
	if !bytes.Equal(got, data) {
		t.Error("received file differs")
	}
}

func TestReachable(t *testing.T) {
	tests := []struct {
		addr net.Addr
		want string
	}{
		{&net.UDPAddr{IP: net.IPv6unspecified, Port: 4000}, "127.0.0.1:4000"},
		{&net.UDPAddr{IP: net.IPv4zero, Port: 4001}, "127.0.0.1:4001"},
		{&net.UDPAddr{Port: 4002}, "127.0.0.1:4002"},
		{&net.UDPAddr{IP: net.ParseIP("10.1.2.3"), Port: 4003}, "10.1.2.3:4003"},
		{transport.MemAddr("a"), "a"},
	}
	for _, tt := range tests {
		if got := reachable(tt.addr); got != tt.want {
			t.Errorf("reachable(%v) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
