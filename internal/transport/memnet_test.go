package transport

import (
	"errors"
	"testing"
	"time"
)

func TestMemNetworkDelivers(t *testing.T) {
	mem := NewMemNetwork()
	a, err := mem.Socket("a", time.Second, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := mem.Socket("b", time.Second, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.Send([]byte("ping"), MemAddr("b")); err != nil {
		t.Fatal(err)
	}
	frame, from, err := b.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if string(frame) != "ping" || from.String() != "a" {
		t.Errorf("got %q from %v", frame, from)
	}
	if from.Network() != "mem" {
		t.Errorf("network = %q", from.Network())
	}
}

func TestMemNetworkDuplicateListen(t *testing.T) {
	mem := NewMemNetwork()
	conn, err := mem.Listen("a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mem.Listen("a"); err == nil {
		t.Error("expected address in use")
	}

	// The address is free again once closed.
	conn.Close()
	again, err := mem.Listen("a")
	if err != nil {
		t.Fatalf("listen after close: %v", err)
	}
	again.Close()
}

func TestMemNetworkDropsUnknownDestination(t *testing.T) {
	mem := NewMemNetwork()
	a, _ := mem.Socket("a", time.Second, 64)
	defer a.Close()

	if err := a.Send([]byte("lost"), MemAddr("nobody")); err != nil {
		t.Errorf("send to unknown peer: %v", err)
	}
}

func TestMemNetworkTimeoutAndClose(t *testing.T) {
	mem := NewMemNetwork()
	a, _ := mem.Socket("a", 20*time.Millisecond, 64)

	if _, _, err := a.Receive(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}

	done := make(chan error, 1)
	slow, _ := mem.Socket("slow", time.Minute, 64)
	go func() {
		_, _, err := slow.Receive()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	slow.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("got %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock Receive")
	}

	a.Close()
	if err := a.Send([]byte("x"), MemAddr("b")); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: got %v, want ErrClosed", err)
	}
}
