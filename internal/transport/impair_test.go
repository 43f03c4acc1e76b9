package transport

import (
	"bytes"
	"testing"
	"time"
)

// impairedPair returns a sender socket wrapped with imp and a plain receiver.
func impairedPair(t *testing.T, imp Impairment) (*Socket, *Socket) {
	t.Helper()
	mem := NewMemNetwork()
	conn, err := mem.Listen("tx")
	if err != nil {
		t.Fatal(err)
	}
	tx := NewSocket(Impair(conn, imp), 20*time.Millisecond, 64, mem.Resolve)
	rx, err := mem.Socket("rx", 20*time.Millisecond, 64)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		tx.Close()
		rx.Close()
	})
	return tx, rx
}

func TestImpairScript(t *testing.T) {
	tx, rx := impairedPair(t, Impairment{
		Script: func(n int, _ []byte) Action {
			switch n {
			case 1:
				return Drop
			case 2:
				return Corrupt
			}
			return Pass
		},
	})

	sent := [][]byte{[]byte("zero"), []byte("one"), []byte("two"), []byte("three")}
	for _, f := range sent {
		if err := tx.Send(f, MemAddr("rx")); err != nil {
			t.Fatal(err)
		}
	}

	var got [][]byte
	for {
		frame, _, err := rx.Receive()
		if err != nil {
			break
		}
		got = append(got, frame)
	}

	if len(got) != 3 {
		t.Fatalf("received %d frames, want 3", len(got))
	}
	if !bytes.Equal(got[0], sent[0]) || !bytes.Equal(got[2], sent[3]) {
		t.Errorf("passed frames changed: %q", got)
	}
	if len(got[1]) != len(sent[2]) || bytes.Equal(got[1], sent[2]) {
		t.Errorf("corrupted frame = %q, want one byte flipped in %q", got[1], sent[2])
	}
	if string(sent[2]) != "two" {
		t.Error("corruption modified the caller's buffer")
	}
}

func TestImpairRates(t *testing.T) {
	tests := []struct {
		name string
		imp  Impairment
		want int
	}{
		{"clean", Impairment{Seed: 1}, 10},
		{"total loss", Impairment{LossRate: 1, Seed: 1}, 0},
		{"total corruption", Impairment{ErrorRate: 1, Seed: 1}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, rx := impairedPair(t, tt.imp)
			for range 10 {
				tx.Send([]byte("frame"), MemAddr("rx"))
			}
			n := 0
			for {
				frame, _, err := rx.Receive()
				if err != nil {
					break
				}
				if tt.imp.ErrorRate == 1 && string(frame) == "frame" {
					t.Error("frame passed uncorrupted")
				}
				n++
			}
			if n != tt.want {
				t.Errorf("received %d, want %d", n, tt.want)
			}
		})
	}
}

func TestImpairSeedIsDeterministic(t *testing.T) {
	pattern := func() []bool {
		tx, rx := impairedPair(t, Impairment{LossRate: 0.5, Seed: 42})
		var out []bool
		for range 32 {
			tx.Send([]byte("x"), MemAddr("rx"))
			_, _, err := rx.Receive()
			out = append(out, err == nil)
		}
		return out
	}

	a, b := pattern(), pattern()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("frame %d: runs diverge with the same seed", i)
		}
	}
}
