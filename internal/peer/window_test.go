package peer

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/1ureka/gobackn/internal/protocol"
)

func TestAckWindowCumulative(t *testing.T) {
	var w ackWindow
	w.reset(4)
	if w.lastAcked() != -1 {
		t.Errorf("lastAcked before any ack = %d", w.lastAcked())
	}

	for i := 0; i < 3; i++ {
		w.markSent(i)
	}
	if !w.acknowledge(1) {
		t.Fatal("ack 1 rejected")
	}
	if got := w.ackedCount(); got != 2 {
		t.Errorf("acked = %d, want 2 (ack 1 covers frames 0 and 1)", got)
	}
	if w.acknowledge(1) {
		t.Error("duplicate ack accepted")
	}
	if w.acknowledge(3) {
		t.Error("ack for an unsent frame accepted")
	}

	w.markSent(3)
	w.markSent(4)
	// Seqno 0 now names frame 4, past the wrap.
	if !w.acknowledge(0) {
		t.Fatal("wrapped ack rejected")
	}
	if got := w.ackedCount(); got != 5 {
		t.Errorf("acked = %d, want 5", got)
	}
	if got := w.lastAcked(); got != 0 {
		t.Errorf("lastAcked = %d, want 0", got)
	}
}

func TestAckWindowRejects(t *testing.T) {
	var w ackWindow
	if w.acknowledge(0) {
		t.Error("inactive window accepted an ack")
	}

	w.reset(4)
	w.markSent(0)
	for _, seq := range []int{-1, 4, 99} {
		if w.acknowledge(seq) {
			t.Errorf("ack %d accepted", seq)
		}
	}

	w.finish()
	if w.acknowledge(0) || w.acknowledgeStart() {
		t.Error("finished window accepted an ack")
	}
}

func TestAckWindowStart(t *testing.T) {
	var w ackWindow
	w.reset(4)
	if w.acknowledgeStart() {
		t.Error("START acked before it was sent")
	}
	w.markSent(0)
	w.markSent(1)
	if !w.acknowledgeStart() {
		t.Fatal("START ack rejected")
	}
	if w.acknowledgeStart() {
		t.Error("START acked twice")
	}
	if got := w.ackedCount(); got != 1 {
		t.Errorf("acked = %d, want 1", got)
	}
}

func TestDistance(t *testing.T) {
	tests := []struct{ a, b, m, want int }{
		{0, 0, 4, 0},
		{0, 3, 4, 3},
		{3, 0, 4, 1},
		{2, 1, 4, 3},
	}
	for _, tt := range tests {
		if got := distance(tt.a, tt.b, tt.m); got != tt.want {
			t.Errorf("distance(%d, %d, %d) = %d, want %d", tt.a, tt.b, tt.m, got, tt.want)
		}
	}
}

func TestFrameSourceChunks(t *testing.T) {
	src := newFrameSource("f", strings.NewReader("0123456789abcdefghijKLMNO"), 25, 10, 4)
	if got := src.frames(); got != 4 {
		t.Fatalf("frames = %d, want 4", got)
	}

	first, err := src.frame(0)
	if err != nil {
		t.Fatal(err)
	}
	f, _ := protocol.Unpack(first)
	if f.Type != protocol.TypeStart || string(f.Payload) != "f|25" {
		t.Errorf("frame 0 = %s %q", f.Type, f.Payload)
	}

	want := []struct {
		seq   int
		chunk string
	}{{1, "0123456789"}, {2, "abcdefghij"}, {3, "KLMNO"}}
	for i, w := range want {
		raw, err := src.frame(i + 1)
		if err != nil {
			t.Fatal(err)
		}
		f, _ := protocol.Unpack(raw)
		seq, chunk, _ := protocol.ParseData(f.Payload)
		if seq != w.seq || string(chunk) != w.chunk {
			t.Errorf("frame %d = %d|%q, want %d|%q", i+1, seq, chunk, w.seq, w.chunk)
		}
	}

	// Retransmission returns the same frame without touching the reader.
	again, err := src.frame(1)
	if err != nil {
		t.Fatal(err)
	}
	f, _ = protocol.Unpack(again)
	if !bytes.HasPrefix(f.Payload, []byte("1|0123")) {
		t.Errorf("resent frame 1 = %q", f.Payload)
	}
}

func TestFrameSourceOrdering(t *testing.T) {
	src := newFrameSource("f", bytes.NewReader(make([]byte, 100)), 100, 10, 4)
	if _, err := src.frame(2); err == nil {
		t.Error("frame 2 built before frame 1")
	}
	for i := 1; i <= 5; i++ {
		if _, err := src.frame(i); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := src.frame(1); err == nil {
		t.Error("evicted frame 1 still served")
	}
	if _, err := src.frame(2); err != nil {
		t.Errorf("frame 2 should still be held: %v", err)
	}
}

func TestFrameSourceShortReader(t *testing.T) {
	src := newFrameSource("f", strings.NewReader("abc"), 25, 10, 4)
	_, err := src.frame(1)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("got %v, want io.ErrUnexpectedEOF", err)
	}
}
