package peer

import "sync"

// ackWindow tracks cumulative acknowledgment of one outgoing transfer in
// absolute frame indexes. The receive loop is the only writer of acked, the
// send loop the only writer of sent.
//
// The sender never has more than window frames past acked, and the modulus is
// window+1, so a seqno maps to at most one index in [acked, sent).
type ackWindow struct {
	mu      sync.Mutex
	modulus int
	acked   int // frames [0, acked) are acknowledged
	sent    int // one past the highest index transmitted so far
	active  bool
}

func (w *ackWindow) reset(modulus int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.modulus = modulus
	w.acked = 0
	w.sent = 0
	w.active = true
}

func (w *ackWindow) finish() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
}

func (w *ackWindow) markSent(idx int) {
	w.mu.Lock()
	if idx >= w.sent {
		w.sent = idx + 1
	}
	w.mu.Unlock()
}

// acknowledge applies a cumulative ACK naming seq and reports whether the
// window moved. ACKs that map outside the outstanding range are stale.
func (w *ackWindow) acknowledge(seq int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active || seq < 0 || seq >= w.modulus {
		return false
	}
	a := w.acked + distance(w.acked%w.modulus, seq, w.modulus)
	if a >= w.sent {
		return false
	}
	w.acked = a + 1
	return true
}

// acknowledgeStart acknowledges the START frame and nothing else.
func (w *ackWindow) acknowledgeStart() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active || w.acked != 0 || w.sent == 0 {
		return false
	}
	w.acked = 1
	return true
}

func (w *ackWindow) ackedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acked
}

// lastAcked is the seqno of the newest acknowledged frame, -1 before the first.
func (w *ackWindow) lastAcked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.acked == 0 {
		return -1
	}
	return (w.acked - 1) % w.modulus
}

// distance is how many steps forward from seqno a reaches seqno b.
func distance(a, b, modulus int) int {
	return ((b-a)%modulus + modulus) % modulus
}

// seqOf maps a frame index to its seqno.
func seqOf(idx, modulus int) int {
	return idx % modulus
}
