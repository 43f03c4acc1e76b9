package transport

import (
	"math/rand/v2"
	"net"
	"sync"
)

// Action is what the impairment simulator does with one outgoing frame.
type Action int

const (
	Pass    Action = iota // transmit unchanged
	Drop                  // pretend it was sent
	Corrupt               // flip one random byte, then transmit
)

// Impairment configures the channel simulator. Rates are probabilities in
// [0,1], sampled independently per frame. Script, when set, is consulted
// first with the zero-based index of the frame; any result other than Pass
// overrides the random sampling.
type Impairment struct {
	LossRate  float64
	ErrorRate float64
	Seed      uint64 // 0 picks a random seed
	Script    func(n int, frame []byte) Action
}

// Impair decorates conn so that every WriteTo passes through the simulator.
// It exists for testing retransmission and checksum paths; reads are untouched.
func Impair(conn net.PacketConn, imp Impairment) net.PacketConn {
	seed := imp.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &impairedConn{
		PacketConn: conn,
		imp:        imp,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

type impairedConn struct {
	net.PacketConn
	imp Impairment

	mu  sync.Mutex
	rng *rand.Rand
	n   int
}

func (c *impairedConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	action := c.decide(b)
	var pos int
	var mask byte
	if action == Corrupt && len(b) > 0 {
		pos = c.rng.IntN(len(b))
		mask = byte(1 + c.rng.IntN(255))
	}
	c.mu.Unlock()

	switch action {
	case Drop:
		return len(b), nil
	case Corrupt:
		if len(b) == 0 {
			break
		}
		bad := make([]byte, len(b))
		copy(bad, b)
		bad[pos] ^= mask
		return c.PacketConn.WriteTo(bad, addr)
	}
	return c.PacketConn.WriteTo(b, addr)
}

// decide must be called with c.mu held.
func (c *impairedConn) decide(b []byte) Action {
	n := c.n
	c.n++

	if c.imp.Script != nil {
		if a := c.imp.Script(n, b); a != Pass {
			return a
		}
	}
	if c.imp.LossRate > 0 && c.rng.Float64() < c.imp.LossRate {
		return Drop
	}
	if c.imp.ErrorRate > 0 && c.rng.Float64() < c.imp.ErrorRate {
		return Corrupt
	}
	return Pass
}
