package peer

import (
	"fmt"
	"io"

	"github.com/1ureka/gobackn/internal/protocol"
)

// frameSource produces the frames of one transfer on demand. Frame 0 is
// START; frame k>0 carries chunk k-1. The reader is consumed once, in order;
// the last modulus frames are kept for retransmission, which is all Go-Back-N
// can ask for.
type frameSource struct {
	r       io.Reader
	size    int64
	chunk   int
	modulus int
	total   int

	ring [][]byte
	next int // next index not yet built
}

func newFrameSource(name string, r io.Reader, size int64, chunk, modulus int) *frameSource {
	chunks := int((size + int64(chunk) - 1) / int64(chunk))
	s := &frameSource{
		r:       r,
		size:    size,
		chunk:   chunk,
		modulus: modulus,
		total:   1 + chunks,
		ring:    make([][]byte, modulus),
	}
	s.ring[0] = protocol.Pack(protocol.TypeStart, protocol.StartPayload(name, size))
	s.next = 1
	return s
}

// frames is the number of frames in the transfer, including START.
func (s *frameSource) frames() int { return s.total }

// frame returns frame idx. Indexes must be requested within modulus-1 of the
// newest one built, and new ones strictly in order.
func (s *frameSource) frame(idx int) ([]byte, error) {
	if idx < s.next {
		if idx < s.next-s.modulus {
			return nil, fmt.Errorf("frame %d already evicted", idx)
		}
		return s.ring[idx%s.modulus], nil
	}
	if idx != s.next {
		return nil, fmt.Errorf("frame %d requested before %d", idx, s.next)
	}
	if idx >= s.total {
		return nil, fmt.Errorf("frame %d out of range (%d frames)", idx, s.total)
	}

	n := s.chunk
	if remaining := s.size - int64(idx-1)*int64(s.chunk); remaining < int64(n) {
		n = int(remaining)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", idx-1, err)
	}

	f := protocol.Pack(protocol.TypeData, protocol.DataPayload(seqOf(idx, s.modulus), buf))
	s.ring[idx%s.modulus] = f
	s.next++
	return f, nil
}
