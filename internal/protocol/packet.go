// Package protocol defines the frame format exchanged between Go-Back-N hosts.
package protocol

import "fmt"

// FrameType is the one-byte tag that starts every frame.
type FrameType byte

// Frame type tags.
const (
	TypeHandshake FrameType = 'h' // window size advertisement
	TypeSyn       FrameType = 'y' // SYN / SYNACK
	TypeStart     FrameType = 's' // start of transfer: "<name>|<size>"
	TypeData      FrameType = 'd' // "<seqno>|<chunk>"
	TypeAck       FrameType = 'a' // cumulative acknowledgment
)

// Layout constants: Tag(1) + Payload(n) + Checksum(4).
const (
	TagSize      = 1
	ChecksumSize = 4
	Overhead     = TagSize + ChecksumSize
)

// Upper bounds used to provision receive buffers.
const (
	MaxSeqDigits    = 10  // decimal digits of the largest seqno
	MaxNameLength   = 255 // longest file name carried by START
	maxStartPayload = MaxNameLength + 1 + 20
)

// Frame is a decoded frame. Frames are never mutated after Unpack.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Valid reports whether t is one of the known frame tags.
func (t FrameType) Valid() bool {
	switch t {
	case TypeHandshake, TypeSyn, TypeStart, TypeData, TypeAck:
		return true
	}
	return false
}

func (t FrameType) String() string {
	switch t {
	case TypeHandshake:
		return "HANDSHAKE"
	case TypeSyn:
		return "SYN"
	case TypeStart:
		return "START"
	case TypeData:
		return "DATA"
	case TypeAck:
		return "ACK"
	}
	return fmt.Sprintf("UNKNOWN(%#02x)", byte(t))
}

// MaxFrameSize returns the largest frame a peer sending chunks of chunkSize
// bytes can produce. Receive buffers must be at least this large.
func MaxFrameSize(chunkSize int) int {
	payload := chunkSize + MaxSeqDigits + 1
	if payload < maxStartPayload {
		payload = maxStartPayload
	}
	return Overhead + payload
}
