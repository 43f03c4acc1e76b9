package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/adler32"
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrShortFrame       = errors.New("frame too short")
	ErrUnknownType      = errors.New("unknown frame type")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Pack serializes a frame: tag, payload, then the big-endian Adler-32 of
// tag+payload.
func Pack(t FrameType, payload []byte) []byte {
	buf := make([]byte, TagSize+len(payload)+ChecksumSize)
	buf[0] = byte(t)
	copy(buf[TagSize:], payload)
	body := buf[:TagSize+len(payload)]
	binary.BigEndian.PutUint32(buf[len(body):], adler32.Checksum(body))
	return buf
}

// Unpack verifies the trailing checksum and splits a frame into its tag and
// payload. The returned payload does not alias data.
func Unpack(data []byte) (*Frame, error) {
	if len(data) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortFrame, len(data), Overhead)
	}
	body := data[:len(data)-ChecksumSize]
	want := binary.BigEndian.Uint32(data[len(body):])
	if got := adler32.Checksum(body); got != want {
		return nil, fmt.Errorf("%w: got %08x, want %08x", ErrChecksumMismatch, got, want)
	}

	t := FrameType(body[0])
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %#02x", ErrUnknownType, body[0])
	}

	f := &Frame{Type: t}
	if len(body) > TagSize {
		f.Payload = make([]byte, len(body)-TagSize)
		copy(f.Payload, body[TagSize:])
	}
	return f, nil
}
