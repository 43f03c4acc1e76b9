package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

const (
	separator = '|'
	synWord   = "SYN"
)

// HandshakePayload encodes a window size advertisement.
func HandshakePayload(window int) []byte {
	return []byte(strconv.Itoa(window))
}

// ParseHandshake decodes a window size advertisement.
func ParseHandshake(p []byte) (int, error) {
	ws, err := strconv.Atoi(string(p))
	if err != nil || ws < 1 {
		return 0, fmt.Errorf("%w: window %q", ErrMalformedPayload, p)
	}
	return ws, nil
}

// SynAckPayload encodes "SYN|<ws>", or a bare "SYN" when window is not positive.
func SynAckPayload(window int) []byte {
	if window <= 0 {
		return []byte(synWord)
	}
	return []byte(fmt.Sprintf("%s%c%d", synWord, separator, window))
}

// ParseSynAck decodes a SYN frame payload. ok is false for a bare "SYN".
func ParseSynAck(p []byte) (window int, ok bool, err error) {
	word, rest, found := bytes.Cut(p, []byte{separator})
	if string(word) != synWord {
		return 0, false, fmt.Errorf("%w: syn %q", ErrMalformedPayload, p)
	}
	if !found {
		return 0, false, nil
	}
	window, err = ParseHandshake(rest)
	if err != nil {
		return 0, false, err
	}
	return window, true, nil
}

// StartPayload encodes "<name>|<size>".
func StartPayload(name string, size int64) []byte {
	return []byte(fmt.Sprintf("%s%c%d", name, separator, size))
}

// ParseStart decodes a START payload. The size follows the last separator,
// so names may themselves contain '|'.
func ParseStart(p []byte) (name string, size int64, err error) {
	i := bytes.LastIndexByte(p, separator)
	if i <= 0 {
		return "", 0, fmt.Errorf("%w: start %q", ErrMalformedPayload, p)
	}
	size, err = strconv.ParseInt(string(p[i+1:]), 10, 64)
	if err != nil || size < 0 {
		return "", 0, fmt.Errorf("%w: start size %q", ErrMalformedPayload, p[i+1:])
	}
	return string(p[:i]), size, nil
}

// DataPayload encodes "<seqno>|<chunk>".
func DataPayload(seq int, chunk []byte) []byte {
	prefix := strconv.Itoa(seq)
	buf := make([]byte, 0, len(prefix)+1+len(chunk))
	buf = append(buf, prefix...)
	buf = append(buf, separator)
	return append(buf, chunk...)
}

// ParseData decodes a DATA payload. Negative seqnos parse successfully; it is
// up to the receiver to reject them.
func ParseData(p []byte) (seq int, chunk []byte, err error) {
	head, rest, found := bytes.Cut(p, []byte{separator})
	if !found {
		return 0, nil, fmt.Errorf("%w: data without separator", ErrMalformedPayload)
	}
	seq, err = strconv.Atoi(string(head))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: data seqno %q", ErrMalformedPayload, head)
	}
	return seq, rest, nil
}

// AckPayload encodes a numeric acknowledgment.
func AckPayload(seq int) []byte {
	return []byte(strconv.Itoa(seq))
}

// AckKind distinguishes the payload shapes an ACK frame can carry.
type AckKind int

const (
	AckSeq  AckKind = iota // cumulative seqno
	AckSyn                 // "SYN": handshake completion
	AckName                // echoed file name: START completion
)

// Ack is a decoded ACK payload.
type Ack struct {
	Kind AckKind
	Seq  int
	Name string
}

// ParseAck classifies an ACK payload. Anything that is neither a number nor
// SYN is taken as an echoed file name.
func ParseAck(p []byte) (Ack, error) {
	if len(p) == 0 {
		return Ack{}, fmt.Errorf("%w: empty ack", ErrMalformedPayload)
	}
	if seq, err := strconv.Atoi(string(p)); err == nil {
		return Ack{Kind: AckSeq, Seq: seq}, nil
	}
	if word, _, _ := bytes.Cut(p, []byte{separator}); string(word) == synWord {
		return Ack{Kind: AckSyn}, nil
	}
	return Ack{Kind: AckName, Name: string(p)}, nil
}
