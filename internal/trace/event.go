// Package trace carries the send/receive events a host emits for every
// frame, and the sinks that consume them.
package trace

import (
	"fmt"
	"sync"
	"time"
)

// SendStatus classifies a transmitted DATA/START frame.
type SendStatus int

const (
	StatusNew               SendStatus = iota // first transmission
	StatusTimeoutRetransmit                   // resent after the oldest frame timed out
	StatusRetransmit                          // resent after a NACK
)

func (s SendStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusTimeoutRetransmit:
		return "TIMEOUT_RETRANSMIT"
	case StatusRetransmit:
		return "RETRANSMIT"
	}
	return fmt.Sprintf("SendStatus(%d)", int(s))
}

// Code is the short status used by the analyser log format.
func (s SendStatus) Code() string {
	switch s {
	case StatusTimeoutRetransmit:
		return "TO"
	case StatusRetransmit:
		return "RT"
	}
	return "NEW"
}

func (s SendStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts both the String and the Code forms.
func (s *SendStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "NEW":
		*s = StatusNew
	case "TIMEOUT_RETRANSMIT", "TO":
		*s = StatusTimeoutRetransmit
	case "RETRANSMIT", "RT":
		*s = StatusRetransmit
	default:
		return fmt.Errorf("unknown send status %q", text)
	}
	return nil
}

// RecvStatus classifies a received frame.
type RecvStatus int

const (
	StatusOK            RecvStatus = iota // accepted in order
	StatusDataError                       // checksum or decode failure
	StatusSequenceError                   // not the expected seqno
)

func (s RecvStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusDataError:
		return "DATA_ERROR"
	case StatusSequenceError:
		return "SEQUENCE_ERROR"
	}
	return fmt.Sprintf("RecvStatus(%d)", int(s))
}

func (s RecvStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RecvStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "OK":
		*s = StatusOK
	case "DATA_ERROR":
		*s = StatusDataError
	case "SEQUENCE_ERROR":
		*s = StatusSequenceError
	default:
		return fmt.Errorf("unknown receive status %q", text)
	}
	return nil
}

// SendEvent is emitted once per transmitted transfer frame.
// CumulativeAck is the last acknowledged seqno, or -1 before the first ACK.
type SendEvent struct {
	Time          time.Time  `json:"time"`
	Peer          string     `json:"peer"`
	Seq           int        `json:"seq"`
	Status        SendStatus `json:"status"`
	CumulativeAck int        `json:"cumulativeAck"`
	Size          int        `json:"size"`
}

// ReceiveEvent is emitted once per received START/DATA frame, and for every
// frame that fails verification. Received is -1 when the seqno is unknown.
type ReceiveEvent struct {
	Time     time.Time  `json:"time"`
	Peer     string     `json:"peer"`
	Expected int        `json:"expected"`
	Received int        `json:"received"`
	Status   RecvStatus `json:"status"`
	Size     int        `json:"size"`
}

// Sink consumes events. Implementations must be safe for concurrent use:
// every connection emits from its own goroutines.
type Sink interface {
	Send(SendEvent)
	Receive(ReceiveEvent)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Send(SendEvent)       {}
func (discard) Receive(ReceiveEvent) {}

// Multi fans every event out to all sinks, in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	var list multi
	for _, s := range sinks {
		if s != nil {
			list = append(list, s)
		}
	}
	return list
}

type multi []Sink

func (m multi) Send(ev SendEvent) {
	for _, s := range m {
		s.Send(ev)
	}
}

func (m multi) Receive(ev ReceiveEvent) {
	for _, s := range m {
		s.Receive(ev)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu       sync.Mutex
	sends    []SendEvent
	receives []ReceiveEvent
}

func (r *Recorder) Send(ev SendEvent) {
	r.mu.Lock()
	r.sends = append(r.sends, ev)
	r.mu.Unlock()
}

func (r *Recorder) Receive(ev ReceiveEvent) {
	r.mu.Lock()
	r.receives = append(r.receives, ev)
	r.mu.Unlock()
}

// Sends returns a copy of the recorded send events.
func (r *Recorder) Sends() []SendEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SendEvent(nil), r.sends...)
}

// Receives returns a copy of the recorded receive events.
func (r *Recorder) Receives() []ReceiveEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReceiveEvent(nil), r.receives...)
}
