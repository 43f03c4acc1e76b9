package peer

import "errors"

var (
	// ErrConnectionEstablishmentFailed is returned when every handshake attempt timed out.
	ErrConnectionEstablishmentFailed = errors.New("connection establishment failed")
	// ErrNoConnection means the peer is unknown or not yet established.
	ErrNoConnection = errors.New("no connection")
	// ErrDuplicateConnection means a connection to the peer already exists or has handshaken.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrRetransmitLimit ends a send after MaxRetransmits rounds without progress.
	ErrRetransmitLimit = errors.New("retransmit limit exceeded")
	// ErrSequence is logged when DATA arrives out of order.
	ErrSequence = errors.New("unexpected sequence number")
	// ErrBusy means another send on the same connection is in progress.
	ErrBusy = errors.New("transfer already in progress")
	// ErrClosed is returned once the connection or its host has shut down.
	ErrClosed = errors.New("connection closed")
)
