// Package config holds the resolved parameters a host runs with.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/gobackn/internal/protocol"
)

// Defaults, taken from the reference deployment.
const (
	DefaultPort              = 5555
	DefaultChunkSize         = 4000
	DefaultWindowSize        = 3
	DefaultTimeout           = 5 * time.Second
	DefaultHandshakeAttempts = 5
	DefaultIdleTimeouts      = 5
)

// Config stores every tunable a Host needs. It is passed by value at
// construction time; nothing here is process-wide.
type Config struct {
	Port       int           // local UDP port (0 picks a free one)
	ChunkSize  int           // DATA payload bytes per frame
	WindowSize int           // max unacknowledged frames in flight
	Timeout    time.Duration // per-frame ack timeout; also the socket read timeout

	LossRate  float64 // simulated drop probability in [0,1]
	ErrorRate float64 // simulated single-byte corruption probability in [0,1]
	Seed      uint64  // impairment PRNG seed; 0 means random

	HandshakeAttempts int // handshake retries before ErrConnectionEstablishmentFailed
	MaxRetransmits    int // consecutive retransmission rounds without progress; 0 = unbounded
	IdleTimeouts      int // consecutive read timeouts before a peer is reported idle; 0 disables

	OutputDir      string // destination directory for received files
	AcceptIncoming bool   // create connections for unknown peers that send HANDSHAKE
}

// Default returns a Config populated with the package defaults.
func Default() Config {
	return Config{
		Port:              DefaultPort,
		ChunkSize:         DefaultChunkSize,
		WindowSize:        DefaultWindowSize,
		Timeout:           DefaultTimeout,
		HandshakeAttempts: DefaultHandshakeAttempts,
		IdleTimeouts:      DefaultIdleTimeouts,
		OutputDir:         ".",
		AcceptIncoming:    true,
	}
}

var ErrInvalid = errors.New("invalid config")

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range 0~65535", ErrInvalid, c.Port)
	case c.ChunkSize < 1:
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalid, c.ChunkSize)
	case c.WindowSize < 1:
		return fmt.Errorf("%w: window size must be positive, got %d", ErrInvalid, c.WindowSize)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalid, c.Timeout)
	case c.LossRate < 0 || c.LossRate > 1:
		return fmt.Errorf("%w: loss rate %v out of range [0,1]", ErrInvalid, c.LossRate)
	case c.ErrorRate < 0 || c.ErrorRate > 1:
		return fmt.Errorf("%w: error rate %v out of range [0,1]", ErrInvalid, c.ErrorRate)
	case c.HandshakeAttempts < 1:
		return fmt.Errorf("%w: handshake attempts must be positive, got %d", ErrInvalid, c.HandshakeAttempts)
	case c.MaxRetransmits < 0:
		return fmt.Errorf("%w: max retransmits must not be negative, got %d", ErrInvalid, c.MaxRetransmits)
	case c.IdleTimeouts < 0:
		return fmt.Errorf("%w: idle timeouts must not be negative, got %d", ErrInvalid, c.IdleTimeouts)
	}
	return nil
}

// Modulus is the sequence number space for this host's outgoing frames.
// It must exceed the window size, otherwise duplicate ACKs become ambiguous.
func (c Config) Modulus() int {
	return c.WindowSize + 1
}

// MaxFrameSize is the receive buffer size needed for this chunk size.
func (c Config) MaxFrameSize() int {
	return protocol.MaxFrameSize(c.ChunkSize)
}

// Impaired reports whether a loss or corruption simulator should be installed.
func (c Config) Impaired() bool {
	return c.LossRate > 0 || c.ErrorRate > 0
}
