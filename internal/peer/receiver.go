package peer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/1ureka/gobackn/internal/protocol"
	"github.com/1ureka/gobackn/internal/trace"
	"github.com/1ureka/gobackn/internal/util"
)

// Transfer reports the outcome of one receive session.
type Transfer struct {
	Peer     string
	Name     string // as announced by the sender
	Path     string // where it was written
	Size     int64  // declared size
	Received int64
	Duration time.Duration
	Err      error // nil when the file is complete
}

type session struct {
	name     string
	path     string
	file     *os.File
	size     int64
	received int64
	expected int
	started  time.Time
}

// receiverState is owned by the receive loop.
type receiverState struct {
	session *session

	// lastHandled is the seqno of the newest in-order frame, -1 before any.
	// It survives the session so late duplicates are still acknowledged.
	lastHandled int

	// Name of the last empty file received, so a duplicate START for it is
	// not taken as a new transfer.
	doneEmpty string
}

func (r *receiverState) expectedSeq() int {
	if r.session == nil {
		return -1
	}
	return r.session.expected
}

// rxModulus is the seqno space of incoming frames: the peer's window plus one.
func (c *Connection) rxModulus() int {
	if ws := c.PeerWindow(); ws > 0 {
		return ws + 1
	}
	return c.cfg.Modulus()
}

func (c *Connection) handleStart(payload []byte, size int) {
	name, declared, err := protocol.ParseStart(payload)
	if err != nil {
		util.Logf(c.name, "bad start: %v", err)
		c.emitReceive(c.rx.expectedSeq(), -1, trace.StatusDataError, size)
		return
	}

	if s := c.rx.session; s != nil && s.name == name && s.size == declared {
		// The session is already open. Repeat the newest cumulative ACK so
		// the ACK stream never moves backwards.
		c.emitReceive(s.expected, 0, trace.StatusSequenceError, size)
		c.sendAck(c.rx.lastHandled)
		return
	}
	if declared == 0 && c.rx.session == nil && c.rx.lastHandled == 0 && c.rx.doneEmpty == name {
		c.emitReceive(-1, 0, trace.StatusSequenceError, size)
		c.sendAck(0)
		return
	}

	if c.rx.session != nil {
		c.abortSession(fmt.Errorf("superseded by %q", name))
	}

	path, err := c.destination(name)
	if err == nil {
		var f *os.File
		f, err = os.Create(path)
		if err == nil {
			c.rx.session = &session{
				name:     name,
				path:     path,
				file:     f,
				size:     declared,
				expected: 1 % c.rxModulus(),
				started:  time.Now(),
			}
		}
	}
	if err != nil {
		util.LogError("[%s] cannot receive %q: %v", c.name, name, err)
		c.report(Transfer{Peer: c.name, Name: name, Path: path, Size: declared, Err: err})
		return
	}

	util.LogInfo("[%s] receiving %q (%d bytes)", c.name, name, declared)
	c.rx.lastHandled = 0
	c.emitReceive(0, 0, trace.StatusOK, size)
	c.sendAck(0)

	if declared == 0 {
		c.completeSession()
	}
}

func (c *Connection) handleData(payload []byte, size int) {
	seq, chunk, err := protocol.ParseData(payload)
	if err != nil {
		util.Logf(c.name, "bad data: %v", err)
		c.emitReceive(c.rx.expectedSeq(), -1, trace.StatusDataError, size)
		return
	}

	s := c.rx.session
	if s == nil || seq != s.expected {
		util.Logf(c.name, "%v: got %d, want %d", ErrSequence, seq, c.rx.expectedSeq())
		c.emitReceive(c.rx.expectedSeq(), seq, trace.StatusSequenceError, size)
		if c.rx.lastHandled >= 0 {
			c.sendAck(c.rx.lastHandled)
		}
		return
	}

	if s.received+int64(len(chunk)) > s.size {
		c.emitReceive(s.expected, seq, trace.StatusDataError, size)
		c.abortSession(fmt.Errorf("%w: %d bytes past declared size %d",
			protocol.ErrMalformedPayload, s.received+int64(len(chunk))-s.size, s.size))
		return
	}
	if _, err := s.file.Write(chunk); err != nil {
		c.abortSession(fmt.Errorf("write %s: %w", s.path, err))
		return
	}

	s.received += int64(len(chunk))
	s.expected = (seq + 1) % c.rxModulus()
	c.rx.lastHandled = seq
	c.emitReceive(seq, seq, trace.StatusOK, size)
	c.sendAck(seq)

	if s.received == s.size {
		c.completeSession()
	}
}

// destination maps an announced name into the output directory. Only the
// base name is used, so a peer cannot write outside it.
func (c *Connection) destination(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + filepath.FromSlash(name)))
	if base == "/" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: file name %q", protocol.ErrMalformedPayload, name)
	}
	return filepath.Join(c.cfg.OutputDir, base), nil
}

func (c *Connection) completeSession() {
	s := c.rx.session
	c.rx.session = nil
	c.rx.doneEmpty = ""
	if s.size == 0 {
		c.rx.doneEmpty = s.name
	}

	err := s.file.Close()
	if err == nil {
		util.LogSuccess("[%s] received %q (%d bytes) in %v", c.name, s.name, s.received,
			time.Since(s.started).Round(time.Millisecond))
	} else {
		util.LogError("[%s] close %s: %v", c.name, s.path, err)
	}
	c.report(Transfer{
		Peer:     c.name,
		Name:     s.name,
		Path:     s.path,
		Size:     s.size,
		Received: s.received,
		Duration: time.Since(s.started),
		Err:      err,
	})
}

// abortSession closes the open session, if any, and reports cause.
func (c *Connection) abortSession(cause error) {
	s := c.rx.session
	if s == nil {
		return
	}
	c.rx.session = nil

	if err := s.file.Close(); err != nil {
		cause = errors.Join(cause, err)
	}
	util.LogWarning("[%s] receive of %q aborted after %d/%d bytes: %v", c.name, s.name, s.received, s.size, cause)
	c.report(Transfer{
		Peer:     c.name,
		Name:     s.name,
		Path:     s.path,
		Size:     s.size,
		Received: s.received,
		Duration: time.Since(s.started),
		Err:      cause,
	})
}

func (c *Connection) report(t Transfer) {
	if c.results == nil {
		return
	}
	select {
	case c.results <- t:
	default:
		util.LogWarning("[%s] transfer result for %q dropped: nobody is reading", c.name, t.Name)
	}
}

func (c *Connection) sendAck(seq int) {
	c.sendFrame(protocol.Pack(protocol.TypeAck, protocol.AckPayload(seq)))
}
