package peer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/1ureka/gobackn/internal/protocol"
	"github.com/1ureka/gobackn/internal/trace"
	"github.com/1ureka/gobackn/internal/util"
)

// SendFile transfers the file at path under its base name.
func (c *Connection) SendFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return c.Send(ctx, filepath.Base(path), f, info.Size())
}

// Send transfers size bytes from r to the peer as a file called name and
// returns once the peer has acknowledged every frame.
func (c *Connection) Send(ctx context.Context, name string, r io.Reader, size int64) error {
	if c.State() != StateEstablished {
		return fmt.Errorf("%w: %s is %s", ErrNoConnection, c.name, c.State())
	}
	if len(name) > protocol.MaxNameLength {
		return fmt.Errorf("%w: file name longer than %d bytes", protocol.ErrMalformedPayload, protocol.MaxNameLength)
	}
	if !c.sending.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrBusy, c.name)
	}
	defer c.sending.Store(false)

	started := time.Now()
	src := newFrameSource(name, r, size, c.cfg.ChunkSize, c.cfg.Modulus())
	if err := c.transmit(ctx, src); err != nil {
		return fmt.Errorf("send %q to %s: %w", name, c.name, err)
	}
	util.LogSuccess("[%s] sent %q (%d bytes, %d frames) in %v", c.name, name, size, src.frames(),
		time.Since(started).Round(time.Millisecond))
	return nil
}

// transmit runs the Go-Back-N window over src until every frame is
// acknowledged.
func (c *Connection) transmit(ctx context.Context, src *frameSource) error {
	var (
		n       = src.frames()
		window  = c.cfg.WindowSize
		modulus = c.cfg.Modulus()
		timeout = c.cfg.Timeout

		stamps  = make([]time.Time, modulus) // last send time, by seqno
		cursor  int                          // next frame index to send
		high    int                          // one past the highest index ever sent
		resend  = trace.StatusNew            // status for frames below high
		rounds  int                          // retransmission rounds without progress
		mileage int                          // acked count when rounds was last reset
	)

	c.window.reset(modulus)
	defer c.window.finish()
	drain(c.ackCh)
	drain(c.nackCh)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		acked := c.window.ackedCount()
		if acked >= n {
			return nil
		}
		if acked > mileage {
			mileage, rounds = acked, 0
		}
		if cursor < acked {
			cursor = acked
		}

		for cursor < n && cursor < acked+window {
			frame, err := src.frame(cursor)
			if err != nil {
				return err
			}
			status := trace.StatusNew
			if cursor < high {
				status = resend
			}

			seq := seqOf(cursor, modulus)
			stamps[seq] = time.Now()
			c.window.markSent(cursor)
			if err := c.out.Send(frame, c.addr); err != nil {
				return err
			}
			c.emitSend(seq, status, len(frame))

			cursor++
			if cursor > high {
				high = cursor
			}
		}

		// The oldest outstanding frame sets the deadline.
		timer.Reset(time.Until(stamps[seqOf(acked, modulus)].Add(timeout)))

		var cause trace.SendStatus
		select {
		case <-c.ackCh:
			timer.Stop()
			continue
		case <-c.nackCh:
			timer.Stop()
			cause = trace.StatusRetransmit
		case <-timer.C:
			cause = trace.StatusTimeoutRetransmit
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		}

		// Go back to the first unacknowledged frame and resend the window.
		acked = c.window.ackedCount()
		if acked >= n {
			return nil
		}
		if acked > mileage {
			mileage, rounds = acked, 0
		}
		rounds++
		if c.cfg.MaxRetransmits > 0 && rounds > c.cfg.MaxRetransmits {
			return fmt.Errorf("%w: frame %d unacknowledged after %d rounds", ErrRetransmitLimit, acked, rounds-1)
		}
		util.Logf(c.name, "%s from seq %d", cause, seqOf(acked, modulus))
		cursor = acked
		resend = cause
	}
}
