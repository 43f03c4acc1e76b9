package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/gobackn/internal/trace"
)

// Stats counts frame traffic for one host. It is a trace.Sink, so it can be
// attached next to any other event consumer.
type Stats struct {
	FramesSent  atomic.Int64 // every transmitted transfer frame, including resends
	Retransmits atomic.Int64 // resends after a timeout or NACK
	BytesSent   atomic.Int64 // wire bytes of transmitted transfer frames
	FramesRecv  atomic.Int64 // frames accepted in order
	BytesRecv   atomic.Int64 // wire bytes of accepted frames
	DataErrors  atomic.Int64 // frames that failed checksum or decoding
	SeqErrors   atomic.Int64 // frames with an unexpected seqno
}

var _ trace.Sink = (*Stats)(nil)

func (s *Stats) Send(ev trace.SendEvent) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(ev.Size))
	if ev.Status != trace.StatusNew {
		s.Retransmits.Add(1)
	}
}

func (s *Stats) Receive(ev trace.ReceiveEvent) {
	switch ev.Status {
	case trace.StatusOK:
		s.FramesRecv.Add(1)
		s.BytesRecv.Add(int64(ev.Size))
	case trace.StatusDataError:
		s.DataErrors.Add(1)
	case trace.StatusSequenceError:
		s.SeqErrors.Add(1)
	}
}

// Summary formats the lifetime counters in one line.
func (s *Stats) Summary() string {
	return fmt.Sprintf("Sent: %d frames (%s), %d resent | Recv: %d frames (%s) | Errors: %d data, %d seq",
		s.FramesSent.Load(), formatBytes(float64(s.BytesSent.Load())), s.Retransmits.Load(),
		s.FramesRecv.Load(), formatBytes(float64(s.BytesRecv.Load())),
		s.DataErrors.Load(), s.SeqErrors.Load())
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs throughput every interval
// while there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevResent int64
		for {
			select {
			case <-ticker.C:
				sent := s.BytesSent.Load()
				recv := s.BytesRecv.Load()
				resent := s.Retransmits.Load()

				secs := interval.Seconds()
				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs

				if outS > 0 || inS > 0 {
					pterm.DefaultLogger.Info(formatRates(outS, inS, resent-prevResent))
				}

				prevSent = sent
				prevRecv = recv
				prevResent = resent

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed width (exactly 8 chars) string,
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatRates(outS, inS float64, resent int64) string {
	return fmt.Sprintf("Out: %s/s | In: %s/s | Resent: %3d", formatBytes(outS), formatBytes(inS), resent)
}
