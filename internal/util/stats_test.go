package util

import (
	"strings"
	"testing"

	"github.com/1ureka/gobackn/internal/trace"
)

func TestStatsCountsEvents(t *testing.T) {
	var s Stats

	s.Send(trace.SendEvent{Status: trace.StatusNew, Size: 100})
	s.Send(trace.SendEvent{Status: trace.StatusTimeoutRetransmit, Size: 100})
	s.Send(trace.SendEvent{Status: trace.StatusRetransmit, Size: 50})
	s.Receive(trace.ReceiveEvent{Status: trace.StatusOK, Size: 20})
	s.Receive(trace.ReceiveEvent{Status: trace.StatusDataError, Size: 20})
	s.Receive(trace.ReceiveEvent{Status: trace.StatusSequenceError, Size: 20})
	s.Receive(trace.ReceiveEvent{Status: trace.StatusSequenceError, Size: 20})

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"FramesSent", s.FramesSent.Load(), 3},
		{"Retransmits", s.Retransmits.Load(), 2},
		{"BytesSent", s.BytesSent.Load(), 250},
		{"FramesRecv", s.FramesRecv.Load(), 1},
		{"BytesRecv", s.BytesRecv.Load(), 20},
		{"DataErrors", s.DataErrors.Load(), 1},
		{"SeqErrors", s.SeqErrors.Load(), 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %d, want %d", c.name, c.got, c.want)
		}
	}

	if !strings.Contains(s.Summary(), "2 resent") {
		t.Errorf("summary missing resend count: %q", s.Summary())
	}
}

func TestFormatBytesFixedWidth(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}
	for _, tc := range testCases {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%v): got %q, want %q", tc.in, got, tc.want)
		}
	}
}
