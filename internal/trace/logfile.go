package trace

import (
	"bytes"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// Format selects how a LogSink renders events.
type Format string

const (
	FormatText     Format = "text"     // logrus key=value lines
	FormatJSON     Format = "json"     // one JSON object per line
	FormatAnalyser Format = "analyser" // "time, dir, pdu_to_send=N, status=S, ackedNo=A"
)

const analyserTimeFormat = "2006-01-02 15:04:05.000000"

// LogSink writes every event as a structured logrus entry.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a sink writing to w in the given format.
func NewLogSink(w io.Writer, format Format) (*LogSink, error) {
	logger := log.New()
	logger.SetOutput(w)
	logger.SetLevel(log.InfoLevel)

	switch format {
	case FormatText, "":
		logger.SetFormatter(&log.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: analyserTimeFormat,
		})
	case FormatJSON:
		logger.SetFormatter(&log.JSONFormatter{TimestampFormat: analyserTimeFormat})
	case FormatAnalyser:
		logger.SetFormatter(analyserFormatter{})
	default:
		return nil, fmt.Errorf("unknown trace format %q", format)
	}
	return &LogSink{logger: logger}, nil
}

func (s *LogSink) Send(ev SendEvent) {
	s.logger.WithTime(ev.Time).WithFields(log.Fields{
		"dir":    "send",
		"peer":   ev.Peer,
		"seq":    ev.Seq,
		"status": ev.Status,
		"acked":  ev.CumulativeAck,
		"size":   ev.Size,
	}).Info("send")
}

func (s *LogSink) Receive(ev ReceiveEvent) {
	s.logger.WithTime(ev.Time).WithFields(log.Fields{
		"dir":      "recv",
		"peer":     ev.Peer,
		"expected": ev.Expected,
		"received": ev.Received,
		"status":   ev.Status,
		"size":     ev.Size,
	}).Info("recv")
}

// analyserFormatter renders the comma separated lines the log analyser reads:
//
//	2024-05-01 10:00:00.000000, send, pdu_to_send=3, status=NEW, ackedNo=2
//	2024-05-01 10:00:00.000100, recv, expected=3, received=3, status=OK
type analyserFormatter struct{}

func (analyserFormatter) Format(e *log.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(e.Time.Format(analyserTimeFormat))
	switch e.Data["dir"] {
	case "send":
		status, _ := e.Data["status"].(SendStatus)
		fmt.Fprintf(&b, ", send, pdu_to_send=%v, status=%s, ackedNo=%v",
			e.Data["seq"], status.Code(), e.Data["acked"])
	case "recv":
		fmt.Fprintf(&b, ", recv, expected=%v, received=%v, status=%v",
			e.Data["expected"], e.Data["received"], e.Data["status"])
	default:
		fmt.Fprintf(&b, ", %s", e.Message)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
