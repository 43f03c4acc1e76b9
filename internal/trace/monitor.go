package trace

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
)

// Tuning constants.
const (
	clientBufferSize = 256              // per-subscriber outgoing event queue
	writeTimeout     = 5 * time.Second  // deadline for a single WS write
	pingInterval     = 30 * time.Second // keepalive for idle subscribers
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// message is the JSON envelope pushed to monitor subscribers.
type message struct {
	Kind    string        `json:"kind"` // "send" or "recv"
	Send    *SendEvent    `json:"send,omitempty"`
	Receive *ReceiveEvent `json:"recv,omitempty"`
}

// Monitor broadcasts events to WebSocket subscribers at /events.
// Slow subscribers lose events rather than stalling the protocol.
type Monitor struct {
	mu      sync.Mutex
	clients map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	out  chan []byte
	once sync.Once
	done chan struct{}
}

// NewMonitor creates a monitor with no subscribers.
func NewMonitor() *Monitor {
	return &Monitor{clients: make(map[*subscriber]struct{})}
}

// Handler returns the monitor's HTTP handler, wrapped with access logging to
// accessLog and panic recovery.
func (m *Monitor) Handler(accessLog io.Writer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", m.handleEvents)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return handlers.RecoveryHandler()(handlers.LoggingHandler(accessLog, mux))
}

// Subscribers returns the number of connected subscribers.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

func (m *Monitor) Send(ev SendEvent) {
	m.broadcast(message{Kind: "send", Send: &ev})
}

func (m *Monitor) Receive(ev ReceiveEvent) {
	m.broadcast(message{Kind: "recv", Receive: &ev})
}

// Close disconnects every subscriber.
func (m *Monitor) Close() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[*subscriber]struct{})
	m.mu.Unlock()

	for s := range clients {
		s.close()
	}
}

func (m *Monitor) broadcast(msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.clients {
		select {
		case s.out <- data:
		default:
		}
	}
}

func (m *Monitor) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s := &subscriber{
		conn: conn,
		out:  make(chan []byte, clientBufferSize),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.clients[s] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.clients, s)
		m.mu.Unlock()
		s.close()
	}()

	go s.readLoop()
	s.writeLoop()
}

// writeLoop is the single writer for the subscriber's connection.
func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop discards inbound messages and notices when the peer goes away.
func (s *subscriber) readLoop() {
	defer s.close()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
