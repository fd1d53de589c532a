package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aretw0/sessionflow/pkg/event"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 5 * time.Second
	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// clientBuffer is the per-client backlog; slow clients lose messages beyond it.
	clientBuffer = 64
)

// Envelope is the wire form of one bus event.
type Envelope struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

type streamClient struct {
	send  chan Envelope
	types []string
}

func (c *streamClient) wants(eventType string) bool {
	return len(c.types) == 0 || slices.Contains(c.types, eventType)
}

// StreamManager fans bus events out to websocket clients.
type StreamManager struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
	sub     *event.Subscription
	logger  *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	return &StreamManager{
		clients: make(map[*streamClient]struct{}),
		logger:  logger,
	}
}

// Attach forwards every event published on bus.
func (sm *StreamManager) Attach(bus *event.Bus) {
	if bus == nil {
		return
	}
	sub := bus.SubscribeAll(func(e event.Event) {
		data, err := json.Marshal(e)
		if err != nil {
			sm.logger.Warn("Stream: failed to encode event", "type", e.EventType(), "err", err)
			return
		}
		sm.Broadcast(Envelope{Type: e.EventType(), At: e.Timestamp(), Data: data})
	})
	sm.mu.Lock()
	sm.sub = sub
	sm.mu.Unlock()
}

// Subscribe registers a client interested in the given event types (all when empty).
func (sm *StreamManager) Subscribe(types []string) (<-chan Envelope, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	c := &streamClient{send: make(chan Envelope, clientBuffer), types: types}
	if sm.closed {
		close(c.send)
		return c.send, func() {}
	}
	sm.clients[c] = struct{}{}

	return c.send, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if _, ok := sm.clients[c]; ok {
			delete(sm.clients, c)
			close(c.send)
		}
	}
}

// Broadcast delivers env to every interested client without blocking.
func (sm *StreamManager) Broadcast(env Envelope) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for c := range sm.clients {
		if !c.wants(env.Type) {
			continue
		}
		select {
		case c.send <- env:
		default:
			sm.logger.Warn("Stream: client buffer full, dropping event", "type", env.Type)
		}
	}
}

// Count returns the number of connected clients.
func (sm *StreamManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.clients)
}

// Close stops forwarding and disconnects every client.
func (sm *StreamManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return
	}
	sm.closed = true
	if sm.sub != nil {
		sm.sub.Cancel()
	}
	for c := range sm.clients {
		delete(sm.clients, c)
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SubscribeEvents handles GET /events by upgrading to a websocket and streaming
// bus events until the client goes away.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Stream: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.Streams.Subscribe(types)
	defer cancel()
	s.logger.Info("Stream client connected", "types", types)

	// The read side only serves control frames; it signals when the client leaves.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			s.logger.Info("Stream client disconnected")
			return
		case env, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				s.logger.Warn("Stream: write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
