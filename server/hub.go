package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bosley/callplay/player"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 256
)

// Message is the envelope every event is wrapped in on the wire.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type subscriber struct {
	id        uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	closeOnce sync.Once
}

// Hub fans engine events out to websocket subscribers. It implements
// player.Emitter; a subscriber whose queue is full misses the event instead
// of stalling the engine.
type Hub struct {
	subscribers map[uuid.UUID]*subscriber
	mu          sync.RWMutex

	// Observer, when set, also receives every event.
	Observer player.Emitter
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]*subscriber),
	}
}

// Emit implements player.Emitter.
func (h *Hub) Emit(e player.Event) {
	if h.Observer != nil {
		h.Observer.Emit(e)
	}

	data, err := json.Marshal(Message{
		Type:      e.Type,
		Timestamp: time.Now(),
		Payload:   e.Payload,
	})
	if err != nil {
		slog.Error("Failed to marshal event", "error", err, "type", e.Type)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sub := range h.subscribers {
		select {
		case sub.send <- data:
		default:
			slog.Warn("Failed to send to subscriber - channel full",
				"subscriberID", id,
				"type", e.Type)
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub.id] = sub
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub.id]; ok {
		delete(h.subscribers, sub.id)
		sub.closeSend()
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		sub.closeSend()
	}
}

func (h *Hub) attach(conn *websocket.Conn) *subscriber {
	sub := &subscriber{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}
	h.add(sub)
	slog.Debug("Subscriber connected", "subscriberID", sub.id, "remoteAddr", conn.RemoteAddr())

	go sub.writePump()
	go sub.readPump()
	return sub
}

func (s *subscriber) closeSend() {
	s.closeOnce.Do(func() {
		close(s.send)
	})
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; subscribers send commands over
// the HTTP API.
func (s *subscriber) readPump() {
	defer func() {
		s.hub.remove(s)
		s.conn.Close()
		slog.Debug("Subscriber disconnected", "subscriberID", s.id)
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}
