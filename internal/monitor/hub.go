// Package monitor pushes live leaderboard events to admin and mentor
// dashboards over websockets.
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

const (
	EventSubscribed = "subscribed"
	EventGraded     = "graded"
)

// Event tells dashboards that the leaderboard of an exam may have changed.
// Clients re-fetch the REST leaderboard on receipt.
type Event struct {
	ExamID         int64     `json:"exam_id"`
	Event          string    `json:"event"`
	UserID         int64     `json:"user_id,omitempty"`
	AttemptOrdinal int       `json:"attempt_ordinal,omitempty"`
	At             time.Time `json:"at"`
}

type message struct {
	examID  int64
	payload []byte
}

// Hub fans graded-attempt events out to the clients subscribed to that exam.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan message
	clients    map[*client]struct{}
	// done is closed when Run returns.
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, 256),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.examID != msg.examID {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					h.drop(c)
				}
			}
		}
	}
}

// subscribe reports false once the hub has stopped.
func (h *Hub) subscribe(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unsubscribe(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

// AttemptGraded queues a graded event. It never blocks the caller; when the
// queue is full the event is dropped.
func (h *Hub) AttemptGraded(examID, userID int64, ordinal int) {
	if h == nil {
		return
	}
	data, err := json.Marshal(Event{
		ExamID:         examID,
		Event:          EventGraded,
		UserID:         userID,
		AttemptOrdinal: ordinal,
		At:             time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("ws: marshal graded event")
		return
	}
	select {
	case h.broadcast <- message{examID: examID, payload: data}:
	default:
		log.Warn().Int64("exam_id", examID).Msg("ws: broadcast queue full, event dropped")
	}
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	examID int64
}

func (c *client) readPump() {
	defer c.hub.unsubscribe(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
