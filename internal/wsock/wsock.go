// Package wsock implements the crawl kernel's WebSocket event transport: a
// register/unregister/broadcast hub generalized from the teacher's
// WebSocketManager (which broadcast *campaign* messages to *clients*) down
// to broadcasting *event envelopes* to *event sinks* -- one hub instance
// per process, which sends every session's envelopes to every client.
package wsock

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fntelecomllc/crawlkernel/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one subscribed WebSocket connection.
type Client struct {
	conn *websocket.Conn
	send chan events.Envelope
}

// Hub broadcasts every event it receives to every registered client,
// implementing events.Sink. The daemon creates one Hub shared by all
// sessions; clients receive envelopes from every session.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan events.Envelope
	done       chan struct{}
}

// NewHub constructs a Hub; callers must invoke Run in a goroutine before
// events are delivered.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan events.Envelope, 256),
		done:       make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case env := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- env:
				default:
					log.Printf("wsock: client send buffer full, dropping client")
					go h.Unregister(c)
				}
			}
			h.mu.RUnlock()
		case <-h.done:
			return
		}
	}
}

// Stop ends Run's loop.
func (h *Hub) Stop() { close(h.done) }

// Publish implements events.Sink, fanning one envelope out to every
// connected client.
func (h *Hub) Publish(env events.Envelope) {
	select {
	case h.broadcast <- env:
	default:
		log.Printf("wsock: broadcast channel full, dropping event %s", env.EventName)
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection and registers
// it as a new Client, blocking until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{conn: conn, send: make(chan events.Envelope, 64)}
	h.register <- c
	defer func() {
		h.Unregister(c)
		_ = conn.Close()
	}()

	go c.readPump()
	c.writePump()
	return nil
}

// Unregister removes c from the hub, tolerating a client that's already
// gone.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// readPump drains (and discards) client frames so the gorilla/websocket
// read deadline machinery stays satisfied; this transport is write-only
// from the server's perspective.
func (c *Client) readPump() {
	defer func() { recover() }()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	for env := range c.send {
		b, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
