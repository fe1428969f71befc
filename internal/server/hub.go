package server

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/api"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

type wsClient struct {
	conn *websocket.Conn
	send chan api.Change
	id   string
	user string
}

// Hub fans out change notifications to the websocket clients of the user
// that made the change.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan api.Change
	register   chan *wsClient
	unregister chan *wsClient
	stop       chan struct{}
	upgrader   websocket.Upgrader
	stopOnce   sync.Once
	count      atomic.Int32
}

// NewHub starts a hub.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan api.Change, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stop:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int32(len(h.clients)))

		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.count.Store(int32(len(h.clients)))
			}

		case ch := <-h.broadcast:
			for c := range h.clients {
				if ch.User != "" && c.user != ch.User {
					continue
				}
				select {
				case c.send <- ch:
				default:
					log.Warn().Str("client", c.id).Msg("Websocket client too slow, dropping")
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.count.Store(int32(len(h.clients)))

		case <-h.stop:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.count.Store(0)
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Publish queues a change. It never blocks; a full queue drops the change.
func (h *Hub) Publish(ch api.Change) {
	if ch.At.IsZero() {
		ch.At = time.Now().UTC()
	}
	select {
	case h.broadcast <- ch:
	case <-h.stop:
	default:
		log.Warn().Str("entity", ch.Entity).Str("action", ch.Action).Msg("Change queue full, notification dropped")
	}
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Serve upgrades the request and streams the user's changes until the
// client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, user string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	c := &wsClient{
		conn: conn,
		send: make(chan api.Change, sendBuffer),
		id:   uuid.NewString(),
		user: user,
	}

	select {
	case h.register <- c:
	case <-h.stop:
		_ = conn.Close()
		return nil
	}

	log.Debug().Str("client", c.id).Str("user", user).Msg("Websocket client connected")

	go h.writePump(c)
	h.readPump(c)
	return nil
}

// readPump only consumes control frames; clients send nothing else.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stop:
		}
		_ = c.conn.Close()
		log.Debug().Str("client", c.id).Msg("Websocket client disconnected")
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("Websocket read failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ch, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ch); err != nil {
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
