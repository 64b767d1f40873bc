package push

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	userID   string
	campusID string
	conn     *websocket.Conn
	send     chan []byte
}

// Hub fans messages out to websocket connections keyed by user and campus.
// One user may hold several connections.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Serve upgrades the request and keeps the connection registered until it
// closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID, campusID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{userID: userID, campusID: campusID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(c)
	h.log.Debug("ws connected", zap.String("userID", userID))

	go h.writeLoop(c)
	h.readLoop(c)
	return nil
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readLoop only drains control frames; clients do not send commands.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.log.Debug("ws disconnected", zap.String("userID", c.userID))
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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

func (h *Hub) SendToUser(userID, event string, payload any) error {
	return h.broadcast(event, payload, func(c *client) bool { return c.userID == userID })
}

func (h *Hub) BroadcastCampus(campusID, event string, payload any) error {
	return h.broadcast(event, payload, func(c *client) bool { return c.campusID == campusID })
}

// broadcast never blocks on a slow client: a full buffer drops the message
// for that connection.
func (h *Hub) broadcast(event string, payload any, match func(*client) bool) error {
	msg, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn("ws send buffer full, dropping message", zap.String("userID", c.userID), zap.String("event", event))
		}
	}
	return nil
}

// Connections reports how many sockets a user holds.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.userID == userID {
			n++
		}
	}
	return n
}
