// Package wsrelay gives the global and trivia-live surfaces an optional
// websocket transport alongside SSE, for clients that want a persistent
// duplex connection (e.g. to send typing indicators) rather than a
// one-way EventSource. It adapts the teacher's Hub/Client/broadcast
// pattern: a Hub tracks connected clients per room, each Client runs its
// own read/write pump, and the hub's broadcast channel fans a published
// event out to every client in the room it targets.
package wsrelay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024

	// inboundFrameRate caps how often a client can send a frame (typing
	// pings, pongs aside) before readPump starts dropping them.
	inboundFrameRate  = 5
	inboundFrameBurst = 10
)

// Upgrader is shared by every room; origin checking is left to the
// gateway/reverse proxy in front of this service, matching the teacher's
// permissive CheckOrigin.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RoomMessage is one outbound frame, scoped to a room (e.g. "global" or a
// trivia draw-date bucket).
type RoomMessage struct {
	Room string
	Data []byte
}

// Hub tracks connected clients per room and fans broadcast messages out
// to the clients subscribed to the target room.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*Client]bool
	broadcast chan RoomMessage
	logger    *logrus.Logger
}

// New builds a Hub. Call Run in its own goroutine once.
func New(logger *logrus.Logger) *Hub {
	return &Hub{
		rooms:     make(map[string]map[*Client]bool),
		broadcast: make(chan RoomMessage, 256),
		logger:    logger,
	}
}

// Broadcast queues msg for delivery to every client in msg.Room.
func (h *Hub) Broadcast(msg RoomMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("wsrelay: broadcast queue full, dropping message")
	}
}

// Run drains the broadcast channel until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.rooms[msg.Room] {
				select {
				case client.send <- msg.Data:
				default:
					close(client.send)
					delete(h.rooms[msg.Room], client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) register(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
}

func (h *Hub) unregister(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[room]; ok {
		if _, present := clients[c]; present {
			delete(clients, c)
			close(c.send)
		}
	}
}

// RoomConnectionCount reports how many clients are currently in room, for
// the online-presence counters some surfaces expose.
func (h *Hub) RoomConnectionCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Client is one websocket connection, pumping writes from its send
// channel and discarding/ack'ing inbound pings.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	room    string
	limiter *rate.Limiter
}
