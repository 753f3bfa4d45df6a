package wsrelay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/shopmindai/chatcore/internal/eventbus"
)

// TypingNotifier reports a client's typing ping upstream so the rest of
// the fleet (other surfaces' notification paths) sees it the same way a
// REST-originated typing call would.
type TypingNotifier interface {
	Typing(conversationID, surface string, userID int64)
}

// ServeRoom upgrades the request to a websocket, joins room on hub, and
// bridges bus's pub/sub for (surface, room) onto the connection until
// either side closes. surface/room together form the eventbus channel
// key, matching the same addressing the SSE/REST paths publish onto.
func ServeRoom(w http.ResponseWriter, r *http.Request, hub *Hub, bus *eventbus.Bus, surface, room string, userID int64, typing TypingNotifier, logger *logrus.Logger) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("wsrelay: upgrade failed")
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 64),
		hub:     hub,
		room:    room,
		limiter: rate.NewLimiter(rate.Limit(inboundFrameRate), inboundFrameBurst),
	}
	hub.register(room, client)

	sub := bus.Subscribe(r.Context(), surface, room)
	done := make(chan struct{})
	go client.bridgeSubscription(sub, done)
	go client.writePump()
	client.readPump(surface, room, userID, typing, logger)

	sub.Close()
	close(done)
	hub.unregister(room, client)
}

// bridgeSubscription forwards every event off sub onto the hub's
// broadcast channel, scoped to this client's room, until done closes.
func (c *Client) bridgeSubscription(sub *eventbus.Subscription, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			c.hub.Broadcast(RoomMessage{Room: c.room, Data: data})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only looks for a typing ping frame and pong keepalives; chat
// sends themselves still go through the REST ingest pipeline so every
// surface check (rate limit, sanitize, idempotency) runs uniformly.
func (c *Client) readPump(surface, room string, userID int64, typing TypingNotifier, logger *logrus.Logger) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WithError(err).Debug("wsrelay: connection closed")
			}
			return
		}
		if !c.limiter.Allow() {
			continue
		}
		var frame struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &frame) == nil && frame.Type == "typing" && typing != nil {
			typing.Typing(room, surface, userID)
		}
	}
}
