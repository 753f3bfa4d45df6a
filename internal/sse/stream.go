package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/internal/presence"
	"github.com/shopmindai/chatcore/pkg/chatevents"
)

// TokenVerifier decodes a bearer token once per connection into the
// caller's identity and the instant the token expires.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID domain.UserID, expiresAt time.Time, err error)
}

// GroupLookup lists the groups a user currently belongs to, so a
// connection can lazily subscribe to each group:{id} channel.
type GroupLookup interface {
	MemberGroupIDs(ctx context.Context, userID domain.UserID) ([]string, error)
}

// Config bundles the stream's timing knobs.
type Config struct {
	HeartbeatInterval      time.Duration
	MaxMissedHeartbeats    int
	PresenceUpdateInterval time.Duration
	RedisRetryInterval     time.Duration
	AllowQueryParamToken   bool
	MaxConnectionsPerUser  int
}

// Server wires the dependencies a connection needs for its lifecycle.
type Server struct {
	bus      *eventbus.Bus
	presence *presence.Tracker
	hub      *Hub
	tokens   TokenVerifier
	groups   GroupLookup
	logger   *logrus.Logger
	cfg      Config
}

// New builds a Server.
func New(bus *eventbus.Bus, presenceTracker *presence.Tracker, tokens TokenVerifier, groups GroupLookup, logger *logrus.Logger, cfg Config) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.MaxMissedHeartbeats <= 0 {
		cfg.MaxMissedHeartbeats = 3
	}
	if cfg.PresenceUpdateInterval <= 0 {
		cfg.PresenceUpdateInterval = 30 * time.Second
	}
	if cfg.RedisRetryInterval <= 0 {
		cfg.RedisRetryInterval = time.Minute
	}
	return &Server{
		bus:      bus,
		presence: presenceTracker,
		hub:      New(cfg.MaxConnectionsPerUser),
		tokens:   tokens,
		groups:   groups,
		logger:   logger,
		cfg:      cfg,
	}
}

// frame is one outbound SSE payload. For dm/group_message/epoch_changed it
// is flattened to the documented shape — type plus the event's own fields
// at the top level — so a client can discriminate by type alone without
// unwrapping a nested payload. Every other kind falls back to the
// envelope-shaped frame (kind/surface/payload nested), built by asFrame.
type frame struct {
	Type             string    `json:"type"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
	MessageID        string    `json:"messageId,omitempty"`
	ConversationID   string    `json:"conversationId,omitempty"`
	GroupID          string    `json:"groupId,omitempty"`
	SenderUserID     int64     `json:"senderUserId,omitempty"`
	SenderDeviceID   string    `json:"senderDeviceId,omitempty"`
	Ciphertext       string    `json:"ciphertext,omitempty"`
	Proto            string    `json:"proto,omitempty"`
	GroupEpoch       int64     `json:"groupEpoch,omitempty"`
	ReplyToMessageID string    `json:"replyToMessageId,omitempty"`
	NewEpoch         int64     `json:"newEpoch,omitempty"`

	// envelope-shaped fallback fields, used for every kind besides the
	// three flattened above.
	Kind    chatevents.Kind `json:"kind,omitempty"`
	Surface string          `json:"surface,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// asFrame builds the outbound frame for ev, flattening the dm/group_message/
// epoch_changed shapes the documented contract calls for and falling back
// to the nested envelope shape for every other surface/kind.
func asFrame(ev chatevents.Envelope) frame {
	switch {
	case ev.Kind == chatevents.KindMessageCreated && ev.Surface == string(domain.SurfaceDM):
		var p chatevents.MessageCreatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			return frame{
				Type:           "dm",
				MessageID:      p.MessageID,
				ConversationID: p.ConversationID,
				SenderUserID:   p.SenderID,
				SenderDeviceID: p.SenderDeviceID,
				Ciphertext:     p.Ciphertext,
				Proto:          p.Proto,
				CreatedAt:      ev.CreatedAt,
			}
		}

	case ev.Kind == chatevents.KindMessageCreated && ev.Surface == string(domain.SurfaceGroup):
		var p chatevents.MessageCreatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			return frame{
				Type:             "group_message",
				GroupID:          p.ConversationID,
				MessageID:        p.MessageID,
				SenderUserID:     p.SenderID,
				SenderDeviceID:   p.SenderDeviceID,
				Ciphertext:       p.Ciphertext,
				Proto:            p.Proto,
				GroupEpoch:       p.GroupEpoch,
				ReplyToMessageID: p.ReplyToMessageID,
				CreatedAt:        ev.CreatedAt,
			}
		}

	case ev.Kind == chatevents.KindEpochChanged:
		var p chatevents.EpochChangedPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			return frame{Type: "epoch_changed", GroupID: p.GroupID, NewEpoch: p.Epoch, CreatedAt: ev.CreatedAt}
		}
	}

	t := ev.Surface
	if t == "" {
		t = "dm"
	}
	return frame{Type: t, Kind: ev.Kind, Surface: ev.Surface, CreatedAt: ev.CreatedAt, Payload: ev.Payload}
}

// ServeHTTP implements the stream lifecycle documented for the component:
// auth, subscribe, presence update, then a select loop until the client
// disconnects, the token expires, or heartbeats stop landing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r, s.cfg.AllowQueryParamToken)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	userID, tokenExpiry, err := s.tokens.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	connID := uuid.New().String()
	if !s.hub.Acquire(userID, connID) {
		http.Error(w, "too many concurrent connections", http.StatusTooManyRequests)
		return
	}
	defer s.hub.Release(userID, connID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "retry: 5000\n\n")
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &connection{
		server: s,
		ctx:    ctx,
		merged: make(chan chatevents.Envelope, 128),
		subs:   make(map[string]*eventbus.Subscription),
	}
	conn.subscribe(eventbus.ChannelForConversation(string(domain.SurfaceDM), fmt.Sprintf("user:%d", userID)), string(domain.SurfaceDM), fmt.Sprintf("user:%d", userID))
	if groupIDs, err := s.groupsOrEmpty(ctx, userID); err == nil {
		for _, g := range groupIDs {
			conn.subscribe(eventbus.ChannelForConversation(string(domain.SurfaceGroup), g), string(domain.SurfaceGroup), g)
		}
	}
	defer conn.closeAll()

	if s.presence != nil {
		_ = s.presence.OnConnect(ctx, userID)
		defer func() { _ = s.presence.OnDisconnect(ctx, userID) }()
	}

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	presenceTicker := time.NewTicker(s.cfg.PresenceUpdateInterval)
	defer presenceTicker.Stop()
	retryTicker := time.NewTicker(s.cfg.RedisRetryInterval)
	defer retryTicker.Stop()

	missedHeartbeats := 0

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			if time.Now().After(tokenExpiry) {
				writeFrame(w, flusher, frame{Type: "auth_expired"})
				return
			}
			if !writeFrame(w, flusher, frame{Type: "heartbeat", CreatedAt: time.Now()}) {
				missedHeartbeats++
				if missedHeartbeats >= s.cfg.MaxMissedHeartbeats {
					return
				}
				continue
			}
			missedHeartbeats = 0

		case <-presenceTicker.C:
			if s.presence != nil {
				_ = s.presence.OnHeartbeat(ctx, userID)
			}

		case <-retryTicker.C:
			if groupIDs, err := s.groupsOrEmpty(ctx, userID); err == nil {
				for _, g := range groupIDs {
					conn.subscribe(eventbus.ChannelForConversation(string(domain.SurfaceGroup), g), string(domain.SurfaceGroup), g)
				}
			}

		case ev, ok := <-conn.merged:
			if !ok {
				return
			}
			if !writeFrame(w, flusher, asFrame(ev)) {
				return
			}
		}
	}
}

func (s *Server) groupsOrEmpty(ctx context.Context, userID domain.UserID) ([]string, error) {
	if s.groups == nil {
		return nil, nil
	}
	return s.groups.MemberGroupIDs(ctx, userID)
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, f frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return true
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func extractToken(r *http.Request, allowQueryParam bool) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if allowQueryParam {
		return r.URL.Query().Get("token")
	}
	return ""
}

// connection tracks the live subscriptions for one SSE stream and fans
// their events into a single merged channel the select loop reads.
type connection struct {
	server *Server
	ctx    context.Context
	merged chan chatevents.Envelope

	mu   sync.Mutex
	subs map[string]*eventbus.Subscription
}

func (c *connection) subscribe(channelKey, surface, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, already := c.subs[channelKey]; already {
		return
	}
	sub := c.server.bus.Subscribe(c.ctx, surface, conversationID)
	c.subs[channelKey] = sub
	go func() {
		for ev := range sub.Events {
			select {
			case c.merged <- ev:
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

func (c *connection) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		sub.Close()
	}
}
