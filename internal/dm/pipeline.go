// Package dm implements DMPipeline: lazily created per-pair E2EE
// conversations, opaque ciphertext envelopes, and forward-only
// delivery/read receipts. The server never decrypts a message body — it
// only ever sees base64 ciphertext bytes and routes them.
package dm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/chatsurfaces"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/internal/idempotency"
	"github.com/shopmindai/chatcore/internal/notify"
	"github.com/shopmindai/chatcore/internal/ratelimit"
	"github.com/shopmindai/chatcore/pkg/chatevents"
)

// BlockChecker reports whether either user has blocked the other.
type BlockChecker interface {
	IsBlocked(ctx context.Context, a, b domain.UserID) (bool, error)
}

// DeviceLookup resolves a user's current active device, used both to
// reject senders with no active device and to snapshot participant
// device ids when a conversation is created.
type DeviceLookup interface {
	ActiveDeviceID(ctx context.Context, userID domain.UserID) (domain.DeviceID, bool, error)
}

// Pipeline implements C10.
type Pipeline struct {
	db      *gorm.DB
	blocks  BlockChecker
	devices DeviceLookup
	limiter *ratelimit.Limiter
	bus     *eventbus.Bus
	dispatcher *notify.Dispatcher
	enabled bool

	maxCiphertextBytes int
	burstLimit, sustainedLimit   int
	burstWindow, sustainedWindow time.Duration
}

// Config bundles the pipeline's tunables.
type Config struct {
	Enabled            bool
	MaxCiphertextBytes int
	BurstLimit         int
	BurstWindow        time.Duration
	SustainedLimit     int
	SustainedWindow    time.Duration
}

// New builds a DM Pipeline.
func New(db *gorm.DB, blocks BlockChecker, devices DeviceLookup, limiter *ratelimit.Limiter, bus *eventbus.Bus, dispatcher *notify.Dispatcher, cfg Config) *Pipeline {
	return &Pipeline{
		db:                 db,
		blocks:              blocks,
		devices:              devices,
		limiter:              limiter,
		bus:                  bus,
		dispatcher:           dispatcher,
		enabled:              cfg.Enabled,
		maxCiphertextBytes:   cfg.MaxCiphertextBytes,
		burstLimit:           cfg.BurstLimit,
		burstWindow:          cfg.BurstWindow,
		sustainedLimit:       cfg.SustainedLimit,
		sustainedWindow:      cfg.SustainedWindow,
	}
}

// getOrCreateConversation derives the canonical pair key from sorted user
// ids and upserts the single conversation row for the pair, snapshotting
// both participants' current active device ids.
func (p *Pipeline) getOrCreateConversation(ctx context.Context, tx *gorm.DB, a, b domain.UserID) (*domain.DMConversation, error) {
	userA, userB := domain.OrderedPair(a, b)

	var conv domain.DMConversation
	err := tx.WithContext(ctx).Where("user_a = ? AND user_b = ?", userA, userB).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv = domain.DMConversation{ID: domain.NewDMConversationID(), UserA: userA, UserB: userB, CreatedAt: time.Now()}
	if err := tx.WithContext(ctx).Create(&conv).Error; err != nil {
		if idempotency.IsUniqueViolation(err) {
			if refetchErr := tx.WithContext(ctx).Where("user_a = ? AND user_b = ?", userA, userB).First(&conv).Error; refetchErr != nil {
				return nil, refetchErr
			}
			return &conv, nil
		}
		return nil, err
	}

	for _, u := range []domain.UserID{userA, userB} {
		participant := domain.DMParticipant{ConversationID: conv.ID, UserID: u}
		if p.devices != nil {
			if deviceID, ok, dErr := p.devices.ActiveDeviceID(ctx, u); dErr == nil && ok {
				participant.LastDeviceID = &deviceID
			}
		}
		if err := tx.WithContext(ctx).Create(&participant).Error; err != nil && !idempotency.IsUniqueViolation(err) {
			return nil, err
		}
	}
	return &conv, nil
}

// CreateConversation gets or lazily creates the single conversation row
// for the (callerID, peerID) pair, the same get-or-create logic Send uses
// when a message is the first contact between two users.
func (p *Pipeline) CreateConversation(ctx context.Context, callerID, peerID domain.UserID) (*domain.DMConversation, error) {
	if !p.enabled {
		return nil, domain.ErrFeatureDisabled
	}
	if callerID == peerID {
		return nil, domain.ErrSelfConversation
	}
	if p.blocks != nil {
		blocked, err := p.blocks.IsBlocked(ctx, callerID, peerID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, domain.ErrBlocked
		}
	}
	var conv *domain.DMConversation
	err := p.db.Transaction(func(tx *gorm.DB) error {
		c, err := p.getOrCreateConversation(ctx, tx, callerID, peerID)
		if err != nil {
			return err
		}
		conv = c
		return nil
	})
	return conv, err
}

// GetConversation fetches one conversation by id, enforcing that callerID
// is a participant.
func (p *Pipeline) GetConversation(ctx context.Context, conversationID domain.DMConversationID, callerID domain.UserID) (*domain.DMConversation, error) {
	if err := p.assertParticipant(ctx, conversationID, callerID); err != nil {
		return nil, err
	}
	var conv domain.DMConversation
	if err := p.db.WithContext(ctx).Where("id = ?", conversationID).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns every conversation callerID participates in,
// most recently active first.
func (p *Pipeline) ListConversations(ctx context.Context, callerID domain.UserID) ([]domain.DMConversation, error) {
	var participantRows []domain.DMParticipant
	if err := p.db.WithContext(ctx).Where("user_id = ?", callerID).Find(&participantRows).Error; err != nil {
		return nil, err
	}
	if len(participantRows) == 0 {
		return []domain.DMConversation{}, nil
	}
	ids := make([]domain.DMConversationID, len(participantRows))
	for i, r := range participantRows {
		ids[i] = r.ConversationID
	}
	var convs []domain.DMConversation
	if err := p.db.WithContext(ctx).Where("id IN ?", ids).Order("last_message_at DESC NULLS LAST, created_at DESC").Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

// SendResult is returned by Send.
type SendResult struct {
	Message   domain.DMMessage
	Duplicate bool
}

// Send runs the full ingest pipeline: enabled check, participant/device
// checks, ciphertext size check, block check, rate limiting, then in one
// transaction get-or-create the conversation, dedupe by clientMessageId and
// persist; publish and notify run after commit.
func (p *Pipeline) Send(ctx context.Context, senderID, recipientID domain.UserID, senderDeviceID domain.DeviceID, ciphertextB64, proto, clientMessageID string) (SendResult, error) {
	if !p.enabled {
		return SendResult{}, domain.ErrFeatureDisabled
	}
	if senderID == recipientID {
		return SendResult{}, domain.ErrSelfConversation
	}

	if p.devices != nil {
		activeID, ok, err := p.devices.ActiveDeviceID(ctx, senderID)
		if err != nil {
			return SendResult{}, err
		}
		if !ok || activeID != senderDeviceID {
			return SendResult{}, domain.ErrDeviceRevoked
		}
	}

	ciphertext, err := decodeCiphertext(ciphertextB64, p.maxCiphertextBytes)
	if err != nil {
		return SendResult{}, err
	}

	if p.blocks != nil {
		blocked, err := p.blocks.IsBlocked(ctx, senderID, recipientID)
		if err != nil {
			return SendResult{}, err
		}
		if blocked {
			return SendResult{}, domain.ErrBlocked
		}
	}

	sustainedKey := fmt.Sprintf("chatcore:rl:dm:sustained:%d", senderID)
	if res := p.limiter.Allow(ctx, string(domain.SurfaceDM), sustainedKey, p.sustainedLimit, p.sustainedWindow); !res.Allowed {
		return SendResult{}, domain.ErrRateLimited
	}
	userA, userB := domain.OrderedPair(senderID, recipientID)
	burstKey := fmt.Sprintf("chatcore:rl:dm:burst:%d:%d", userA, userB)
	if res := p.limiter.Allow(ctx, string(domain.SurfaceDM), burstKey, p.burstLimit, p.burstWindow); !res.Allowed {
		return SendResult{}, domain.ErrRateLimited
	}

	var result SendResult
	err = p.db.Transaction(func(tx *gorm.DB) error {
		conv, err := p.getOrCreateConversation(ctx, tx, senderID, recipientID)
		if err != nil {
			return err
		}

		var existing domain.DMMessage
		findErr := tx.WithContext(ctx).
			Where("conversation_id = ? AND sender_id = ? AND client_message_id = ?", conv.ID, senderID, clientMessageID).
			First(&existing).Error
		if findErr == nil {
			result = SendResult{Message: existing, Duplicate: true}
			return nil
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return findErr
		}

		msg := domain.DMMessage{
			ID:              domain.NewDMMessageID(),
			ConversationID:  conv.ID,
			SenderID:        senderID,
			SenderDeviceID:  senderDeviceID,
			Ciphertext:      ciphertext,
			Proto:           proto,
			ClientMessageID: clientMessageID,
			CreatedAt:       time.Now(),
		}
		outcome, err := idempotency.Create(ctx, tx, &msg, func() error {
			return tx.WithContext(ctx).
				Where("conversation_id = ? AND sender_id = ? AND client_message_id = ?", conv.ID, senderID, clientMessageID).
				First(&msg).Error
		})
		if err != nil {
			return err
		}
		if outcome.Duplicate {
			result = SendResult{Message: msg, Duplicate: true}
			return nil
		}

		delivery := domain.DMDelivery{MessageID: msg.ID, RecipientID: recipientID, Status: domain.DMDeliverySent, UpdatedAt: time.Now()}
		if err := tx.WithContext(ctx).Create(&delivery).Error; err != nil {
			return err
		}

		now := time.Now()
		conv.LastMessageAt = &now
		if err := tx.WithContext(ctx).Model(&domain.DMConversation{}).Where("id = ?", conv.ID).Update("last_message_at", now).Error; err != nil {
			return err
		}

		result = SendResult{Message: msg, Duplicate: false}
		return nil
	})
	if err != nil {
		return SendResult{}, err
	}

	if !result.Duplicate {
		p.publish(ctx, recipientID, result.Message)
		p.notify(ctx, senderID, recipientID)
	}
	return result, nil
}

func (p *Pipeline) publish(ctx context.Context, recipientID domain.UserID, msg domain.DMMessage) {
	payload := chatevents.MessageCreatedPayload{
		ConversationID:  msg.ConversationID.String(),
		MessageID:       msg.ID.String(),
		SenderID:        int64(msg.SenderID),
		SenderDeviceID:  msg.SenderDeviceID.String(),
		Ciphertext:      base64.StdEncoding.EncodeToString(msg.Ciphertext),
		Proto:           msg.Proto,
		ClientMessageID: msg.ClientMessageID,
	}
	env := chatevents.NewEnvelope(chatevents.KindMessageCreated, string(domain.SurfaceDM), payload)
	p.bus.Publish(ctx, string(domain.SurfaceDM), fmt.Sprintf("user:%d", recipientID), env)
}

func (p *Pipeline) notify(ctx context.Context, senderID, recipientID domain.UserID) {
	if p.dispatcher == nil {
		return
	}
	_ = p.dispatcher.Dispatch(ctx, notify.Request{
		Surface:    domain.SurfaceDM,
		Recipients: []domain.UserID{recipientID},
		Heading:    "New message",
		Body:       "You have a new encrypted message",
		Data:       map[string]interface{}{"type": "dm_message"},
		MutedBy:    &senderID,
	})
}

// ListMessages keyset-paginates a conversation's messages newest first; a
// cursor continues past the previous page. Ciphertext is returned
// base64-encoded.
func (p *Pipeline) ListMessages(ctx context.Context, conversationID domain.DMConversationID, callerID domain.UserID, cursor string, limit int) (Page, error) {
	if err := p.assertParticipant(ctx, conversationID, callerID); err != nil {
		return Page{}, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := p.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at DESC, id DESC").Limit(limit)
	if createdAt, id, ok := chatsurfaces.DecodeCursorID(cursor); ok {
		q = q.Where("(created_at, id) < (?, ?)", createdAt, id)
	}
	var rows []domain.DMMessage
	if err := q.Find(&rows).Error; err != nil {
		return Page{}, err
	}

	out := make([]MessageView, len(rows))
	for i, m := range rows {
		out[i] = MessageView{
			ID:              m.ID.String(),
			ConversationID:  m.ConversationID.String(),
			SenderID:        int64(m.SenderID),
			SenderDeviceID:  m.SenderDeviceID.String(),
			Ciphertext:      base64.StdEncoding.EncodeToString(m.Ciphertext),
			Proto:           m.Proto,
			ClientMessageID: m.ClientMessageID,
			CreatedAt:       m.CreatedAt,
		}
	}
	var next string
	if len(rows) == limit {
		last := rows[len(rows)-1]
		next = chatsurfaces.EncodeCursorID(last.CreatedAt, last.ID.String())
	}
	return Page{Messages: out, NextCursor: next}, nil
}

// MessageView is the wire-facing shape of a DM message.
type MessageView struct {
	ID              string
	ConversationID  string
	SenderID        int64
	SenderDeviceID  string
	Ciphertext      string
	Proto           string
	ClientMessageID string
	CreatedAt       time.Time
}

// Page is a keyset-paginated DM message list.
type Page struct {
	Messages   []MessageView
	NextCursor string
}

func (p *Pipeline) assertParticipant(ctx context.Context, conversationID domain.DMConversationID, userID domain.UserID) error {
	var count int64
	if err := p.db.WithContext(ctx).Model(&domain.DMParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotParticipant
	}
	return nil
}

// MarkDelivered transitions a message's delivery row sent→delivered for
// the recipient. Forward-only: already-delivered/read rows are untouched.
func (p *Pipeline) MarkDelivered(ctx context.Context, messageID domain.DMMessageID, recipientID domain.UserID) error {
	return p.transition(ctx, messageID, recipientID, domain.DMDeliverySent, domain.DMDeliveryDelivered)
}

// MarkRead transitions a message's delivery row to read for the
// recipient, from either sent or delivered.
func (p *Pipeline) MarkRead(ctx context.Context, messageID domain.DMMessageID, recipientID domain.UserID) error {
	res := p.db.WithContext(ctx).Model(&domain.DMDelivery{}).
		Where("message_id = ? AND recipient_id = ? AND status != ?", messageID, recipientID, domain.DMDeliveryRead).
		Updates(map[string]interface{}{"status": domain.DMDeliveryRead, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return p.assertDeliveryExists(ctx, messageID, recipientID)
	}
	return nil
}

func (p *Pipeline) transition(ctx context.Context, messageID domain.DMMessageID, recipientID domain.UserID, from, to domain.DMDeliveryStatus) error {
	res := p.db.WithContext(ctx).Model(&domain.DMDelivery{}).
		Where("message_id = ? AND recipient_id = ? AND status = ?", messageID, recipientID, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return p.assertDeliveryExists(ctx, messageID, recipientID)
	}
	return nil
}

func (p *Pipeline) assertDeliveryExists(ctx context.Context, messageID domain.DMMessageID, recipientID domain.UserID) error {
	var delivery domain.DMDelivery
	err := p.db.WithContext(ctx).Where("message_id = ? AND recipient_id = ?", messageID, recipientID).First(&delivery).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotParticipant
	}
	return err
}
