// Package private implements the private (request/accept) chat surface:
// pending → accepted/rejected conversation state, block checks, forward
// -only delivery transitions, and typing dedup.
package private

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/chatsurfaces"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/internal/idempotency"
	"github.com/shopmindai/chatcore/internal/mute"
	"github.com/shopmindai/chatcore/internal/notify"
	"github.com/shopmindai/chatcore/internal/ratelimit"
	"github.com/shopmindai/chatcore/internal/sanitize"
	"github.com/shopmindai/chatcore/pkg/chatevents"
)

// BlockChecker reports whether either user has blocked the other.
type BlockChecker interface {
	IsBlocked(ctx context.Context, a, b domain.UserID) (bool, error)
}

// AdminLookup reports whether a user is the designated admin account,
// whose conversations auto-skip the pending state.
type AdminLookup interface {
	IsAdmin(ctx context.Context, userID domain.UserID) (bool, error)
}

// Surface implements the private chat pipeline.
type Surface struct {
	db         *gorm.DB
	blocks     BlockChecker
	admins     AdminLookup
	mutes      *mute.Store
	limiter    *ratelimit.Limiter
	bus        *eventbus.Bus
	dispatcher *notify.Dispatcher

	burstLimit, sustainedLimit   int
	burstWindow, sustainedWindow time.Duration
	typingDedupWindow            time.Duration
	maxMessageLength             int
}

// Config bundles the rate-limit tiers and typing dedup window.
type Config struct {
	BurstLimit        int
	BurstWindow       time.Duration
	SustainedLimit    int
	SustainedWindow   time.Duration
	MaxMessageLength  int
	TypingDedupWindow time.Duration
}

// New builds a private chat Surface.
func New(db *gorm.DB, blocks BlockChecker, admins AdminLookup, mutes *mute.Store, limiter *ratelimit.Limiter, bus *eventbus.Bus, dispatcher *notify.Dispatcher, cfg Config) *Surface {
	return &Surface{
		db:                db,
		blocks:            blocks,
		admins:            admins,
		mutes:             mutes,
		limiter:           limiter,
		bus:               bus,
		dispatcher:        dispatcher,
		burstLimit:        cfg.BurstLimit,
		burstWindow:       cfg.BurstWindow,
		sustainedLimit:    cfg.SustainedLimit,
		sustainedWindow:   cfg.SustainedWindow,
		maxMessageLength:  cfg.MaxMessageLength,
		typingDedupWindow: cfg.TypingDedupWindow,
	}
}

// getOrCreateConversation fetches the canonical-pair row, creating it in
// pending status (or accepted, for an admin pair) if absent.
func (s *Surface) getOrCreateConversation(ctx context.Context, tx *gorm.DB, requester, recipient domain.UserID) (*domain.PrivateConversation, error) {
	userA, userB := domain.OrderedPair(requester, recipient)

	var conv domain.PrivateConversation
	err := tx.WithContext(ctx).Where("user_a = ? AND user_b = ?", userA, userB).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	status := domain.PrivateStatusPending
	if s.admins != nil {
		reqIsAdmin, aErr := s.admins.IsAdmin(ctx, requester)
		recIsAdmin, rErr := s.admins.IsAdmin(ctx, recipient)
		if aErr == nil && rErr == nil && (reqIsAdmin || recIsAdmin) {
			status = domain.PrivateStatusAccepted
		}
	}

	conv = domain.PrivateConversation{
		UserA:       userA,
		UserB:       userB,
		RequestedBy: requester,
		Status:      status,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := tx.WithContext(ctx).Create(&conv).Error; err != nil {
		if idempotency.IsUniqueViolation(err) {
			if refetchErr := tx.WithContext(ctx).Where("user_a = ? AND user_b = ?", userA, userB).First(&conv).Error; refetchErr != nil {
				return nil, refetchErr
			}
			return &conv, nil
		}
		return nil, err
	}
	return &conv, nil
}

// SendResult is returned by Send.
type SendResult struct {
	Message        domain.PrivateMessage
	Conversation   domain.PrivateConversation
	Duplicate      bool
}

// Send runs the full ingest pipeline: self-check → block check →
// sanitize → rate limit → get-or-create conversation → state-machine
// gate → idempotency → persist → publish → notify.
func (s *Surface) Send(ctx context.Context, senderID, recipientID domain.UserID, rawText string, clientMessageID *string) (SendResult, error) {
	if senderID == recipientID {
		return SendResult{}, domain.ErrSelfConversation
	}

	if s.blocks != nil {
		blocked, err := s.blocks.IsBlocked(ctx, senderID, recipientID)
		if err != nil {
			return SendResult{}, err
		}
		if blocked {
			return SendResult{}, domain.ErrBlocked
		}
	}

	text := sanitize.Message(rawText)
	if text == "" {
		return SendResult{}, domain.ErrEmptyMessage
	}
	if s.maxMessageLength > 0 && len(text) > s.maxMessageLength {
		return SendResult{}, domain.ErrMessageTooLong
	}

	burstKey := fmt.Sprintf("chatcore:rl:private:burst:%d", senderID)
	if res := s.limiter.Allow(ctx, string(domain.SurfacePrivate), burstKey, s.burstLimit, s.burstWindow); !res.Allowed {
		return SendResult{}, domain.ErrRateLimited
	}
	sustainedKey := fmt.Sprintf("chatcore:rl:private:sustained:%d", senderID)
	if res := s.limiter.Allow(ctx, string(domain.SurfacePrivate), sustainedKey, s.sustainedLimit, s.sustainedWindow); !res.Allowed {
		return SendResult{}, domain.ErrRateLimited
	}

	var result SendResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		conv, err := s.getOrCreateConversation(ctx, tx, senderID, recipientID)
		if err != nil {
			return err
		}

		senderIsRequester := conv.RequestedBy == senderID
		if !canSend(conv.Status, senderIsRequester) {
			if conv.Status == domain.PrivateStatusRejected {
				return domain.ErrConversationRejected
			}
			return domain.ErrConversationPending
		}

		msg := domain.PrivateMessage{
			ConversationID:  conv.ID,
			SenderID:        senderID,
			Text:            text,
			Status:          domain.PrivateMessageSent,
			CreatedAt:       time.Now(),
			ClientMessageID: clientMessageID,
		}

		var duplicate bool
		if clientMessageID != nil {
			var existing domain.PrivateMessage
			findErr := tx.WithContext(ctx).
				Where("conversation_id = ? AND sender_id = ? AND client_message_id = ?", conv.ID, senderID, *clientMessageID).
				First(&existing).Error
			if findErr == nil {
				result = SendResult{Message: existing, Conversation: *conv, Duplicate: true}
				return nil
			}
			if !errors.Is(findErr, gorm.ErrRecordNotFound) {
				return findErr
			}
		}

		// The requester's first message is the request itself; nothing
		// more may be sent until the recipient accepts.
		if conv.Status == domain.PrivateStatusPending && conv.LastMessageAt != nil {
			return domain.ErrConversationPending
		}

		outcome, err := idempotency.Create(ctx, tx, &msg, func() error {
			if clientMessageID == nil {
				return errors.New("private: duplicate insert with no clientMessageId to refetch by")
			}
			return tx.WithContext(ctx).
				Where("conversation_id = ? AND sender_id = ? AND client_message_id = ?", conv.ID, senderID, *clientMessageID).
				First(&msg).Error
		})
		if err != nil {
			return err
		}
		duplicate = outcome.Duplicate

		if !duplicate {
			conv.LastMessageAt = &msg.CreatedAt
			conv.UpdatedAt = time.Now()
			if err := tx.WithContext(ctx).Save(conv).Error; err != nil {
				return err
			}
		}

		result = SendResult{Message: msg, Conversation: *conv, Duplicate: duplicate}
		return nil
	})
	if err != nil {
		return SendResult{}, err
	}

	if !result.Duplicate {
		s.publishMessage(ctx, result.Conversation, result.Message)
		s.notifyRecipient(ctx, senderID, recipientID, result.Conversation, text)
	}

	return result, nil
}

func (s *Surface) publishMessage(ctx context.Context, conv domain.PrivateConversation, msg domain.PrivateMessage) {
	payload := chatevents.MessageCreatedPayload{
		ConversationID:  fmt.Sprintf("%d", conv.ID),
		MessageID:       fmt.Sprintf("%d", msg.ID),
		SenderID:        int64(msg.SenderID),
		Text:            msg.Text,
		ClientMessageID: derefString(msg.ClientMessageID),
	}
	env := chatevents.NewEnvelope(chatevents.KindMessageCreated, string(domain.SurfacePrivate), payload)
	s.bus.Publish(ctx, string(domain.SurfacePrivate), fmt.Sprintf("%d", conv.ID), env)
}

func (s *Surface) notifyRecipient(ctx context.Context, senderID, recipientID domain.UserID, conv domain.PrivateConversation, text string) {
	if s.dispatcher == nil {
		return
	}
	// A conversation still pending acceptance only notifies the recipient
	// once — the request itself — since Send rejects any further message
	// until accepted.
	_ = s.dispatcher.Dispatch(ctx, notify.Request{
		Surface:    domain.SurfacePrivate,
		Recipients: []domain.UserID{recipientID},
		Heading:    "New message",
		Body:       text,
		Data:       map[string]interface{}{"type": "private_message", "conversationId": fmt.Sprintf("%d", conv.ID)},
		MutedBy:    &senderID,
	})
}

// Accept transitions a pending conversation to accepted. Only the
// non-requester participant may accept.
func (s *Surface) Accept(ctx context.Context, conversationID domain.ConversationID, userID domain.UserID) error {
	return s.respond(ctx, conversationID, userID, domain.PrivateStatusAccepted)
}

// Reject transitions a pending conversation to rejected (terminal). Only
// the non-requester participant may reject.
func (s *Surface) Reject(ctx context.Context, conversationID domain.ConversationID, userID domain.UserID) error {
	return s.respond(ctx, conversationID, userID, domain.PrivateStatusRejected)
}

func (s *Surface) respond(ctx context.Context, conversationID domain.ConversationID, userID domain.UserID, to domain.PrivateConversationStatus) error {
	var updated domain.PrivateConversation
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv domain.PrivateConversation
		if err := tx.WithContext(ctx).Clauses(lockingClause()).Where("id = ?", conversationID).First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrConversationNotFound
			}
			return err
		}
		if conv.UserA != userID && conv.UserB != userID {
			return domain.ErrNotParticipant
		}
		if conv.RequestedBy == userID {
			return domain.ErrNotParticipant // the requester cannot accept/reject their own request
		}
		if !canTransition(conv.Status, to) {
			return domain.ErrConversationRejected
		}

		now := time.Now()
		conv.Status = to
		conv.RespondedAt = &now
		conv.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&conv).Error; err != nil {
			return err
		}

		updated = conv
		return nil
	})
	if err != nil {
		return err
	}
	s.publishStatusChange(ctx, updated)
	return nil
}

func (s *Surface) publishStatusChange(ctx context.Context, conv domain.PrivateConversation) {
	payload := chatevents.ConversationStatusPayload{
		ConversationID: fmt.Sprintf("%d", conv.ID),
		Status:         string(conv.Status),
	}
	env := chatevents.NewEnvelope(chatevents.KindConversationStatus, string(domain.SurfacePrivate), payload)
	s.bus.Publish(ctx, string(domain.SurfacePrivate), fmt.Sprintf("%d", conv.ID), env)
}

// MarkRead advances userID's read cursor and publishes messages-read.
func (s *Surface) MarkRead(ctx context.Context, conversationID domain.ConversationID, userID domain.UserID, messageID domain.MessageID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv domain.PrivateConversation
		if err := tx.WithContext(ctx).Clauses(lockingClause()).Where("id = ?", conversationID).First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrConversationNotFound
			}
			return err
		}
		switch userID {
		case conv.UserA:
			conv.LastReadMessageIDForA = &messageID
		case conv.UserB:
			conv.LastReadMessageIDForB = &messageID
		default:
			return domain.ErrNotParticipant
		}
		conv.UpdatedAt = time.Now()
		return tx.WithContext(ctx).Save(&conv).Error
	})
	if err != nil {
		return err
	}

	payload := chatevents.DeliveryPayload{
		ConversationID: fmt.Sprintf("%d", conversationID),
		MessageID:      fmt.Sprintf("%d", messageID),
		UserID:         int64(userID),
	}
	env := chatevents.NewEnvelope(chatevents.KindMessageRead, string(domain.SurfacePrivate), payload)
	s.bus.Publish(ctx, string(domain.SurfacePrivate), fmt.Sprintf("%d", conversationID), env)
	return nil
}

// MarkDelivered applies the forward-only sent -> delivered transition.
// Already-delivered (or read) messages are left untouched, making the
// call idempotent.
func (s *Surface) MarkDelivered(ctx context.Context, messageID domain.MessageID) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&domain.PrivateMessage{}).
		Where("id = ? AND status = ?", messageID, domain.PrivateMessageSent).
		Updates(map[string]interface{}{"status": domain.PrivateMessageDelivered, "delivered_at": now}).Error
}

// Typing emits a typing event, applying the Redis dedup gate so repeated
// events within the window are suppressed.
func (s *Surface) Typing(ctx context.Context, conversationID domain.ConversationID, userID domain.UserID) {
	key := fmt.Sprintf("%d", conversationID)
	if !s.bus.ShouldEmitTyping(ctx, key, int64(userID), s.typingDedupWindow) {
		return
	}
	payload := chatevents.TypingPayload{ConversationID: key, UserID: int64(userID)}
	env := chatevents.NewEnvelope(chatevents.KindTyping, string(domain.SurfacePrivate), payload)
	s.bus.Publish(ctx, string(domain.SurfacePrivate), key, env)
}

// TypingStop clears the dedup key so the next keystroke re-emits typing
// immediately instead of waiting out the window.
func (s *Surface) TypingStop(ctx context.Context, conversationID domain.ConversationID, userID domain.UserID) {
	s.bus.ClearTyping(ctx, fmt.Sprintf("%d", conversationID), int64(userID))
}

// ListMessages returns newest-first messages with keyset pagination.
// Enforces that a non-requester participant cannot read a pending
// conversation.
func (s *Surface) ListMessages(ctx context.Context, conversationID domain.ConversationID, userID domain.UserID, cursor string, limit int) (chatsurfaces.Page, error) {
	var conv domain.PrivateConversation
	if err := s.db.WithContext(ctx).Where("id = ?", conversationID).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chatsurfaces.Page{}, domain.ErrConversationNotFound
		}
		return chatsurfaces.Page{}, err
	}
	if conv.UserA != userID && conv.UserB != userID {
		return chatsurfaces.Page{}, domain.ErrNotParticipant
	}
	if conv.RequestedBy != userID && !canRecipientRead(conv.Status) {
		return chatsurfaces.Page{}, domain.ErrConversationPending
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at DESC, id DESC").Limit(limit + 1)
	if createdAt, id, ok := chatsurfaces.DecodeCursor(cursor); ok {
		q = q.Where("(created_at, id) < (?, ?)", createdAt, id)
	}

	var rows []domain.PrivateMessage
	if err := q.Find(&rows).Error; err != nil {
		return chatsurfaces.Page{}, err
	}

	var next string
	if len(rows) > limit {
		last := rows[limit-1]
		next = chatsurfaces.EncodeCursor(last.CreatedAt, int64(last.ID))
		rows = rows[:limit]
	}

	out := make([]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return chatsurfaces.Page{Items: out, NextCursor: next}, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
