package group

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/chatsurfaces"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/idempotency"
	"github.com/shopmindai/chatcore/internal/notify"
	"github.com/shopmindai/chatcore/pkg/chatevents"
)

// SendRequest is the payload for Send.
type SendRequest struct {
	GroupID         domain.GroupID
	SenderID        domain.UserID
	SenderDeviceID  domain.DeviceID
	ClaimedEpoch    int64
	CiphertextB64   string
	Proto           string
	ClientMessageID string
	ReplyToID       *domain.GroupMessageID
}

// SendResult is returned by Send.
type SendResult struct {
	Message   domain.GroupMessage
	Duplicate bool
}

// Send runs the pipeline: enabled → role check → closed-group check →
// epoch match → active device → ciphertext size → rate limit → optional
// replyTo validation → idempotency → insert + fan-out deliveries → publish.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if !p.enabled {
		return SendResult{}, domain.ErrFeatureDisabled
	}

	if _, err := p.roleOf(ctx, req.GroupID, req.SenderID); err != nil {
		return SendResult{}, err
	}

	var grp domain.Group
	if err := p.db.WithContext(ctx).Where("id = ?", req.GroupID).First(&grp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SendResult{}, domain.ErrGroupNotFound
		}
		return SendResult{}, err
	}
	if grp.Status == domain.GroupClosed {
		return SendResult{}, domain.ErrGroupClosed
	}
	if req.ClaimedEpoch != grp.Epoch {
		return SendResult{}, &domain.EpochStaleError{CurrentEpoch: grp.Epoch}
	}

	if p.devices != nil {
		activeID, ok, err := p.devices.ActiveDeviceID(ctx, req.SenderID)
		if err != nil {
			return SendResult{}, err
		}
		if !ok || activeID != req.SenderDeviceID {
			return SendResult{}, domain.ErrDeviceRevoked
		}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(req.CiphertextB64)
	if err != nil {
		return SendResult{}, domain.ErrInvalidBase64
	}
	if len(ciphertext) > p.maxCiphertextBytes {
		return SendResult{}, domain.ErrCiphertextTooLarge
	}

	sustainedKey := fmt.Sprintf("chatcore:rl:group:sustained:%d", req.SenderID)
	if res := p.limiter.Allow(ctx, string(domain.SurfaceGroup), sustainedKey, p.sustainedLimit, p.sustainedWindow); !res.Allowed {
		return SendResult{}, domain.ErrRateLimited
	}
	burstKey := fmt.Sprintf("chatcore:rl:group:burst:%s:%d", req.GroupID, req.SenderID)
	if res := p.limiter.Allow(ctx, string(domain.SurfaceGroup), burstKey, p.burstLimit, p.burstWindow); !res.Allowed {
		return SendResult{}, domain.ErrRateLimited
	}

	if req.ReplyToID != nil {
		var count int64
		if err := p.db.WithContext(ctx).Model(&domain.GroupMessage{}).
			Where("id = ? AND group_id = ?", *req.ReplyToID, req.GroupID).Count(&count).Error; err != nil {
			return SendResult{}, err
		}
		if count == 0 {
			return SendResult{}, domain.ErrReplyNotFound
		}
	}

	var result SendResult
	var recipients []domain.UserID
	err = p.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.GroupMessage
		findErr := tx.WithContext(ctx).
			Where("group_id = ? AND sender_id = ? AND client_message_id = ?", req.GroupID, req.SenderID, req.ClientMessageID).
			First(&existing).Error
		if findErr == nil {
			result = SendResult{Message: existing, Duplicate: true}
			return nil
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return findErr
		}

		msg := domain.GroupMessage{
			ID:              domain.NewGroupMessageID(),
			GroupID:         req.GroupID,
			SenderID:        req.SenderID,
			SenderDeviceID:  req.SenderDeviceID,
			Ciphertext:      ciphertext,
			Proto:           req.Proto,
			SentAtEpoch:     req.ClaimedEpoch,
			ReplyToID:       req.ReplyToID,
			ClientMessageID: req.ClientMessageID,
			CreatedAt:       time.Now(),
		}
		outcome, err := idempotency.Create(ctx, tx, &msg, func() error {
			return tx.WithContext(ctx).
				Where("group_id = ? AND sender_id = ? AND client_message_id = ?", req.GroupID, req.SenderID, req.ClientMessageID).
				First(&msg).Error
		})
		if err != nil {
			return err
		}
		if outcome.Duplicate {
			result = SendResult{Message: msg, Duplicate: true}
			return nil
		}

		var participants []domain.GroupParticipant
		if err := tx.WithContext(ctx).
			Where("group_id = ? AND banned_at IS NULL AND user_id != ?", req.GroupID, req.SenderID).
			Find(&participants).Error; err != nil {
			return err
		}
		deliveries := make([]domain.GroupDelivery, len(participants))
		for i, part := range participants {
			deliveries[i] = domain.GroupDelivery{MessageID: msg.ID, UserID: part.UserID}
			recipients = append(recipients, part.UserID)
		}
		if len(deliveries) > 0 {
			if err := tx.WithContext(ctx).Create(&deliveries).Error; err != nil {
				return err
			}
		}

		result = SendResult{Message: msg, Duplicate: false}
		return nil
	})
	if err != nil {
		return SendResult{}, err
	}

	if !result.Duplicate {
		p.publish(ctx, result.Message)
		p.notify(ctx, req.SenderID, recipients, req.GroupID)
	}
	return result, nil
}

func (p *Pipeline) publish(ctx context.Context, msg domain.GroupMessage) {
	payload := chatevents.MessageCreatedPayload{
		ConversationID:  msg.GroupID.String(),
		MessageID:       msg.ID.String(),
		SenderID:        int64(msg.SenderID),
		SenderDeviceID:  msg.SenderDeviceID.String(),
		Ciphertext:      base64.StdEncoding.EncodeToString(msg.Ciphertext),
		Proto:           msg.Proto,
		GroupEpoch:      msg.SentAtEpoch,
		ClientMessageID: msg.ClientMessageID,
	}
	if msg.ReplyToID != nil {
		payload.ReplyToMessageID = msg.ReplyToID.String()
	}
	env := chatevents.NewEnvelope(chatevents.KindMessageCreated, string(domain.SurfaceGroup), payload)
	p.bus.Publish(ctx, string(domain.SurfaceGroup), msg.GroupID.String(), env)
}

func (p *Pipeline) notify(ctx context.Context, senderID domain.UserID, recipients []domain.UserID, groupID domain.GroupID) {
	if p.dispatcher == nil || len(recipients) == 0 {
		return
	}
	_ = p.dispatcher.Dispatch(ctx, notify.Request{
		Surface:         domain.SurfaceGroup,
		Recipients:      recipients,
		ExcludeSenderID: &senderID,
		Heading:         "New group message",
		Body:            "You have a new encrypted group message",
		Data:            map[string]interface{}{"type": "group_message", "groupId": groupID.String()},
	})
}

// ListMessages keyset-paginates a group's messages for a participant,
// returning only messages sent at or after the participant's JoinedAtEpoch.
func (p *Pipeline) ListMessages(ctx context.Context, groupID domain.GroupID, callerID domain.UserID, cursor string, limit int) (Page, error) {
	if _, err := p.roleOf(ctx, groupID, callerID); err != nil {
		return Page{}, err
	}
	var member domain.GroupParticipant
	if err := p.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, callerID).First(&member).Error; err != nil {
		return Page{}, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := p.db.WithContext(ctx).Where("group_id = ? AND sent_at_epoch >= ?", groupID, member.JoinedAtEpoch).Order("created_at DESC, id DESC").Limit(limit)
	if createdAt, id, ok := chatsurfaces.DecodeCursorID(cursor); ok {
		q = q.Where("(created_at, id) < (?, ?)", createdAt, id)
	}
	var rows []domain.GroupMessage
	if err := q.Find(&rows).Error; err != nil {
		return Page{}, err
	}

	out := make([]MessageView, len(rows))
	for i, m := range rows {
		view := MessageView{
			ID:              m.ID.String(),
			GroupID:         m.GroupID.String(),
			SenderID:        int64(m.SenderID),
			Ciphertext:      base64.StdEncoding.EncodeToString(m.Ciphertext),
			Proto:           m.Proto,
			SentAtEpoch:     m.SentAtEpoch,
			ClientMessageID: m.ClientMessageID,
			CreatedAt:       m.CreatedAt,
		}
		if m.ReplyToID != nil {
			view.ReplyToID = m.ReplyToID.String()
		}
		out[i] = view
	}
	var next string
	if len(rows) == limit {
		last := rows[len(rows)-1]
		next = chatsurfaces.EncodeCursorID(last.CreatedAt, last.ID.String())
	}
	return Page{Messages: out, NextCursor: next}, nil
}

// MarkRead records that callerID has read up to messageID, forward-only.
func (p *Pipeline) MarkRead(ctx context.Context, messageID domain.GroupMessageID, callerID domain.UserID) error {
	res := p.db.WithContext(ctx).Model(&domain.GroupDelivery{}).
		Where("message_id = ? AND user_id = ? AND read_at IS NULL", messageID, callerID).
		Update("read_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var delivery domain.GroupDelivery
		err := p.db.WithContext(ctx).Where("message_id = ? AND user_id = ?", messageID, callerID).First(&delivery).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotParticipant
		}
		return err
	}
	return nil
}

// MessageView is the wire-facing shape of a group message.
type MessageView struct {
	ID              string
	GroupID         string
	SenderID        int64
	Ciphertext      string
	Proto           string
	SentAtEpoch     int64
	ReplyToID       string
	ClientMessageID string
	CreatedAt       time.Time
}

// Page is a keyset-paginated group message list.
type Page struct {
	Messages   []MessageView
	NextCursor string
}
