// Package global implements the global broadcast chat surface: sanitize →
// idempotency → rate limit → validate reply target → persist → publish →
// notify.
package global

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/cache"
	"github.com/shopmindai/chatcore/internal/chatsurfaces"
	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/eventbus"
	"github.com/shopmindai/chatcore/internal/idempotency"
	"github.com/shopmindai/chatcore/internal/notify"
	"github.com/shopmindai/chatcore/internal/ratelimit"
	"github.com/shopmindai/chatcore/internal/sanitize"
	"github.com/shopmindai/chatcore/pkg/chatevents"
)

const channelID = "room"

const onlineCountKey = "global:online_count"
const onlineCountTTL = 5 * time.Second

// Surface implements the global chat pipeline.
type Surface struct {
	db         *gorm.DB
	limiter    *ratelimit.Limiter
	bus        *eventbus.Bus
	dispatcher *notify.Dispatcher
	cache      *cache.Manager
	users      domain.UserLookup

	burstLimit, sustainedLimit   int
	burstWindow, sustainedWindow time.Duration
	maxMessageLength             int
	retentionDays                int
}

// Config bundles the rate-limit tiers and validation/retention knobs this
// surface enforces.
type Config struct {
	BurstLimit      int
	BurstWindow     time.Duration
	SustainedLimit  int
	SustainedWindow time.Duration

	MaxMessageLength int
	RetentionDays    int
}

// New builds a global chat Surface. users may be nil, in which case List
// returns messages with no author attached.
func New(db *gorm.DB, limiter *ratelimit.Limiter, bus *eventbus.Bus, dispatcher *notify.Dispatcher, cache *cache.Manager, users domain.UserLookup, cfg Config) *Surface {
	return &Surface{
		db:                db,
		limiter:           limiter,
		bus:               bus,
		dispatcher:        dispatcher,
		cache:             cache,
		users:             users,
		burstLimit:        cfg.BurstLimit,
		burstWindow:       cfg.BurstWindow,
		sustainedLimit:    cfg.SustainedLimit,
		sustainedWindow:   cfg.SustainedWindow,
		maxMessageLength:  cfg.MaxMessageLength,
		retentionDays:     cfg.RetentionDays,
	}
}

// PostResult is returned by Post.
type PostResult struct {
	Message   domain.GlobalChatMessage
	Duplicate bool
}

// Post runs the full ingest pipeline for one message.
func (s *Surface) Post(ctx context.Context, userID domain.UserID, rawText string, clientMessageID *string, replyToID *domain.MessageID) (PostResult, error) {
	text := sanitize.Message(rawText)
	if text == "" {
		return PostResult{}, domain.ErrEmptyMessage
	}
	if s.maxMessageLength > 0 && len(text) > s.maxMessageLength {
		return PostResult{}, domain.ErrMessageTooLong
	}

	if clientMessageID != nil {
		if existing, found, err := s.findDuplicate(ctx, userID, *clientMessageID); err != nil {
			return PostResult{}, err
		} else if found {
			return PostResult{Message: existing, Duplicate: true}, nil
		}
	}

	burstKey := fmt.Sprintf("chatcore:rl:global:burst:%d", userID)
	if res := s.limiter.Allow(ctx, string(domain.SurfaceGlobal), burstKey, s.burstLimit, s.burstWindow); !res.Allowed {
		return PostResult{}, domain.ErrRateLimited
	}
	sustainedKey := fmt.Sprintf("chatcore:rl:global:sustained:%d", userID)
	if res := s.limiter.Allow(ctx, string(domain.SurfaceGlobal), sustainedKey, s.sustainedLimit, s.sustainedWindow); !res.Allowed {
		return PostResult{}, domain.ErrRateLimited
	}

	if replyToID != nil {
		var count int64
		if err := s.db.WithContext(ctx).Model(&domain.GlobalChatMessage{}).Where("id = ?", *replyToID).Count(&count).Error; err != nil {
			return PostResult{}, err
		}
		if count == 0 {
			return PostResult{}, domain.ErrReplyNotFound
		}
	}

	msg := domain.GlobalChatMessage{
		UserID:          userID,
		Text:            text,
		CreatedAt:       time.Now(),
		ClientMessageID: clientMessageID,
		ReplyToID:       replyToID,
	}

	var duplicate bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		outcome, err := idempotency.Create(ctx, tx, &msg, func() error {
			if clientMessageID == nil {
				return errors.New("global: duplicate insert with no clientMessageId to refetch by")
			}
			return tx.WithContext(ctx).
				Where("user_id = ? AND client_message_id = ?", userID, *clientMessageID).
				First(&msg).Error
		})
		if err != nil {
			return err
		}
		duplicate = outcome.Duplicate
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}

	if err := s.touchViewer(ctx, userID); err != nil {
		return PostResult{}, err
	}

	if !duplicate {
		s.publish(ctx, msg)
		s.notifyRecipients(ctx, userID, text)
	}

	return PostResult{Message: msg, Duplicate: duplicate}, nil
}

func (s *Surface) findDuplicate(ctx context.Context, userID domain.UserID, clientMessageID string) (domain.GlobalChatMessage, bool, error) {
	var msg domain.GlobalChatMessage
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND client_message_id = ?", userID, clientMessageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.GlobalChatMessage{}, false, nil
	}
	if err != nil {
		return domain.GlobalChatMessage{}, false, err
	}
	return msg, true, nil
}

func (s *Surface) touchViewer(ctx context.Context, userID domain.UserID) error {
	viewer := domain.GlobalChatViewer{UserID: userID, LastSeenAt: time.Now()}
	return s.db.WithContext(ctx).Save(&viewer).Error
}

func (s *Surface) publish(ctx context.Context, msg domain.GlobalChatMessage) {
	payload := chatevents.MessageCreatedPayload{
		ConversationID:  channelID,
		MessageID:       fmt.Sprintf("%d", msg.ID),
		SenderID:        int64(msg.UserID),
		Text:            msg.Text,
		ClientMessageID: derefString(msg.ClientMessageID),
	}
	env := chatevents.NewEnvelope(chatevents.KindMessageCreated, string(domain.SurfaceGlobal), payload)
	s.bus.Publish(ctx, string(domain.SurfaceGlobal), channelID, env)
}

func (s *Surface) notifyRecipients(ctx context.Context, senderID domain.UserID, text string) {
	if s.dispatcher == nil {
		return
	}
	recipients, err := s.activeViewerIDsExcept(ctx, senderID)
	if err != nil || len(recipients) == 0 {
		return
	}
	_ = s.dispatcher.Dispatch(ctx, notify.Request{
		Surface:         domain.SurfaceGlobal,
		Recipients:      recipients,
		ExcludeSenderID: &senderID,
		Heading:         "Global chat",
		Body:            text,
		Data:            map[string]interface{}{"type": "global_message"},
	})
}

func (s *Surface) activeViewerIDsExcept(ctx context.Context, exclude domain.UserID) ([]domain.UserID, error) {
	var viewers []domain.GlobalChatViewer
	cutoff := time.Now().Add(-24 * time.Hour)
	if err := s.db.WithContext(ctx).Where("last_seen_at > ? AND user_id != ?", cutoff, exclude).Find(&viewers).Error; err != nil {
		return nil, err
	}
	out := make([]domain.UserID, 0, len(viewers))
	for _, v := range viewers {
		out = append(out, v.UserID)
	}
	return out, nil
}

// OnlineCount returns a 5-second-cached count of recently active viewers.
// The cache is shared across every instance of this service via Redis, so
// a fleet of N instances issues one counting query per TTL window instead
// of N.
func (s *Surface) OnlineCount(ctx context.Context) (int, error) {
	var count int
	err := s.cache.GetOrSet(ctx, onlineCountKey, &count, func() (interface{}, error) {
		var n int64
		cutoff := time.Now().Add(-2 * time.Minute)
		if err := s.db.WithContext(ctx).Model(&domain.GlobalChatViewer{}).Where("last_seen_at > ?", cutoff).Count(&n).Error; err != nil {
			return nil, err
		}
		return int(n), nil
	}, &cache.Options{TTL: onlineCountTTL, Lock: true, StampedeProtect: true})
	return count, err
}

// MessageView is one row of global chat history enriched with the author
// and, for replies, a preview of the message being replied to — the read
// model GET /messages serves rather than the bare persisted row.
type MessageView struct {
	domain.GlobalChatMessage
	Author  *domain.User  `json:"author,omitempty"`
	ReplyTo *ReplyPreview `json:"replyTo,omitempty"`
}

// ReplyPreview is the trimmed-down shape of a reply target attached inline
// so a client never has to issue a second fetch to render "replying to ...".
type ReplyPreview struct {
	ID     domain.MessageID `json:"id"`
	UserID domain.UserID    `json:"userId"`
	Text   string           `json:"text"`
}

// Page is one page of global chat history.
type Page struct {
	Messages   []MessageView
	NextCursor string
}

// List returns newest-first messages with keyset pagination, each row
// carrying its author and, for replies, a preview of the target message.
func (s *Surface) List(ctx context.Context, cursor string, limit int) (Page, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit + 1)
	if createdAt, id, ok := chatsurfaces.DecodeCursor(cursor); ok {
		q = q.Where("(created_at, id) < (?, ?)", createdAt, id)
	}

	var rows []domain.GlobalChatMessage
	if err := q.Find(&rows).Error; err != nil {
		return Page{}, err
	}

	var next string
	if len(rows) > limit {
		last := rows[limit-1]
		next = chatsurfaces.EncodeCursor(last.CreatedAt, int64(last.ID))
		rows = rows[:limit]
	}

	views, err := s.attachAuthorsAndReplies(ctx, rows)
	if err != nil {
		return Page{}, err
	}

	return Page{Messages: views, NextCursor: next}, nil
}

// attachAuthorsAndReplies batch-loads authors for every distinct sender in
// rows, and the referenced row for every reply, so a page of N messages
// costs one user-lookup round trip and one reply query rather than N of
// each.
func (s *Surface) attachAuthorsAndReplies(ctx context.Context, rows []domain.GlobalChatMessage) ([]MessageView, error) {
	views := make([]MessageView, len(rows))

	if s.users != nil && len(rows) > 0 {
		ids := make([]domain.UserID, 0, len(rows))
		seen := make(map[domain.UserID]struct{}, len(rows))
		for _, r := range rows {
			if _, ok := seen[r.UserID]; !ok {
				seen[r.UserID] = struct{}{}
				ids = append(ids, r.UserID)
			}
		}
		authors, err := s.users.GetUsers(ids)
		if err != nil {
			return nil, err
		}
		for i, r := range rows {
			views[i].GlobalChatMessage = r
			views[i].Author = authors[r.UserID]
		}
	} else {
		for i, r := range rows {
			views[i].GlobalChatMessage = r
		}
	}

	replyIDs := make([]domain.MessageID, 0)
	for _, r := range rows {
		if r.ReplyToID != nil {
			replyIDs = append(replyIDs, *r.ReplyToID)
		}
	}
	if len(replyIDs) == 0 {
		return views, nil
	}

	var targets []domain.GlobalChatMessage
	if err := s.db.WithContext(ctx).Where("id IN ?", replyIDs).Find(&targets).Error; err != nil {
		return nil, err
	}
	byID := make(map[domain.MessageID]domain.GlobalChatMessage, len(targets))
	for _, t := range targets {
		byID[domain.MessageID(t.ID)] = t
	}
	for i, r := range rows {
		if r.ReplyToID == nil {
			continue
		}
		if target, ok := byID[*r.ReplyToID]; ok {
			views[i].ReplyTo = &ReplyPreview{ID: domain.MessageID(target.ID), UserID: target.UserID, Text: target.Text}
		}
	}
	return views, nil
}

// CleanupResult reports how many rows a retention cleanup removed.
type CleanupResult struct {
	DeletedCount int64     `json:"deletedCount"`
	CutoffDate   time.Time `json:"cutoffDate"`
}

// Cleanup deletes global chat messages older than the configured retention
// window. A non-positive retentionDays disables cleanup entirely.
func (s *Surface) Cleanup(ctx context.Context) (CleanupResult, error) {
	if s.retentionDays <= 0 {
		return CleanupResult{}, domain.ErrFeatureDisabled
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&domain.GlobalChatMessage{})
	if res.Error != nil {
		return CleanupResult{}, res.Error
	}
	return CleanupResult{DeletedCount: res.RowsAffected, CutoffDate: cutoff}, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
