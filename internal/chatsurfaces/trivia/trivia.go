// Package trivia implements the trivia-live chat surface: the same
// ingest pipeline as global chat, partitioned by drawDate and gated by
// the draw-time activity window.
package trivia

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
	"github.com/shopmindai/chatcore/internal/notify"
	"github.com/shopmindai/chatcore/internal/ratelimit"
	"github.com/shopmindai/chatcore/internal/sanitize"
	"github.com/shopmindai/chatcore/pkg/chatevents"
)

// Surface implements the trivia-live chat pipeline.
type Surface struct {
	db         *gorm.DB
	limiter    *ratelimit.Limiter
	bus        *eventbus.Bus
	dispatcher *notify.Dispatcher
	schedule   DrawSchedule
	window     Window

	burstLimit, sustainedLimit   int
	burstWindow, sustainedWindow time.Duration
	maxMessageLength             int
}

// Config bundles the rate-limit tiers and draw-window settings.
type Config struct {
	BurstLimit       int
	BurstWindow      time.Duration
	SustainedLimit   int
	SustainedWindow  time.Duration
	MaxMessageLength int
	Schedule         DrawSchedule
	Window           Window
}

// New builds a trivia-live Surface.
func New(db *gorm.DB, limiter *ratelimit.Limiter, bus *eventbus.Bus, dispatcher *notify.Dispatcher, cfg Config) *Surface {
	schedule := cfg.Schedule
	if schedule == nil {
		schedule = FixedHourSchedule{Hour: 20}
	}
	return &Surface{
		db:                db,
		limiter:           limiter,
		bus:               bus,
		dispatcher:        dispatcher,
		schedule:          schedule,
		window:            cfg.Window,
		burstLimit:        cfg.BurstLimit,
		burstWindow:       cfg.BurstWindow,
		sustainedLimit:    cfg.SustainedLimit,
		sustainedWindow:   cfg.SustainedWindow,
		maxMessageLength:  cfg.MaxMessageLength,
	}
}

// PostResult is returned by Post.
type PostResult struct {
	Message   domain.TriviaChatMessage
	Duplicate bool
}

// Post runs the ingest pipeline for one trivia-live message.
func (s *Surface) Post(ctx context.Context, userID domain.UserID, rawText string, clientMessageID *string, replyToID *domain.MessageID) (PostResult, error) {
	now := time.Now()
	if !IsActive(s.schedule, s.window, now) {
		return PostResult{}, domain.ErrFeatureDisabled
	}

	text := sanitize.Message(rawText)
	if text == "" {
		return PostResult{}, domain.ErrEmptyMessage
	}
	if s.maxMessageLength > 0 && len(text) > s.maxMessageLength {
		return PostResult{}, domain.ErrMessageTooLong
	}

	drawDate := CanonicalDrawDate(now)

	if clientMessageID != nil {
		if existing, found, err := s.findDuplicate(ctx, userID, drawDate, *clientMessageID); err != nil {
			return PostResult{}, err
		} else if found {
			return PostResult{Message: existing, Duplicate: true}, nil
		}
	}

	burstKey := fmt.Sprintf("chatcore:rl:trivia:burst:%d", userID)
	if res := s.limiter.Allow(ctx, string(domain.SurfaceTrivia), burstKey, s.burstLimit, s.burstWindow); !res.Allowed {
		return PostResult{}, domain.ErrRateLimited
	}
	sustainedKey := fmt.Sprintf("chatcore:rl:trivia:sustained:%d", userID)
	if res := s.limiter.Allow(ctx, string(domain.SurfaceTrivia), sustainedKey, s.sustainedLimit, s.sustainedWindow); !res.Allowed {
		return PostResult{}, domain.ErrRateLimited
	}

	if replyToID != nil {
		var count int64
		if err := s.db.WithContext(ctx).Model(&domain.TriviaChatMessage{}).Where("id = ? AND draw_date = ?", *replyToID, drawDate).Count(&count).Error; err != nil {
			return PostResult{}, err
		}
		if count == 0 {
			return PostResult{}, domain.ErrReplyNotFound
		}
	}

	msg := domain.TriviaChatMessage{
		UserID:          userID,
		DrawDate:        drawDate,
		Text:            text,
		CreatedAt:       now,
		ClientMessageID: clientMessageID,
		ReplyToID:       replyToID,
	}

	var duplicate bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		outcome, err := idempotency.Create(ctx, tx, &msg, func() error {
			if clientMessageID == nil {
				return errors.New("trivia: duplicate insert with no clientMessageId to refetch by")
			}
			return tx.WithContext(ctx).
				Where("user_id = ? AND draw_date = ? AND client_message_id = ?", userID, drawDate, *clientMessageID).
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

	if err := s.touchViewer(ctx, userID, drawDate); err != nil {
		return PostResult{}, err
	}

	if !duplicate {
		s.publish(ctx, msg)
	}

	return PostResult{Message: msg, Duplicate: duplicate}, nil
}

func (s *Surface) touchViewer(ctx context.Context, userID domain.UserID, drawDate string) error {
	viewer := domain.TriviaChatViewer{UserID: userID, DrawDate: drawDate, LastSeenAt: time.Now()}
	return s.db.WithContext(ctx).Save(&viewer).Error
}

func (s *Surface) findDuplicate(ctx context.Context, userID domain.UserID, drawDate, clientMessageID string) (domain.TriviaChatMessage, bool, error) {
	var msg domain.TriviaChatMessage
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND draw_date = ? AND client_message_id = ?", userID, drawDate, clientMessageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.TriviaChatMessage{}, false, nil
	}
	if err != nil {
		return domain.TriviaChatMessage{}, false, err
	}
	return msg, true, nil
}

func (s *Surface) publish(ctx context.Context, msg domain.TriviaChatMessage) {
	payload := chatevents.MessageCreatedPayload{
		ConversationID:  msg.DrawDate,
		MessageID:       fmt.Sprintf("%d", msg.ID),
		SenderID:        int64(msg.UserID),
		Text:            msg.Text,
		ClientMessageID: derefString(msg.ClientMessageID),
	}
	env := chatevents.NewEnvelope(chatevents.KindMessageCreated, string(domain.SurfaceTrivia), payload)
	s.bus.Publish(ctx, string(domain.SurfaceTrivia), msg.DrawDate, env)
}

// Page is one page of trivia-live history, spanning the active buckets.
type Page struct {
	Messages    []domain.TriviaChatMessage
	NextCursor  string
	IsActive    bool
	WindowStart time.Time
	WindowEnd   time.Time
	ViewerCount int64
	LikeCount   int64
}

// List returns newest-first messages across the currently active buckets
// and records the caller as a viewer of today's draw.
func (s *Surface) List(ctx context.Context, userID domain.UserID, cursor string, limit int) (Page, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	now := time.Now()
	buckets := ActiveBuckets(s.schedule, s.window, now)
	drawDate := CanonicalDrawDate(now)

	q := s.db.WithContext(ctx).Where("draw_date IN ?", buckets).Order("created_at DESC, id DESC").Limit(limit + 1)
	if createdAt, id, ok := chatsurfaces.DecodeCursor(cursor); ok {
		q = q.Where("(created_at, id) < (?, ?)", createdAt, id)
	}

	var rows []domain.TriviaChatMessage
	if err := q.Find(&rows).Error; err != nil {
		return Page{}, err
	}

	var next string
	if len(rows) > limit {
		last := rows[limit-1]
		next = chatsurfaces.EncodeCursor(last.CreatedAt, int64(last.ID))
		rows = rows[:limit]
	}

	if err := s.touchViewer(ctx, userID, drawDate); err != nil {
		return Page{}, err
	}

	viewerCount, err := s.viewerCount(ctx, drawDate)
	if err != nil {
		return Page{}, err
	}
	likeCount, err := s.likeCountFor(ctx, drawDate)
	if err != nil {
		return Page{}, err
	}

	draw := s.schedule.NextDrawTime(now)
	return Page{
		Messages:    rows,
		NextCursor:  next,
		IsActive:    IsActive(s.schedule, s.window, now),
		WindowStart: draw.Add(-s.window.PreWindow),
		WindowEnd:   draw.Add(s.window.PostWindow),
		ViewerCount: viewerCount,
		LikeCount:   likeCount,
	}, nil
}

// viewerCount returns the number of distinct users active on drawDate
// within the last 5 minutes.
func (s *Surface) viewerCount(ctx context.Context, drawDate string) (int64, error) {
	var count int64
	cutoff := time.Now().Add(-5 * time.Minute)
	err := s.db.WithContext(ctx).Model(&domain.TriviaChatViewer{}).
		Where("draw_date = ? AND last_seen_at > ?", drawDate, cutoff).
		Count(&count).Error
	return count, err
}

// likeCountFor returns the session-level like count for drawDate.
func (s *Surface) likeCountFor(ctx context.Context, drawDate string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.TriviaChatLike{}).
		Where("draw_date = ? AND message_id IS NULL", drawDate).
		Count(&count).Error
	return count, err
}

// Status reports whether trivia-live is currently active along with the
// window bounds and live viewer/like counts. Unlike Post, Status
// never rejects when the window is closed — it reports the closed state
// instead, so clients can poll it to learn when the next draw opens.
type Status struct {
	IsActive    bool
	WindowStart time.Time
	WindowEnd   time.Time
	ViewerCount int64
	LikeCount   int64
}

// Status returns the current activity window and live counts. The like
// count covers session-level (whole-day) likes only.
func (s *Surface) Status(ctx context.Context) (Status, error) {
	now := time.Now()
	drawDate := CanonicalDrawDate(now)
	draw := s.schedule.NextDrawTime(now)

	viewerCount, err := s.viewerCount(ctx, drawDate)
	if err != nil {
		return Status{}, err
	}
	likeCount, err := s.likeCountFor(ctx, drawDate)
	if err != nil {
		return Status{}, err
	}

	return Status{
		IsActive:    IsActive(s.schedule, s.window, now),
		WindowStart: draw.Add(-s.window.PreWindow),
		WindowEnd:   draw.Add(s.window.PostWindow),
		ViewerCount: viewerCount,
		LikeCount:   likeCount,
	}, nil
}

// Like idempotently records a like; messageID nil means a session-level
// (whole-day) like. A repeat call from the same user is a no-op that
// returns the already-liked state instead of unliking — there is no way
// to retract a like.
func (s *Surface) Like(ctx context.Context, userID domain.UserID, messageID *domain.MessageID) (liked bool, err error) {
	drawDate := CanonicalDrawDate(time.Now())
	var created bool

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.TriviaChatLike
		q := tx.WithContext(ctx).Where("user_id = ? AND draw_date = ?", userID, drawDate)
		if messageID != nil {
			q = q.Where("message_id = ?", *messageID)
		} else {
			q = q.Where("message_id IS NULL")
		}

		findErr := q.First(&existing).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			like := domain.TriviaChatLike{UserID: userID, DrawDate: drawDate, MessageID: messageID, CreatedAt: time.Now()}
			if createErr := tx.WithContext(ctx).Create(&like).Error; createErr != nil && !idempotency.IsUniqueViolation(createErr) {
				return createErr
			}
			created = true
			return nil
		case findErr != nil:
			return findErr
		default:
			return nil
		}
	})
	if err != nil {
		return false, err
	}

	if created {
		s.publishLikeUpdate(ctx, drawDate, messageID, true)
	}
	return true, nil
}

func (s *Surface) publishLikeUpdate(ctx context.Context, drawDate string, messageID *domain.MessageID, liked bool) {
	payload := map[string]interface{}{"drawDate": drawDate, "liked": liked}
	if messageID != nil {
		payload["messageId"] = fmt.Sprintf("%d", *messageID)
	}
	env := chatevents.NewEnvelope(chatevents.KindLikeAdded, string(domain.SurfaceTrivia), payload)
	s.bus.Publish(ctx, string(domain.SurfaceTrivia), drawDate, env)
}

// LikeCount returns the current like count for the active draw date.
func (s *Surface) LikeCount(ctx context.Context) (int64, error) {
	drawDate := CanonicalDrawDate(time.Now())
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.TriviaChatLike{}).Where("draw_date = ?", drawDate).Count(&count).Error
	return count, err
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
