// Package notify implements NotificationDispatcher: it decides, per
// recipient, whether a notification surfaces in-app (the recipient has a
// live connection) or as a system push (OneSignal), batches device
// targets, and persists a record of every dispatch.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/shopmindai/chatcore/internal/domain"
	"github.com/shopmindai/chatcore/internal/mute"
	"github.com/shopmindai/chatcore/internal/platform/metrics"
)

// maxBatchSize is the OneSignal-documented ceiling for a single push
// request's player_ids list.
const maxBatchSize = 2000

const bodyPreviewLimit = 100

// PushClient is the OneSignal-shaped transport for system notifications.
type PushClient interface {
	// Send pushes a single notification to a batch of device player ids.
	// InvalidDeviceIDs reports which ids OneSignal considers no longer
	// registered, so the caller can mark them isValid=false.
	Send(ctx context.Context, playerIDs []string, heading, body string, data map[string]interface{}) (invalidDeviceIDs []string, err error)
}

// RealtimeClient is how an in-app (already-connected) notification is
// delivered — published on the same bus the SSE/websocket planes consume.
type RealtimeClient interface {
	PublishNotification(ctx context.Context, recipientID domain.UserID, heading, body string, data map[string]interface{}) error
}

// Dispatcher implements C3.
type Dispatcher struct {
	db       *gorm.DB
	mutes    *mute.Store
	push     PushClient
	realtime RealtimeClient
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	activityThreshold time.Duration
}

// New builds a Dispatcher. activityThreshold is the lastActive cutoff that
// separates "active" (in-app) from "inactive" (push) recipients.
func New(db *gorm.DB, mutes *mute.Store, push PushClient, realtime RealtimeClient, logger *logrus.Logger, m *metrics.Metrics, activityThreshold time.Duration) *Dispatcher {
	if activityThreshold <= 0 {
		activityThreshold = 30 * time.Second
	}
	return &Dispatcher{
		db:                db,
		mutes:             mutes,
		push:              push,
		realtime:          realtime,
		logger:            logger,
		metrics:           m,
		activityThreshold: activityThreshold,
	}
}

// Request describes one logical notification to fan out to a recipient
// set. ExcludeSenderID is omitted from recipients if present in the set.
type Request struct {
	Surface         domain.Surface
	Recipients      []domain.UserID
	ExcludeSenderID *domain.UserID
	Heading         string
	Body            string
	Data            map[string]interface{}
	// MutedBy, if set, additionally excludes any recipient who has muted
	// this specific sender for private chat (spec §4.3's private-message
	// mute check, distinct from the surface-level MuteStore lookup).
	MutedBy *domain.UserID
}

// Dispatch enumerates push devices for the recipient set, filters muted
// recipients, partitions by recent activity, and sends. Blocks are not
// checked here.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	body := req.Body
	if len(body) > bodyPreviewLimit {
		body = body[:bodyPreviewLimit]
	}

	recipients := d.filterRecipients(ctx, req)
	if len(recipients) == 0 {
		return nil
	}

	active, inactive, err := d.partitionByActivity(ctx, recipients)
	if err != nil {
		return err
	}

	for _, u := range active {
		data := cloneWithFlag(req.Data, "show_as_in_app", true)
		if d.realtime != nil {
			if err := d.realtime.PublishNotification(ctx, u, req.Heading, body, data); err != nil {
				d.logger.WithError(err).WithField("userId", u).Warn("notify: in-app publish failed")
			}
		}
		d.persist(ctx, u, req.Surface, domain.NotificationInApp, req.Heading, body, data)
	}

	if len(inactive) > 0 {
		if err := d.sendPush(ctx, inactive, req.Surface, req.Heading, body, req.Data); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) filterRecipients(ctx context.Context, req Request) []domain.UserID {
	mutedBySurface, err := d.mutes.MutedUserIDs(ctx, req.Recipients, req.Surface)
	if err != nil {
		d.logger.WithError(err).Warn("notify: mute lookup failed, treating all as unmuted")
		mutedBySurface = nil
	}

	out := make([]domain.UserID, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		if req.ExcludeSenderID != nil && r == *req.ExcludeSenderID {
			continue
		}
		if mutedBySurface[r] {
			continue
		}
		if req.MutedBy != nil {
			if muted, err := d.mutes.IsMutedForPrivateChat(ctx, r, *req.MutedBy); err == nil && muted {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func (d *Dispatcher) partitionByActivity(ctx context.Context, recipients []domain.UserID) (active, inactive []domain.UserID, err error) {
	var devices []domain.PushDevice
	if err := d.db.WithContext(ctx).Where("user_id IN ? AND is_valid = ?", recipients, true).Find(&devices).Error; err != nil {
		return nil, nil, err
	}

	latestActive := make(map[domain.UserID]time.Time)
	for _, dev := range devices {
		if cur, ok := latestActive[dev.UserID]; !ok || dev.LastActive.After(cur) {
			latestActive[dev.UserID] = dev.LastActive
		}
	}

	cutoff := time.Now().Add(-d.activityThreshold)
	seen := make(map[domain.UserID]bool, len(recipients))
	for _, r := range recipients {
		if seen[r] {
			continue
		}
		seen[r] = true
		if t, ok := latestActive[r]; ok && t.After(cutoff) {
			active = append(active, r)
		} else if ok {
			inactive = append(inactive, r)
		}
		// Recipients with no registered device are silently dropped from
		// both lists — there is nowhere to notify them.
	}
	return active, inactive, nil
}

func (d *Dispatcher) sendPush(ctx context.Context, recipients []domain.UserID, surface domain.Surface, heading, body string, data map[string]interface{}) error {
	var devices []domain.PushDevice
	if err := d.db.WithContext(ctx).Where("user_id IN ? AND is_valid = ?", recipients, true).Find(&devices).Error; err != nil {
		return err
	}

	deviceToUser := make(map[string]domain.UserID, len(devices))
	playerIDs := make([]string, 0, len(devices))
	for _, dev := range devices {
		deviceToUser[dev.PlayerID] = dev.UserID
		playerIDs = append(playerIDs, dev.PlayerID)
	}

	for start := 0; start < len(playerIDs); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(playerIDs) {
			end = len(playerIDs)
		}
		batch := playerIDs[start:end]

		invalid, err := d.push.Send(ctx, batch, heading, body, data)
		if err != nil {
			d.logger.WithError(err).Warn("notify: push batch failed")
			if d.metrics != nil {
				d.metrics.NotificationsFailed.WithLabelValues("push").Inc()
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.NotificationsSent.WithLabelValues("push").Add(float64(len(batch)))
		}

		for _, id := range invalid {
			d.markDeviceInvalid(ctx, id)
		}
		for _, id := range batch {
			if u, ok := deviceToUser[id]; ok {
				d.persist(ctx, u, surface, domain.NotificationPush, heading, body, data)
			}
		}
	}
	return nil
}

func (d *Dispatcher) markDeviceInvalid(ctx context.Context, playerID string) {
	now := time.Now()
	if err := d.db.WithContext(ctx).Model(&domain.PushDevice{}).
		Where("player_id = ?", playerID).
		Updates(map[string]interface{}{"is_valid": false, "last_failure_at": now}).Error; err != nil {
		d.logger.WithError(err).WithField("playerId", playerID).Warn("notify: failed to mark device invalid")
	}
}

func (d *Dispatcher) persist(ctx context.Context, recipient domain.UserID, surface domain.Surface, channel domain.NotificationChannel, heading, body string, data map[string]interface{}) {
	encoded, err := json.Marshal(data)
	if err != nil {
		encoded = []byte("{}")
	}
	record := domain.NotificationRecord{
		RecipientID: recipient,
		Surface:     surface,
		Channel:     channel,
		Heading:     heading,
		Body:        body,
		Data:        string(encoded),
		CreatedAt:   time.Now(),
	}
	if err := d.db.WithContext(ctx).Create(&record).Error; err != nil {
		d.logger.WithError(err).Warn("notify: failed to persist notification record")
	}
}

func cloneWithFlag(data map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[key] = value
	return out
}
