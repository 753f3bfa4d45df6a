package domain

import "time"

// NotificationChannel is how a NotificationRecord was ultimately delivered.
type NotificationChannel string

const (
	NotificationInApp NotificationChannel = "in_app"
	NotificationPush  NotificationChannel = "push"
)

// NotificationRecord is persisted once per recipient per dispatch, so a
// user's notification history page can be built without replaying the
// event stream.
type NotificationRecord struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	RecipientID UserID `gorm:"index"`
	Surface     Surface
	Channel     NotificationChannel
	Heading     string
	Body        string
	Data        string `gorm:"type:jsonb"` // opaque structured payload, JSON-encoded
	CreatedAt   time.Time
}

func (NotificationRecord) TableName() string { return "notification_records" }
