package domain

import "time"

// GlobalChatMessage is a row in the global broadcast room. Immutable after
// creation; pruned only by retention-policy cleanup.
type GlobalChatMessage struct {
	ID              MessageID `gorm:"primaryKey;autoIncrement"`
	UserID          UserID    `gorm:"index:idx_global_user_cmid,priority:1"`
	Text            string
	CreatedAt       time.Time `gorm:"index"`
	ClientMessageID *string   `gorm:"index:idx_global_user_cmid,priority:2"`
	ReplyToID       *MessageID
}

func (GlobalChatMessage) TableName() string { return "global_chat_messages" }

// GlobalChatViewer tracks last-seen for the online-count estimate.
type GlobalChatViewer struct {
	UserID     UserID `gorm:"primaryKey"`
	LastSeenAt time.Time
}

func (GlobalChatViewer) TableName() string { return "global_chat_viewers" }

// TriviaChatMessage is a GlobalChatMessage partitioned by the draw day it
// belongs to.
type TriviaChatMessage struct {
	ID              MessageID `gorm:"primaryKey;autoIncrement"`
	UserID          UserID    `gorm:"index:idx_trivia_user_cmid,priority:1"`
	DrawDate        string    `gorm:"index;index:idx_trivia_user_cmid,priority:2"` // YYYY-MM-DD
	Text            string
	CreatedAt       time.Time `gorm:"index"`
	ClientMessageID *string   `gorm:"index:idx_trivia_user_cmid,priority:3"`
	ReplyToID       *MessageID
}

func (TriviaChatMessage) TableName() string { return "trivia_chat_messages" }

// TriviaChatLike is unique on (userId, drawDate, messageId); messageId=nil
// means a session-level like (liking the day, not a specific message).
type TriviaChatLike struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	UserID    UserID    `gorm:"uniqueIndex:idx_trivia_like"`
	DrawDate  string    `gorm:"uniqueIndex:idx_trivia_like"`
	MessageID *MessageID `gorm:"uniqueIndex:idx_trivia_like"`
	CreatedAt time.Time
}

func (TriviaChatLike) TableName() string { return "trivia_chat_likes" }

// TriviaChatViewer tracks last-seen per draw day for the viewer-count
// estimate, mirroring GlobalChatViewer but partitioned by drawDate so a
// viewer from yesterday's draw doesn't inflate today's count.
type TriviaChatViewer struct {
	UserID     UserID `gorm:"primaryKey"`
	DrawDate   string `gorm:"primaryKey"`
	LastSeenAt time.Time
}

func (TriviaChatViewer) TableName() string { return "trivia_chat_viewers" }

// PrivateConversationStatus is the request/accept state machine's state.
type PrivateConversationStatus string

const (
	PrivateStatusPending  PrivateConversationStatus = "pending"
	PrivateStatusAccepted PrivateConversationStatus = "accepted"
	PrivateStatusRejected PrivateConversationStatus = "rejected"
)

// PrivateConversation is the canonical (userA < userB) pairing row.
type PrivateConversation struct {
	ID                    ConversationID `gorm:"primaryKey;autoIncrement"`
	UserA                 UserID         `gorm:"uniqueIndex:idx_private_pair"`
	UserB                 UserID         `gorm:"uniqueIndex:idx_private_pair"`
	RequestedBy           UserID
	Status                PrivateConversationStatus
	RespondedAt           *time.Time
	LastMessageAt         *time.Time
	LastReadMessageIDForA *MessageID
	LastReadMessageIDForB *MessageID
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (PrivateConversation) TableName() string { return "private_conversations" }

// OrderedPair returns (min, max) so callers never construct the unique key
// backwards.
func OrderedPair(a, b UserID) (UserID, UserID) {
	if a < b {
		return a, b
	}
	return b, a
}

// PrivateMessageStatus is the forward-only delivery state.
type PrivateMessageStatus string

const (
	PrivateMessageSent      PrivateMessageStatus = "sent"
	PrivateMessageDelivered PrivateMessageStatus = "delivered"
	PrivateMessageRead      PrivateMessageStatus = "read"
)

type PrivateMessage struct {
	ID              MessageID `gorm:"primaryKey;autoIncrement"`
	ConversationID  ConversationID `gorm:"index:idx_priv_msg_conv_created"`
	SenderID        UserID
	Text            string
	Status          PrivateMessageStatus
	CreatedAt       time.Time `gorm:"index:idx_priv_msg_conv_created"`
	DeliveredAt     *time.Time
	ClientMessageID *string
}

func (PrivateMessage) TableName() string { return "private_messages" }

// Block is bidirectional: either direction blocks all interaction.
type Block struct {
	BlockerID UserID `gorm:"primaryKey"`
	BlockedID UserID `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (Block) TableName() string { return "blocks" }

// MutePreferences holds per-user surface mutes plus the private-chat mute set.
type MutePreferences struct {
	UserID                UserID `gorm:"primaryKey"`
	GlobalMuted           bool
	TriviaLiveMuted       bool
	PrivateChatMutedUserIDs []UserID `gorm:"serializer:json"`
	UpdatedAt             time.Time
}

func (MutePreferences) TableName() string { return "chat_mute_preferences" }

// PushPlatform enumerates supported push transports.
type PushPlatform string

const (
	PlatformIOS     PushPlatform = "ios"
	PlatformAndroid PushPlatform = "android"
	PlatformWeb     PushPlatform = "web"
)

// PushDevice is a OneSignal-registered device.
type PushDevice struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	UserID        UserID `gorm:"uniqueIndex:idx_push_device"`
	PlayerID      string `gorm:"uniqueIndex:idx_push_device"`
	Platform      PushPlatform
	IsValid       bool
	LastActive    time.Time
	LastFailureAt *time.Time
}

func (PushDevice) TableName() string { return "push_devices" }

// SharePolicy is the visibility level of a presence field.
type SharePolicy string

const (
	ShareEveryone SharePolicy = "everyone"
	ShareContacts SharePolicy = "contacts"
	ShareNobody   SharePolicy = "nobody"
)

// UserPresence is privacy-filtered on read; see internal/presence.
type UserPresence struct {
	UserID         UserID `gorm:"primaryKey"`
	LastSeenAt     *time.Time
	DeviceOnline   bool
	ShareLastSeen  SharePolicy
	ShareOnline    bool
	ReadReceipts   bool
	UpdatedAt      time.Time
}

func (UserPresence) TableName() string { return "user_presence" }

// WebhookEvent is the idempotency log for external push/webhook callbacks.
type WebhookEventStatus string

const (
	WebhookReceived  WebhookEventStatus = "received"
	WebhookProcessed WebhookEventStatus = "processed"
	WebhookFailed    WebhookEventStatus = "failed"
)

type WebhookEvent struct {
	EventID   string `gorm:"primaryKey"`
	Status    WebhookEventStatus
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// AdminChatUser is the singleton row resolving Open Question #1: the well
// known admin identity. Private conversations with this user start out
// accepted. There is no private conversation listing, so nothing pins this
// conversation to the head of a list.
type AdminChatUser struct {
	ID     int64 `gorm:"primaryKey"`
	UserID UserID
}

func (AdminChatUser) TableName() string { return "admin_chat_users" }
