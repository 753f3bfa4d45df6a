package domain

import "time"

// DMConversation is a 1:1 E2EE conversation between two devices' owners.
// Unlike PrivateConversation there is no pending/accepted gate — it is
// created lazily on first send or by an explicit create, gated only by the
// blocked-pair check.
type DMConversation struct {
	ID            DMConversationID `gorm:"primaryKey;type:uuid"`
	UserA         UserID           `gorm:"uniqueIndex:idx_dm_pair"`
	UserB         UserID           `gorm:"uniqueIndex:idx_dm_pair"`
	CreatedAt     time.Time
	LastMessageAt *time.Time
}

func (DMConversation) TableName() string { return "dm_conversations" }

// DMParticipant records, in LastDeviceID, the device a participant had
// active when the conversation was created; later sends do not update it.
type DMParticipant struct {
	ConversationID DMConversationID `gorm:"primaryKey;type:uuid"`
	UserID         UserID           `gorm:"primaryKey"`
	LastDeviceID   *DeviceID
	LastReadMessageID *DMMessageID
}

func (DMParticipant) TableName() string { return "dm_participants" }

// DMMessage carries opaque ciphertext; the server never decrypts it.
type DMMessage struct {
	ID              DMMessageID      `gorm:"primaryKey;type:uuid"`
	ConversationID  DMConversationID `gorm:"index:idx_dm_msg_conv_created;type:uuid"`
	SenderID        UserID
	SenderDeviceID  DeviceID `gorm:"type:uuid"`
	Ciphertext      []byte
	Proto           string
	ClientMessageID string `gorm:"index:idx_dm_msg_dedup"`
	CreatedAt       time.Time `gorm:"index:idx_dm_msg_conv_created"`
}

func (DMMessage) TableName() string { return "dm_messages" }

// DMDelivery tracks a DM message's delivery/read state for its recipient
// user (one row per message and recipient, not per device).
type DMDeliveryStatus string

const (
	DMDeliverySent      DMDeliveryStatus = "sent"
	DMDeliveryDelivered DMDeliveryStatus = "delivered"
	DMDeliveryRead      DMDeliveryStatus = "read"
)

type DMDelivery struct {
	MessageID   DMMessageID `gorm:"primaryKey;type:uuid"`
	RecipientID UserID      `gorm:"primaryKey"`
	Status      DMDeliveryStatus
	UpdatedAt   time.Time
}

func (DMDelivery) TableName() string { return "dm_deliveries" }
