// Package chatevents defines the wire shape of every real-time event that
// crosses the SSE/websocket fan-out plane, as a tagged union carried over
// JSON.
package chatevents

import (
	"encoding/json"
	"time"
)

// Kind discriminates the payload carried in an Envelope.
type Kind string

const (
	KindMessageCreated     Kind = "message.created"
	KindMessageDelivered   Kind = "message.delivered"
	KindMessageRead        Kind = "message.read"
	KindTyping             Kind = "typing"
	KindPresenceChanged    Kind = "presence.changed"
	KindConversationStatus Kind = "conversation.status_changed"
	KindLikeAdded          Kind = "like.added"
	KindDeviceRevoked      Kind = "device.revoked"
	KindEpochChanged       Kind = "group.epoch_changed"
	KindGroupMembership    Kind = "group.membership_changed"
	KindMuted              Kind = "mute.changed"
)

// Envelope is the outer shape published on every channel. Payload is kept
// as RawMessage so the bus never needs to know the per-kind schema to
// route it.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	Surface   string          `json:"surface"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload and wraps it. Panics only if payload is not
// JSON-marshalable, which would be a programmer error at a call site.
func NewEnvelope(kind Kind, surface string, payload interface{}) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return Envelope{
		Kind:      kind,
		Surface:   surface,
		CreatedAt: time.Now(),
		Payload:   raw,
	}
}

// MessageCreatedPayload is carried by KindMessageCreated. The plaintext
// surfaces (global/trivia/private) set Text; the E2EE surfaces (dm/group)
// set Ciphertext/Proto/SenderDeviceID instead, and group additionally sets
// GroupEpoch and ReplyToMessageID.
type MessageCreatedPayload struct {
	ConversationID  string `json:"conversationId"`
	MessageID       string `json:"messageId"`
	SenderID        int64  `json:"senderId"`
	SenderDeviceID  string `json:"senderDeviceId,omitempty"`
	Text            string `json:"text,omitempty"`
	Ciphertext      string `json:"ciphertext,omitempty"`
	Proto           string `json:"proto,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	GroupEpoch      int64  `json:"groupEpoch,omitempty"`
	ReplyToMessageID string `json:"replyToMessageId,omitempty"`
}

// DeliveryPayload is carried by KindMessageDelivered and KindMessageRead.
type DeliveryPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         int64  `json:"userId"`
}

// TypingPayload is carried by KindTyping.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         int64  `json:"userId"`
}

// PresencePayload is carried by KindPresenceChanged.
type PresencePayload struct {
	UserID       int64      `json:"userId"`
	Online       bool       `json:"online"`
	LastSeenAt   *time.Time `json:"lastSeenAt,omitempty"`
}

// ConversationStatusPayload is carried by KindConversationStatus.
type ConversationStatusPayload struct {
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
}

// EpochChangedPayload is carried by KindEpochChanged.
type EpochChangedPayload struct {
	GroupID string `json:"groupId"`
	Epoch   int64  `json:"epoch"`
	Reason  string `json:"reason"`
}

// DeviceRevokedPayload is carried by KindDeviceRevoked.
type DeviceRevokedPayload struct {
	UserID   int64  `json:"userId"`
	DeviceID string `json:"deviceId"`
	Reason   string `json:"reason"`
}
