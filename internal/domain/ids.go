// Package domain holds the entities and domain errors shared by every
// chat surface. It has no dependency on gin or redis — persistence lives
// in each component package, transport in internal/httpapi.
package domain

import "github.com/google/uuid"

// UserID identifies an account row owned by the auth/identity subsystem.
// The core never creates or mutates users; it only reads the fields it
// needs (see User below).
type UserID int64

// Surface identifies a chat product area for rate limiting, idempotency,
// and mute preferences.
type Surface string

const (
	SurfaceGlobal  Surface = "global"
	SurfaceTrivia  Surface = "trivia_live"
	SurfacePrivate Surface = "private"
	SurfaceDM      Surface = "dm"
	SurfaceGroup   Surface = "group"
)

// ConversationID identifies a private-chat conversation (64-bit legacy id).
type ConversationID int64

// MessageID identifies a legacy-surface message (64-bit monotonic id).
type MessageID int64

// DeviceID identifies an E2EE device (128-bit uuid).
type DeviceID uuid.UUID

func NewDeviceID() DeviceID { return DeviceID(uuid.New()) }
func (d DeviceID) String() string { return uuid.UUID(d).String() }

// ParseDeviceID parses a string into a DeviceID.
func ParseDeviceID(s string) (DeviceID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return DeviceID{}, err
	}
	return DeviceID(u), nil
}

// DMConversationID identifies an E2EE DM conversation (128-bit uuid).
type DMConversationID uuid.UUID

func NewDMConversationID() DMConversationID { return DMConversationID(uuid.New()) }
func (c DMConversationID) String() string   { return uuid.UUID(c).String() }

// ParseDMConversationID parses a string into a DMConversationID.
func ParseDMConversationID(s string) (DMConversationID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return DMConversationID{}, err
	}
	return DMConversationID(u), nil
}

// DMMessageID identifies an E2EE DM message (128-bit uuid).
type DMMessageID uuid.UUID

func NewDMMessageID() DMMessageID { return DMMessageID(uuid.New()) }
func (m DMMessageID) String() string { return uuid.UUID(m).String() }

// ParseDMMessageID parses a string into a DMMessageID.
func ParseDMMessageID(s string) (DMMessageID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return DMMessageID{}, err
	}
	return DMMessageID(u), nil
}

// GroupID identifies a group (128-bit uuid).
type GroupID uuid.UUID

func NewGroupID() GroupID { return GroupID(uuid.New()) }
func (g GroupID) String() string { return uuid.UUID(g).String() }

// ParseGroupID parses a string into a GroupID.
func ParseGroupID(s string) (GroupID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GroupID{}, err
	}
	return GroupID(u), nil
}

// GroupMessageID identifies a group message (128-bit uuid).
type GroupMessageID uuid.UUID

func NewGroupMessageID() GroupMessageID { return GroupMessageID(uuid.New()) }
func (m GroupMessageID) String() string { return uuid.UUID(m).String() }

// ParseGroupMessageID parses a string into a GroupMessageID.
func ParseGroupMessageID(s string) (GroupMessageID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GroupMessageID{}, err
	}
	return GroupMessageID(u), nil
}

// GroupInviteID identifies a group invite row (128-bit uuid).
type GroupInviteID uuid.UUID

func NewGroupInviteID() GroupInviteID { return GroupInviteID(uuid.New()) }
func (i GroupInviteID) String() string { return uuid.UUID(i).String() }
